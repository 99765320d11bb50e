package redisbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/capturekit/streamhub-go/backend"
)

// Config for the Redis transport. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: STREAMHUB_REDIS_ADDR
	RedisAddr string `env:"STREAMHUB_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: STREAMHUB_KEY_PREFIX
	KeyPrefix string `env:"STREAMHUB_KEY_PREFIX,default=streamhub:"`
	// CallTimeout bounds one control round trip. ENV: STREAMHUB_CALL_TIMEOUT
	CallTimeout time.Duration `env:"STREAMHUB_CALL_TIMEOUT,default=5s"`
}

func (c *Config) applyDefaults() {
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "streamhub:"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

// Bridge reaches a remote session service over Redis. It implements both
// backend.Service and backend.EventSource.
type Bridge struct {
	client      *redis.Client
	keyPrefix   string
	callTimeout time.Duration
}

// New connects and pings the Redis instance.
func New(cfg Config) (*Bridge, error) {
	cfg.applyDefaults()
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bridge{client: cl, keyPrefix: cfg.KeyPrefix, callTimeout: cfg.CallTimeout}, nil
}

// NewFromEnv builds a Bridge using envdecode to populate Config.
func NewFromEnv() (*Bridge, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (b *Bridge) Close() error { return b.client.Close() }

// --- Key helpers ---

func (b *Bridge) requestKey() string                { return b.keyPrefix + "requests" }
func (b *Bridge) replyKey(corr string) string       { return b.keyPrefix + "reply:" + corr }
func (b *Bridge) eventsKey(sessionID string) string { return b.keyPrefix + "events:" + sessionID }

// call performs one request/reply round trip. The reply arrives on a
// correlation-scoped list via BLPOP, mirroring a rendezvous: exactly one
// waiter per correlation id.
func (b *Bridge) call(ctx context.Context, op, sessionID, listener string, args, result any) error {
	req := rpcRequest{ID: uuid.NewString(), Op: op, SessionID: sessionID, Listener: listener}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal %s args: %w", op, err)
		}
		req.Args = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	if err := b.client.RPush(ctx, b.requestKey(), payload).Err(); err != nil {
		return backend.NewError(backend.CodeUnavailable, fmt.Sprintf("%s: push request: %v", op, err))
	}

	res, err := b.client.BLPop(ctx, b.callTimeout, b.replyKey(req.ID)).Result()
	if err != nil {
		if err == redis.Nil {
			return backend.NewError(backend.CodeUnavailable, op+": call timed out")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return backend.NewError(backend.CodeUnavailable, fmt.Sprintf("%s: await reply: %v", op, err))
	}
	if len(res) != 2 {
		return backend.NewError(backend.CodeUnavailable, op+": malformed reply")
	}
	var resp rpcResponse
	if err := json.Unmarshal([]byte(res[1]), &resp); err != nil {
		return fmt.Errorf("unmarshal %s reply: %w", op, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", op, err)
		}
	}
	return nil
}

// --- backend.Service ---

func (b *Bridge) CreateSession(ctx context.Context, req backend.CreateRequest) (backend.SessionState, error) {
	var state backend.SessionState
	err := b.call(ctx, "create_session", req.SessionID, req.ListenerID, req, &state)
	return state, err
}

func (b *Bridge) JoinSession(ctx context.Context, sessionID, listenerID string) (backend.SessionState, error) {
	var state backend.SessionState
	err := b.call(ctx, "join_session", sessionID, listenerID, nil, &state)
	return state, err
}

func (b *Bridge) GetState(ctx context.Context, sessionID string) (backend.SessionState, error) {
	var state backend.SessionState
	err := b.call(ctx, "get_state", sessionID, "", nil, &state)
	return state, err
}

func (b *Bridge) GetCapabilities(ctx context.Context, sessionID string) (backend.Capabilities, error) {
	var caps backend.Capabilities
	err := b.call(ctx, "get_capabilities", sessionID, "", nil, &caps)
	return caps, err
}

func (b *Bridge) Start(ctx context.Context, sessionID string) (backend.RunState, error) {
	var run backend.RunState
	err := b.call(ctx, "start", sessionID, "", nil, &run)
	return run, err
}

func (b *Bridge) Stop(ctx context.Context, sessionID string) (backend.RunState, error) {
	var run backend.RunState
	err := b.call(ctx, "stop", sessionID, "", nil, &run)
	return run, err
}

func (b *Bridge) Pause(ctx context.Context, sessionID string) (backend.RunState, error) {
	var run backend.RunState
	err := b.call(ctx, "pause", sessionID, "", nil, &run)
	return run, err
}

func (b *Bridge) Resume(ctx context.Context, sessionID string) (backend.RunState, error) {
	var run backend.RunState
	err := b.call(ctx, "resume", sessionID, "", nil, &run)
	return run, err
}

func (b *Bridge) SetSpeed(ctx context.Context, sessionID string, speed float64) error {
	return b.call(ctx, "set_speed", sessionID, "", speedArgs{Speed: speed}, nil)
}

func (b *Bridge) SetTimeRange(ctx context.Context, sessionID string, r backend.TimeRange) error {
	return b.call(ctx, "set_time_range", sessionID, "", timeRangeArgs{From: r.From, To: r.To}, nil)
}

func (b *Bridge) Seek(ctx context.Context, sessionID string, pos time.Duration) error {
	return b.call(ctx, "seek", sessionID, "", seekArgs{Pos: pos}, nil)
}

func (b *Bridge) SwitchToBuffer(ctx context.Context, sessionID, bufferID string) (backend.SessionState, error) {
	var state backend.SessionState
	err := b.call(ctx, "switch_to_buffer", sessionID, "", bufferArgs{BufferID: bufferID}, &state)
	return state, err
}

func (b *Bridge) Transmit(ctx context.Context, sessionID string, req backend.TransmitRequest) error {
	return b.call(ctx, "transmit", sessionID, "", req, nil)
}

func (b *Bridge) RegisterListener(ctx context.Context, sessionID, listenerID string) error {
	return b.call(ctx, "register_listener", sessionID, listenerID, nil, nil)
}

func (b *Bridge) UnregisterListener(ctx context.Context, sessionID, listenerID string) (int, error) {
	var body remainingBody
	err := b.call(ctx, "unregister_listener", sessionID, listenerID, nil, &body)
	return body.Remaining, err
}

func (b *Bridge) ListListeners(ctx context.Context, sessionID string) ([]string, error) {
	var ids []string
	err := b.call(ctx, "list_listeners", sessionID, "", nil, &ids)
	return ids, err
}

func (b *Bridge) SetListenerActive(ctx context.Context, sessionID, listenerID string, active bool) error {
	return b.call(ctx, "set_listener_active", sessionID, listenerID, activeArgs{Active: active}, nil)
}

func (b *Bridge) ReinitializeIfSafe(ctx context.Context, sessionID, listenerID string) (backend.ReinitCheck, error) {
	var check backend.ReinitCheck
	err := b.call(ctx, "reinitialize_if_safe", sessionID, listenerID, nil, &check)
	return check, err
}

// --- backend.EventSource ---

func (b *Bridge) SubscribeEvents(ctx context.Context, sessionID string, handler backend.EventHandler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	key := b.eventsKey(sessionID)
	go func() {
		start := "$"
		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}
			res, err := b.client.XRead(subCtx, &redis.XReadArgs{
				Streams: []string{key, start},
				Count:   16,
				Block:   500 * time.Millisecond,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 0 {
				continue
			}
			for _, m := range res[0].Messages {
				start = m.ID
				raw, ok := m.Values["e"].(string)
				if !ok {
					continue
				}
				var env eventEnvelope
				if err := json.Unmarshal([]byte(raw), &env); err != nil {
					continue
				}
				ev, err := decodeEvent(env)
				if err != nil {
					continue
				}
				if err := handler(subCtx, ev); err != nil {
					return
				}
			}
		}
	}()
	return cancel, nil
}

// Compile-time interface checks
var (
	_ backend.Service     = (*Bridge)(nil)
	_ backend.EventSource = (*Bridge)(nil)
)
