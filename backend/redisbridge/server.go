package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capturekit/streamhub-go/backend"
)

// Server is the serving side of the bridge: it drains the request list,
// dispatches each call against an inner backend.Service, and pushes the
// reply onto the caller's correlation list. One Server per request list is
// enough; replies are addressed by correlation id, not by consumer.
type Server struct {
	client    *redis.Client
	keyPrefix string
	svc       backend.Service
	log       *slog.Logger
}

// NewServer connects to Redis and wraps svc. A nil log defaults to
// slog.Default().
func NewServer(cfg Config, svc backend.Service, log *slog.Logger) (*Server, error) {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Server{client: cl, keyPrefix: cfg.KeyPrefix, svc: svc, log: log}, nil
}

// Close closes the Redis client.
func (s *Server) Close() error { return s.client.Close() }

func (s *Server) requestKey() string                { return s.keyPrefix + "requests" }
func (s *Server) replyKey(corr string) string       { return s.keyPrefix + "reply:" + corr }
func (s *Server) eventsKey(sessionID string) string { return s.keyPrefix + "events:" + sessionID }

// Serve drains requests until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	for {
		res, err := s.client.BLPop(ctx, time.Second, s.requestKey()).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("request pop failed", slog.String("error", err.Error()))
			continue
		}
		if len(res) != 2 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			s.log.Warn("malformed request", slog.String("error", err.Error()))
			continue
		}
		resp := s.handle(ctx, req)
		payload, err := json.Marshal(resp)
		if err != nil {
			s.log.Warn("marshal reply failed", slog.String("op", req.Op), slog.String("error", err.Error()))
			continue
		}
		reply := s.replyKey(req.ID)
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, reply, payload)
		pipe.Expire(ctx, reply, time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Warn("push reply failed", slog.String("op", req.Op), slog.String("error", err.Error()))
		}
	}
}

func (s *Server) handle(ctx context.Context, req rpcRequest) rpcResponse {
	result, err := s.dispatch(ctx, req)
	resp := rpcResponse{ID: req.ID}
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) {
			resp.Error = be
		} else {
			resp.Error = backend.NewError(backend.CodeGeneric, err.Error())
		}
		return resp
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = backend.NewError(backend.CodeGeneric, "marshal result: "+err.Error())
			return resp
		}
		resp.Result = raw
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Op {
	case "create_session":
		var cr backend.CreateRequest
		if err := json.Unmarshal(req.Args, &cr); err != nil {
			return nil, err
		}
		return s.svc.CreateSession(ctx, cr)
	case "join_session":
		return s.svc.JoinSession(ctx, req.SessionID, req.Listener)
	case "get_state":
		return s.svc.GetState(ctx, req.SessionID)
	case "get_capabilities":
		return s.svc.GetCapabilities(ctx, req.SessionID)
	case "start":
		return s.svc.Start(ctx, req.SessionID)
	case "stop":
		return s.svc.Stop(ctx, req.SessionID)
	case "pause":
		return s.svc.Pause(ctx, req.SessionID)
	case "resume":
		return s.svc.Resume(ctx, req.SessionID)
	case "set_speed":
		var a speedArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, s.svc.SetSpeed(ctx, req.SessionID, a.Speed)
	case "set_time_range":
		var a timeRangeArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, s.svc.SetTimeRange(ctx, req.SessionID, backend.TimeRange{From: a.From, To: a.To})
	case "seek":
		var a seekArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, s.svc.Seek(ctx, req.SessionID, a.Pos)
	case "switch_to_buffer":
		var a bufferArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return s.svc.SwitchToBuffer(ctx, req.SessionID, a.BufferID)
	case "transmit":
		var tr backend.TransmitRequest
		if err := json.Unmarshal(req.Args, &tr); err != nil {
			return nil, err
		}
		return nil, s.svc.Transmit(ctx, req.SessionID, tr)
	case "register_listener":
		return nil, s.svc.RegisterListener(ctx, req.SessionID, req.Listener)
	case "unregister_listener":
		remaining, err := s.svc.UnregisterListener(ctx, req.SessionID, req.Listener)
		if err != nil {
			return nil, err
		}
		return remainingBody{Remaining: remaining}, nil
	case "list_listeners":
		return s.svc.ListListeners(ctx, req.SessionID)
	case "set_listener_active":
		var a activeArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, s.svc.SetListenerActive(ctx, req.SessionID, req.Listener, a.Active)
	case "reinitialize_if_safe":
		return s.svc.ReinitializeIfSafe(ctx, req.SessionID, req.Listener)
	}
	return nil, backend.NewError(backend.CodeGeneric, "unknown op "+req.Op)
}

// PublishEvent appends one push event to the session's event stream so
// subscribed Bridges can deliver it.
func (s *Server) PublishEvent(ctx context.Context, sessionID string, ev backend.Event) error {
	env, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.eventsKey(sessionID),
		Values: map[string]interface{}{"e": string(raw)},
	}).Err()
}

// CleanupSession drops the session's event stream. Best effort.
func (s *Server) CleanupSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	_, err := s.client.Del(c, s.eventsKey(sessionID)).Result()
	return err
}
