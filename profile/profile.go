// Package profile stores source profile definitions: the device, replay,
// and file sources a session can be opened against. Profiles live as JSON
// documents in a directory and can be hot-reloaded via filesystem watching.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies what a profile points at.
type Kind string

const (
	KindLive   Kind = "live"
	KindReplay Kind = "replay"
	KindFile   Kind = "file"
	KindBuffer Kind = "buffer"
)

// Profile describes one source. Protocol, InterfaceID and DisplayName feed
// the aggregate package's id-synthesis hints, in that priority order.
type Profile struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Protocol        string `json:"protocol,omitempty"`
	InterfaceID     string `json:"interface_id,omitempty"`
	Kind            Kind   `json:"kind,omitempty"`
	SupportsFraming bool   `json:"supports_framing,omitempty"`
}

// Store is a read-mostly profile index backed by a directory of JSON files,
// one profile per file. Safe for concurrent use.
type Store struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewStore loads every "*.json" profile under dir. Files that fail to parse
// are logged and skipped rather than failing the whole load.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{dir: dir, log: log, profiles: make(map[string]Profile)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile directory, replacing the index atomically.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read profile dir: %w", err)
	}
	next := make(map[string]Profile)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("profile unreadable", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		var p Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Warn("profile unparsable", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(e.Name(), ".json")
		}
		next[p.ID] = p
	}
	s.mu.Lock()
	s.profiles = next
	s.mu.Unlock()
	return nil
}

// Get returns the profile with the given id.
func (s *Store) Get(id string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// List returns all profiles ordered by id.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the store whenever the profile directory changes and emits
// a notification per reload. The watcher stops when ctx is canceled; the
// returned channel is closed on shutdown.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	updates := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		defer close(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				if err := s.Reload(); err != nil {
					s.log.Warn("profile reload failed", slog.String("error", err.Error()))
					continue
				}
				select {
				case updates <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("profile watch error", slog.String("error", err.Error()))
			}
		}
	}()
	return updates, nil
}
