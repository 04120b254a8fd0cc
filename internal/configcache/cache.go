// Package configcache holds the process-wide snapshot of intents and reply
// templates used by the inbound pipeline.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"guesthouse-sms-agent/internal/domain"
)

// Loader reads the configuration entities from persistent storage.
type Loader interface {
	ListIntents(ctx context.Context) ([]domain.IntentDefinition, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.ReplyTemplate, error)
}

// LoadError reports a failed reload. The previous snapshot stays in effect.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("configcache: load: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Snapshot is an immutable view of the configuration at LoadedAt. Callers
// must not mutate anything reachable from it.
type Snapshot struct {
	Intents   []domain.IntentDefinition
	Templates map[string][]domain.ReplyTemplate
	LoadedAt  time.Time

	actions    map[string]struct{}
	complaints map[string]struct{}
}

// Empty returns a snapshot with no intents and no templates.
func Empty() *Snapshot {
	return &Snapshot{
		Templates:  map[string][]domain.ReplyTemplate{},
		actions:    map[string]struct{}{},
		complaints: map[string]struct{}{},
	}
}

// NewSnapshot derives the action and complaint sets and groups templates by
// intent ordered by intent, sort rank, then insertion order.
func NewSnapshot(intents []domain.IntentDefinition, templates []domain.ReplyTemplate, loadedAt time.Time) *Snapshot {
	s := Empty()
	s.LoadedAt = loadedAt
	s.Intents = append([]domain.IntentDefinition(nil), intents...)
	for _, in := range intents {
		if in.IsAction {
			s.actions[in.Name] = struct{}{}
		}
		if in.IsComplaint {
			s.complaints[in.Name] = struct{}{}
		}
	}

	sorted := append([]domain.ReplyTemplate(nil), templates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Intent != b.Intent {
			return a.Intent < b.Intent
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Seq < b.Seq
	})
	for _, t := range sorted {
		if !t.Active {
			continue
		}
		s.Templates[t.Intent] = append(s.Templates[t.Intent], t)
	}
	return s
}

// IsAction reports whether intent requires staff action.
func (s *Snapshot) IsAction(intent string) bool {
	_, ok := s.actions[intent]
	return ok
}

// IsComplaint reports whether intent is complaint-like.
func (s *Snapshot) IsComplaint(intent string) bool {
	_, ok := s.complaints[intent]
	return ok
}

// ActionIntents returns a copy of the action-intent name set.
func (s *Snapshot) ActionIntents() map[string]bool {
	return copySet(s.actions)
}

// ComplaintIntents returns a copy of the complaint-intent name set.
func (s *Snapshot) ComplaintIntents() map[string]bool {
	return copySet(s.complaints)
}

// Template returns the first active template for intent whose sub-intent
// matches subIntent.
func (s *Snapshot) Template(intent, subIntent string) (domain.ReplyTemplate, bool) {
	for _, t := range s.Templates[intent] {
		if t.SubIntent == subIntent {
			return t, true
		}
	}
	return domain.ReplyTemplate{}, false
}

func copySet(in map[string]struct{}) map[string]bool {
	out := make(map[string]bool, len(in))
	for k := range in {
		out[k] = true
	}
	return out
}

// Cache owns the current snapshot. Get never touches storage; Load replaces
// the snapshot wholesale.
type Cache struct {
	loader Loader
	now    func() time.Time
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Cache with no snapshot loaded.
func New(loader Loader, opts ...Option) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("configcache: loader must not be nil")
	}
	c := &Cache{loader: loader, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the current snapshot, or nil if none has loaded yet.
func (c *Cache) Get() *Snapshot {
	return c.current.Load()
}

// Load reads storage and swaps in a new snapshot. Concurrent callers share a
// single storage read.
func (c *Cache) Load(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("load", func() (any, error) {
		intents, err := c.loader.ListIntents(ctx)
		if err != nil {
			return nil, &LoadError{Err: fmt.Errorf("list intents: %w", err)}
		}
		templates, err := c.loader.ListTemplates(ctx, true)
		if err != nil {
			return nil, &LoadError{Err: fmt.Errorf("list templates: %w", err)}
		}
		snap := NewSnapshot(intents, templates, c.now().UTC())
		c.current.Store(snap)
		c.logger.Info("config snapshot loaded",
			"intents", len(snap.Intents),
			"action_intents", len(snap.actions),
			"template_groups", len(snap.Templates),
		)
		return snap, nil
	})
	if err != nil {
		c.logger.Error("config snapshot load failed", "err", err, "stale", c.Get() != nil)
		return nil, err
	}
	return v.(*Snapshot), nil
}

// EnsureLoaded returns the current snapshot, loading synchronously when none
// exists yet.
func (c *Cache) EnsureLoaded(ctx context.Context) (*Snapshot, error) {
	if snap := c.Get(); snap != nil {
		return snap, nil
	}
	return c.Load(ctx)
}
