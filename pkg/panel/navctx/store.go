// Package navctx holds the process-local navigation state of rendered panel
// instances: the navigation stack, access method, originating category and an
// opaque panel state snapshot, keyed by render target.
package navctx

import (
	"sync"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/panel"
)

const (
	// DefaultTTL is how long an untouched context survives.
	DefaultTTL = 30 * time.Minute
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Store is a TTL-evicted map from render target key to NavigationContext.
// Eviction is sweep-based, not read-time: a read may observe an entry older
// than the TTL. Every mutating operation resets the entry's timestamp; reads
// never do.
type Store struct {
	mu   sync.RWMutex
	data map[string]*panel.NavigationContext

	ttl           time.Duration
	sweepInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore creates a Store and starts its background sweep when
// sweepInterval > 0. ttl <= 0 applies DefaultTTL.
func NewStore(ttl, sweepInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		data:          make(map[string]*panel.NavigationContext),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Close stops the background sweep goroutine, if any.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Put stores a full navigation context for the given render target.
func (s *Store) Put(target panel.TargetRef, stack []string, access panel.AccessMethod, sourceCategory string, state map[string]any) {
	ctx := &panel.NavigationContext{
		Stack:          append([]string(nil), stack...),
		AccessMethod:   access,
		SourceCategory: sourceCategory,
		PanelState:     state,
		Timestamp:      time.Now(),
	}

	s.mu.Lock()
	s.data[target.Key()] = ctx
	s.mu.Unlock()
}

// Get retrieves the context for a render target. It does not extend the TTL
// and does not evict; absence means the caller reconstructs from scratch.
func (s *Store) Get(target panel.TargetRef) (*panel.NavigationContext, bool) {
	s.mu.RLock()
	ctx, ok := s.data[target.Key()]
	s.mu.RUnlock()
	return ctx, ok
}

// UpdateState replaces the panel state snapshot, preserving the other fields
// and resetting the timestamp. A minimal record is created if none exists.
func (s *Store) UpdateState(target panel.TargetRef, state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.data[target.Key()]
	if !ok {
		ctx = &panel.NavigationContext{AccessMethod: panel.AccessDirect}
		s.data[target.Key()] = ctx
	}
	ctx.PanelState = state
	ctx.Timestamp = time.Now()
}

// Delete removes the context for a render target.
func (s *Store) Delete(target panel.TargetRef) {
	s.mu.Lock()
	delete(s.data, target.Key())
	s.mu.Unlock()
}

// Size returns the current number of entries, expired or not.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Sweep removes every entry whose timestamp is older than the TTL relative
// to now. Exposed for tests; the background loop calls it with time.Now().
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ctx := range s.data {
		if now.Sub(ctx.Timestamp) > s.ttl {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

func (s *Store) sweepLoop() {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.Sweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}
