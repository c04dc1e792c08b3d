// Package session holds per-conversation bookkeeping shared by the voice and
// text transports.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voiceloop/internal/observe"
)

// ErrSessionBusy is returned when a session already has a turn in progress.
var ErrSessionBusy = errors.New("session: turn already in progress")

// Guard serialises turns per session. At most one holder per session ID
// exists at a time; a second caller is turned away instead of queued, so a
// client that talks over its own reply gets an immediate error.
//
// The zero value is not usable; create one with [NewGuard].
type Guard struct {
	mu      sync.Mutex
	active  map[string]struct{}
	metrics *observe.Metrics
}

// NewGuard returns an empty Guard. A nil m selects [observe.DefaultMetrics].
func NewGuard(m *observe.Metrics) *Guard {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Guard{active: make(map[string]struct{}), metrics: m}
}

// TryAcquire marks id as processing. ok is false when it already is. The
// returned release is idempotent and must be called when the turn ends.
func (g *Guard) TryAcquire(id string) (release func(), ok bool) {
	g.mu.Lock()
	if _, busy := g.active[id]; busy {
		g.mu.Unlock()
		return nil, false
	}
	g.active[id] = struct{}{}
	g.mu.Unlock()
	g.metrics.ActiveSessions.Add(context.Background(), 1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, id)
			g.mu.Unlock()
			g.metrics.ActiveSessions.Add(context.Background(), -1)
		})
	}, true
}

// Busy reports whether id currently has a turn in progress.
func (g *Guard) Busy(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[id]
	return ok
}

// Active returns the number of sessions with a turn in progress.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
