// Package enforce turns violations into broker commands, exactly once
// per distinct intervention. The guard suppresses duplicates while an
// action is in flight and for a short window after it lands, so a burst
// of quote ticks cannot fire the same close twice.
package enforce

import (
	"sync"
	"time"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/metrics"
)

// DefaultCooldown is the post-execution suppression window when no
// per-action override is configured.
const DefaultCooldown = 2 * time.Second

type guardEntry struct {
	inFlight bool
	holdOff  time.Time // duplicates suppressed until then
}

// Guard tracks one entry per action key (account + action kind +
// target). TryAcquire answers whether this intervention should run now.
type Guard struct {
	mu        sync.Mutex
	entries   map[string]*guardEntry
	cooldowns map[domain.ActionKind]time.Duration
	now       func() time.Time
}

// NewGuard builds a guard. cooldowns overrides the suppression window
// per action kind; missing kinds use DefaultCooldown.
func NewGuard(cooldowns map[domain.ActionKind]time.Duration) *Guard {
	return &Guard{
		entries:   make(map[string]*guardEntry),
		cooldowns: cooldowns,
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests).
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

func (g *Guard) cooldown(kind domain.ActionKind) time.Duration {
	if d, ok := g.cooldowns[kind]; ok {
		return d
	}
	return DefaultCooldown
}

// TryAcquire claims the key for execution. It refuses while the same
// key is in flight or inside its post-execution window.
func (g *Guard) TryAcquire(key string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entries[key]
	if e == nil {
		e = &guardEntry{}
		g.entries[key] = e
	}
	if e.inFlight || now.Before(e.holdOff) {
		metrics.GuardSuppressed.Inc()
		return false
	}
	e.inFlight = true
	return true
}

// Release ends the execution claimed by TryAcquire and opens the
// suppression window. A failed execution holds the window too; the
// retry already happened inside the executor, and hammering a broken
// gateway helps nobody.
func (g *Guard) Release(key string, kind domain.ActionKind) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entries[key]
	if e == nil {
		return
	}
	e.inFlight = false
	e.holdOff = now.Add(g.cooldown(kind))
}

// Sweep drops entries whose window has long passed. Called from the
// background tick to keep the map from growing with dead keys.
func (g *Guard) Sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, e := range g.entries {
		if !e.inFlight && now.After(e.holdOff.Add(time.Minute)) {
			delete(g.entries, key)
		}
	}
}
