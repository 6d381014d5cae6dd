// Package timer is a generic countdown registry. Durable state lives
// elsewhere (the lockout store); entries here are in-memory only and are
// rebuilt from persisted state at startup.
package timer

import (
	"context"
	"sync"
	"time"
)

// Entry is one running countdown.
type Entry struct {
	Key       string
	StartedAt time.Time
	Duration  time.Duration
}

// ExpiresAt is the instant the countdown lapses.
func (e Entry) ExpiresAt() time.Time { return e.StartedAt.Add(e.Duration) }

// Manager owns a keyed set of countdowns. Expiry callbacks fire exactly
// once per entry, either from the periodic Tick or lazily from a lookup,
// whichever observes the lapse first.
type Manager struct {
	mu      sync.Mutex
	entries map[string]Entry
	onFire  map[string]func(key string)

	now func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]Entry),
		onFire:  make(map[string]func(string)),
		now:     time.Now,
	}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start begins (or restarts) a countdown. fn may be nil; when non-nil it
// is invoked once when the countdown lapses.
func (m *Manager) Start(key string, d time.Duration, fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Key: key, StartedAt: m.now(), Duration: d}
	if fn != nil {
		m.onFire[key] = fn
	} else {
		delete(m.onFire, key)
	}
}

// Cancel removes a countdown without firing its callback.
func (m *Manager) Cancel(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	delete(m.onFire, key)
}

// Remaining returns the time left on a countdown. ok is false when no
// countdown is running under the key (including one that just lapsed on
// this lookup).
func (m *Manager) Remaining(key string) (time.Duration, bool) {
	now := m.now()
	fired := m.expireLocked(key, now)
	for _, f := range fired {
		f.fn(f.key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	return e.ExpiresAt().Sub(now), true
}

// IsExpired reports whether the key has no running countdown.
func (m *Manager) IsExpired(key string) bool {
	_, ok := m.Remaining(key)
	return !ok
}

// Tick expires every lapsed entry and fires its callback. Call at <=1s
// intervals from the background loop.
func (m *Manager) Tick(now time.Time) {
	fired := m.expireLocked("", now)
	for _, f := range fired {
		f.fn(f.key)
	}
}

// Run drives Tick until the context ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(m.now())
		}
	}
}

type firedEntry struct {
	key string
	fn  func(string)
}

// expireLocked removes lapsed entries (all of them when key is empty,
// else just the one) and returns the callbacks to invoke. Callbacks run
// outside the lock so they may call back into the manager.
func (m *Manager) expireLocked(key string, now time.Time) []firedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []firedEntry
	for k, e := range m.entries {
		if key != "" && k != key {
			continue
		}
		if now.Before(e.ExpiresAt()) {
			continue
		}
		if fn, ok := m.onFire[k]; ok {
			fired = append(fired, firedEntry{key: k, fn: fn})
		}
		delete(m.entries, k)
		delete(m.onFire, k)
	}
	return fired
}
