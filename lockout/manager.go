// Package lockout owns the per-account enforcement state machine:
// unlocked, cooldown, hard lockout. Every transition is persisted before
// it is reported successful; a persistence failure means the transition
// did not happen. Protection never fails open.
package lockout

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/timer"
)

var (
	// ErrAdminRequired is returned when a hard lockout is cleared without
	// the admin override. Only a scheduled reset or an admin may lift it.
	ErrAdminRequired = errors.New("hard lockout requires admin override to clear")
)

// Store is the durable half of the state machine.
type Store interface {
	SaveLockout(accountID string, st domain.LockoutState) error
	DeleteLockout(accountID, scope string) error
	Lockouts(accountID string) ([]domain.LockoutState, error)
}

// Manager holds lockout state per account and scope. At most one active
// state exists per (account, scope); severity only ever escalates while
// the higher tier is active.
type Manager struct {
	mu     sync.Mutex
	store  Store
	timers *timer.Manager
	states map[string]map[string]domain.LockoutState // account -> scope -> state
	now    func() time.Time
	log    *slog.Logger
}

func NewManager(store Store, timers *timer.Manager, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:  store,
		timers: timers,
		states: make(map[string]map[string]domain.LockoutState),
		now:    time.Now,
		log:    log.With("component", "lockout"),
	}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func timerKey(accountID, scope string) string {
	return "lockout:" + accountID + ":" + scope
}

// Restore loads persisted lockouts for the account after a restart.
// Entries that lapsed while the process was down are dropped; surviving
// cooldowns get their expiry countdown re-armed.
func (m *Manager) Restore(accountID string) error {
	persisted, err := m.store.Lockouts(accountID)
	if err != nil {
		return fmt.Errorf("restore lockouts: %w", err)
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range persisted {
		if !st.Active(now) {
			if err := m.store.DeleteLockout(accountID, st.Scope); err != nil {
				m.log.Warn("drop stale lockout", "account", accountID, "scope", st.Scope, "err", err)
			}
			continue
		}
		m.setLocked(accountID, st)
		if st.Kind == domain.Cooldown && st.ExpiresAt != nil {
			m.armExpiry(accountID, st.Scope, st.ExpiresAt.Sub(now))
		}
		m.log.Info("restored lockout", "account", accountID, "scope", st.Scope,
			"kind", string(st.Kind), "reason", st.Reason)
	}
	return nil
}

// Status returns the effective account-wide lockout state, expiring
// lapsed entries lazily.
func (m *Manager) Status(accountID string) domain.LockoutState {
	return m.StatusScope(accountID, domain.ScopeAccount)
}

// StatusScope returns the state for one scope.
func (m *Manager) StatusScope(accountID, scope string) domain.LockoutState {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[accountID][scope]
	if !ok {
		return domain.LockoutState{Kind: domain.LockoutNone, Scope: scope}
	}
	if !st.Active(now) {
		m.clearLocked(accountID, scope)
		// Lazy expiry cleanup; an orphaned row is dropped again at the
		// next Restore, so best-effort is fine here.
		if err := m.store.DeleteLockout(accountID, scope); err != nil {
			m.log.Warn("delete expired lockout", "account", accountID, "scope", scope, "err", err)
		}
		return domain.LockoutState{Kind: domain.LockoutNone, Scope: scope}
	}
	return st
}

// SetCooldown moves (account, scope=account-wide) into cooldown for the
// duration. A no-op while a hard lockout is active: cooldown never
// downgrades the harder state.
func (m *Manager) SetCooldown(accountID string, d time.Duration, reason string) error {
	now := m.now()
	expires := now.Add(d)
	st := domain.LockoutState{
		Kind:      domain.Cooldown,
		Scope:     domain.ScopeAccount,
		Reason:    reason,
		SetAt:     now,
		ExpiresAt: &expires,
	}

	// One critical section across check, persist and apply: an
	// escalation landing concurrently cannot slip between the rank check
	// and the write and get downgraded.
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.states[accountID][st.Scope]; ok && cur.Kind.Outranks(st.Kind) && cur.Active(now) {
		m.log.Info("cooldown suppressed by active hard lockout", "account", accountID)
		return nil
	}

	// Persist first; only a durable transition counts.
	if err := m.store.SaveLockout(accountID, st); err != nil {
		return fmt.Errorf("persist cooldown: %w", err)
	}
	m.setLocked(accountID, st)
	m.armExpiry(accountID, st.Scope, d)

	m.log.Warn("cooldown set", "account", accountID, "reason", reason, "duration", d)
	return nil
}

// SetHardLockout freezes the account. A zero until means the lockout
// holds until the next scheduled reset. Always preempts a cooldown.
func (m *Manager) SetHardLockout(accountID, reason string, until time.Time) error {
	now := m.now()
	st := domain.LockoutState{
		Kind:   domain.Lockout,
		Scope:  domain.ScopeAccount,
		Reason: reason,
		SetAt:  now,
	}
	if !until.IsZero() {
		st.ExpiresAt = &until
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveLockout(accountID, st); err != nil {
		return fmt.Errorf("persist hard lockout: %w", err)
	}
	m.timers.Cancel(timerKey(accountID, st.Scope)) // cooldown timer, if any
	m.setLocked(accountID, st)

	m.log.Error("hard lockout set", "account", accountID, "reason", reason)
	return nil
}

// Clear lifts the account-wide state. A cooldown clears freely; a hard
// lockout refuses unless adminOverride is set (scheduled resets go
// through ClearOnReset).
func (m *Manager) Clear(accountID string, adminOverride bool) error {
	m.mu.Lock()
	st, ok := m.states[accountID][domain.ScopeAccount]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if st.Kind == domain.Lockout && !adminOverride {
		m.mu.Unlock()
		return ErrAdminRequired
	}
	m.mu.Unlock()

	if err := m.store.DeleteLockout(accountID, domain.ScopeAccount); err != nil {
		return fmt.Errorf("persist clear: %w", err)
	}

	m.mu.Lock()
	m.clearLocked(accountID, domain.ScopeAccount)
	m.mu.Unlock()

	m.log.Info("lockout cleared", "account", accountID, "admin", adminOverride)
	return nil
}

// ClearOnReset lifts every state for the account at a scheduled reset
// boundary. Clearing an already-unlocked account is a no-op.
func (m *Manager) ClearOnReset(accountID string) {
	m.mu.Lock()
	scopes := make([]string, 0, len(m.states[accountID]))
	for scope := range m.states[accountID] {
		scopes = append(scopes, scope)
	}
	m.mu.Unlock()

	for _, scope := range scopes {
		if err := m.store.DeleteLockout(accountID, scope); err != nil {
			m.log.Warn("clear lockout at reset", "account", accountID, "scope", scope, "err", err)
			continue
		}
		m.mu.Lock()
		m.clearLocked(accountID, scope)
		m.mu.Unlock()
		m.log.Info("lockout cleared by reset", "account", accountID, "scope", scope)
	}
}

// setLocked and clearLocked assume m.mu is held.

func (m *Manager) setLocked(accountID string, st domain.LockoutState) {
	if m.states[accountID] == nil {
		m.states[accountID] = make(map[string]domain.LockoutState)
	}
	m.states[accountID][st.Scope] = st
}

func (m *Manager) clearLocked(accountID, scope string) {
	delete(m.states[accountID], scope)
	m.timers.Cancel(timerKey(accountID, scope))
}

// armExpiry starts the cooldown countdown; assumes m.mu is held.
func (m *Manager) armExpiry(accountID, scope string, d time.Duration) {
	m.timers.Start(timerKey(accountID, scope), d, func(string) {
		m.expire(accountID, scope)
	})
}

// expire is the timer callback: the cooldown lapsed on its own.
func (m *Manager) expire(accountID, scope string) {
	m.mu.Lock()
	st, ok := m.states[accountID][scope]
	if !ok || st.Kind != domain.Cooldown {
		// Already cleared or escalated; stale fire is a no-op.
		m.mu.Unlock()
		return
	}
	delete(m.states[accountID], scope)
	m.mu.Unlock()

	if err := m.store.DeleteLockout(accountID, scope); err != nil {
		m.log.Warn("delete expired cooldown", "account", accountID, "err", err)
	}
	m.log.Info("cooldown expired", "account", accountID)
}
