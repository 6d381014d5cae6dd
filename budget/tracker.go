// Package budget couples an unrealized-P&L rule's threshold to the
// remaining budget of a realized-P&L rule, so a floating loss can never
// silently push the day's realized total past its hard limit once the
// position closes.
package budget

import "math"

// RealizedSource reads the current daily realized P&L for an account.
type RealizedSource interface {
	RealizedPnL(accountID string) float64
}

// Coupling declares that the unrealized rule's limit tightens as the
// realized rule's budget is consumed.
type Coupling struct {
	UnrealizedRule string
	RealizedRule   string
}

type limitInfo struct {
	limit   float64
	enabled bool
}

// Tracker computes effective limits. The arithmetic runs on every call,
// so each quote or position tick sees the budget as of that instant.
type Tracker struct {
	source    RealizedSource
	couplings map[string]Coupling // keyed by unrealized rule name
	limits    map[string]limitInfo
}

func NewTracker(source RealizedSource) *Tracker {
	return &Tracker{
		source:    source,
		couplings: make(map[string]Coupling),
		limits:    make(map[string]limitInfo),
	}
}

// SetLimit registers a rule's static limit and enabled flag. Both sides
// of a coupling must be registered for the coupling to bind.
func (t *Tracker) SetLimit(rule string, limit float64, enabled bool) {
	t.limits[rule] = limitInfo{limit: limit, enabled: enabled}
}

// Couple links an unrealized rule to a realized rule's budget.
func (t *Tracker) Couple(c Coupling) {
	t.couplings[c.UnrealizedRule] = c
}

// EffectiveLimit returns the limit the unrealized rule must use right
// now: the worse of its static limit and the realized rule's remaining
// budget. With no coupling, or either side disabled, the static limit
// passes through unchanged. A rule never registered here falls back to
// the static limit the caller carries; registration only matters once a
// coupling binds.
//
// "Worse" means tighter: for a loss limit (negative) the smaller
// magnitude, for a profit target (positive) the smaller value. A
// realized total already at or past its limit leaves zero budget.
func (t *Tracker) EffectiveLimit(rule, accountID string, static float64) float64 {
	u, ok := t.limits[rule]
	if !ok {
		return static
	}

	c, coupled := t.couplings[rule]
	if !coupled || !u.enabled {
		return u.limit
	}
	r, ok := t.limits[c.RealizedRule]
	if !ok || !r.enabled {
		return u.limit
	}

	remaining := r.limit - t.source.RealizedPnL(accountID)

	if r.limit < 0 {
		// Loss budget: remaining is negative while budget is left.
		remaining = math.Min(remaining, 0)
		return math.Max(u.limit, remaining)
	}
	// Profit budget: remaining is positive while budget is left.
	remaining = math.Max(remaining, 0)
	return math.Min(u.limit, remaining)
}
