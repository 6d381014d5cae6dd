package domain

import "time"

// LockoutKind is the severity tier of an active lockout.
type LockoutKind string

const (
	LockoutNone LockoutKind = "none"
	Cooldown    LockoutKind = "cooldown"
	Lockout     LockoutKind = "hard_lockout"
)

// ScopeAccount is the scope value for an account-wide lockout; any other
// scope string names a single symbol.
const ScopeAccount = ""

// LockoutState is the persisted lockout record for one account+scope. A
// nil ExpiresAt on a hard lockout means it holds until the next scheduled
// reset rather than a fixed instant.
type LockoutState struct {
	Kind      LockoutKind
	Scope     string
	Reason    string
	SetAt     time.Time
	ExpiresAt *time.Time
}

// Active reports whether the state still binds at the given instant.
// Hard lockouts with no expiry bind until cleared by a reset or an admin.
func (s LockoutState) Active(now time.Time) bool {
	if s.Kind == LockoutNone {
		return false
	}
	if s.ExpiresAt == nil {
		return true
	}
	return now.Before(*s.ExpiresAt)
}

// Severity ordering: a hard lockout outranks a cooldown outranks none.
func (k LockoutKind) Outranks(other LockoutKind) bool {
	rank := map[LockoutKind]int{LockoutNone: 0, Cooldown: 1, Lockout: 2}
	return rank[k] > rank[other]
}

// FillType classifies why a position closed, correlated from the fill
// that preceded the close.
type FillType string

const (
	FillStop   FillType = "stop"
	FillTarget FillType = "target"
	FillManual FillType = "manual"
)

// OrderRef identifies one working order at the gateway.
type OrderRef struct {
	OrderID    string
	ContractID string
	Symbol     string
	Side       string // "buy" or "sell"
	Size       float64
	StopPrice  float64
	LimitPrice float64
}

// IsStop reports whether the order is a stop order.
func (o OrderRef) IsStop() bool { return o.StopPrice != 0 && o.LimitPrice == 0 }

// IsTakeProfit reports whether the order is a plain limit order.
func (o OrderRef) IsTakeProfit() bool { return o.LimitPrice != 0 && o.StopPrice == 0 }
