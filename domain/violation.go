package domain

import "time"

// Category places a rule in one of the three enforcement tiers. The tier
// decides how the lockout gate treats the rule and what state a breach
// may set.
type Category string

const (
	TradeByTrade Category = "trade_by_trade"
	SoftLockout  Category = "soft_lockout"
	HardLockout  Category = "hard_lockout"
)

// Severity of a violation, for the audit channel.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ActionKind enumerates the enforcement actions a violation can request.
type ActionKind string

const (
	ActionAlert          ActionKind = "alert"
	ActionClosePosition  ActionKind = "close_position"
	ActionFlatten        ActionKind = "flatten"
	ActionCancelOrders   ActionKind = "cancel_orders"
	ActionSetCooldown    ActionKind = "set_cooldown"
	ActionSetHardLockout ActionKind = "set_hard_lockout"
	ActionReduceToLimit  ActionKind = "reduce_to_limit"
)

// Action is the concrete intervention a violation asks for. Fields beyond
// Kind are populated per kind: ContractID for close/reduce, TargetSize for
// reduce, Duration for cooldowns, Until for fixed-instant hard lockouts
// (zero Until means "until the next scheduled reset").
type Action struct {
	Kind       ActionKind
	ContractID string
	TargetSize float64
	Duration   time.Duration
	Until      time.Time
}

// Violation is a rule breach plus the requested enforcement. Evidence
// holds the numeric facts (current value, limit, effective limit) for the
// audit log and for tests.
type Violation struct {
	RuleName string
	Category Category
	Severity Severity
	Message  string
	Action   Action
	Evidence map[string]float64
}

// Key returns the guard identity for the violation's action on the given
// account: account + action kind + target. Two violations with the same
// key are the same intervention and must not run concurrently.
func (v Violation) Key(accountID string) string {
	k := accountID + ":" + string(v.Action.Kind)
	if v.Action.ContractID != "" {
		k += ":" + v.Action.ContractID
	}
	return k
}
