package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakers471/risk-manager/domain"
)

// stubLockouts serves a fixed lockout state to the gate.
type stubLockouts struct {
	state domain.LockoutState
}

func (s stubLockouts) Status(string) domain.LockoutState { return s.state }

// spyRule records whether it was consulted.
type spyRule struct {
	name      string
	category  domain.Category
	violation *domain.Violation
	err       error
	panics    bool
	calls     int
}

func (r *spyRule) Name() string                  { return r.name }
func (r *spyRule) Category() domain.Category     { return r.category }
func (r *spyRule) Matches(domain.EventKind) bool { return true }

func (r *spyRule) Evaluate(domain.Event, *Context) (*domain.Violation, error) {
	r.calls++
	if r.panics {
		panic("boom")
	}
	return r.violation, r.err
}

func hardState(reason string) domain.LockoutState {
	return domain.LockoutState{
		Kind:   domain.Lockout,
		Scope:  domain.ScopeAccount,
		Reason: reason,
		SetAt:  t0,
	}
}

func cooldownState(until time.Time) domain.LockoutState {
	return domain.LockoutState{
		Kind:      domain.Cooldown,
		Scope:     domain.ScopeAccount,
		Reason:    "trade frequency",
		SetAt:     t0,
		ExpiresAt: &until,
	}
}

func TestHardLockoutFlattensAndSkipsRules(t *testing.T) {
	t.Parallel()

	spy := &spyRule{name: "spy", category: domain.TradeByTrade}
	e := NewEngine(stubLockouts{hardState("daily loss limit")}, nil, spy)

	// A new position under a hard lockout draws exactly one Flatten and
	// nothing else; no rule runs.
	vs := e.Evaluate(domain.Event{Kind: domain.PositionOpened, AccountID: "acct1", ContractID: "ES-1"}, testCtx(t0))
	require.Len(t, vs, 1)
	assert.Equal(t, "lockout_enforcement", vs[0].RuleName)
	assert.Equal(t, domain.ActionFlatten, vs[0].Action.Kind)
	assert.Equal(t, 0, spy.calls)

	// Events with no position implication pass silently.
	vs = e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1", Symbol: "ES"}, testCtx(t0))
	assert.Empty(t, vs)
	assert.Equal(t, 0, spy.calls)
}

func TestCooldownCancelsNewOrders(t *testing.T) {
	t.Parallel()

	soft := &spyRule{name: "soft", category: domain.SoftLockout}
	hard := &spyRule{name: "hard", category: domain.HardLockout}
	tbt := &spyRule{name: "tbt", category: domain.TradeByTrade}
	e := NewEngine(stubLockouts{cooldownState(t0.Add(time.Minute))}, nil, soft, hard, tbt)

	// New orders are refused while cooling down.
	vs := e.Evaluate(domain.Event{Kind: domain.OrderPlaced, AccountID: "acct1"}, testCtx(t0))
	require.Len(t, vs, 1)
	assert.Equal(t, "cooldown_enforcement", vs[0].RuleName)
	assert.Equal(t, domain.ActionCancelOrders, vs[0].Action.Kind)
	assert.Equal(t, 0, tbt.calls)

	// Existing exposure is still managed and the hard daily limits keep
	// watching; only soft-lockout rules pause.
	vs = e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	assert.Empty(t, vs)
	assert.Equal(t, 1, tbt.calls)
	assert.Equal(t, 0, soft.calls)
	assert.Equal(t, 1, hard.calls)
}

// A daily-limit breach during a cooldown escalates to the hard lockout;
// the cooldown never shields it.
func TestHardBreachEscalatesThroughCooldown(t *testing.T) {
	t.Parallel()

	e := NewEngine(stubLockouts{cooldownState(t0.Add(time.Minute))}, nil,
		&DailyRealizedLoss{Limit: -900})

	rc := testCtx(t0)
	rc.Account.RealizedPnL = -950
	vs := e.Evaluate(domain.Event{Kind: domain.PositionClosed, AccountID: "acct1", RealizedPnL: -250}, rc)
	require.Len(t, vs, 1)
	assert.Equal(t, "daily_realized_loss", vs[0].RuleName)
	assert.Equal(t, domain.ActionSetHardLockout, vs[0].Action.Kind)
}

func TestUnlockedEvaluatesInOrder(t *testing.T) {
	t.Parallel()

	v1 := &domain.Violation{RuleName: "first", Category: domain.TradeByTrade,
		Action: domain.Action{Kind: domain.ActionAlert}}
	v2 := &domain.Violation{RuleName: "second", Category: domain.TradeByTrade,
		Action: domain.Action{Kind: domain.ActionAlert}}
	e := NewEngine(stubLockouts{}, nil,
		&spyRule{name: "first", category: domain.TradeByTrade, violation: v1},
		&spyRule{name: "second", category: domain.TradeByTrade, violation: v2},
	)

	vs := e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	require.Len(t, vs, 2)
	assert.Equal(t, "first", vs[0].RuleName)
	assert.Equal(t, "second", vs[1].RuleName)
}

func TestHardViolationShortCircuits(t *testing.T) {
	t.Parallel()

	hardV := &domain.Violation{RuleName: "daily", Category: domain.HardLockout,
		Action: domain.Action{Kind: domain.ActionSetHardLockout}}
	tail := &spyRule{name: "tail", category: domain.TradeByTrade}
	e := NewEngine(stubLockouts{}, nil,
		&spyRule{name: "daily", category: domain.HardLockout, violation: hardV},
		tail,
	)

	vs := e.Evaluate(domain.Event{Kind: domain.PositionClosed, AccountID: "acct1"}, testCtx(t0))
	require.Len(t, vs, 1)
	assert.Equal(t, "daily", vs[0].RuleName)
	assert.Equal(t, 0, tail.calls)
}

func TestRulePanicIsContained(t *testing.T) {
	t.Parallel()

	after := &domain.Violation{RuleName: "after", Category: domain.TradeByTrade,
		Action: domain.Action{Kind: domain.ActionAlert}}
	e := NewEngine(stubLockouts{}, nil,
		&spyRule{name: "broken", category: domain.TradeByTrade, panics: true},
		&spyRule{name: "after", category: domain.TradeByTrade, violation: after},
	)

	vs := e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	require.Len(t, vs, 1)
	assert.Equal(t, "after", vs[0].RuleName)
}

func TestRuleErrorSkipsEvent(t *testing.T) {
	t.Parallel()

	e := NewEngine(stubLockouts{}, nil,
		&spyRule{name: "strict", category: domain.TradeByTrade, err: ErrMissingFields},
	)
	vs := e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	assert.Empty(t, vs)
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()

	v := &domain.Violation{RuleName: "toggle", Category: domain.TradeByTrade,
		Action: domain.Action{Kind: domain.ActionAlert}}
	spy := &spyRule{name: "toggle", category: domain.TradeByTrade, violation: v}
	e := NewEngine(stubLockouts{}, nil, spy)

	e.SetEnabled("toggle", false)
	vs := e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	assert.Empty(t, vs)
	assert.Equal(t, 0, spy.calls)

	e.SetEnabled("toggle", true)
	vs = e.Evaluate(domain.Event{Kind: domain.QuoteUpdate, AccountID: "acct1"}, testCtx(t0))
	assert.Len(t, vs, 1)
}

// Three trades inside the window are fine; the fourth inside the same
// window draws exactly one cooldown.
func TestFrequencyBurstEndToEnd(t *testing.T) {
	t.Parallel()

	freq := &TradeFrequency{MaxTrades: 3, Window: time.Minute, Cooldown: time.Minute}
	e := NewEngine(stubLockouts{}, nil, freq)

	fill := func(at time.Time) []domain.Violation {
		return e.Evaluate(domain.Event{
			Kind:      domain.OrderFilled,
			AccountID: "acct1",
			Time:      at,
		}, testCtx(at))
	}

	assert.Empty(t, fill(t0))
	assert.Empty(t, fill(t0.Add(20*time.Second)))
	assert.Empty(t, fill(t0.Add(40*time.Second)))

	vs := fill(t0.Add(50 * time.Second))
	require.Len(t, vs, 1)
	assert.Equal(t, "trade_frequency", vs[0].RuleName)
	assert.Equal(t, domain.ActionSetCooldown, vs[0].Action.Kind)
	assert.Equal(t, time.Minute, vs[0].Action.Duration)
}

// The closing trade that pushes cumulative realized loss through the
// limit is the event that triggers the hard lockout.
func TestDailyLossBreachEndToEnd(t *testing.T) {
	t.Parallel()

	e := NewEngine(stubLockouts{}, nil, &DailyRealizedLoss{Limit: -900})

	rc := testCtx(t0)
	rc.Account.RealizedPnL = -700 // after four trades
	vs := e.Evaluate(domain.Event{Kind: domain.PositionClosed, AccountID: "acct1", RealizedPnL: -100}, rc)
	assert.Empty(t, vs)

	rc.Account.RealizedPnL = -950 // fifth trade books -250
	vs = e.Evaluate(domain.Event{Kind: domain.PositionClosed, AccountID: "acct1", RealizedPnL: -250}, rc)
	require.Len(t, vs, 1)
	assert.Equal(t, "daily_realized_loss", vs[0].RuleName)
	assert.Equal(t, domain.ActionSetHardLockout, vs[0].Action.Kind)
	assert.True(t, vs[0].Action.Until.IsZero())
	assert.InDelta(t, -950, vs[0].Evidence["current"], 1e-9)
}
