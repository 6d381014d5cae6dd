package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/gateway/sim"
	"github.com/Jakers471/risk-manager/store"
)

var t0 = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

type memAudit struct {
	records []store.EnforcementRecord
	err     error
}

func (a *memAudit) RecordEnforcement(r store.EnforcementRecord) error {
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, r)
	return nil
}

type memLocker struct {
	cooldowns []time.Duration
	hards     []string
	err       error
}

func (l *memLocker) SetCooldown(accountID string, d time.Duration, reason string) error {
	if l.err != nil {
		return l.err
	}
	l.cooldowns = append(l.cooldowns, d)
	return nil
}

func (l *memLocker) SetHardLockout(accountID, reason string, until time.Time) error {
	if l.err != nil {
		return l.err
	}
	l.hards = append(l.hards, reason)
	return nil
}

func newExecutor(t *testing.T, gw *sim.Gateway, positions PositionSource) (*Executor, *memAudit, *memLocker, *time.Time) {
	t.Helper()
	now := t0
	audit := &memAudit{}
	locker := &memLocker{}
	guard := NewGuard(nil)
	guard.SetClock(func() time.Time { return now })

	x := NewExecutor(gw, locker, guard, audit, positions, nil)
	x.RetryDelay = time.Millisecond
	x.SetClock(func() time.Time { return now })
	return x, audit, locker, &now
}

func closeViolation(contract string) domain.Violation {
	return domain.Violation{
		RuleName: "max_unrealized_loss",
		Category: domain.TradeByTrade,
		Severity: domain.SeverityCritical,
		Message:  "unrealized loss limit",
		Action:   domain.Action{Kind: domain.ActionClosePosition, ContractID: contract},
	}
}

func TestExecuteClosePosition(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, _, _ := newExecutor(t, gw, nil)

	err := x.Execute(context.Background(), "acct1", closeViolation("ES-1"))
	require.NoError(t, err)

	cmds := gw.CommandsOf("close")
	require.Len(t, cmds, 1)
	assert.Equal(t, "ES-1", cmds[0].ContractID)

	require.Len(t, audit.records, 1)
	assert.Equal(t, "ok", audit.records[0].Status)
	assert.Equal(t, "max_unrealized_loss", audit.records[0].Rule)
	assert.NotEmpty(t, audit.records[0].ID)
}

// Dispatch returns before the gateway call completes; Wait drains it.
// A second dispatch of the same key is suppressed whether the first is
// still in flight or inside its window.
func TestDispatchRunsGatewayActionsOffCaller(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, _, _ := newExecutor(t, gw, nil)

	require.NoError(t, x.Dispatch(context.Background(), "acct1", closeViolation("ES-1")))
	assert.ErrorIs(t, x.Dispatch(context.Background(), "acct1", closeViolation("ES-1")), ErrSuppressed)

	x.Wait()
	assert.Len(t, gw.CommandsOf("close"), 1)
	assert.Len(t, audit.records, 1)
}

// State transitions dispatch synchronously: the lockout is set before
// Dispatch returns, so the very next event is gated by it.
func TestDispatchAppliesStateActionsSynchronously(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, _, locker, _ := newExecutor(t, gw, nil)

	v := domain.Violation{
		RuleName: "daily_realized_loss",
		Message:  "daily loss limit",
		Action:   domain.Action{Kind: domain.ActionSetHardLockout},
	}
	require.NoError(t, x.Dispatch(context.Background(), "acct1", v))
	assert.Len(t, locker.hards, 1)
	assert.Empty(t, gw.Commands())
}

func TestAuditCarriesEvidenceJSON(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, _, _ := newExecutor(t, gw, nil)

	v := closeViolation("ES-1")
	v.Evidence = map[string]float64{"current": -210, "effective_limit": -200}
	require.NoError(t, x.Execute(context.Background(), "acct1", v))

	require.Len(t, audit.records, 1)
	assert.Contains(t, audit.records[0].Detail, `"current":-210`)
	assert.Contains(t, audit.records[0].Detail, `"effective_limit":-200`)
}

// The same intervention fired twice in quick succession reaches the
// gateway once; the duplicate is suppressed until the window elapses.
func TestDuplicateSuppressedUntilWindowElapses(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, _, now := newExecutor(t, gw, nil)

	require.NoError(t, x.Execute(context.Background(), "acct1", closeViolation("ES-1")))
	assert.ErrorIs(t, x.Execute(context.Background(), "acct1", closeViolation("ES-1")), ErrSuppressed)
	assert.Len(t, gw.CommandsOf("close"), 1)
	assert.Len(t, audit.records, 1) // suppressed attempts are not audited

	// A different contract is a different intervention.
	require.NoError(t, x.Execute(context.Background(), "acct1", closeViolation("NQ-1")))
	assert.Len(t, gw.CommandsOf("close"), 2)

	// Past the window the same key may fire again.
	*now = now.Add(DefaultCooldown + time.Millisecond)
	require.NoError(t, x.Execute(context.Background(), "acct1", closeViolation("ES-1")))
	assert.Len(t, gw.CommandsOf("close"), 3)
}

func TestRetryOnceThenSucceed(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	gw.FailNext("close", 1)
	x, audit, _, _ := newExecutor(t, gw, nil)

	err := x.Execute(context.Background(), "acct1", closeViolation("ES-1"))
	require.NoError(t, err)
	assert.Len(t, gw.CommandsOf("close"), 1)
	assert.Equal(t, "ok", audit.records[0].Status)
}

func TestRetryExhaustedIsAuditedAndWindowHeld(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	gw.FailNext("close", 2)
	x, audit, _, _ := newExecutor(t, gw, nil)

	err := x.Execute(context.Background(), "acct1", closeViolation("ES-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sim.ErrInjected)

	require.Len(t, audit.records, 1)
	assert.Equal(t, "failed", audit.records[0].Status)
	assert.Contains(t, audit.records[0].Detail, "injected")

	// The failure holds the window; an immediate re-fire is suppressed.
	assert.ErrorIs(t, x.Execute(context.Background(), "acct1", closeViolation("ES-1")), ErrSuppressed)
}

func TestFlattenCancelsThenClosesEverything(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	positions := func(string) []domain.Position {
		return []domain.Position{
			{ContractID: "ES-1", Symbol: "ES", Size: 2},
			{ContractID: "NQ-1", Symbol: "NQ", Size: -1},
		}
	}
	x, _, _, _ := newExecutor(t, gw, positions)

	v := domain.Violation{
		RuleName: "lockout_enforcement",
		Category: domain.HardLockout,
		Severity: domain.SeverityCritical,
		Message:  "position activity while hard locked",
		Action:   domain.Action{Kind: domain.ActionFlatten},
	}
	require.NoError(t, x.Execute(context.Background(), "acct1", v))

	cmds := gw.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "cancel_all", cmds[0].Op) // orders die before positions
	assert.Equal(t, "close", cmds[1].Op)
	assert.Equal(t, "close", cmds[2].Op)
}

func TestFlattenClosesRemainingAfterOneFailure(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	gw.FailNext("close", 2) // first position fails both attempts
	positions := func(string) []domain.Position {
		return []domain.Position{
			{ContractID: "ES-1", Symbol: "ES", Size: 2},
			{ContractID: "NQ-1", Symbol: "NQ", Size: -1},
		}
	}
	x, audit, _, _ := newExecutor(t, gw, positions)

	v := domain.Violation{
		RuleName: "lockout_enforcement",
		Action:   domain.Action{Kind: domain.ActionFlatten},
		Message:  "flatten",
	}
	err := x.Execute(context.Background(), "acct1", v)
	require.Error(t, err)

	// The second position was still closed.
	closes := gw.CommandsOf("close")
	require.Len(t, closes, 1)
	assert.Equal(t, "NQ-1", closes[0].ContractID)
	assert.Equal(t, "failed", audit.records[0].Status)
}

func TestReduceToLimit(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, _, _, _ := newExecutor(t, gw, nil)

	v := domain.Violation{
		RuleName: "max_contracts",
		Message:  "too many contracts",
		Action: domain.Action{
			Kind:       domain.ActionReduceToLimit,
			ContractID: "ES-1",
			TargetSize: 3,
		},
	}
	require.NoError(t, x.Execute(context.Background(), "acct1", v))

	cmds := gw.CommandsOf("reduce")
	require.Len(t, cmds, 1)
	assert.InDelta(t, 3, cmds[0].Size, 1e-9)
}

func TestLockoutActionsDelegate(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, locker, _ := newExecutor(t, gw, nil)

	cool := domain.Violation{
		RuleName: "trade_frequency",
		Message:  "too many trades",
		Action:   domain.Action{Kind: domain.ActionSetCooldown, Duration: time.Minute},
	}
	require.NoError(t, x.Execute(context.Background(), "acct1", cool))
	require.Len(t, locker.cooldowns, 1)
	assert.Equal(t, time.Minute, locker.cooldowns[0])

	hard := domain.Violation{
		RuleName: "daily_realized_loss",
		Message:  "daily loss limit",
		Action:   domain.Action{Kind: domain.ActionSetHardLockout},
	}
	require.NoError(t, x.Execute(context.Background(), "acct1", hard))
	require.Len(t, locker.hards, 1)

	assert.Empty(t, gw.Commands()) // state actions never touch the broker
	assert.Len(t, audit.records, 2)
}

func TestLockoutPersistFailurePropagates(t *testing.T) {
	t.Parallel()

	gw := sim.New(nil)
	x, audit, locker, _ := newExecutor(t, gw, nil)
	locker.err = errors.New("disk full")

	v := domain.Violation{
		RuleName: "daily_realized_loss",
		Message:  "daily loss limit",
		Action:   domain.Action{Kind: domain.ActionSetHardLockout},
	}
	err := x.Execute(context.Background(), "acct1", v)
	require.Error(t, err)
	assert.Equal(t, "failed", audit.records[0].Status)
}

func TestGuardSweep(t *testing.T) {
	t.Parallel()

	now := t0
	g := NewGuard(nil)
	g.SetClock(func() time.Time { return now })

	require.True(t, g.TryAcquire("acct1:close_position:ES-1"))
	g.Release("acct1:close_position:ES-1", domain.ActionClosePosition)

	now = now.Add(2 * time.Minute)
	g.Sweep()
	assert.True(t, g.TryAcquire("acct1:close_position:ES-1"))
}

func TestGuardPerKindOverride(t *testing.T) {
	t.Parallel()

	now := t0
	g := NewGuard(map[domain.ActionKind]time.Duration{
		domain.ActionCancelOrders: 10 * time.Second,
	})
	g.SetClock(func() time.Time { return now })

	key := "acct1:cancel_orders"
	require.True(t, g.TryAcquire(key))
	g.Release(key, domain.ActionCancelOrders)

	now = now.Add(DefaultCooldown + time.Second)
	assert.False(t, g.TryAcquire(key)) // still inside the override window

	now = now.Add(10 * time.Second)
	assert.True(t, g.TryAcquire(key))
}
