package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/gateway"
	"github.com/Jakers471/risk-manager/metrics"
	"github.com/Jakers471/risk-manager/pkg/id"
	"github.com/Jakers471/risk-manager/store"
)

var (
	// ErrSuppressed means the same intervention is already in flight or
	// inside its post-execution window.
	ErrSuppressed = errors.New("enforcement suppressed by guard")
)

// Locker is the executor's write surface on the lockout state machine.
type Locker interface {
	SetCooldown(accountID string, d time.Duration, reason string) error
	SetHardLockout(accountID, reason string, until time.Time) error
}

// AuditStore persists one row per executed action.
type AuditStore interface {
	RecordEnforcement(r store.EnforcementRecord) error
}

// PositionSource lists the account's open positions; Flatten closes
// each of them.
type PositionSource func(accountID string) []domain.Position

// Executor carries violations out. Gateway calls run under a timeout
// and are retried once on failure; a second failure is logged at error
// level and audited, with the guard window still held so the engine
// raises the violation again on the next evaluation rather than
// hot-looping.
type Executor struct {
	gw        gateway.Gateway
	lockouts  Locker
	guard     *Guard
	audit     AuditStore
	positions PositionSource
	wg        sync.WaitGroup

	// Timeout bounds each gateway call. RetryDelay spaces the single
	// retry.
	Timeout    time.Duration
	RetryDelay time.Duration

	log *slog.Logger
	now func() time.Time
}

func NewExecutor(gw gateway.Gateway, lockouts Locker, guard *Guard,
	audit AuditStore, positions PositionSource, log *slog.Logger) *Executor {

	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		gw:         gw,
		lockouts:   lockouts,
		guard:      guard,
		audit:      audit,
		positions:  positions,
		Timeout:    5 * time.Second,
		RetryDelay: 250 * time.Millisecond,
		log:        log.With("component", "enforce"),
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests).
func (x *Executor) SetClock(now func() time.Time) { x.now = now }

// Wait blocks until all dispatched gateway work has finished.
func (x *Executor) Wait() { x.wg.Wait() }

// Dispatch carries one violation out without blocking the caller for
// gateway work. State transitions and alerts apply synchronously, so
// the very next event is gated by them; gateway commands run on their
// own goroutine, bounded to one in flight per guard key, so a slow
// broker never stalls evaluation of unrelated events.
func (x *Executor) Dispatch(ctx context.Context, accountID string, v domain.Violation) error {
	switch v.Action.Kind {
	case domain.ActionAlert, domain.ActionSetCooldown, domain.ActionSetHardLockout:
		return x.Execute(ctx, accountID, v)
	}

	key := v.Key(accountID)
	if !x.guard.TryAcquire(key) {
		x.log.Debug("enforcement suppressed", "account", accountID,
			"rule", v.RuleName, "action", string(v.Action.Kind))
		return ErrSuppressed
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		defer x.guard.Release(key, v.Action.Kind)
		x.finish(accountID, v, x.run(ctx, accountID, v))
	}()
	return nil
}

// Execute carries one violation out synchronously. Duplicate
// interventions return ErrSuppressed without touching the gateway.
func (x *Executor) Execute(ctx context.Context, accountID string, v domain.Violation) error {
	key := v.Key(accountID)
	if !x.guard.TryAcquire(key) {
		x.log.Debug("enforcement suppressed", "account", accountID,
			"rule", v.RuleName, "action", string(v.Action.Kind))
		return ErrSuppressed
	}
	defer x.guard.Release(key, v.Action.Kind)

	err := x.run(ctx, accountID, v)
	x.finish(accountID, v, err)
	return err
}

// finish logs the outcome and writes the audit row. The row carries
// the violation's numeric evidence as JSON.
func (x *Executor) finish(accountID string, v domain.Violation, err error) {
	status := "ok"
	detail := v.Message
	if err != nil {
		status = "failed"
		detail = v.Message + ": " + err.Error()
		x.log.Error("enforcement failed", "account", accountID,
			"rule", v.RuleName, "action", string(v.Action.Kind), "err", err)
	} else {
		x.log.Warn("enforcement executed", "account", accountID,
			"rule", v.RuleName, "action", string(v.Action.Kind),
			"target", v.Action.ContractID)
	}
	if len(v.Evidence) > 0 {
		if ej, jerr := json.Marshal(v.Evidence); jerr == nil {
			detail += " " + string(ej)
		}
	}

	metrics.EnforcementActions.WithLabelValues(string(v.Action.Kind), status).Inc()
	rec := store.EnforcementRecord{
		ID:        id.New(),
		Time:      x.now(),
		AccountID: accountID,
		Rule:      v.RuleName,
		Action:    string(v.Action.Kind),
		Target:    v.Action.ContractID,
		Status:    status,
		Detail:    detail,
	}
	if aerr := x.audit.RecordEnforcement(rec); aerr != nil {
		x.log.Error("audit write failed", "account", accountID, "err", aerr)
	}
}

func (x *Executor) run(ctx context.Context, accountID string, v domain.Violation) error {
	a := v.Action
	switch a.Kind {
	case domain.ActionAlert:
		return nil

	case domain.ActionClosePosition:
		if a.ContractID == "" {
			return errors.New("close_position without contract")
		}
		return x.withRetry(ctx, func(ctx context.Context) error {
			return x.gw.ClosePosition(ctx, a.ContractID)
		})

	case domain.ActionReduceToLimit:
		if a.ContractID == "" {
			return errors.New("reduce_to_limit without contract")
		}
		return x.withRetry(ctx, func(ctx context.Context) error {
			return x.gw.ReducePosition(ctx, a.ContractID, a.TargetSize)
		})

	case domain.ActionCancelOrders:
		return x.withRetry(ctx, func(ctx context.Context) error {
			return x.gw.CancelAllOrders(ctx, a.ContractID)
		})

	case domain.ActionFlatten:
		return x.flatten(ctx, accountID)

	case domain.ActionSetCooldown:
		return x.lockouts.SetCooldown(accountID, a.Duration, v.Message)

	case domain.ActionSetHardLockout:
		return x.lockouts.SetHardLockout(accountID, v.Message, a.Until)

	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// flatten cancels every working order first so no resting order can
// refill the book, then closes each open position. Partial failure
// returns the first error after attempting every position.
func (x *Executor) flatten(ctx context.Context, accountID string) error {
	err := x.withRetry(ctx, func(ctx context.Context) error {
		return x.gw.CancelAllOrders(ctx, "")
	})

	var positions []domain.Position
	if x.positions != nil {
		positions = x.positions(accountID)
	}
	for _, p := range positions {
		contractID := p.ContractID
		cerr := x.withRetry(ctx, func(ctx context.Context) error {
			return x.gw.ClosePosition(ctx, contractID)
		})
		if cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// withRetry runs one gateway call under the timeout, retrying once.
func (x *Executor) withRetry(ctx context.Context, call func(context.Context) error) error {
	err := x.timed(ctx, call)
	if err == nil || ctx.Err() != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(x.RetryDelay):
	}
	if rerr := x.timed(ctx, call); rerr != nil {
		return fmt.Errorf("after retry: %w", rerr)
	}
	return nil
}

func (x *Executor) timed(ctx context.Context, call func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, x.Timeout)
	defer cancel()
	return call(cctx)
}
