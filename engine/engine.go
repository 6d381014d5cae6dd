// Package engine is the orchestrator: it owns the per-account state
// book, feeds every normalized event through the rule engine, and hands
// violations to the enforcement executor. State mutation happens before
// rule evaluation, so the event that crosses a limit is the event that
// triggers it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jakers471/risk-manager/budget"
	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/enforce"
	"github.com/Jakers471/risk-manager/gateway"
	"github.com/Jakers471/risk-manager/lockout"
	"github.com/Jakers471/risk-manager/metrics"
	"github.com/Jakers471/risk-manager/orders"
	"github.com/Jakers471/risk-manager/rules"
	"github.com/Jakers471/risk-manager/schedule"
	"github.com/Jakers471/risk-manager/store"
	"github.com/Jakers471/risk-manager/timer"
)

const dateKey = "2006-01-02"

// Store is the engine's durable surface: the daily accumulator and the
// enforcement audit log. Lockout persistence goes through the lockout
// manager's own store.
type Store interface {
	SaveDay(d store.DayState) error
	Day(accountID string) (store.DayState, bool, error)
	RecordEnforcement(r store.EnforcementRecord) error
}

// Options wires the engine together.
type Options struct {
	Store     Store
	Gateway   gateway.Gateway
	Lockouts  *lockout.Manager
	Timers    *timer.Manager
	Scheduler *schedule.Scheduler

	// Rules in evaluation order.
	Rules []rules.Rule

	// GuardCooldowns overrides the duplicate-suppression window per
	// action kind.
	GuardCooldowns map[domain.ActionKind]time.Duration

	// Instruments overrides the built-in tick economics table.
	Instruments map[string]domain.Instrument

	// ResetAt/ResetTZ place the trading-day boundary ("17:00",
	// "America/Chicago"). The persisted day key derives from it, so an
	// accumulator saved before a boundary is discarded after a restart
	// that crosses it.
	ResetAt string
	ResetTZ string

	Log *slog.Logger
}

// book is the mutable per-account state the rules read.
type book struct {
	account   *domain.AccountState
	positions map[string]*domain.Position
	quotes    map[string]float64
}

// Engine drives one event at a time through state upkeep, the rule
// gate, and enforcement.
type Engine struct {
	mu    sync.Mutex
	books map[string]*book

	store      Store
	gw         gateway.Gateway
	lockouts   *lockout.Manager
	timers     *timer.Manager
	scheduler  *schedule.Scheduler
	rules      *rules.Engine
	exec       *enforce.Executor
	guard      *enforce.Guard
	protective *orders.ProtectiveCache
	fills      *orders.Correlator
	budgets    *budget.Tracker

	instruments map[string]domain.Instrument
	resetLoc    *time.Location
	resetHH     int
	resetMM     int

	log *slog.Logger
	now func() time.Time
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Gateway == nil || opts.Lockouts == nil {
		return nil, errors.New("engine: store, gateway and lockouts are required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	loc, err := time.LoadLocation(opts.ResetTZ)
	if err != nil {
		return nil, fmt.Errorf("engine: bad reset timezone %q: %w", opts.ResetTZ, err)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(opts.ResetAt, "%d:%d", &hh, &mm); err != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return nil, fmt.Errorf("engine: bad reset time %q, want HH:MM", opts.ResetAt)
	}

	e := &Engine{
		books:       make(map[string]*book),
		store:       opts.Store,
		gw:          opts.Gateway,
		lockouts:    opts.Lockouts,
		timers:      opts.Timers,
		scheduler:   opts.Scheduler,
		instruments: opts.Instruments,
		resetLoc:    loc,
		resetHH:     hh,
		resetMM:     mm,
		log:         log.With("component", "engine"),
		now:         time.Now,
	}

	e.protective = orders.NewProtectiveCache()
	e.protective.Fallback = opts.Gateway.OpenOrders
	e.fills = orders.NewCorrelator(orders.DefaultFillTTL)
	e.budgets = budget.NewTracker(e)
	e.guard = enforce.NewGuard(opts.GuardCooldowns)
	e.exec = enforce.NewExecutor(opts.Gateway, opts.Lockouts, e.guard,
		opts.Store, e.Positions, log)
	e.rules = rules.NewEngine(opts.Lockouts, log, opts.Rules...)
	return e, nil
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Budget exposes the composite-limit tracker for configuration.
func (e *Engine) Budget() *budget.Tracker { return e.budgets }

// Rules exposes the rule engine for runtime enable/disable.
func (e *Engine) Rules() *rules.Engine { return e.rules }

// Executor exposes the enforcement executor for timeout tuning.
func (e *Engine) Executor() *enforce.Executor { return e.exec }

// Close waits out in-flight enforcement and stops the order caches.
func (e *Engine) Close() {
	e.exec.Wait()
	e.protective.Close()
	e.fills.Close()
}

// RealizedPnL implements budget.RealizedSource against the live book.
func (e *Engine) RealizedPnL(accountID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[accountID]
	if !ok {
		return 0
	}
	return b.account.RealizedPnL
}

// Positions lists the account's open positions (the Flatten source).
func (e *Engine) Positions(accountID string) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[accountID]
	if !ok {
		return nil
	}
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// Account returns a snapshot of the account state.
func (e *Engine) Account(accountID string) domain.AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[accountID]
	if !ok {
		return domain.AccountState{AccountID: accountID}
	}
	return *b.account
}

func (e *Engine) bookFor(accountID string) *book {
	b, ok := e.books[accountID]
	if !ok {
		b = &book{
			account:   &domain.AccountState{AccountID: accountID},
			positions: make(map[string]*domain.Position),
			quotes:    make(map[string]float64),
		}
		e.books[accountID] = b
	}
	return b
}

// dayKey returns the trading-day identity of an instant: the calendar
// date of the most recent reset boundary at or before it.
func (e *Engine) dayKey(at time.Time) string {
	local := at.In(e.resetLoc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(),
		e.resetHH, e.resetMM, 0, 0, e.resetLoc)
	if local.Before(boundary) {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(dateKey)
}

// Restore rebuilds the account's state after a restart: persisted
// lockouts come back (lapsed ones dropped), and the daily accumulator
// survives only when no reset boundary passed while the process was
// down.
func (e *Engine) Restore(accountID string) error {
	if err := e.lockouts.Restore(accountID); err != nil {
		return err
	}

	day, ok, err := e.store.Day(accountID)
	if err != nil {
		return fmt.Errorf("restore day state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.bookFor(accountID)
	if !ok {
		return nil
	}

	today := e.dayKey(e.now())
	if day.Day != today {
		e.log.Info("trading day rolled over while down",
			"account", accountID, "was", day.Day, "now", today)
		return e.persistDayLocked(accountID, b)
	}

	b.account.RealizedPnL = day.RealizedPnL
	b.account.TradeCount = day.TradeCount
	b.account.PeakEquity = day.PeakEquity
	e.log.Info("restored day state", "account", accountID,
		"realized", day.RealizedPnL, "trades", day.TradeCount)
	return nil
}

// AddSchedule registers a reset boundary. Daily boundaries clear all
// lockouts and zero the accumulator; session starts rebase the equity
// high-water mark without touching the day's P&L.
func (e *Engine) AddSchedule(sched schedule.Schedule) error {
	if e.scheduler == nil {
		return errors.New("engine: no scheduler wired")
	}
	return e.scheduler.Add(sched, func(name string, boundary time.Time) {
		e.mu.Lock()
		accounts := make([]string, 0, len(e.books))
		for id := range e.books {
			accounts = append(accounts, id)
		}
		e.mu.Unlock()

		for _, accountID := range accounts {
			switch sched.Kind {
			case schedule.Daily:
				e.resetDay(accountID, boundary)
			case schedule.SessionStart:
				e.rebasePeak(accountID)
			}
		}
	})
}

// resetDay is the scheduled daily reset: lockouts lift, the realized
// accumulator zeroes, and the new day is persisted immediately.
func (e *Engine) resetDay(accountID string, boundary time.Time) {
	e.lockouts.ClearOnReset(accountID)

	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.bookFor(accountID)
	b.account.RealizedPnL = 0
	b.account.TradeCount = 0
	b.account.PeakEquity = b.account.Equity
	b.account.LastReset = boundary

	if err := e.persistDayLocked(accountID, b); err != nil {
		e.log.Error("persist daily reset", "account", accountID, "err", err)
	}
	e.log.Info("daily reset", "account", accountID, "boundary", boundary)
}

func (e *Engine) rebasePeak(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.bookFor(accountID)
	b.account.PeakEquity = b.account.Equity
	if err := e.persistDayLocked(accountID, b); err != nil {
		e.log.Error("persist session rebase", "account", accountID, "err", err)
	}
	e.log.Info("session peak rebased", "account", accountID)
}

func (e *Engine) persistDayLocked(accountID string, b *book) error {
	return e.store.SaveDay(store.DayState{
		AccountID:   accountID,
		Day:         e.dayKey(e.now()),
		RealizedPnL: b.account.RealizedPnL,
		TradeCount:  b.account.TradeCount,
		PeakEquity:  b.account.PeakEquity,
	})
}

// OnEvent runs one event through the pipeline: state upkeep first, then
// the gate and the rules, then enforcement of whatever came back.
// Enforcement errors are logged, audited and swallowed; the event loop
// never stops.
func (e *Engine) OnEvent(ctx context.Context, ev domain.Event) {
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()

	e.mu.Lock()
	b := e.bookFor(ev.AccountID)
	e.apply(ev, b)
	rc := &rules.Context{
		Ctx:         ctx,
		Now:         e.now(),
		Account:     b.account,
		Positions:   b.positions,
		Quotes:      b.quotes,
		Instruments: e.instruments,
		Protective:  e.protective,
		Fills:       e.fills,
		Budget:      e.budgets,
	}
	e.mu.Unlock()

	st := e.lockouts.Status(ev.AccountID)
	switch st.Kind {
	case domain.Lockout:
		metrics.LockoutState.Set(2)
	case domain.Cooldown:
		metrics.LockoutState.Set(1)
	default:
		metrics.LockoutState.Set(0)
	}

	// Gateway actions dispatch off-loop (one in flight per guard key),
	// so a slow broker never stalls the next event. State transitions
	// apply before Dispatch returns.
	for _, v := range e.rules.Evaluate(ev, rc) {
		err := e.exec.Dispatch(ctx, ev.AccountID, v)
		if err != nil && !errors.Is(err, enforce.ErrSuppressed) {
			e.log.Error("enforcement error", "account", ev.AccountID,
				"rule", v.RuleName, "err", err)
		}
	}
}

// apply folds one event into the book. Assumes e.mu is held.
func (e *Engine) apply(ev domain.Event, b *book) {
	switch ev.Kind {
	case domain.QuoteUpdate:
		if ev.Symbol != "" && ev.Price != 0 {
			b.quotes[ev.Symbol] = ev.Price
		}

	case domain.PositionOpened:
		b.positions[ev.ContractID] = &domain.Position{
			ContractID: ev.ContractID,
			Symbol:     ev.Symbol,
			Size:       ev.Size,
			AvgPrice:   ev.Price,
			OpenedAt:   ev.Time,
		}

	case domain.PositionUpdated:
		p, ok := b.positions[ev.ContractID]
		if !ok {
			// Book catch-up: the open happened before we connected.
			b.positions[ev.ContractID] = &domain.Position{
				ContractID: ev.ContractID,
				Symbol:     ev.Symbol,
				Size:       ev.Size,
				AvgPrice:   ev.Price,
				OpenedAt:   ev.Time,
			}
			return
		}
		p.Size = ev.Size
		if ev.Price != 0 {
			p.AvgPrice = ev.Price
		}
		if p.Size == 0 {
			delete(b.positions, ev.ContractID)
			e.protective.Drop(ev.ContractID)
		}

	case domain.PositionClosed:
		delete(b.positions, ev.ContractID)
		e.protective.Drop(ev.ContractID)
		e.accumulate(ev, b)

	case domain.TradeExecuted:
		// A close arrives as either PositionClosed or TradeExecuted,
		// never both, so accumulating on both kinds cannot double count.
		e.accumulate(ev, b)

	case domain.OrderPlaced:
		e.recordProtective(ev)

	case domain.OrderModified:
		e.protective.Invalidate(ev.ContractID, ev.OrderID)
		e.recordProtective(ev)

	case domain.OrderCancelled, domain.OrderRejected:
		e.protective.Invalidate(ev.ContractID, ev.OrderID)

	case domain.OrderFilled, domain.OrderPartialFill:
		e.fills.RecordFill(ev.ContractID, e.classifyFill(ev), ev.Price, ev.Time)
		if ev.Kind == domain.OrderFilled {
			e.protective.Invalidate(ev.ContractID, ev.OrderID)
		}

	case domain.AccountUpdate:
		b.account.Equity = ev.Equity
		if ev.Equity > b.account.PeakEquity {
			b.account.PeakEquity = ev.Equity
			if err := e.persistDayLocked(ev.AccountID, b); err != nil {
				e.log.Warn("persist peak equity", "account", ev.AccountID, "err", err)
			}
		}
	}
}

// accumulate books a realized trade into the daily accumulator and
// persists it before any rule sees the event.
func (e *Engine) accumulate(ev domain.Event, b *book) {
	b.account.RealizedPnL += ev.RealizedPnL
	b.account.TradeCount++
	if err := e.persistDayLocked(ev.AccountID, b); err != nil {
		e.log.Error("persist day state", "account", ev.AccountID, "err", err)
	}
}

func (e *Engine) recordProtective(ev domain.Event) {
	if ev.StopPrice == 0 && ev.LimitPrice == 0 {
		return
	}
	e.protective.Record(ev.ContractID, domain.OrderRef{
		OrderID:    ev.OrderID,
		ContractID: ev.ContractID,
		Symbol:     ev.Symbol,
		Size:       ev.Size,
		StopPrice:  ev.StopPrice,
		LimitPrice: ev.LimitPrice,
	})
}

// classifyFill names why the fill happened by matching the filled order
// against the cached protective orders for the contract. Cache-only:
// apply runs under e.mu, so the gateway fallback must never be consulted
// here.
func (e *Engine) classifyFill(ev domain.Event) domain.FillType {
	if ev.OrderID == "" {
		return domain.FillManual
	}
	if stop, ok := e.protective.CachedStop(ev.ContractID); ok && stop.OrderID == ev.OrderID {
		return domain.FillStop
	}
	if tp, ok := e.protective.CachedTakeProfit(ev.ContractID); ok && tp.OrderID == ev.OrderID {
		return domain.FillTarget
	}
	return domain.FillManual
}

// Run drives the background clocks: countdown expiry, schedule
// boundaries, and guard sweeping. Blocks until the context ends.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if e.timers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.timers.Run(ctx, time.Second)
		}()
	}
	if e.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.scheduler.Run(ctx, time.Second)
		}()
	}

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-sweep.C:
			e.guard.Sweep()
		}
	}
}
