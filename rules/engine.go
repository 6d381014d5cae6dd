package rules

import (
	"fmt"
	"log/slog"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/metrics"
)

// LockoutReader is the gate's view of the lockout manager.
type LockoutReader interface {
	Status(accountID string) domain.LockoutState
}

// Engine evaluates the ordered rule set against incoming events, subject
// to the lockout priority gate.
type Engine struct {
	rules    []Rule
	lockouts LockoutReader
	disabled map[string]bool
	log      *slog.Logger
}

// NewEngine builds the engine with rules in their configured order; that
// order is the evaluation order on every event.
func NewEngine(lockouts LockoutReader, log *slog.Logger, ruleSet ...Rule) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		rules:    ruleSet,
		lockouts: lockouts,
		disabled: make(map[string]bool),
		log:      log.With("component", "rules"),
	}
}

// SetEnabled toggles a rule at runtime without rebuilding the engine.
func (e *Engine) SetEnabled(name string, enabled bool) {
	e.disabled[name] = !enabled
}

// Evaluate runs one event through the gate and the rule set.
//
// Hard lockout: no rule runs; any event implying a position draws an
// unconditional Flatten. This is the kill switch and it re-enforces
// itself against every new piece of position state.
//
// Cooldown: order-initiating events draw a CancelOrders enforcement;
// TradeByTrade rules (managing exposure already on the books) and
// HardLockout rules keep evaluating, so a hard breach escalates straight
// through the cooldown. Only SoftLockout rules pause; a cooldown blocks
// new risk, not risk already taken.
//
// Unlocked: every enabled matching rule evaluates in order. A rule that
// errors skips this event; a rule that panics is contained and logged.
// The first hard-lockout violation short-circuits the rest of the pass.
func (e *Engine) Evaluate(ev domain.Event, rc *Context) []domain.Violation {
	st := e.lockouts.Status(ev.AccountID)

	switch st.Kind {
	case domain.Lockout:
		if !ev.ImpliesPosition() {
			return nil
		}
		return []domain.Violation{{
			RuleName: "lockout_enforcement",
			Category: domain.HardLockout,
			Severity: domain.SeverityCritical,
			Message:  "position activity while hard locked: " + st.Reason,
			Action:   domain.Action{Kind: domain.ActionFlatten},
			Evidence: map[string]float64{},
		}}
	case domain.Cooldown:
		if ev.OrderInitiating() {
			return []domain.Violation{{
				RuleName: "cooldown_enforcement",
				Category: domain.SoftLockout,
				Severity: domain.SeverityWarning,
				Message:  "order activity while cooling down: " + st.Reason,
				Action:   domain.Action{Kind: domain.ActionCancelOrders},
				Evidence: map[string]float64{},
			}}
		}
	}

	var out []domain.Violation
	for _, r := range e.rules {
		if e.disabled[r.Name()] {
			continue
		}
		if st.Kind == domain.Cooldown && r.Category() == domain.SoftLockout {
			continue
		}
		if !r.Matches(ev.Kind) {
			continue
		}

		v, err := e.safeEvaluate(r, ev, rc)
		if err != nil {
			metrics.RuleErrors.WithLabelValues(r.Name()).Inc()
			e.log.Warn("rule skipped", "rule", r.Name(), "event", string(ev.Kind), "err", err)
			continue
		}
		if v == nil {
			continue
		}

		metrics.Violations.WithLabelValues(v.RuleName).Inc()
		out = append(out, *v)
		if v.Category == domain.HardLockout {
			// The hard lockout is the answer for this tick; nothing a
			// softer rule could add matters now.
			break
		}
	}
	return out
}

// safeEvaluate contains rule panics: a broken rule loses one tick, never
// the event loop.
func (e *Engine) safeEvaluate(r Rule, ev domain.Event, rc *Context) (v *domain.Violation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = fmt.Errorf("rule internal error: %v", rec)
		}
	}()
	return r.Evaluate(ev, rc)
}
