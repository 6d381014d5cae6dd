// Package rules holds the rule set and the evaluation engine with its
// lockout priority gate.
package rules

import (
	"context"
	"errors"
	"time"

	"github.com/Jakers471/risk-manager/budget"
	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/orders"
)

var (
	// ErrMissingFields means the event lacks data the rule needs; the
	// rule skips this event.
	ErrMissingFields = errors.New("event missing required fields")

	// ErrUnknownInstrument means no tick economics are known for the
	// event's symbol. The rule skips rather than valuing the move at
	// zero.
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// Rule is one risk check. Implementations are immutable after
// construction apart from the Enabled flag and any rolling evaluation
// state; evaluation happens on the single engine loop.
type Rule interface {
	Name() string
	Category() domain.Category
	// Matches filters by event kind before Evaluate is called.
	Matches(kind domain.EventKind) bool
	// Evaluate returns a violation, nil for no breach, or an error when
	// the rule must skip this event.
	Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error)
}

// Context is the read surface rules evaluate against, assembled by the
// orchestrator per event.
type Context struct {
	Ctx context.Context
	Now time.Time

	Account   *domain.AccountState
	Positions map[string]*domain.Position // by contract id
	Quotes    map[string]float64          // last price by symbol

	Instruments map[string]domain.Instrument
	Protective  *orders.ProtectiveCache
	Fills       *orders.Correlator
	Budget      *budget.Tracker
}

// Instrument resolves tick economics for a symbol.
func (rc *Context) Instrument(symbol string) (domain.Instrument, bool) {
	if rc.Instruments != nil {
		if inst, ok := rc.Instruments[symbol]; ok {
			return inst, true
		}
	}
	inst, ok := domain.Instruments[symbol]
	return inst, ok
}

// EffectiveLimit returns the composite-aware limit for a rule, or the
// static fallback when no tracker is wired.
func (rc *Context) EffectiveLimit(rule string, static float64) float64 {
	if rc.Budget == nil {
		return static
	}
	return rc.Budget.EffectiveLimit(rule, rc.Account.AccountID, static)
}

// Quote returns the freshest price for a symbol, preferring the event's
// own price when it carries one.
func (rc *Context) Quote(ev domain.Event, symbol string) (float64, bool) {
	if ev.Kind == domain.QuoteUpdate && ev.Symbol == symbol && ev.Price != 0 {
		return ev.Price, true
	}
	q, ok := rc.Quotes[symbol]
	return q, ok && q != 0
}

func matchKinds(kind domain.EventKind, kinds ...domain.EventKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
