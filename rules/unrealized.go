package rules

import (
	"fmt"

	"github.com/Jakers471/risk-manager/domain"
)

// MaxUnrealizedLoss closes a position whose floating loss reaches the
// limit. Composite-aware: when coupled to the daily realized-loss rule
// the limit tightens as the day's realized budget is spent, so the close
// lands before the realized limit would be breached. The boundary uses
// <=, the same operator as the realized rule, so a touch of the
// effective limit is the trigger, not a near-miss.
type MaxUnrealizedLoss struct {
	Limit float64 // negative
}

func (r *MaxUnrealizedLoss) Name() string              { return "max_unrealized_loss" }
func (r *MaxUnrealizedLoss) Category() domain.Category { return domain.TradeByTrade }

func (r *MaxUnrealizedLoss) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.QuoteUpdate, domain.PositionUpdated)
}

func (r *MaxUnrealizedLoss) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	return evalUnrealized(ev, rc, r.Name(), r.Category(), r.Limit, false)
}

// MaxUnrealizedProfit banks a position whose floating profit reaches
// the target. Composite-aware against the daily profit target.
type MaxUnrealizedProfit struct {
	Limit float64 // positive
}

func (r *MaxUnrealizedProfit) Name() string              { return "max_unrealized_profit" }
func (r *MaxUnrealizedProfit) Category() domain.Category { return domain.TradeByTrade }

func (r *MaxUnrealizedProfit) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.QuoteUpdate, domain.PositionUpdated)
}

func (r *MaxUnrealizedProfit) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	return evalUnrealized(ev, rc, r.Name(), r.Category(), r.Limit, true)
}

func evalUnrealized(ev domain.Event, rc *Context, name string, cat domain.Category,
	static float64, profit bool) (*domain.Violation, error) {

	limit := rc.EffectiveLimit(name, static)

	for _, p := range rc.Positions {
		if ev.Symbol != "" && p.Symbol != ev.Symbol {
			continue
		}
		inst, ok := rc.Instrument(p.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, p.Symbol)
		}
		quote, ok := rc.Quote(ev, p.Symbol)
		if !ok {
			continue // no price yet for this symbol
		}

		upl := p.UnrealizedPnL(quote, inst)
		breached := false
		if profit {
			breached = upl >= limit
		} else {
			breached = upl <= limit
		}
		if !breached {
			continue
		}

		word := "loss"
		if profit {
			word = "profit"
		}
		return &domain.Violation{
			RuleName: name,
			Category: cat,
			Severity: domain.SeverityCritical,
			Message: fmt.Sprintf("%s unrealized %s %.2f reached limit %.2f",
				p.Symbol, word, upl, limit),
			Action: domain.Action{
				Kind:       domain.ActionClosePosition,
				ContractID: p.ContractID,
			},
			Evidence: map[string]float64{
				"current":         upl,
				"limit":           static,
				"effective_limit": limit,
			},
		}, nil
	}
	return nil, nil
}
