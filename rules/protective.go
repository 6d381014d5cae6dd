package rules

import (
	"fmt"
	"time"

	"github.com/Jakers471/risk-manager/domain"
)

// RequireStopLoss insists every open position carries a protective stop
// within a grace period of opening. The protective-order cache answers
// the coverage question, falling back to the gateway's open-order list
// for stops placed outside this system.
type RequireStopLoss struct {
	Grace time.Duration
}

func (r *RequireStopLoss) Name() string              { return "require_stop_loss" }
func (r *RequireStopLoss) Category() domain.Category { return domain.TradeByTrade }

func (r *RequireStopLoss) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionOpened, domain.PositionUpdated, domain.QuoteUpdate)
}

func (r *RequireStopLoss) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if rc.Protective == nil {
		return nil, ErrMissingFields
	}
	for _, p := range rc.Positions {
		if rc.Now.Sub(p.OpenedAt) < r.Grace {
			continue
		}
		if _, ok := rc.Protective.Stop(rc.Ctx, p.ContractID); ok {
			continue
		}
		return &domain.Violation{
			RuleName: r.Name(),
			Category: r.Category(),
			Severity: domain.SeverityCritical,
			Message: fmt.Sprintf("%s open %.0fs without a protective stop",
				p.Symbol, rc.Now.Sub(p.OpenedAt).Seconds()),
			Action: domain.Action{
				Kind:       domain.ActionClosePosition,
				ContractID: p.ContractID,
			},
			Evidence: map[string]float64{
				"open_seconds":  rc.Now.Sub(p.OpenedAt).Seconds(),
				"grace_seconds": r.Grace.Seconds(),
			},
		}, nil
	}
	return nil, nil
}
