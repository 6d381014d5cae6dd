package rules

import (
	"fmt"

	"github.com/Jakers471/risk-manager/domain"
)

// DailyRealizedLoss freezes the day once realized P&L reaches the loss
// limit. The accumulator is updated by the orchestrator before rules
// run, so the closing trade that crosses the line is the event that
// triggers.
type DailyRealizedLoss struct {
	Limit float64 // negative
}

func (r *DailyRealizedLoss) Name() string              { return "daily_realized_loss" }
func (r *DailyRealizedLoss) Category() domain.Category { return domain.HardLockout }

func (r *DailyRealizedLoss) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionClosed, domain.TradeExecuted, domain.AccountUpdate)
}

func (r *DailyRealizedLoss) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if rc.Account == nil {
		return nil, ErrMissingFields
	}
	realized := rc.Account.RealizedPnL
	if realized > r.Limit {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("daily realized P&L %.2f breached loss limit %.2f",
			realized, r.Limit),
		Action: domain.Action{Kind: domain.ActionSetHardLockout}, // until reset
		Evidence: map[string]float64{
			"current": realized,
			"limit":   r.Limit,
		},
	}, nil
}

// DailyProfitTarget freezes the day once realized P&L reaches the
// target, locking the gains in.
type DailyProfitTarget struct {
	Target float64 // positive
}

func (r *DailyProfitTarget) Name() string              { return "daily_profit_target" }
func (r *DailyProfitTarget) Category() domain.Category { return domain.HardLockout }

func (r *DailyProfitTarget) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionClosed, domain.TradeExecuted, domain.AccountUpdate)
}

func (r *DailyProfitTarget) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if rc.Account == nil {
		return nil, ErrMissingFields
	}
	realized := rc.Account.RealizedPnL
	if realized < r.Target {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("daily realized P&L %.2f reached profit target %.2f",
			realized, r.Target),
		Action: domain.Action{Kind: domain.ActionSetHardLockout},
		Evidence: map[string]float64{
			"current": realized,
			"limit":   r.Target,
		},
	}, nil
}

// MaxDrawdown freezes the account when equity falls a configured amount
// below the session peak.
type MaxDrawdown struct {
	Limit float64 // positive drawdown amount
}

func (r *MaxDrawdown) Name() string              { return "max_drawdown" }
func (r *MaxDrawdown) Category() domain.Category { return domain.HardLockout }

func (r *MaxDrawdown) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.AccountUpdate, domain.PositionClosed)
}

func (r *MaxDrawdown) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if rc.Account == nil || rc.Account.PeakEquity == 0 {
		return nil, ErrMissingFields
	}
	dd := rc.Account.PeakEquity - rc.Account.Equity
	if dd < r.Limit {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("drawdown %.2f from peak %.2f reached limit %.2f",
			dd, rc.Account.PeakEquity, r.Limit),
		Action: domain.Action{Kind: domain.ActionSetHardLockout},
		Evidence: map[string]float64{
			"current": dd,
			"limit":   r.Limit,
			"peak":    rc.Account.PeakEquity,
		},
	}, nil
}
