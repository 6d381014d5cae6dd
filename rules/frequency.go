package rules

import (
	"fmt"
	"time"

	"github.com/Jakers471/risk-manager/domain"
)

// TradeFrequency limits fills per rolling window; one more trade than
// the cap draws a cooldown. Rolling state lives in the rule and is only
// touched from the engine loop.
type TradeFrequency struct {
	MaxTrades int
	Window    time.Duration
	Cooldown  time.Duration

	fills []time.Time
}

func (r *TradeFrequency) Name() string              { return "trade_frequency" }
func (r *TradeFrequency) Category() domain.Category { return domain.SoftLockout }

func (r *TradeFrequency) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.OrderFilled, domain.TradeExecuted)
}

func (r *TradeFrequency) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.Time.IsZero() {
		return nil, ErrMissingFields
	}

	cutoff := ev.Time.Add(-r.Window)
	kept := r.fills[:0]
	for _, t := range r.fills {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.fills = append(kept, ev.Time)

	if len(r.fills) <= r.MaxTrades {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityWarning,
		Message: fmt.Sprintf("%d trades inside %s exceeds max %d",
			len(r.fills), r.Window, r.MaxTrades),
		Action: domain.Action{
			Kind:     domain.ActionSetCooldown,
			Duration: r.Cooldown,
		},
		Evidence: map[string]float64{
			"current": float64(len(r.fills)),
			"limit":   float64(r.MaxTrades),
		},
	}, nil
}

// ConsecutiveLosses cools the account down after a losing streak. The
// close reason from the fill correlator distinguishes stop-outs from
// manual exits in the audit evidence.
type ConsecutiveLosses struct {
	MaxLosses int
	Cooldown  time.Duration

	streak int
}

func (r *ConsecutiveLosses) Name() string              { return "consecutive_losses" }
func (r *ConsecutiveLosses) Category() domain.Category { return domain.SoftLockout }

func (r *ConsecutiveLosses) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionClosed)
}

func (r *ConsecutiveLosses) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.RealizedPnL >= 0 {
		r.streak = 0
		return nil, nil
	}
	r.streak++

	stopOut := 0.0
	if rc.Fills != nil {
		if ft, ok := rc.Fills.ConsumeFillType(ev.ContractID, rc.Now); ok && ft == domain.FillStop {
			stopOut = 1
		}
	}

	if r.streak < r.MaxLosses {
		return nil, nil
	}
	streak := r.streak
	r.streak = 0 // cooldown resets the streak

	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%d consecutive losing trades", streak),
		Action: domain.Action{
			Kind:     domain.ActionSetCooldown,
			Duration: r.Cooldown,
		},
		Evidence: map[string]float64{
			"current":  float64(streak),
			"limit":    float64(r.MaxLosses),
			"stop_out": stopOut,
		},
	}, nil
}

// CooldownAfterLoss pauses the account after any single realized loss at
// or beyond the threshold.
type CooldownAfterLoss struct {
	Threshold float64 // positive magnitude
	Cooldown  time.Duration
}

func (r *CooldownAfterLoss) Name() string              { return "cooldown_after_loss" }
func (r *CooldownAfterLoss) Category() domain.Category { return domain.SoftLockout }

func (r *CooldownAfterLoss) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionClosed)
}

func (r *CooldownAfterLoss) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.RealizedPnL > -r.Threshold {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityWarning,
		Message: fmt.Sprintf("single trade loss %.2f at or beyond %.2f",
			ev.RealizedPnL, -r.Threshold),
		Action: domain.Action{
			Kind:     domain.ActionSetCooldown,
			Duration: r.Cooldown,
		},
		Evidence: map[string]float64{
			"current": ev.RealizedPnL,
			"limit":   -r.Threshold,
		},
	}, nil
}
