package rules

import (
	"fmt"

	"github.com/Jakers471/risk-manager/domain"
)

// MaxContracts caps total open contracts across the account. A breach
// reduces the largest position until the account is back at the cap.
type MaxContracts struct {
	Limit float64
}

func (r *MaxContracts) Name() string              { return "max_contracts" }
func (r *MaxContracts) Category() domain.Category { return domain.TradeByTrade }

func (r *MaxContracts) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionOpened, domain.PositionUpdated, domain.OrderFilled)
}

func (r *MaxContracts) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	total := 0.0
	var largest *domain.Position
	for _, p := range rc.Positions {
		total += abs(p.Size)
		if largest == nil || abs(p.Size) > abs(largest.Size) {
			largest = p
		}
	}
	if largest == nil || total <= r.Limit {
		return nil, nil
	}

	excess := total - r.Limit
	target := abs(largest.Size) - excess
	if target < 0 {
		target = 0
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("open contracts %.0f exceeds max %.0f", total, r.Limit),
		Action: domain.Action{
			Kind:       domain.ActionReduceToLimit,
			ContractID: largest.ContractID,
			TargetSize: target,
		},
		Evidence: map[string]float64{"current": total, "limit": r.Limit},
	}, nil
}

// MaxContractsPerInstrument caps the position size on any single
// contract.
type MaxContractsPerInstrument struct {
	Limit float64
}

func (r *MaxContractsPerInstrument) Name() string              { return "max_contracts_per_instrument" }
func (r *MaxContractsPerInstrument) Category() domain.Category { return domain.TradeByTrade }

func (r *MaxContractsPerInstrument) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.PositionOpened, domain.PositionUpdated, domain.OrderFilled)
}

func (r *MaxContractsPerInstrument) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.ContractID == "" {
		return nil, ErrMissingFields
	}
	p, ok := rc.Positions[ev.ContractID]
	if !ok || abs(p.Size) <= r.Limit {
		return nil, nil
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("%s position %.0f exceeds per-instrument max %.0f",
			p.Symbol, abs(p.Size), r.Limit),
		Action: domain.Action{
			Kind:       domain.ActionReduceToLimit,
			ContractID: p.ContractID,
			TargetSize: r.Limit,
		},
		Evidence: map[string]float64{"current": abs(p.Size), "limit": r.Limit},
	}, nil
}
