package rules

import (
	"fmt"
	"time"

	"github.com/Jakers471/risk-manager/domain"
)

// TradingHours restricts activity to a session window (wall clock in a
// configured location). Orders arriving outside the window are
// cancelled; positions alive outside the window are closed when
// FlattenOutside is set.
type TradingHours struct {
	Open           time.Duration // offset from midnight, e.g. 8h30m
	Close          time.Duration
	Loc            *time.Location
	FlattenOutside bool
}

func (r *TradingHours) Name() string              { return "trading_hours" }
func (r *TradingHours) Category() domain.Category { return domain.TradeByTrade }

func (r *TradingHours) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.OrderPlaced, domain.PositionOpened, domain.PositionUpdated)
}

// inSession handles both day sessions (open < close) and overnight
// sessions that wrap midnight (open > close).
func (r *TradingHours) inSession(at time.Time) bool {
	local := at.In(r.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.Loc)
	offset := local.Sub(midnight)
	if r.Open <= r.Close {
		return offset >= r.Open && offset < r.Close
	}
	return offset >= r.Open || offset < r.Close
}

func (r *TradingHours) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.Time.IsZero() {
		return nil, ErrMissingFields
	}
	if r.inSession(ev.Time) {
		return nil, nil
	}

	action := domain.Action{Kind: domain.ActionCancelOrders}
	if ev.Kind != domain.OrderPlaced && r.FlattenOutside {
		action = domain.Action{Kind: domain.ActionClosePosition, ContractID: ev.ContractID}
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("activity at %s outside session window",
			ev.Time.In(r.Loc).Format("15:04:05")),
		Action:   action,
		Evidence: map[string]float64{},
	}, nil
}

// RestrictedSymbols blocks trading in configured symbols outright.
type RestrictedSymbols struct {
	Symbols map[string]bool
}

func (r *RestrictedSymbols) Name() string              { return "restricted_symbols" }
func (r *RestrictedSymbols) Category() domain.Category { return domain.TradeByTrade }

func (r *RestrictedSymbols) Matches(k domain.EventKind) bool {
	return matchKinds(k, domain.OrderPlaced, domain.PositionOpened, domain.PositionUpdated)
}

func (r *RestrictedSymbols) Evaluate(ev domain.Event, rc *Context) (*domain.Violation, error) {
	if ev.Symbol == "" {
		return nil, ErrMissingFields
	}
	if !r.Symbols[ev.Symbol] {
		return nil, nil
	}

	action := domain.Action{Kind: domain.ActionCancelOrders}
	if ev.Kind != domain.OrderPlaced {
		action = domain.Action{Kind: domain.ActionClosePosition, ContractID: ev.ContractID}
	}
	return &domain.Violation{
		RuleName: r.Name(),
		Category: r.Category(),
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("%s is a restricted symbol", ev.Symbol),
		Action:   action,
		Evidence: map[string]float64{},
	}, nil
}
