package domain

import "time"

// EventKind tags a normalized trading event.
type EventKind string

const (
	PositionOpened   EventKind = "position_opened"
	PositionUpdated  EventKind = "position_updated"
	PositionClosed   EventKind = "position_closed"
	OrderPlaced      EventKind = "order_placed"
	OrderFilled      EventKind = "order_filled"
	OrderPartialFill EventKind = "order_partial_fill"
	OrderCancelled   EventKind = "order_cancelled"
	OrderModified    EventKind = "order_modified"
	OrderRejected    EventKind = "order_rejected"
	TradeExecuted    EventKind = "trade_executed"
	QuoteUpdate      EventKind = "quote_update"
	AccountUpdate    EventKind = "account_update"
)

// Event is a single normalized event from the gateway feed. The set of
// kinds is closed; fields beyond Kind/AccountID/Time are populated per
// kind and zero otherwise.
type Event struct {
	Kind      EventKind
	AccountID string
	Time      time.Time

	ContractID string
	Symbol     string
	OrderID    string

	Price      float64
	Size       float64 // signed: positive long, negative short
	StopPrice  float64
	LimitPrice float64

	RealizedPnL float64 // PositionClosed / TradeExecuted
	Equity      float64 // AccountUpdate
}

// ImpliesPosition reports whether the event means a position exists or
// just changed. Hard-lockout continuous enforcement keys off this.
func (e Event) ImpliesPosition() bool {
	switch e.Kind {
	case PositionOpened, PositionUpdated, OrderFilled:
		return true
	}
	return false
}

// OrderInitiating reports whether the event represents new or grown
// exposure being requested (blocked while a cooldown is active).
func (e Event) OrderInitiating() bool {
	switch e.Kind {
	case OrderPlaced, OrderModified:
		return true
	}
	return false
}
