package domain

import "time"

// Position is one open futures position. Size is signed: positive long,
// negative short. A position with size zero is flat and removed from the
// book.
type Position struct {
	ContractID string
	Symbol     string
	Size       float64
	AvgPrice   float64
	OpenedAt   time.Time
}

func (p Position) Long() bool  { return p.Size > 0 }
func (p Position) Short() bool { return p.Size < 0 }

// UnrealizedPnL values the position against the last quote using the
// instrument's tick economics, in account currency.
func (p Position) UnrealizedPnL(quote float64, inst Instrument) float64 {
	if quote == 0 || inst.TickSize == 0 {
		return 0
	}
	ticks := (quote - p.AvgPrice) / inst.TickSize
	return ticks * inst.TickValue * p.Size
}

// AccountState is the per-account mutable state the rules read: the daily
// realized P&L accumulator, session peak equity, and the current book.
type AccountState struct {
	AccountID   string
	RealizedPnL float64 // realized P&L since the last daily reset
	TradeCount  int     // closed trades since the last daily reset
	Equity      float64
	PeakEquity  float64 // session high-water mark, for drawdown
	LastReset   time.Time
}
