package domain

// Instrument carries the tick economics needed to convert a price move
// into account currency for a futures contract.
type Instrument struct {
	Symbol    string
	TickSize  float64 // minimum price increment
	TickValue float64 // account-currency value of one tick per contract
}

// Instruments is the default contract table. Config may extend or
// override it; a symbol missing from the table is an unknown instrument
// and the affected rule skips the event rather than valuing it at zero.
var Instruments = map[string]Instrument{
	"ES": {
		Symbol:    "ES",
		TickSize:  0.25,
		TickValue: 12.50,
	},
	"NQ": {
		Symbol:    "NQ",
		TickSize:  0.25,
		TickValue: 5.00,
	},
	"MES": {
		Symbol:    "MES",
		TickSize:  0.25,
		TickValue: 1.25,
	},
	"MNQ": {
		Symbol:    "MNQ",
		TickSize:  0.25,
		TickValue: 0.50,
	},
	"CL": {
		Symbol:    "CL",
		TickSize:  0.01,
		TickValue: 10.00,
	},
	"GC": {
		Symbol:    "GC",
		TickSize:  0.10,
		TickValue: 10.00,
	},
}
