// Package replay feeds recorded event logs through the engine, for
// dry-running a rule configuration against a real trading day.
package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Jakers471/risk-manager/domain"
)

var validKinds = map[domain.EventKind]bool{
	domain.PositionOpened:   true,
	domain.PositionUpdated:  true,
	domain.PositionClosed:   true,
	domain.OrderPlaced:      true,
	domain.OrderFilled:      true,
	domain.OrderPartialFill: true,
	domain.OrderCancelled:   true,
	domain.OrderModified:    true,
	domain.OrderRejected:    true,
	domain.TradeExecuted:    true,
	domain.QuoteUpdate:      true,
	domain.AccountUpdate:    true,
}

// Feed reads normalized events from a CSV log.
//
// Expected columns:
// time,kind,account,contract,symbol,order_id,price,size,stop_price,limit_price,realized_pnl,equity
// A header row is allowed; trailing columns may be omitted.
type Feed struct {
	f    *os.File
	r    *csv.Reader
	from time.Time
	to   time.Time

	sawFirst bool
}

func NewFeed(path string, from, to time.Time) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return &Feed{f: f, r: r, from: from, to: to}, nil
}

func (f *Feed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

// Next returns the next in-range event. ok is false at EOF.
func (f *Feed) Next() (domain.Event, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return domain.Event{}, false, nil
		}
		if err != nil {
			return domain.Event{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		if len(row) < 3 {
			continue
		}

		ev, ok, err := parseRow(row)
		if err != nil {
			return domain.Event{}, false, err
		}
		if !ok || !inRange(ev.Time, f.from, f.to) {
			continue
		}
		return ev, true, nil
	}
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func parseRow(row []string) (domain.Event, bool, error) {
	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return domain.Event{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return domain.Event{}, false, fmt.Errorf("bad time %q: %w", ts, err)
		}
		t = t2
	}

	kind := domain.EventKind(strings.TrimSpace(row[1]))
	if !validKinds[kind] {
		return domain.Event{}, false, fmt.Errorf("unknown event kind %q", row[1])
	}

	ev := domain.Event{
		Kind:      kind,
		Time:      t,
		AccountID: strings.TrimSpace(row[2]),
	}
	if ev.AccountID == "" {
		return domain.Event{}, false, nil
	}

	fieldAt := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	floatAt := func(i int, name string) (float64, error) {
		s := fieldAt(i)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", name, s, err)
		}
		return v, nil
	}

	ev.ContractID = fieldAt(3)
	ev.Symbol = fieldAt(4)
	ev.OrderID = fieldAt(5)
	if ev.Price, err = floatAt(6, "price"); err != nil {
		return domain.Event{}, false, err
	}
	if ev.Size, err = floatAt(7, "size"); err != nil {
		return domain.Event{}, false, err
	}
	if ev.StopPrice, err = floatAt(8, "stop_price"); err != nil {
		return domain.Event{}, false, err
	}
	if ev.LimitPrice, err = floatAt(9, "limit_price"); err != nil {
		return domain.Event{}, false, err
	}
	if ev.RealizedPnL, err = floatAt(10, "realized_pnl"); err != nil {
		return domain.Event{}, false, err
	}
	if ev.Equity, err = floatAt(11, "equity"); err != nil {
		return domain.Event{}, false, err
	}
	if len(row) > 12 {
		return domain.Event{}, false, fmt.Errorf("too many columns (expected <=12): %v", row)
	}
	return ev, true, nil
}
