package orders

import (
	"time"

	"github.com/Jakers471/risk-manager/domain"
)

// DefaultFillTTL bounds how long a fill classification stays usable. The
// position-closed event follows its fill within a beat; anything older
// is a different story.
const DefaultFillTTL = 2 * time.Second

type fillEntry struct {
	fillType   domain.FillType
	fillPrice  float64
	recordedAt time.Time
}

// Correlator pairs an order fill with the position-closed event that
// follows it, so the close can be classified as stop-out, target hit, or
// manual. Entries expire after a short TTL and are consumed on read.
type Correlator struct {
	ttl  time.Duration
	cmds chan func(map[string]fillEntry)
	done chan struct{}
}

func NewCorrelator(ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultFillTTL
	}
	c := &Correlator{
		ttl:  ttl,
		cmds: make(chan func(map[string]fillEntry)),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Correlator) loop() {
	state := make(map[string]fillEntry)
	for cmd := range c.cmds {
		cmd(state)
	}
	close(c.done)
}

// Close stops the owner goroutine.
func (c *Correlator) Close() {
	close(c.cmds)
	<-c.done
}

func (c *Correlator) do(cmd func(map[string]fillEntry)) {
	ran := make(chan struct{})
	c.cmds <- func(state map[string]fillEntry) {
		cmd(state)
		close(ran)
	}
	<-ran
}

// RecordFill notes how a contract just filled. A later fill overwrites
// an earlier one; only the most recent matters for the close that
// follows.
func (c *Correlator) RecordFill(contractID string, ft domain.FillType, price float64, at time.Time) {
	c.do(func(state map[string]fillEntry) {
		state[contractID] = fillEntry{fillType: ft, fillPrice: price, recordedAt: at}
	})
}

// ConsumeFillType returns and removes the classification for a contract.
// A stale entry (older than the TTL at now) is discarded unread.
func (c *Correlator) ConsumeFillType(contractID string, now time.Time) (domain.FillType, bool) {
	var (
		ft domain.FillType
		ok bool
	)
	c.do(func(state map[string]fillEntry) {
		e, found := state[contractID]
		if !found {
			return
		}
		delete(state, contractID)
		if now.Sub(e.recordedAt) > c.ttl {
			return
		}
		ft, ok = e.fillType, true
	})
	return ft, ok
}
