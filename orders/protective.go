// Package orders tracks order-derived state the rules need: which
// protective orders cover each open position, and why a position closed.
// Both caches are single-owner goroutines fed by a command channel, so
// invalidation races cannot happen by construction.
package orders

import (
	"context"

	"github.com/Jakers471/risk-manager/domain"
)

type protEntry struct {
	stop       domain.OrderRef
	takeProfit domain.OrderRef
	hasStop    bool
	hasTP      bool
}

// ProtectiveCache knows the current stop-loss / take-profit order per
// open position. Entries are invalidated when the cached order is
// modified or cancelled. On a miss it can fall back to the gateway's
// full open-order list, which covers orders placed outside this system.
type ProtectiveCache struct {
	cmds chan func(map[string]*protEntry)
	done chan struct{}

	// Fallback queries the gateway's working orders on a cache miss.
	// Nil disables the fallback.
	Fallback func(ctx context.Context) ([]domain.OrderRef, error)
}

func NewProtectiveCache() *ProtectiveCache {
	c := &ProtectiveCache{
		cmds: make(chan func(map[string]*protEntry)),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *ProtectiveCache) loop() {
	state := make(map[string]*protEntry)
	for cmd := range c.cmds {
		cmd(state)
	}
	close(c.done)
}

// Close stops the owner goroutine.
func (c *ProtectiveCache) Close() {
	close(c.cmds)
	<-c.done
}

func (c *ProtectiveCache) do(cmd func(map[string]*protEntry)) {
	ran := make(chan struct{})
	c.cmds <- func(state map[string]*protEntry) {
		cmd(state)
		close(ran)
	}
	<-ran
}

// Record remembers a protective order for the contract. Non-protective
// orders are ignored.
func (c *ProtectiveCache) Record(contractID string, ord domain.OrderRef) {
	if !ord.IsStop() && !ord.IsTakeProfit() {
		return
	}
	c.do(func(state map[string]*protEntry) {
		e := state[contractID]
		if e == nil {
			e = &protEntry{}
			state[contractID] = e
		}
		if ord.IsStop() {
			e.stop, e.hasStop = ord, true
		} else {
			e.takeProfit, e.hasTP = ord, true
		}
	})
}

// Invalidate drops the cached entry holding the given order id. Called
// on OrderModified and OrderCancelled; the next lookup re-learns the
// truth from the gateway.
func (c *ProtectiveCache) Invalidate(contractID, orderID string) {
	c.do(func(state map[string]*protEntry) {
		e := state[contractID]
		if e == nil {
			return
		}
		if e.hasStop && e.stop.OrderID == orderID {
			e.stop, e.hasStop = domain.OrderRef{}, false
		}
		if e.hasTP && e.takeProfit.OrderID == orderID {
			e.takeProfit, e.hasTP = domain.OrderRef{}, false
		}
		if !e.hasStop && !e.hasTP {
			delete(state, contractID)
		}
	})
}

// Drop removes the whole entry for a contract (position went flat).
func (c *ProtectiveCache) Drop(contractID string) {
	c.do(func(state map[string]*protEntry) {
		delete(state, contractID)
	})
}

// Stop returns the known protective stop for the contract, consulting
// the gateway fallback on a miss.
func (c *ProtectiveCache) Stop(ctx context.Context, contractID string) (domain.OrderRef, bool) {
	ord, ok := c.lookup(contractID, true)
	if ok {
		return ord, true
	}
	if !c.refill(ctx, contractID) {
		return domain.OrderRef{}, false
	}
	return c.lookup(contractID, true)
}

// TakeProfit returns the known take-profit order for the contract.
func (c *ProtectiveCache) TakeProfit(ctx context.Context, contractID string) (domain.OrderRef, bool) {
	ord, ok := c.lookup(contractID, false)
	if ok {
		return ord, true
	}
	if !c.refill(ctx, contractID) {
		return domain.OrderRef{}, false
	}
	return c.lookup(contractID, false)
}

// CachedStop answers from the cache alone. Callers that must never wait
// on the gateway (the engine classifies fills under its state lock) use
// this instead of Stop.
func (c *ProtectiveCache) CachedStop(contractID string) (domain.OrderRef, bool) {
	return c.lookup(contractID, true)
}

// CachedTakeProfit is the fallback-free counterpart of TakeProfit.
func (c *ProtectiveCache) CachedTakeProfit(contractID string) (domain.OrderRef, bool) {
	return c.lookup(contractID, false)
}

func (c *ProtectiveCache) lookup(contractID string, stop bool) (domain.OrderRef, bool) {
	var (
		ord domain.OrderRef
		ok  bool
	)
	c.do(func(state map[string]*protEntry) {
		e := state[contractID]
		if e == nil {
			return
		}
		if stop && e.hasStop {
			ord, ok = e.stop, true
		}
		if !stop && e.hasTP {
			ord, ok = e.takeProfit, true
		}
	})
	return ord, ok
}

// refill runs the gateway fallback and records what it finds. Runs on
// the caller's goroutine so a slow gateway never blocks the cache owner.
func (c *ProtectiveCache) refill(ctx context.Context, contractID string) bool {
	if c.Fallback == nil {
		return false
	}
	open, err := c.Fallback(ctx)
	if err != nil {
		return false
	}
	found := false
	for _, ord := range open {
		if ord.ContractID != contractID {
			continue
		}
		if ord.IsStop() || ord.IsTakeProfit() {
			c.Record(contractID, ord)
			found = true
		}
	}
	return found
}
