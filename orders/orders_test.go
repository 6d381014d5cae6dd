package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakers471/risk-manager/domain"
)

func stopOrder(id, contract string, price float64) domain.OrderRef {
	return domain.OrderRef{OrderID: id, ContractID: contract, Side: "sell", Size: 1, StopPrice: price}
}

func tpOrder(id, contract string, price float64) domain.OrderRef {
	return domain.OrderRef{OrderID: id, ContractID: contract, Side: "sell", Size: 1, LimitPrice: price}
}

func TestProtectiveRecordAndLookup(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)

	c.Record("ES-1", stopOrder("o1", "ES-1", 5300))
	c.Record("ES-1", tpOrder("o2", "ES-1", 5400))

	stop, ok := c.Stop(context.Background(), "ES-1")
	require.True(t, ok)
	assert.Equal(t, "o1", stop.OrderID)

	tp, ok := c.TakeProfit(context.Background(), "ES-1")
	require.True(t, ok)
	assert.Equal(t, "o2", tp.OrderID)
}

func TestProtectiveIgnoresNonProtectiveOrders(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)

	// Market order: neither stop nor limit price.
	c.Record("ES-1", domain.OrderRef{OrderID: "o1", ContractID: "ES-1", Size: 1})

	_, ok := c.Stop(context.Background(), "ES-1")
	assert.False(t, ok)
}

func TestProtectiveInvalidateOnModify(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)

	c.Record("ES-1", stopOrder("o1", "ES-1", 5300))
	c.Invalidate("ES-1", "o1")

	_, ok := c.Stop(context.Background(), "ES-1")
	assert.False(t, ok)

	// Invalidating an unknown order is a no-op.
	c.Record("ES-1", stopOrder("o3", "ES-1", 5310))
	c.Invalidate("ES-1", "other")
	stop, ok := c.Stop(context.Background(), "ES-1")
	require.True(t, ok)
	assert.Equal(t, "o3", stop.OrderID)
}

func TestProtectiveFallbackOnMiss(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)

	calls := 0
	c.Fallback = func(ctx context.Context) ([]domain.OrderRef, error) {
		calls++
		return []domain.OrderRef{
			stopOrder("manual-1", "NQ-1", 18900),
			tpOrder("manual-2", "OTHER", 19000),
		}, nil
	}

	// Stop placed manually outside this system: found via fallback.
	stop, ok := c.Stop(context.Background(), "NQ-1")
	require.True(t, ok)
	assert.Equal(t, "manual-1", stop.OrderID)
	assert.Equal(t, 1, calls)

	// Now cached; no second query.
	_, ok = c.Stop(context.Background(), "NQ-1")
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

// CachedStop and CachedTakeProfit never reach out to the gateway; a
// miss is just a miss.
func TestProtectiveCachedLookupSkipsFallback(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)

	calls := 0
	c.Fallback = func(ctx context.Context) ([]domain.OrderRef, error) {
		calls++
		return []domain.OrderRef{stopOrder("manual-1", "NQ-1", 18900)}, nil
	}

	_, ok := c.CachedStop("NQ-1")
	assert.False(t, ok)
	_, ok = c.CachedTakeProfit("NQ-1")
	assert.False(t, ok)
	assert.Equal(t, 0, calls)

	c.Record("NQ-1", stopOrder("o1", "NQ-1", 18890))
	stop, ok := c.CachedStop("NQ-1")
	require.True(t, ok)
	assert.Equal(t, "o1", stop.OrderID)
	assert.Equal(t, 0, calls)
}

func TestProtectiveFallbackFailure(t *testing.T) {
	t.Parallel()

	c := NewProtectiveCache()
	t.Cleanup(c.Close)
	c.Fallback = func(ctx context.Context) ([]domain.OrderRef, error) {
		return nil, errors.New("gateway down")
	}

	_, ok := c.Stop(context.Background(), "ES-1")
	assert.False(t, ok)
}

func TestCorrelatorConsumeOnce(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(2 * time.Second)
	t.Cleanup(c.Close)

	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.RecordFill("ES-1", domain.FillStop, 5299.75, at)

	ft, ok := c.ConsumeFillType("ES-1", at.Add(500*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, domain.FillStop, ft)

	// Consumed: a second read finds nothing.
	_, ok = c.ConsumeFillType("ES-1", at.Add(600*time.Millisecond))
	assert.False(t, ok)
}

func TestCorrelatorTTLExpiry(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(2 * time.Second)
	t.Cleanup(c.Close)

	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.RecordFill("ES-1", domain.FillTarget, 5400, at)

	_, ok := c.ConsumeFillType("ES-1", at.Add(3*time.Second))
	assert.False(t, ok)
}

func TestCorrelatorLatestFillWins(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(2 * time.Second)
	t.Cleanup(c.Close)

	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.RecordFill("ES-1", domain.FillManual, 5310, at)
	c.RecordFill("ES-1", domain.FillStop, 5300, at.Add(time.Second))

	ft, ok := c.ConsumeFillType("ES-1", at.Add(1500*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, domain.FillStop, ft)
}
