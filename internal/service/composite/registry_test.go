package composite

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrder struct {
	record
}

func newTestOrder(now time.Time) *testOrder {
	order := &testOrder{}
	order.init(entity.CompositeKindOCO, "BTCUSDT", now)
	return order
}

func finishedOrder(status entity.CompositeStatus, completedAt time.Time) *testOrder {
	order := newTestOrder(completedAt.Add(-time.Minute))
	order.mu.Lock()
	order.finishLocked(status, completedAt)
	order.mu.Unlock()
	return order
}

func TestSweepEvictsOnlyExpiredTerminalOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry := NewRegistry[*testOrder]()

	expired := finishedOrder(entity.CompositeStatusCompletedTakeProfit, now.Add(-25*time.Hour))
	recent := finishedOrder(entity.CompositeStatusCancelled, now.Add(-23*time.Hour))
	boundary := finishedOrder(entity.CompositeStatusFailed, now.Add(-24*time.Hour))
	active := newTestOrder(now.Add(-1000 * time.Hour))
	for _, order := range []*testOrder{expired, recent, boundary, active} {
		registry.Put(order)
	}

	removed := Sweep(registry, 24*time.Hour, now)
	require.Len(t, removed, 1)
	assert.Equal(t, expired.ID(), removed[0].ID())

	_, ok := registry.Get(expired.ID())
	assert.False(t, ok)
	for _, order := range []*testOrder{recent, boundary, active} {
		_, ok := registry.Get(order.ID())
		assert.True(t, ok, "order %s should be retained", order.ID())
	}
	assert.Equal(t, 3, registry.Len())
}

func TestFinishOnlyLeavesActiveOnce(t *testing.T) {
	now := time.Now()
	order := newTestOrder(now)

	order.mu.Lock()
	assert.False(t, order.finishLocked(entity.CompositeStatusActive, now))
	assert.True(t, order.finishLocked(entity.CompositeStatusCancelled, now))
	assert.False(t, order.finishLocked(entity.CompositeStatusCompleted, now.Add(time.Hour)))
	order.mu.Unlock()

	assert.Equal(t, entity.CompositeStatusCancelled, order.Status())
	assert.Equal(t, now, order.completedAt)
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	generator := &idGenerator{}
	now := time.UnixMilli(1_700_000_000_000)

	first := generator.next(entity.CompositeKindGrid, now)
	second := generator.next(entity.CompositeKindGrid, now)
	third := generator.next(entity.CompositeKindTWAP, now.Add(-time.Second))

	assert.Equal(t, "GRID_1700000000000", first)
	assert.Equal(t, "GRID_1700000000001", second)
	assert.Equal(t, "TWAP_1700000000002", third)
}

func TestClientOrderIDFitsExchangeLimit(t *testing.T) {
	id := newClientOrderID(entity.CompositeKindTWAP)
	assert.LessOrEqual(t, len(id), 36)
	assert.Regexp(t, `^t_[0-9a-f]{32}$`, id)
	assert.NotEqual(t, id, newClientOrderID(entity.CompositeKindTWAP))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry[*testOrder]()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				order := newTestOrder(now)
				registry.Put(order)
				_, ok := registry.Get(order.ID())
				assert.True(t, ok, fmt.Sprintf("worker %d lost %s", i, order.ID()))
				registry.Values()
				Sweep(registry, time.Hour, now)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16*50, registry.Len())

	values := registry.Values()
	for i := 1; i < len(values); i++ {
		assert.Less(t, values[i-1].ID(), values[i].ID())
	}
}
