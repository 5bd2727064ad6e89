package composite

import (
	"context"
	"testing"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantWait(ctx context.Context, _ time.Duration) bool {
	return ctx.Err() == nil
}

func newTestTWAPService(t *testing.T, fx *fakeExchange, wait waitFunc) (*TWAPService, func()) {
	return startService(t, func(ctx context.Context) *TWAPService {
		svc := NewTWAPService(ctx, fx)
		svc.supervisor.wait = wait
		return svc
	})
}

func fiveSliceRequest() entity.TWAPOrderRequest {
	return entity.TWAPOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          entity.OrderSideBuy,
		TotalQuantity: dec("100"),
		Duration:      300 * time.Second,
		Interval:      60 * time.Second,
	}
}

func TestTWAPCompletesAllSlices(t *testing.T) {
	fx := newFakeExchange()
	svc, shutdown := newTestTWAPService(t, fx, instantWait)

	snapshot, err := svc.Create(context.Background(), fiveSliceRequest())
	require.NoError(t, err)
	assert.Equal(t, 5, snapshot.SliceCount)
	assert.True(t, dec("20").Equal(snapshot.ChunkQuantity))

	require.Eventually(t, func() bool {
		current, err := svc.Status(snapshot.ID)
		return err == nil && current.Status == entity.CompositeStatusCompleted
	}, eventually, tick)
	shutdown()

	current, err := svc.Status(snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, current.ExecutedSlices)
	assert.True(t, current.RemainingQuantity.IsZero())
	assert.NotNil(t, current.CompletedAt)

	placed := fx.placedOrders()
	require.Len(t, placed, 5)
	for _, req := range placed {
		assert.Equal(t, entity.OrderTypeMarket, req.Type)
		assert.Equal(t, entity.OrderSideBuy, req.Side)
		assert.True(t, dec("20").Equal(req.Quantity))
		assert.False(t, req.Price.Valid)
	}
	assert.Empty(t, svc.ListActive())
}

func TestTWAPSliceFailureStopsExecution(t *testing.T) {
	fx := newFakeExchange()
	fx.failPlacement(4)
	observer := &recordingObserver{}
	svc, shutdown := startService(t, func(ctx context.Context) *TWAPService {
		svc := NewTWAPService(ctx, fx, observer)
		svc.supervisor.wait = instantWait
		return svc
	})

	snapshot, err := svc.Create(context.Background(), fiveSliceRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Status(snapshot.ID)
		return err == nil && current.Status.IsTerminal()
	}, eventually, tick)
	shutdown()

	current, err := svc.Status(snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CompositeStatusFailed, current.Status)
	assert.Equal(t, 3, current.ExecutedSlices)
	assert.True(t, dec("40").Equal(current.RemainingQuantity), "remaining %s", current.RemainingQuantity)
	assert.Equal(t, 4, fx.placeAttempts())
	assert.Len(t, fx.placedOrders(), 3)

	assert.Equal(t, []entity.CompositeOrderEventType{
		entity.CompositeOrderEventCreated,
		entity.CompositeOrderEventSliceExecuted,
		entity.CompositeOrderEventSliceExecuted,
		entity.CompositeOrderEventSliceExecuted,
		entity.CompositeOrderEventFailed,
	}, observer.types())
}

func TestTWAPSliceCountFloorsAtOne(t *testing.T) {
	fx := newFakeExchange()
	svc, shutdown := newTestTWAPService(t, fx, instantWait)

	snapshot, err := svc.Create(context.Background(), entity.TWAPOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          entity.OrderSideSell,
		TotalQuantity: dec("3"),
		Duration:      30 * time.Second,
		Interval:      60 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.SliceCount)
	assert.True(t, dec("3").Equal(snapshot.ChunkQuantity))

	require.Eventually(t, func() bool {
		current, err := svc.Status(snapshot.ID)
		return err == nil && current.Status == entity.CompositeStatusCompleted
	}, eventually, tick)
	shutdown()

	assert.Len(t, fx.placedOrders(), 1)
}

func TestTWAPCancelStopsFutureSlices(t *testing.T) {
	fx := newFakeExchange()
	svc, shutdown := newTestTWAPService(t, fx, sleepContext)

	snapshot, err := svc.Create(context.Background(), entity.TWAPOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          entity.OrderSideBuy,
		TotalQuantity: dec("10"),
		Duration:      10 * time.Hour,
		Interval:      time.Hour,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Status(snapshot.ID)
		return err == nil && current.ExecutedSlices == 1
	}, eventually, tick)

	cancelled, err := svc.Cancel(context.Background(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CompositeStatusCancelled, cancelled.Status)
	assert.True(t, dec("9").Equal(cancelled.RemainingQuantity))

	_, err = svc.Cancel(context.Background(), snapshot.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = svc.Cancel(context.Background(), "TWAP_0")
	assert.ErrorIs(t, err, ErrNotFound)

	shutdown()
	assert.Equal(t, 1, fx.placeAttempts())
	assert.Zero(t, svc.supervisor.running())
}

func TestTWAPCreateValidation(t *testing.T) {
	fx := newFakeExchange()
	svc, _ := newTestTWAPService(t, fx, instantWait)

	noInterval := fiveSliceRequest()
	noInterval.Interval = 0
	_, err := svc.Create(context.Background(), noInterval)
	assert.ErrorIs(t, err, ErrValidation)

	noQuantity := fiveSliceRequest()
	noQuantity.TotalQuantity = dec("0")
	_, err = svc.Create(context.Background(), noQuantity)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, svc.registry.Len())
	assert.Zero(t, fx.placeAttempts())
}

func TestTWAPCleanupKeepsActiveOrders(t *testing.T) {
	fx := newFakeExchange()
	svc, shutdown := newTestTWAPService(t, fx, sleepContext)

	snapshot, err := svc.Create(context.Background(), entity.TWAPOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          entity.OrderSideBuy,
		TotalQuantity: dec("10"),
		Duration:      10 * time.Hour,
		Interval:      time.Hour,
	})
	require.NoError(t, err)
	shutdown()

	later := time.Now().UTC().Add(1000 * time.Hour)
	svc.now = func() time.Time { return later }

	assert.Zero(t, svc.Cleanup(24*time.Hour))
	_, err = svc.Status(snapshot.ID)
	assert.NoError(t, err)
}
