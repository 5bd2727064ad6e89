package composite

import (
	"context"
	"fmt"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/krobus00/composite-order-service/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type twapOrder struct {
	record

	side              entity.OrderSide
	totalQuantity     decimal.Decimal
	chunkQuantity     decimal.Decimal
	remainingQuantity decimal.Decimal
	sliceCount        int
	executedSlices    int
	duration          time.Duration
	interval          time.Duration
}

func (o *twapOrder) snapshot() *entity.TWAPOrderSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return &entity.TWAPOrderSnapshot{
		ID:                o.id,
		Symbol:            o.symbol,
		Side:              o.side,
		Status:            o.status,
		TotalQuantity:     o.totalQuantity,
		ChunkQuantity:     o.chunkQuantity,
		RemainingQuantity: o.remainingQuantity,
		SliceCount:        o.sliceCount,
		ExecutedSlices:    o.executedSlices,
		Duration:          o.duration,
		Interval:          o.interval,
		CreatedAt:         o.createdAt,
		CompletedAt:       o.completedAtLocked(),
	}
}

// TWAPService splits a parent quantity into equal market slices sent one
// interval apart.
type TWAPService struct {
	placer     legPlacer
	registry   *Registry[*twapOrder]
	supervisor *supervisor
	notifier   notifier
	now        func() time.Time
}

func NewTWAPService(ctx context.Context, exchange entity.Exchange, observers ...entity.CompositeOrderObserver) *TWAPService {
	return &TWAPService{
		placer:     legPlacer{kind: entity.CompositeKindTWAP, exchange: exchange},
		registry:   NewRegistry[*twapOrder](),
		supervisor: newSupervisor(ctx),
		notifier:   notifier{observers: observers},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func sliceCountOf(duration, interval time.Duration) int {
	count := int(duration / interval)
	if count < 1 {
		return 1
	}
	return count
}

// Create schedules the slices and returns immediately. The first slice goes
// out right away and the rest follow one interval apart.
func (s *TWAPService) Create(ctx context.Context, req entity.TWAPOrderRequest) (*entity.TWAPOrderSnapshot, error) {
	switch {
	case req.Symbol == "":
		return nil, validationError("symbol is required")
	case !req.Side.Valid():
		return nil, validationError("side must be BUY or SELL")
	case !req.TotalQuantity.IsPositive():
		return nil, validationError("total_quantity must be positive")
	case req.Interval <= 0:
		return nil, validationError("interval must be positive")
	case req.Duration < 0:
		return nil, validationError("duration must not be negative")
	}

	sliceCount := sliceCountOf(req.Duration, req.Interval)
	order := &twapOrder{
		side:              req.Side,
		totalQuantity:     req.TotalQuantity,
		chunkQuantity:     req.TotalQuantity.Div(decimal.NewFromInt(int64(sliceCount))),
		remainingQuantity: req.TotalQuantity,
		sliceCount:        sliceCount,
		duration:          req.Duration,
		interval:          req.Interval,
	}
	order.init(entity.CompositeKindTWAP, req.Symbol, s.now())

	s.registry.Put(order)
	recordCreated(entity.CompositeKindTWAP)
	logrus.WithFields(logrus.Fields{
		"composite_id":   order.id,
		"symbol":         req.Symbol,
		"side":           req.Side,
		"total_quantity": req.TotalQuantity.String(),
		"slice_count":    sliceCount,
		"chunk_quantity": order.chunkQuantity.String(),
	}).Info("twap order created")

	snapshot := order.snapshot()
	s.notifier.notify(entity.CompositeKindTWAP, order.id, order.symbol, entity.CompositeOrderEventCreated, order.Status(), "", snapshot)

	s.supervisor.spawn(order.id, func(ctx context.Context) {
		s.execute(ctx, order)
	})

	return snapshot, nil
}

// execute sends the slices in order. A rejected slice fails the whole TWAP.
// A cancel never aborts a slice already in flight.
func (s *TWAPService) execute(ctx context.Context, order *twapOrder) {
	logger := logrus.WithField("composite_id", order.id)

	for slice := 0; slice < order.sliceCount; slice++ {
		if slice > 0 && !s.supervisor.wait(ctx, order.interval) {
			return
		}
		if ctx.Err() != nil || !order.isActive() {
			return
		}

		if done := s.executeSlice(context.WithoutCancel(ctx), order, slice, logger); done {
			return
		}
	}

	order.mu.Lock()
	finished := order.finishLocked(entity.CompositeStatusCompleted, s.now())
	order.mu.Unlock()
	if !finished {
		return
	}

	recordFinished(entity.CompositeKindTWAP, entity.CompositeStatusCompleted)
	logger.Info("twap order completed")
	s.notifier.notify(entity.CompositeKindTWAP, order.id, order.symbol, entity.CompositeOrderEventCompleted, entity.CompositeStatusCompleted, "", order.snapshot())
}

func (s *TWAPService) executeSlice(ctx context.Context, order *twapOrder, slice int, logger *logrus.Entry) bool {
	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	if !order.isActive() {
		return true
	}

	leg, err := s.placer.place(ctx, entity.OrderRequest{
		Symbol:   order.symbol,
		Side:     order.side,
		Type:     entity.OrderTypeMarket,
		Quantity: order.chunkQuantity,
	}, slice)
	if err != nil {
		order.mu.Lock()
		order.finishLocked(entity.CompositeStatusFailed, s.now())
		order.mu.Unlock()

		recordFinished(entity.CompositeKindTWAP, entity.CompositeStatusFailed)
		logger.WithField("slice", slice+1).WithError(err).Error("twap slice failed")
		batch.add(entity.CompositeKindTWAP, order.id, order.symbol, entity.CompositeOrderEventFailed, entity.CompositeStatusFailed, err.Error(), order.snapshot())
		return true
	}

	order.mu.Lock()
	order.executedSlices++
	order.remainingQuantity = order.remainingQuantity.Sub(order.chunkQuantity)
	executed, remaining := order.executedSlices, order.remainingQuantity
	order.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"slice":     fmt.Sprintf("%d/%d", executed, order.sliceCount),
		"order_id":  leg.OrderID,
		"remaining": remaining.String(),
	}).Info("twap slice executed")
	batch.add(entity.CompositeKindTWAP, order.id, order.symbol, entity.CompositeOrderEventSliceExecuted, entity.CompositeStatusActive, leg.OrderID, order.snapshot())
	return false
}

// Cancel stops future slices. A slice already being sent completes first.
func (s *TWAPService) Cancel(ctx context.Context, id string) (*entity.TWAPOrderSnapshot, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	s.supervisor.stop(id)

	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	order.mu.Lock()
	finished := order.finishLocked(entity.CompositeStatusCancelled, s.now())
	order.mu.Unlock()
	if !finished {
		return nil, ErrNotActive
	}

	recordFinished(entity.CompositeKindTWAP, entity.CompositeStatusCancelled)
	logrus.WithField("composite_id", id).Info("twap order cancelled")

	snapshot := order.snapshot()
	batch.add(entity.CompositeKindTWAP, id, order.symbol, entity.CompositeOrderEventCancelled, entity.CompositeStatusCancelled, "", snapshot)
	return snapshot, nil
}

func (s *TWAPService) Status(id string) (*entity.TWAPOrderSnapshot, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.snapshot(), nil
}

func (s *TWAPService) ListActive() []entity.TWAPOrderSnapshot {
	var result []entity.TWAPOrderSnapshot
	for _, order := range s.registry.Values() {
		if !order.isActive() {
			continue
		}
		result = append(result, *order.snapshot())
	}
	return result
}

func (s *TWAPService) Cleanup(maxAge time.Duration) int {
	removed := Sweep(s.registry, maxAge, s.now())
	for _, order := range removed {
		metrics.OrdersEvicted.WithLabelValues(string(entity.CompositeKindTWAP)).Inc()
		s.notifier.notify(entity.CompositeKindTWAP, order.id, order.symbol, entity.CompositeOrderEventEvicted, order.Status(), "", nil)
	}
	return len(removed)
}

func (s *TWAPService) Wait() {
	s.supervisor.waitAll()
}
