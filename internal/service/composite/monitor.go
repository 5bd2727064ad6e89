package composite

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/krobus00/composite-order-service/internal/metrics"
	"github.com/sirupsen/logrus"
)

const observerTimeout = 5 * time.Second

// waitFunc sleeps for d and reports false when ctx ended first.
type waitFunc func(ctx context.Context, d time.Duration) bool

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// supervisor owns the monitor goroutines of one service. Every monitor gets
// its own cancel func derived from the service context.
type supervisor struct {
	ctx  context.Context
	wait waitFunc

	wg    sync.WaitGroup
	mu    sync.Mutex
	stops map[string]context.CancelFunc
}

func newSupervisor(ctx context.Context) *supervisor {
	return &supervisor{
		ctx:   ctx,
		wait:  sleepContext,
		stops: make(map[string]context.CancelFunc),
	}
}

func (s *supervisor) spawn(id string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.stops[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(id)
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"composite_id": id,
					"panic":        fmt.Sprint(r),
					"stack":        string(debug.Stack()),
				}).Error("monitor panic recovered")
			}
		}()

		run(ctx)
	}()
}

// stop signals the monitor of id to exit. It does not wait for it.
func (s *supervisor) stop(id string) {
	s.mu.Lock()
	cancel, ok := s.stops[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *supervisor) release(id string) {
	s.mu.Lock()
	cancel, ok := s.stops[id]
	delete(s.stops, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *supervisor) running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stops)
}

// poll runs cycle every interval until it reports done or ctx ends.
func (s *supervisor) poll(ctx context.Context, interval time.Duration, cycle func(ctx context.Context) bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		if cycle(ctx) {
			return
		}
		if !s.wait(ctx, interval) {
			return
		}
	}
}

func (s *supervisor) waitAll() {
	s.wg.Wait()
}

// notifier fans lifecycle events out to observers. Observer failures are
// logged and never reach the order flow.
type notifier struct {
	observers []entity.CompositeOrderObserver
}

func (n notifier) notify(kind entity.CompositeKind, compositeID, symbol string, eventType entity.CompositeOrderEventType, status entity.CompositeStatus, message string, snapshot any) {
	if len(n.observers) == 0 {
		return
	}
	n.dispatch(newCompositeOrderEvent(kind, compositeID, symbol, eventType, status, message, snapshot))
}

// deliver sends every event collected in batch, in order. Callers defer it
// ahead of taking a record's ops lock so observers run after the unlock.
func (n notifier) deliver(batch *eventBatch) {
	if len(n.observers) == 0 {
		return
	}
	for _, event := range batch.events {
		n.dispatch(event)
	}
	batch.events = nil
}

func (n notifier) dispatch(event entity.CompositeOrderEvent) {
	for _, observer := range n.observers {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		err := observer.OnCompositeOrderEvent(ctx, event)
		cancel()
		if err != nil {
			observerName := fmt.Sprintf("%T", observer)
			metrics.ObserverErrors.WithLabelValues(observerName).Inc()
			logrus.WithFields(logrus.Fields{
				"composite_id": event.CompositeID,
				"event_type":   event.Type,
				"observer":     observerName,
			}).WithError(err).Warn("failed to deliver composite order event")
		}
	}
}

// eventBatch holds events raised while a record's ops lock is held.
type eventBatch struct {
	events []entity.CompositeOrderEvent
}

func (b *eventBatch) add(kind entity.CompositeKind, compositeID, symbol string, eventType entity.CompositeOrderEventType, status entity.CompositeStatus, message string, snapshot any) {
	b.events = append(b.events, newCompositeOrderEvent(kind, compositeID, symbol, eventType, status, message, snapshot))
}

func newCompositeOrderEvent(kind entity.CompositeKind, compositeID, symbol string, eventType entity.CompositeOrderEventType, status entity.CompositeStatus, message string, snapshot any) entity.CompositeOrderEvent {
	return entity.CompositeOrderEvent{
		ID:          uuid.NewString(),
		CompositeID: compositeID,
		Kind:        kind,
		Type:        eventType,
		Symbol:      symbol,
		Status:      status,
		Message:     message,
		Snapshot:    snapshot,
		OccurredAt:  time.Now().UTC(),
	}
}

// legPlacer submits primitive legs for one composite kind.
type legPlacer struct {
	kind     entity.CompositeKind
	exchange entity.Exchange
}

func (p legPlacer) place(ctx context.Context, req entity.OrderRequest, level int) (entity.Leg, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = newClientOrderID(p.kind)
	}
	if req.Type == entity.OrderTypeLimit && req.TimeInForce == "" {
		req.TimeInForce = entity.TimeInForceGTC
	}

	order, err := p.exchange.PlaceOrder(ctx, req)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(p.kind), "place_order").Inc()
		return entity.Leg{}, gatewayError(err)
	}

	metrics.LegsPlaced.WithLabelValues(string(p.kind), string(req.Side)).Inc()

	price := req.Price
	if req.Type == entity.OrderTypeStopMarket {
		price = req.StopPrice
	}

	return entity.Leg{
		OrderID:       order.OrderID,
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Type:          req.Type,
		Price:         price,
		Quantity:      req.Quantity,
		Status:        entity.LegStatusActive,
		Level:         level,
	}, nil
}

func (p legPlacer) cancel(ctx context.Context, symbol, orderID string) error {
	err := p.exchange.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(p.kind), "cancel_order").Inc()
		return gatewayError(err)
	}
	return nil
}

// remoteStatus returns OrderStatusUnknown when the exchange cannot be queried.
func (p legPlacer) remoteStatus(ctx context.Context, symbol, orderID string) (entity.OrderStatus, error) {
	order, err := p.exchange.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(p.kind), "get_order_status").Inc()
		return entity.OrderStatusUnknown, gatewayError(err)
	}
	return order.Status, nil
}

func recordFinished(kind entity.CompositeKind, status entity.CompositeStatus) {
	metrics.OrdersFinished.WithLabelValues(string(kind), string(status)).Inc()
	metrics.OrdersActive.WithLabelValues(string(kind)).Dec()
}

func recordCreated(kind entity.CompositeKind) {
	metrics.OrdersCreated.WithLabelValues(string(kind)).Inc()
	metrics.OrdersActive.WithLabelValues(string(kind)).Inc()
}
