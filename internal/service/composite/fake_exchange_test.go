package composite

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
)

var errFakeGateway = errors.New("fake gateway failure")

// fakeExchange hands out sequential order IDs starting at "1" so tests can
// preset remote statuses before the legs exist. Calls made with a done
// context fail the way a real HTTP client would.
type fakeExchange struct {
	mu        sync.Mutex
	attempts  int
	placed    []entity.OrderRequest
	cancels   map[string]int
	statuses  map[string]entity.OrderStatus
	placeErr  func(attempt int, req entity.OrderRequest) error
	cancelErr map[string]error
	statusErr error

	// statusHook runs before a status query is answered, outside the lock.
	statusHook func(ctx context.Context, orderID string)
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		cancels:   make(map[string]int),
		statuses:  make(map[string]entity.OrderStatus),
		cancelErr: make(map[string]error),
	}
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req entity.OrderRequest) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.placeErr != nil {
		if err := f.placeErr(f.attempts, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.placed = append(f.placed, req)
	orderID := strconv.Itoa(f.attempts)
	if _, ok := f.statuses[orderID]; !ok {
		f.statuses[orderID] = entity.OrderStatusNew
	}

	return &entity.Order{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		Status:        f.statuses[orderID],
		UpdatedAt:     time.Now(),
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancels[orderID]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.cancelErr[orderID]; err != nil {
		return err
	}
	f.statuses[orderID] = entity.OrderStatusCanceled
	return nil
}

// GetOrderStatus checks the context before the hook only, so a hook can
// answer after the caller gave up.
func (f *fakeExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*entity.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	hook := f.statusHook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, orderID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.statuses[orderID]
	if !ok {
		return nil, errFakeGateway
	}
	return &entity.Order{OrderID: orderID, Symbol: symbol, Status: status}, nil
}

func (f *fakeExchange) GetTickerPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeExchange) setStatus(orderID string, status entity.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[orderID] = status
}

func (f *fakeExchange) failPlacement(attempt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErr = func(n int, _ entity.OrderRequest) error {
		if n == attempt {
			return errFakeGateway
		}
		return nil
	}
}

func (f *fakeExchange) setStatusHook(hook func(ctx context.Context, orderID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHook = hook
}

func (f *fakeExchange) remoteStatus(orderID string) entity.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[orderID]
}

func (f *fakeExchange) placedOrders() []entity.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.OrderRequest(nil), f.placed...)
}

func (f *fakeExchange) placeAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeExchange) cancelCalls(orderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels[orderID]
}

func (f *fakeExchange) totalCancelCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.cancels {
		total += n
	}
	return total
}

type recordingObserver struct {
	mu     sync.Mutex
	events []entity.CompositeOrderEvent
	err    error
}

func (o *recordingObserver) OnCompositeOrderEvent(_ context.Context, event entity.CompositeOrderEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return o.err
}

func (o *recordingObserver) types() []entity.CompositeOrderEventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]entity.CompositeOrderEventType, 0, len(o.events))
	for _, event := range o.events {
		types = append(types, event.Type)
	}
	return types
}

// gatedObserver holds events of one type until open is called.
type gatedObserver struct {
	recordingObserver
	gate     entity.CompositeOrderEventType
	entered  chan struct{}
	release  chan struct{}
	enterOne sync.Once
	openOne  sync.Once
}

func newGatedObserver(gate entity.CompositeOrderEventType) *gatedObserver {
	return &gatedObserver{
		gate:    gate,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (o *gatedObserver) OnCompositeOrderEvent(ctx context.Context, event entity.CompositeOrderEvent) error {
	if event.Type == o.gate {
		o.enterOne.Do(func() { close(o.entered) })
		select {
		case <-o.release:
		case <-ctx.Done():
		}
	}
	return o.recordingObserver.OnCompositeOrderEvent(ctx, event)
}

func (o *gatedObserver) open() {
	o.openOne.Do(func() { close(o.release) })
}

type waiter interface {
	Wait()
}

// startService builds a service on a cancellable context. The returned
// shutdown cancels every monitor and waits for them, it also runs at cleanup.
func startService[S waiter](t *testing.T, build func(ctx context.Context) S) (S, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	svc := build(ctx)
	shutdown := func() {
		cancel()
		svc.Wait()
	}
	t.Cleanup(shutdown)
	return svc, shutdown
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

const (
	eventually = 2 * time.Second
	tick       = time.Millisecond
)
