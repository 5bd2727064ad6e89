package composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/krobus00/composite-order-service/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type OCOConfig struct {
	PollInterval time.Duration
}

func DefaultOCOConfig() OCOConfig {
	return OCOConfig{
		PollInterval: 2 * time.Second,
	}
}

type ocoOrder struct {
	record

	side            entity.OrderSide
	quantity        decimal.Decimal
	takeProfitPrice decimal.Decimal
	stopLossPrice   decimal.Decimal
	takeProfit      entity.Leg
	stopLoss        entity.Leg
}

func (o *ocoOrder) snapshot() *entity.OCOOrderSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return &entity.OCOOrderSnapshot{
		ID:              o.id,
		Symbol:          o.symbol,
		Side:            o.side,
		Quantity:        o.quantity,
		Status:          o.status,
		TakeProfit:      o.takeProfit,
		StopLoss:        o.stopLoss,
		TakeProfitPrice: o.takeProfitPrice,
		StopLossPrice:   o.stopLossPrice,
		CreatedAt:       o.createdAt,
		CompletedAt:     o.completedAtLocked(),
	}
}

func (o *ocoOrder) legs() (entity.Leg, entity.Leg) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.takeProfit, o.stopLoss
}

// OCOService pairs a take-profit limit leg with a stop-loss stop-market leg
// and cancels the survivor once either one resolves.
type OCOService struct {
	config     OCOConfig
	placer     legPlacer
	registry   *Registry[*ocoOrder]
	supervisor *supervisor
	notifier   notifier
	now        func() time.Time
}

func NewOCOService(ctx context.Context, config OCOConfig, exchange entity.Exchange, observers ...entity.CompositeOrderObserver) *OCOService {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultOCOConfig().PollInterval
	}

	return &OCOService{
		config:     config,
		placer:     legPlacer{kind: entity.CompositeKindOCO, exchange: exchange},
		registry:   NewRegistry[*ocoOrder](),
		supervisor: newSupervisor(ctx),
		notifier:   notifier{observers: observers},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func validateOCORequest(req entity.OCOOrderRequest) error {
	switch {
	case req.Symbol == "":
		return validationError("symbol is required")
	case !req.ExitSide.Valid():
		return validationError("side must be BUY or SELL")
	case !req.Quantity.IsPositive():
		return validationError("quantity must be positive")
	case !req.TakeProfitPrice.IsPositive() || !req.StopLossPrice.IsPositive():
		return validationError("take profit and stop loss prices must be positive")
	case req.ExitSide == entity.OrderSideSell && req.TakeProfitPrice.LessThanOrEqual(req.StopLossPrice):
		return validationError("take profit must be above stop loss for a SELL exit")
	case req.ExitSide == entity.OrderSideBuy && req.TakeProfitPrice.GreaterThanOrEqual(req.StopLossPrice):
		return validationError("take profit must be below stop loss for a BUY exit")
	}
	return nil
}

// Create places the take-profit leg then the stop-loss leg. When the stop-loss
// is rejected the take-profit is cancelled so no half pair stays on the book.
func (s *OCOService) Create(ctx context.Context, req entity.OCOOrderRequest) (*entity.OCOOrderSnapshot, error) {
	if err := validateOCORequest(req); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"symbol":      req.Symbol,
		"side":        req.ExitSide,
		"quantity":    req.Quantity.String(),
		"take_profit": req.TakeProfitPrice.String(),
		"stop_loss":   req.StopLossPrice.String(),
	})

	takeProfit, err := s.placer.place(ctx, entity.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.ExitSide,
		Type:     entity.OrderTypeLimit,
		Quantity: req.Quantity,
		Price:    decimal.NewNullDecimal(req.TakeProfitPrice),
	}, 0)
	if err != nil {
		logger.WithError(err).Error("failed to place take profit leg")
		return nil, fmt.Errorf("%w: take profit: %w", ErrLegPlacementFailed, err)
	}

	stopLoss, err := s.placer.place(ctx, entity.OrderRequest{
		Symbol:    req.Symbol,
		Side:      req.ExitSide,
		Type:      entity.OrderTypeStopMarket,
		Quantity:  req.Quantity,
		StopPrice: decimal.NewNullDecimal(req.StopLossPrice),
	}, 0)
	if err != nil {
		logger.WithError(err).Error("failed to place stop loss leg")
		if cancelErr := s.placer.cancel(context.WithoutCancel(ctx), req.Symbol, takeProfit.OrderID); cancelErr != nil {
			logger.WithField("order_id", takeProfit.OrderID).WithError(cancelErr).Error("failed to roll back take profit leg")
		}
		return nil, fmt.Errorf("%w: stop loss: %w", ErrLegPlacementFailed, err)
	}

	order := &ocoOrder{
		side:            req.ExitSide,
		quantity:        req.Quantity,
		takeProfitPrice: req.TakeProfitPrice,
		stopLossPrice:   req.StopLossPrice,
		takeProfit:      takeProfit,
		stopLoss:        stopLoss,
	}
	order.init(entity.CompositeKindOCO, req.Symbol, s.now())

	s.registry.Put(order)
	recordCreated(entity.CompositeKindOCO)
	logger.WithFields(logrus.Fields{
		"composite_id":        order.id,
		"take_profit_orderid": takeProfit.OrderID,
		"stop_loss_orderid":   stopLoss.OrderID,
	}).Info("oco order created")

	snapshot := order.snapshot()
	s.notifier.notify(entity.CompositeKindOCO, order.id, order.symbol, entity.CompositeOrderEventCreated, order.Status(), "", snapshot)

	s.supervisor.spawn(order.id, func(ctx context.Context) {
		s.supervisor.poll(ctx, s.config.PollInterval, func(ctx context.Context) bool {
			return s.pollOCO(ctx, order)
		})
	})

	return snapshot, nil
}

// CreateBracket places a limit entry and arms the exit OCO on the opposite side
// right away. If the OCO cannot be armed the entry is cancelled.
func (s *OCOService) CreateBracket(ctx context.Context, req entity.BracketOrderRequest) (*entity.BracketOrder, error) {
	ocoReq := entity.OCOOrderRequest{
		Symbol:          req.Symbol,
		ExitSide:        req.EntrySide.Opposite(),
		Quantity:        req.Quantity,
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
	}
	if !req.EntrySide.Valid() {
		return nil, validationError("side must be BUY or SELL")
	}
	if !req.EntryPrice.IsPositive() {
		return nil, validationError("entry price must be positive")
	}
	if err := validateOCORequest(ocoReq); err != nil {
		return nil, err
	}

	entry, err := s.placer.place(ctx, entity.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.EntrySide,
		Type:     entity.OrderTypeLimit,
		Quantity: req.Quantity,
		Price:    decimal.NewNullDecimal(req.EntryPrice),
	}, 0)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"symbol": req.Symbol,
			"side":   req.EntrySide,
		}).WithError(err).Error("failed to place bracket entry leg")
		return nil, fmt.Errorf("%w: entry: %w", ErrLegPlacementFailed, err)
	}

	oco, err := s.Create(ctx, ocoReq)
	if err != nil {
		if cancelErr := s.placer.cancel(context.WithoutCancel(ctx), req.Symbol, entry.OrderID); cancelErr != nil {
			logrus.WithField("order_id", entry.OrderID).WithError(cancelErr).Error("failed to roll back bracket entry leg")
		}
		return nil, err
	}

	return &entity.BracketOrder{
		EntryLeg: entry,
		OCO:      *oco,
	}, nil
}

// pollOCO runs one monitor cycle and reports whether the monitor should exit.
// Take-profit wins when both legs report FILLED in the same cycle.
func (s *OCOService) pollOCO(ctx context.Context, order *ocoOrder) bool {
	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	if ctx.Err() != nil || !order.isActive() {
		return true
	}

	takeProfit, stopLoss := order.legs()
	tpStatus, tpErr := s.placer.remoteStatus(ctx, order.symbol, takeProfit.OrderID)
	slStatus, slErr := s.placer.remoteStatus(ctx, order.symbol, stopLoss.OrderID)
	if err := errors.Join(tpErr, slErr); err != nil && ctx.Err() == nil {
		logrus.WithField("composite_id", order.id).WithError(err).Debug("failed to query oco legs")
	}

	if ctx.Err() != nil || !order.isActive() {
		return true
	}

	actionCtx := context.WithoutCancel(ctx)
	switch {
	case tpStatus.IsFilled():
		s.resolveFilled(actionCtx, order, &order.takeProfit, &order.stopLoss, entity.CompositeStatusCompletedTakeProfit, &batch)
	case slStatus.IsFilled():
		s.resolveFilled(actionCtx, order, &order.stopLoss, &order.takeProfit, entity.CompositeStatusCompletedStopLoss, &batch)
	case tpStatus.IsGone():
		s.resolveGone(actionCtx, order, &order.takeProfit, &order.stopLoss, tpStatus, slStatus.IsGone(), &batch)
	case slStatus.IsGone():
		s.resolveGone(actionCtx, order, &order.stopLoss, &order.takeProfit, slStatus, false, &batch)
	default:
		return false
	}
	return true
}

// resolveFilled claims the terminal status before cancelling the sibling so the
// sibling is cancelled at most once.
func (s *OCOService) resolveFilled(ctx context.Context, order *ocoOrder, filled, sibling *entity.Leg, status entity.CompositeStatus, batch *eventBatch) {
	order.mu.Lock()
	filled.Status = entity.LegStatusFilled
	order.finishLocked(status, s.now())
	filledLeg, siblingLeg := *filled, *sibling
	order.mu.Unlock()

	metrics.LegsFilled.WithLabelValues(string(entity.CompositeKindOCO), string(filledLeg.Side)).Inc()
	recordFinished(entity.CompositeKindOCO, status)

	logger := logrus.WithFields(logrus.Fields{
		"composite_id":     order.id,
		"filled_order_id":  filledLeg.OrderID,
		"sibling_order_id": siblingLeg.OrderID,
		"status":           status,
	})
	if err := s.placer.cancel(ctx, order.symbol, siblingLeg.OrderID); err != nil {
		logger.WithError(err).Error("failed to cancel oco sibling leg")
	} else {
		order.mu.Lock()
		sibling.Status = entity.LegStatusCancelled
		order.mu.Unlock()
	}

	logger.Info("oco order completed")
	batch.add(entity.CompositeKindOCO, order.id, order.symbol, entity.CompositeOrderEventCompleted, status, filledLeg.OrderID, order.snapshot())
}

// resolveGone handles a leg that left the book without filling, e.g. cancelled
// on the exchange by hand. The survivor is cancelled unless it is gone too.
func (s *OCOService) resolveGone(ctx context.Context, order *ocoOrder, gone, sibling *entity.Leg, remote entity.OrderStatus, siblingGone bool, batch *eventBatch) {
	order.mu.Lock()
	gone.Status = entity.LegStatusCancelled
	if siblingGone {
		sibling.Status = entity.LegStatusCancelled
	}
	order.finishLocked(entity.CompositeStatusCancelled, s.now())
	goneLeg, siblingLeg := *gone, *sibling
	order.mu.Unlock()

	recordFinished(entity.CompositeKindOCO, entity.CompositeStatusCancelled)

	logger := logrus.WithFields(logrus.Fields{
		"composite_id":     order.id,
		"gone_order_id":    goneLeg.OrderID,
		"remote_status":    remote,
		"sibling_order_id": siblingLeg.OrderID,
	})
	if !siblingGone {
		if err := s.placer.cancel(ctx, order.symbol, siblingLeg.OrderID); err != nil {
			logger.WithError(err).Error("failed to cancel oco sibling leg")
		} else {
			order.mu.Lock()
			sibling.Status = entity.LegStatusCancelled
			order.mu.Unlock()
		}
	}

	logger.Warn("oco leg cancelled externally")
	batch.add(entity.CompositeKindOCO, order.id, order.symbol, entity.CompositeOrderEventCancelled, entity.CompositeStatusCancelled, string(remote), order.snapshot())
}

// Cancel cancels both legs. It succeeds when at least one leg cancel is
// accepted. When both fail the order stays ACTIVE and keeps being monitored.
func (s *OCOService) Cancel(ctx context.Context, id string) (*entity.OCOOrderSnapshot, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	if !order.isActive() {
		return nil, ErrNotActive
	}

	cleanupCtx := context.WithoutCancel(ctx)
	takeProfit, stopLoss := order.legs()
	tpErr := s.placer.cancel(cleanupCtx, order.symbol, takeProfit.OrderID)
	slErr := s.placer.cancel(cleanupCtx, order.symbol, stopLoss.OrderID)

	logger := logrus.WithField("composite_id", id)
	if tpErr != nil && slErr != nil {
		err := errors.Join(tpErr, slErr)
		logger.WithError(err).Error("failed to cancel oco order")
		return nil, err
	}

	order.mu.Lock()
	if tpErr == nil {
		order.takeProfit.Status = entity.LegStatusCancelled
	}
	if slErr == nil {
		order.stopLoss.Status = entity.LegStatusCancelled
	}
	order.finishLocked(entity.CompositeStatusCancelled, s.now())
	order.mu.Unlock()

	s.supervisor.stop(id)
	recordFinished(entity.CompositeKindOCO, entity.CompositeStatusCancelled)

	if err := errors.Join(tpErr, slErr); err != nil {
		logger.WithError(err).Warn("oco order cancelled with one leg cancel failing")
	} else {
		logger.Info("oco order cancelled")
	}

	snapshot := order.snapshot()
	batch.add(entity.CompositeKindOCO, id, order.symbol, entity.CompositeOrderEventCancelled, entity.CompositeStatusCancelled, "", snapshot)
	return snapshot, nil
}

// Status returns the local record together with the live leg statuses.
// A leg that cannot be queried reports UNKNOWN.
func (s *OCOService) Status(ctx context.Context, id string) (*entity.OCOOrderStatus, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.statusOf(ctx, order), nil
}

func (s *OCOService) statusOf(ctx context.Context, order *ocoOrder) *entity.OCOOrderStatus {
	takeProfit, stopLoss := order.legs()
	tpStatus, _ := s.placer.remoteStatus(ctx, order.symbol, takeProfit.OrderID)
	slStatus, _ := s.placer.remoteStatus(ctx, order.symbol, stopLoss.OrderID)

	return &entity.OCOOrderStatus{
		OCOOrderSnapshot:       *order.snapshot(),
		TakeProfitRemoteStatus: tpStatus,
		StopLossRemoteStatus:   slStatus,
	}
}

func (s *OCOService) Get(id string) (*entity.OCOOrderSnapshot, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.snapshot(), nil
}

func (s *OCOService) ListActive(ctx context.Context) []entity.OCOOrderStatus {
	var result []entity.OCOOrderStatus
	for _, order := range s.registry.Values() {
		if !order.isActive() {
			continue
		}
		result = append(result, *s.statusOf(ctx, order))
	}
	return result
}

func (s *OCOService) Cleanup(maxAge time.Duration) int {
	removed := Sweep(s.registry, maxAge, s.now())
	for _, order := range removed {
		metrics.OrdersEvicted.WithLabelValues(string(entity.CompositeKindOCO)).Inc()
		s.notifier.notify(entity.CompositeKindOCO, order.id, order.symbol, entity.CompositeOrderEventEvicted, order.Status(), "", nil)
	}
	return len(removed)
}

func (s *OCOService) Wait() {
	s.supervisor.waitAll()
}
