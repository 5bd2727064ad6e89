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

type GridConfig struct {
	PollInterval time.Duration
}

func DefaultGridConfig() GridConfig {
	return GridConfig{
		PollInterval: 5 * time.Second,
	}
}

// gridLevel holds the legs resting at one price level. Legs leave the slot
// when they fill or are cancelled and only their totals are kept.
type gridLevel struct {
	price  decimal.Decimal
	active []entity.Leg
}

type gridOrder struct {
	record

	priceMin         decimal.Decimal
	priceMax         decimal.Decimal
	priceStep        decimal.Decimal
	quantityPerLevel decimal.Decimal
	levels           []gridLevel

	filledBuys      int
	filledSells     int
	buyVolume       decimal.Decimal
	sellVolume      decimal.Decimal
	buyNotional     decimal.Decimal
	sellNotional    decimal.Decimal
	cancelledLegs   int
	replacementLegs int
}

func newGridOrder(req entity.GridOrderRequest, now time.Time) *gridOrder {
	levelCount := req.LevelCount
	order := &gridOrder{
		priceMin:         req.PriceMin,
		priceMax:         req.PriceMax,
		priceStep:        req.PriceMax.Sub(req.PriceMin).Div(decimal.NewFromInt(int64(levelCount - 1))),
		quantityPerLevel: req.TotalQuantity.Div(decimal.NewFromInt(int64(levelCount))),
		levels:           make([]gridLevel, levelCount),
	}
	order.init(entity.CompositeKindGrid, req.Symbol, now)

	for i := range order.levels {
		order.levels[i].price = order.levelPrice(i)
	}
	return order
}

// levelPrice never leaves [priceMin, priceMax] even when the step was rounded up.
func (o *gridOrder) levelPrice(level int) decimal.Decimal {
	if level == len(o.levels)-1 {
		return o.priceMax
	}
	price := o.priceMin.Add(o.priceStep.Mul(decimal.NewFromInt(int64(level))))
	return decimal.Min(price, o.priceMax)
}

func (o *gridOrder) midpoint() decimal.Decimal {
	return o.priceMin.Add(o.priceMax).Div(decimal.NewFromInt(2))
}

func (o *gridOrder) addLegLocked(leg entity.Leg) {
	o.levels[leg.Level].active = append(o.levels[leg.Level].active, leg)
}

// removeLegLocked takes the leg out of its level slot and reports whether it was there.
func (o *gridOrder) removeLegLocked(leg entity.Leg) bool {
	slot := &o.levels[leg.Level]
	for i := range slot.active {
		if slot.active[i].OrderID != leg.OrderID {
			continue
		}
		slot.active = append(slot.active[:i], slot.active[i+1:]...)
		return true
	}
	return false
}

func (o *gridOrder) retireFilledLocked(leg entity.Leg) bool {
	if !o.removeLegLocked(leg) {
		return false
	}

	price := leg.Price.Decimal
	notional := price.Mul(leg.Quantity)
	if leg.Side == entity.OrderSideBuy {
		o.filledBuys++
		o.buyVolume = o.buyVolume.Add(leg.Quantity)
		o.buyNotional = o.buyNotional.Add(notional)
	} else {
		o.filledSells++
		o.sellVolume = o.sellVolume.Add(leg.Quantity)
		o.sellNotional = o.sellNotional.Add(notional)
	}
	return true
}

func (o *gridOrder) retireCancelledLocked(leg entity.Leg) bool {
	if !o.removeLegLocked(leg) {
		return false
	}
	o.cancelledLegs++
	return true
}

func (o *gridOrder) activeLegs() []entity.Leg {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeLegsLocked()
}

func (o *gridOrder) activeLegsLocked() []entity.Leg {
	legs := make([]entity.Leg, 0, len(o.levels))
	for _, level := range o.levels {
		legs = append(legs, level.active...)
	}
	return legs
}

func (o *gridOrder) snapshot() *entity.GridOrderSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return &entity.GridOrderSnapshot{
		ID:               o.id,
		Symbol:           o.symbol,
		Status:           o.status,
		PriceMin:         o.priceMin,
		PriceMax:         o.priceMax,
		LevelCount:       len(o.levels),
		PriceStep:        o.priceStep,
		QuantityPerLevel: o.quantityPerLevel,
		ActiveLegs:       o.activeLegsLocked(),
		CreatedAt:        o.createdAt,
		CompletedAt:      o.completedAtLocked(),
	}
}

func (o *gridOrder) summary() *entity.GridOrderStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	active := 0
	for _, level := range o.levels {
		active += len(level.active)
	}
	filled := o.filledBuys + o.filledSells

	return &entity.GridOrderStatus{
		ID:              o.id,
		Symbol:          o.symbol,
		Status:          o.status,
		TotalLegs:       active + filled + o.cancelledLegs,
		ActiveLegs:      active,
		FilledLegs:      filled,
		CancelledLegs:   o.cancelledLegs,
		ReplacementLegs: o.replacementLegs,
		CreatedAt:       o.createdAt,
		CompletedAt:     o.completedAtLocked(),
	}
}

func (o *gridOrder) performance() *entity.GridPerformance {
	o.mu.RLock()
	defer o.mu.RUnlock()

	perf := &entity.GridPerformance{
		ID:              o.id,
		TotalFilledLegs: o.filledBuys + o.filledSells,
		TotalVolume:     o.buyVolume.Add(o.sellVolume),
		BuyVolume:       o.buyVolume,
		SellVolume:      o.sellVolume,
		AvgBuyPrice:     decimal.Zero,
		AvgSellPrice:    decimal.Zero,
		Spread:          decimal.Zero,
	}
	if o.buyVolume.IsPositive() {
		perf.AvgBuyPrice = o.buyNotional.Div(o.buyVolume)
	}
	if o.sellVolume.IsPositive() {
		perf.AvgSellPrice = o.sellNotional.Div(o.sellVolume)
	}
	if o.buyVolume.IsPositive() && o.sellVolume.IsPositive() {
		perf.Spread = perf.AvgSellPrice.Sub(perf.AvgBuyPrice)
	}
	return perf
}

// GridService places ladders of limit orders and keeps them alive by replacing
// every filled leg with the opposite side one level away.
type GridService struct {
	config     GridConfig
	placer     legPlacer
	registry   *Registry[*gridOrder]
	supervisor *supervisor
	notifier   notifier
	now        func() time.Time
}

func NewGridService(ctx context.Context, config GridConfig, exchange entity.Exchange, observers ...entity.CompositeOrderObserver) *GridService {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultGridConfig().PollInterval
	}

	return &GridService{
		config:     config,
		placer:     legPlacer{kind: entity.CompositeKindGrid, exchange: exchange},
		registry:   NewRegistry[*gridOrder](),
		supervisor: newSupervisor(ctx),
		notifier:   notifier{observers: observers},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func validateGridRequest(req entity.GridOrderRequest) error {
	if req.Symbol == "" {
		return validationError("symbol is required")
	}
	if req.LevelCount < 2 || req.PriceMin.GreaterThanOrEqual(req.PriceMax) {
		return ErrInvalidRange
	}
	if !req.PriceMin.IsPositive() {
		return validationError("price_min must be positive")
	}
	if !req.TotalQuantity.IsPositive() {
		return validationError("total_quantity must be positive")
	}
	return nil
}

// Create places one limit leg per level, BUY below the range midpoint and SELL
// at or above it. Levels the exchange rejects are skipped. The grid fails only
// when no level could be placed.
func (s *GridService) Create(ctx context.Context, req entity.GridOrderRequest) (*entity.GridOrderSnapshot, error) {
	if err := validateGridRequest(req); err != nil {
		return nil, err
	}

	order := newGridOrder(req, s.now())
	logger := logrus.WithFields(logrus.Fields{
		"composite_id": order.id,
		"symbol":       req.Symbol,
		"level_count":  req.LevelCount,
		"price_min":    req.PriceMin.String(),
		"price_max":    req.PriceMax.String(),
	})

	mid := order.midpoint()
	var lastErr error
	placed := 0
	for level := range order.levels {
		price := order.levels[level].price
		side := entity.OrderSideSell
		if price.LessThan(mid) {
			side = entity.OrderSideBuy
		}

		leg, err := s.placer.place(ctx, entity.OrderRequest{
			Symbol:   req.Symbol,
			Side:     side,
			Type:     entity.OrderTypeLimit,
			Quantity: order.quantityPerLevel,
			Price:    decimal.NewNullDecimal(price),
		}, level)
		if err != nil {
			lastErr = err
			logger.WithFields(logrus.Fields{
				"level": level,
				"side":  side,
				"price": price.String(),
			}).WithError(err).Warn("failed to place grid level")
			continue
		}

		order.addLegLocked(leg)
		placed++
	}

	if placed == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoLevelsPlaced, lastErr)
	}

	s.registry.Put(order)
	recordCreated(entity.CompositeKindGrid)
	logger.WithField("placed_levels", placed).Info("grid order created")

	snapshot := order.snapshot()
	s.notifier.notify(entity.CompositeKindGrid, order.id, order.symbol, entity.CompositeOrderEventCreated, order.Status(), "", snapshot)

	s.supervisor.spawn(order.id, func(ctx context.Context) {
		s.supervisor.poll(ctx, s.config.PollInterval, func(ctx context.Context) bool {
			return s.pollGrid(ctx, order)
		})
	})

	return snapshot, nil
}

// pollGrid runs one monitor cycle and reports whether the monitor should exit.
func (s *GridService) pollGrid(ctx context.Context, order *gridOrder) bool {
	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	if ctx.Err() != nil || !order.isActive() {
		return true
	}

	for _, leg := range order.activeLegs() {
		status, err := s.placer.remoteStatus(ctx, order.symbol, leg.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			logrus.WithFields(logrus.Fields{
				"composite_id": order.id,
				"order_id":     leg.OrderID,
			}).WithError(err).Debug("failed to query grid leg")
			continue
		}

		if ctx.Err() != nil || !order.isActive() {
			return true
		}

		switch {
		case status.IsFilled():
			s.onLegFilled(context.WithoutCancel(ctx), order, leg, &batch)
		case status.IsGone():
			order.mu.Lock()
			order.retireCancelledLocked(leg)
			order.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"composite_id": order.id,
				"order_id":     leg.OrderID,
				"status":       status,
			}).Warn("grid leg left the book without filling")
		}
	}

	return false
}

// onLegFilled retires the filled leg and places the opposite side one level
// away. Replacements that would leave the configured range are dropped.
func (s *GridService) onLegFilled(ctx context.Context, order *gridOrder, leg entity.Leg, batch *eventBatch) {
	order.mu.Lock()
	retired := order.retireFilledLocked(leg)
	order.mu.Unlock()
	if !retired {
		return
	}

	metrics.LegsFilled.WithLabelValues(string(entity.CompositeKindGrid), string(leg.Side)).Inc()
	logger := logrus.WithFields(logrus.Fields{
		"composite_id": order.id,
		"order_id":     leg.OrderID,
		"side":         leg.Side,
		"price":        leg.Price.Decimal.String(),
	})
	logger.Info("grid leg filled")
	batch.add(entity.CompositeKindGrid, order.id, order.symbol, entity.CompositeOrderEventLegFilled, order.Status(), leg.OrderID, order.snapshot())

	nextLevel := leg.Level + 1
	if leg.Side == entity.OrderSideSell {
		nextLevel = leg.Level - 1
	}
	if nextLevel < 0 || nextLevel >= len(order.levels) {
		logger.WithField("level", nextLevel).Info("replacement outside grid range, skipped")
		return
	}

	price := order.levelPrice(nextLevel)
	replacement, err := s.placer.place(ctx, entity.OrderRequest{
		Symbol:   order.symbol,
		Side:     leg.Side.Opposite(),
		Type:     entity.OrderTypeLimit,
		Quantity: leg.Quantity,
		Price:    decimal.NewNullDecimal(price),
	}, nextLevel)
	if err != nil {
		logger.WithField("replacement_price", price.String()).WithError(err).Error("failed to place replacement leg")
		return
	}

	order.mu.Lock()
	order.addLegLocked(replacement)
	order.replacementLegs++
	order.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"replacement_order_id": replacement.OrderID,
		"replacement_side":     replacement.Side,
		"replacement_price":    price.String(),
	}).Info("grid replacement placed")
	batch.add(entity.CompositeKindGrid, order.id, order.symbol, entity.CompositeOrderEventLegReplaced, order.Status(), replacement.OrderID, order.snapshot())
}

// Cancel stops the monitor and cancels every leg still resting. The grid ends
// CANCELLED even when some leg cancels fail.
func (s *GridService) Cancel(ctx context.Context, id string) (*entity.GridOrderStatus, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	s.supervisor.stop(id)

	var batch eventBatch
	defer s.notifier.deliver(&batch)
	order.ops.Lock()
	defer order.ops.Unlock()

	if !order.isActive() {
		return nil, ErrNotActive
	}

	cleanupCtx := context.WithoutCancel(ctx)
	cancelled := 0
	legs := order.activeLegs()
	for _, leg := range legs {
		if err := s.placer.cancel(cleanupCtx, order.symbol, leg.OrderID); err != nil {
			logrus.WithFields(logrus.Fields{
				"composite_id": id,
				"order_id":     leg.OrderID,
			}).WithError(err).Warn("failed to cancel grid leg")
			continue
		}

		order.mu.Lock()
		order.retireCancelledLocked(leg)
		order.mu.Unlock()
		cancelled++
	}

	order.mu.Lock()
	order.finishLocked(entity.CompositeStatusCancelled, s.now())
	order.mu.Unlock()

	recordFinished(entity.CompositeKindGrid, entity.CompositeStatusCancelled)
	logrus.WithFields(logrus.Fields{
		"composite_id":   id,
		"cancelled_legs": cancelled,
		"active_legs":    len(legs),
	}).Info("grid order cancelled")
	batch.add(entity.CompositeKindGrid, id, order.symbol, entity.CompositeOrderEventCancelled, entity.CompositeStatusCancelled, "", order.snapshot())

	return order.summary(), nil
}

func (s *GridService) Get(id string) (*entity.GridOrderSnapshot, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.snapshot(), nil
}

func (s *GridService) Status(id string) (*entity.GridOrderStatus, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.summary(), nil
}

func (s *GridService) Performance(id string) (*entity.GridPerformance, error) {
	order, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return order.performance(), nil
}

func (s *GridService) ListActive() []entity.GridOrderStatus {
	var result []entity.GridOrderStatus
	for _, order := range s.registry.Values() {
		if !order.isActive() {
			continue
		}
		result = append(result, *order.summary())
	}
	return result
}

// Cleanup evicts terminal grids older than maxAge and returns how many were removed.
func (s *GridService) Cleanup(maxAge time.Duration) int {
	removed := Sweep(s.registry, maxAge, s.now())
	for _, order := range removed {
		metrics.OrdersEvicted.WithLabelValues(string(entity.CompositeKindGrid)).Inc()
		s.notifier.notify(entity.CompositeKindGrid, order.id, order.symbol, entity.CompositeOrderEventEvicted, order.Status(), "", nil)
	}
	return len(removed)
}

// Wait blocks until every grid monitor exited. Cancel the service context first.
func (s *GridService) Wait() {
	s.supervisor.waitAll()
}
