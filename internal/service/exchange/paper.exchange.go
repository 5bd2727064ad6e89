package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PaperExchange simulates an exchange in memory. Market orders fill at the
// last price right away, resting orders fill when SetPrice crosses them.
type PaperExchange struct {
	mu     sync.Mutex
	nextID int64
	orders map[string]*entity.Order
	prices map[string]decimal.Decimal
	now    func() time.Time
}

func NewPaperExchange() *PaperExchange {
	return &PaperExchange{
		orders: make(map[string]*entity.Order),
		prices: make(map[string]decimal.Decimal),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func InitPaperExchange() *PaperExchange {
	newExchange := NewPaperExchange()
	RegisterExchange(entity.ExchangePaper, newExchange)
	return newExchange
}

func (e *PaperExchange) PlaceOrder(ctx context.Context, req entity.OrderRequest) (*entity.Order, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := strings.ToUpper(req.Symbol)
	switch req.Type {
	case entity.OrderTypeMarket:
		if _, ok := e.prices[symbol]; !ok {
			return nil, fmt.Errorf("paper exchange has no price for %s", symbol)
		}
	case entity.OrderTypeLimit:
		if !req.Price.Valid {
			return nil, fmt.Errorf("paper limit order requires a price")
		}
	case entity.OrderTypeStopMarket:
		if !req.StopPrice.Valid {
			return nil, fmt.Errorf("paper stop market order requires a stop price")
		}
	default:
		return nil, fmt.Errorf("unsupported order type for paper exchange: %s", req.Type)
	}

	e.nextID++
	order := &entity.Order{
		OrderID:       fmt.Sprintf("paper-%d", e.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		ExecutedQty:   decimal.Zero,
		AvgPrice:      decimal.Zero,
		Status:        entity.OrderStatusNew,
		UpdatedAt:     e.now(),
	}
	e.orders[order.OrderID] = order

	if price, ok := e.prices[symbol]; ok {
		e.matchLocked(order, price)
	}

	placed := *order
	return &placed, nil
}

func (e *PaperExchange) CancelOrder(ctx context.Context, _ string, orderID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order not found: %s", orderID)
	}
	if order.Status != entity.OrderStatusNew {
		return fmt.Errorf("paper order %s cannot be cancelled in status %s", orderID, order.Status)
	}

	order.Status = entity.OrderStatusCanceled
	order.UpdatedAt = e.now()
	return nil
}

func (e *PaperExchange) GetOrderStatus(ctx context.Context, _ string, orderID string) (*entity.Order, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper order not found: %s", orderID)
	}
	current := *order
	return &current, nil
}

func (e *PaperExchange) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if ctx.Err() != nil {
		return decimal.Zero, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper exchange has no price for %s", symbol)
	}
	return price, nil
}

// SetPrice records the last traded price and fills every resting order it crosses.
// It returns how many orders filled.
func (e *PaperExchange) SetPrice(symbol string, price decimal.Decimal) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	e.prices[symbol] = price

	filled := 0
	for _, order := range e.orders {
		if order.Symbol != symbol || order.Status != entity.OrderStatusNew {
			continue
		}
		if e.matchLocked(order, price) {
			filled++
		}
	}
	return filled
}

func (e *PaperExchange) matchLocked(order *entity.Order, price decimal.Decimal) bool {
	fillPrice := price
	switch order.Type {
	case entity.OrderTypeMarket:
	case entity.OrderTypeLimit:
		limit := order.Price.Decimal
		crossed := (order.Side == entity.OrderSideBuy && price.LessThanOrEqual(limit)) ||
			(order.Side == entity.OrderSideSell && price.GreaterThanOrEqual(limit))
		if !crossed {
			return false
		}
		fillPrice = limit
	case entity.OrderTypeStopMarket:
		stop := order.StopPrice.Decimal
		triggered := (order.Side == entity.OrderSideBuy && price.GreaterThanOrEqual(stop)) ||
			(order.Side == entity.OrderSideSell && price.LessThanOrEqual(stop))
		if !triggered {
			return false
		}
	default:
		return false
	}

	order.Status = entity.OrderStatusFilled
	order.ExecutedQty = order.Quantity
	order.AvgPrice = fillPrice
	order.UpdatedAt = e.now()

	logrus.WithFields(logrus.Fields{
		"exchange": entity.ExchangePaper,
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"type":     order.Type,
		"price":    fillPrice.String(),
		"quantity": order.Quantity.String(),
	}).Info("paper order filled")
	return true
}
