package exchange

import (
	"context"
	"testing"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limit(side entity.OrderSide, price int64) entity.OrderRequest {
	return entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     entity.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(price)),
	}
}

func TestPaperExchangeMatchesRestingOrders(t *testing.T) {
	ctx := context.Background()
	paper := NewPaperExchange()

	buy, err := paper.PlaceOrder(ctx, limit(entity.OrderSideBuy, 95))
	require.NoError(t, err)
	sell, err := paper.PlaceOrder(ctx, limit(entity.OrderSideSell, 110))
	require.NoError(t, err)
	stop, err := paper.PlaceOrder(ctx, entity.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      entity.OrderSideSell,
		Type:      entity.OrderTypeStopMarket,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewNullDecimal(decimal.NewFromInt(90)),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, paper.SetPrice("BTCUSDT", decimal.NewFromInt(100)))
	assert.Equal(t, 1, paper.SetPrice("btcusdt", decimal.NewFromInt(94)))

	current, err := paper.GetOrderStatus(ctx, "BTCUSDT", buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, current.Status)
	assert.True(t, decimal.NewFromInt(95).Equal(current.AvgPrice))

	assert.Equal(t, 1, paper.SetPrice("BTCUSDT", decimal.NewFromInt(89)))
	current, err = paper.GetOrderStatus(ctx, "BTCUSDT", stop.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, current.Status)
	assert.True(t, decimal.NewFromInt(89).Equal(current.AvgPrice))

	current, err = paper.GetOrderStatus(ctx, "BTCUSDT", sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusNew, current.Status)
}

func TestPaperExchangeMarketOrderNeedsPrice(t *testing.T) {
	ctx := context.Background()
	paper := NewPaperExchange()
	market := entity.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     entity.OrderSideBuy,
		Type:     entity.OrderTypeMarket,
		Quantity: decimal.NewFromInt(2),
	}

	_, err := paper.PlaceOrder(ctx, market)
	assert.Error(t, err)

	paper.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	order, err := paper.PlaceOrder(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.True(t, decimal.NewFromInt(2).Equal(order.ExecutedQty))

	price, err := paper.GetTickerPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(price))
}

func TestPaperExchangeCancel(t *testing.T) {
	ctx := context.Background()
	paper := NewPaperExchange()

	order, err := paper.PlaceOrder(ctx, limit(entity.OrderSideBuy, 95))
	require.NoError(t, err)

	require.NoError(t, paper.CancelOrder(ctx, "BTCUSDT", order.OrderID))
	assert.Error(t, paper.CancelOrder(ctx, "BTCUSDT", order.OrderID))
	assert.Error(t, paper.CancelOrder(ctx, "BTCUSDT", "paper-404"))

	assert.Equal(t, 0, paper.SetPrice("BTCUSDT", decimal.NewFromInt(90)))
	current, err := paper.GetOrderStatus(ctx, "BTCUSDT", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCanceled, current.Status)
}

func TestExchangeRegistry(t *testing.T) {
	paper := InitPaperExchange()

	registered, err := GetExchange(entity.ExchangePaper)
	require.NoError(t, err)
	assert.Same(t, paper, registered)

	_, err = GetExchange("unknown")
	assert.Error(t, err)
}
