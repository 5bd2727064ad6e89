package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type ExchangeName string

const (
	ExchangeBinance ExchangeName = "binance"
	ExchangePaper   ExchangeName = "paper"
)

// Exchange places, cancels and queries primitive orders.
type Exchange interface {
	PlaceOrder(ctx context.Context, order OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID string) error
	GetOrderStatus(ctx context.Context, symbol string, orderID string) (*Order, error)
	GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
