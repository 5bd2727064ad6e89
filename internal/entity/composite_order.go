package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type CompositeKind string
type CompositeStatus string
type LegStatus string

const (
	CompositeKindGrid CompositeKind = "GRID"
	CompositeKindOCO  CompositeKind = "OCO"
	CompositeKindTWAP CompositeKind = "TWAP"

	CompositeStatusActive              CompositeStatus = "ACTIVE"
	CompositeStatusCompleted           CompositeStatus = "COMPLETED"
	CompositeStatusCompletedTakeProfit CompositeStatus = "COMPLETED_TAKE_PROFIT"
	CompositeStatusCompletedStopLoss   CompositeStatus = "COMPLETED_STOP_LOSS"
	CompositeStatusCancelled           CompositeStatus = "CANCELLED"
	CompositeStatusFailed              CompositeStatus = "FAILED"

	LegStatusActive    LegStatus = "ACTIVE"
	LegStatusFilled    LegStatus = "FILLED"
	LegStatusCancelled LegStatus = "CANCELLED"
)

func (s CompositeStatus) IsTerminal() bool {
	return s != CompositeStatusActive
}

// Leg is a primitive exchange order owned by exactly one composite order.
type Leg struct {
	OrderID       string              `json:"order_id"`
	ClientOrderID string              `json:"client_order_id"`
	Side          OrderSide           `json:"side"`
	Type          OrderType           `json:"type"`
	Price         decimal.NullDecimal `json:"price"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Status        LegStatus           `json:"status"`
	Level         int                 `json:"level"`
}

type GridOrderRequest struct {
	Symbol        string
	LevelCount    int
	PriceMin      decimal.Decimal
	PriceMax      decimal.Decimal
	TotalQuantity decimal.Decimal
}

type GridOrderSnapshot struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Status           CompositeStatus `json:"status"`
	PriceMin         decimal.Decimal `json:"price_min"`
	PriceMax         decimal.Decimal `json:"price_max"`
	LevelCount       int             `json:"level_count"`
	PriceStep        decimal.Decimal `json:"price_step"`
	QuantityPerLevel decimal.Decimal `json:"quantity_per_level"`
	ActiveLegs       []Leg           `json:"active_legs"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

type GridOrderStatus struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Status          CompositeStatus `json:"status"`
	TotalLegs       int             `json:"total_legs"`
	ActiveLegs      int             `json:"active_legs"`
	FilledLegs      int             `json:"filled_legs"`
	CancelledLegs   int             `json:"cancelled_legs"`
	ReplacementLegs int             `json:"replacement_legs"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

type GridPerformance struct {
	ID              string          `json:"id"`
	TotalFilledLegs int             `json:"total_filled_legs"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	BuyVolume       decimal.Decimal `json:"buy_volume"`
	SellVolume      decimal.Decimal `json:"sell_volume"`
	AvgBuyPrice     decimal.Decimal `json:"avg_buy_price"`
	AvgSellPrice    decimal.Decimal `json:"avg_sell_price"`
	Spread          decimal.Decimal `json:"spread"`
}

type OCOOrderRequest struct {
	Symbol          string
	ExitSide        OrderSide
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
}

type OCOOrderSnapshot struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	Status          CompositeStatus `json:"status"`
	TakeProfit      Leg             `json:"take_profit"`
	StopLoss        Leg             `json:"stop_loss"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// OCOOrderStatus adds the live remote leg statuses to the local record.
type OCOOrderStatus struct {
	OCOOrderSnapshot
	TakeProfitRemoteStatus OrderStatus `json:"take_profit_remote_status"`
	StopLossRemoteStatus   OrderStatus `json:"stop_loss_remote_status"`
}

type BracketOrderRequest struct {
	Symbol          string
	EntrySide       OrderSide
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
}

type BracketOrder struct {
	EntryLeg Leg              `json:"entry_leg"`
	OCO      OCOOrderSnapshot `json:"oco"`
}

type TWAPOrderRequest struct {
	Symbol        string
	Side          OrderSide
	TotalQuantity decimal.Decimal
	Duration      time.Duration
	Interval      time.Duration
}

type TWAPOrderSnapshot struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	Side              OrderSide       `json:"side"`
	Status            CompositeStatus `json:"status"`
	TotalQuantity     decimal.Decimal `json:"total_quantity"`
	ChunkQuantity     decimal.Decimal `json:"chunk_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	SliceCount        int             `json:"slice_count"`
	ExecutedSlices    int             `json:"executed_slices"`
	Duration          time.Duration   `json:"duration"`
	Interval          time.Duration   `json:"interval"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}
