package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
)

type GridOrderRequest struct {
	Symbol        string `json:"symbol"`
	LevelCount    int    `json:"level_count"`
	PriceMin      string `json:"price_min"`
	PriceMax      string `json:"price_max"`
	TotalQuantity string `json:"total_quantity"`
}

type OCOOrderRequest struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	TakeProfitPrice string `json:"take_profit_price"`
	StopLossPrice   string `json:"stop_loss_price"`
}

type BracketOrderRequest struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	EntryPrice      string `json:"entry_price"`
	TakeProfitPrice string `json:"take_profit_price"`
	StopLossPrice   string `json:"stop_loss_price"`
}

// TWAPOrderRequest takes duration and interval as Go duration strings such as "10m".
type TWAPOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	TotalQuantity string `json:"total_quantity"`
	Duration      string `json:"duration"`
	Interval      string `json:"interval"`
}

type PaperPriceRequest struct {
	Price string `json:"price"`
}

type PaperPriceResponse struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	OrdersMatched int             `json:"orders_matched"`
}

type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field, raw string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		p.err = fmt.Errorf("invalid %s", field)
		return decimal.Zero
	}
	return value
}

func parseSide(raw string) entity.OrderSide {
	return entity.OrderSide(strings.ToUpper(strings.TrimSpace(raw)))
}

func (r GridOrderRequest) toEntity() (entity.GridOrderRequest, error) {
	var p decimalParser
	req := entity.GridOrderRequest{
		Symbol:        strings.ToUpper(strings.TrimSpace(r.Symbol)),
		LevelCount:    r.LevelCount,
		PriceMin:      p.parse("price_min", r.PriceMin),
		PriceMax:      p.parse("price_max", r.PriceMax),
		TotalQuantity: p.parse("total_quantity", r.TotalQuantity),
	}
	return req, p.err
}

func (r OCOOrderRequest) toEntity() (entity.OCOOrderRequest, error) {
	var p decimalParser
	req := entity.OCOOrderRequest{
		Symbol:          strings.ToUpper(strings.TrimSpace(r.Symbol)),
		ExitSide:        parseSide(r.Side),
		Quantity:        p.parse("quantity", r.Quantity),
		TakeProfitPrice: p.parse("take_profit_price", r.TakeProfitPrice),
		StopLossPrice:   p.parse("stop_loss_price", r.StopLossPrice),
	}
	return req, p.err
}

func (r BracketOrderRequest) toEntity() (entity.BracketOrderRequest, error) {
	var p decimalParser
	req := entity.BracketOrderRequest{
		Symbol:          strings.ToUpper(strings.TrimSpace(r.Symbol)),
		EntrySide:       parseSide(r.Side),
		Quantity:        p.parse("quantity", r.Quantity),
		EntryPrice:      p.parse("entry_price", r.EntryPrice),
		TakeProfitPrice: p.parse("take_profit_price", r.TakeProfitPrice),
		StopLossPrice:   p.parse("stop_loss_price", r.StopLossPrice),
	}
	return req, p.err
}

func (r TWAPOrderRequest) toEntity() (entity.TWAPOrderRequest, error) {
	var p decimalParser
	req := entity.TWAPOrderRequest{
		Symbol:        strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:          parseSide(r.Side),
		TotalQuantity: p.parse("total_quantity", r.TotalQuantity),
	}
	if p.err != nil {
		return req, p.err
	}

	duration, err := time.ParseDuration(strings.TrimSpace(r.Duration))
	if err != nil {
		return req, errors.New("invalid duration")
	}
	interval, err := time.ParseDuration(strings.TrimSpace(r.Interval))
	if err != nil {
		return req, errors.New("invalid interval")
	}
	req.Duration = duration
	req.Interval = interval
	return req, nil
}
