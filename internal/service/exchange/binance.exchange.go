package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	BinanceFuturesBaseURL        = "https://fapi.binance.com"
	BinanceFuturesTestnetBaseURL = "https://testnet.binancefuture.com"

	binanceDefaultRecvWindow = int64(5000)
	binanceMaxRecvWindow     = int64(60000)
	binanceDefaultTimeout    = 15 * time.Second
)

var ErrMissingCredentials = errors.New("binance credentials are missing in config")

// APIError is a rejection reported by the exchange, e.g. {"code":-2011,"msg":"Unknown order sent."}.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance request rejected: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

// BinanceExchange is a signed client for the Binance USDⓈ-M futures REST API.
type BinanceExchange struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	now        func() time.Time
}

type binanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	UpdateTime    int64  `json:"updateTime"`
}

func NewBinanceExchange(exchangeConfig config.ExchangeConfig) *BinanceExchange {
	baseURL := strings.TrimSpace(exchangeConfig.BaseURL)
	if baseURL == "" {
		baseURL = BinanceFuturesTestnetBaseURL
	}

	recvWindow := exchangeConfig.RecvWindow
	if recvWindow <= 0 || recvWindow > binanceMaxRecvWindow {
		recvWindow = binanceDefaultRecvWindow
	}

	timeout := exchangeConfig.Timeout
	if timeout <= 0 {
		timeout = binanceDefaultTimeout
	}

	return &BinanceExchange{
		apiKey:     strings.TrimSpace(exchangeConfig.APIKey),
		apiSecret:  strings.TrimSpace(exchangeConfig.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func InitBinanceExchange(exchangeConfig config.ExchangeConfig) *BinanceExchange {
	newExchange := NewBinanceExchange(exchangeConfig)
	RegisterExchange(entity.ExchangeBinance, newExchange)
	return newExchange
}

func (e *BinanceExchange) PlaceOrder(ctx context.Context, order entity.OrderRequest) (*entity.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", string(order.Side))
	params.Set("type", string(order.Type))
	params.Set("quantity", order.Quantity.String())

	if order.Price.Valid {
		params.Set("price", order.Price.Decimal.String())
	}
	if order.StopPrice.Valid {
		params.Set("stopPrice", order.StopPrice.Decimal.String())
	}
	if order.TimeInForce != "" {
		params.Set("timeInForce", string(order.TimeInForce))
	} else if order.Type == entity.OrderTypeLimit {
		params.Set("timeInForce", string(entity.TimeInForceGTC))
	}
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	var resp binanceOrderResponse
	if err := e.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}

	placed, err := resp.toOrder()
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"exchange": entity.ExchangeBinance,
		"symbol":   placed.Symbol,
		"type":     placed.Type,
		"side":     placed.Side,
		"quantity": order.Quantity.String(),
		"order_id": placed.OrderID,
		"status":   placed.Status,
	}).Info("order placed")

	return placed, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)

	var resp binanceOrderResponse
	return e.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, &resp)
}

func (e *BinanceExchange) GetOrderStatus(ctx context.Context, symbol string, orderID string) (*entity.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)

	var resp binanceOrderResponse
	if err := e.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder()
}

func (e *BinanceExchange) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := e.publicRequest(ctx, "/fapi/v1/ticker/price", params, &resp); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid binance ticker price: %w", err)
	}
	return price, nil
}

// TestConnectivity pings the server time endpoint.
func (e *BinanceExchange) TestConnectivity(ctx context.Context) error {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := e.publicRequest(ctx, "/fapi/v1/time", nil, &resp); err != nil {
		return err
	}
	if resp.ServerTime <= 0 {
		return fmt.Errorf("binance server time missing")
	}
	return nil
}

func (e *BinanceExchange) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if e.apiKey == "" || e.apiSecret == "" {
		return ErrMissingCredentials
	}

	params.Set("timestamp", strconv.FormatInt(e.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(e.recvWindow, 10))

	payload := params.Encode()
	signed := payload + "&signature=" + hmacSHA256Hex(e.apiSecret, payload)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path, strings.NewReader(signed))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path+"?"+signed, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", e.apiKey)

	return e.do(req, out)
}

func (e *BinanceExchange) publicRequest(ctx context.Context, path string, params url.Values, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	endpoint := e.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return e.do(req, out)
}

func (e *BinanceExchange) do(req *http.Request, out any) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiResp); err != nil || apiResp.Msg == "" {
			apiResp.Msg = strings.TrimSpace(string(body))
		}
		if apiResp.Msg == "" {
			apiResp.Msg = "unknown error"
		}
		return &APIError{StatusCode: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance response parse failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

func (r binanceOrderResponse) toOrder() (*entity.Order, error) {
	quantity, err := decimalOrZero(r.OrigQty)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order quantity: %w", err)
	}
	executedQty, err := decimalOrZero(r.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("invalid binance executed quantity: %w", err)
	}
	avgPrice, err := decimalOrZero(r.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid binance average price: %w", err)
	}
	price, err := nullDecimalOrZero(r.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order price: %w", err)
	}
	stopPrice, err := nullDecimalOrZero(r.StopPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid binance stop price: %w", err)
	}

	updatedAt := time.Now().UTC()
	if r.UpdateTime > 0 {
		updatedAt = time.UnixMilli(r.UpdateTime).UTC()
	}

	return &entity.Order{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          entity.OrderSide(r.Side),
		Type:          entity.OrderType(r.Type),
		Price:         price,
		StopPrice:     stopPrice,
		Quantity:      quantity,
		ExecutedQty:   executedQty,
		AvgPrice:      avgPrice,
		Status:        entity.OrderStatus(r.Status),
		UpdatedAt:     updatedAt,
	}, nil
}

func decimalOrZero(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

// nullDecimalOrZero treats "0" as absent, the exchange reports unused prices that way.
func nullDecimalOrZero(raw string) (decimal.NullDecimal, error) {
	value, err := decimalOrZero(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if value.IsZero() {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(value), nil
}

func hmacSHA256Hex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
