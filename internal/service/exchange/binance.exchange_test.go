package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

// verifySignature checks the HMAC over everything before the signature parameter.
func verifySignature(t *testing.T, raw string) url.Values {
	t.Helper()
	idx := strings.LastIndex(raw, "&signature=")
	if idx == -1 {
		t.Errorf("payload %q has no signature", raw)
		return url.Values{}
	}

	payload, signature := raw[:idx], raw[idx+len("&signature="):]
	assert.Equal(t, hmacSHA256Hex(testAPISecret, payload), signature)

	values, err := url.ParseQuery(payload)
	assert.NoError(t, err)
	return values
}

func newTestBinance(t *testing.T, handler http.HandlerFunc) *BinanceExchange {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewBinanceExchange(config.ExchangeConfig{
		APIKey:    testAPIKey,
		APISecret: testAPISecret,
		BaseURL:   server.URL + "/",
	})
	client.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return client
}

func TestBinancePlaceLimitOrder(t *testing.T) {
	client := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, testAPIKey, r.Header.Get("X-MBX-APIKEY"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		params := verifySignature(t, string(body))

		assert.Equal(t, "BTCUSDT", params.Get("symbol"))
		assert.Equal(t, "BUY", params.Get("side"))
		assert.Equal(t, "LIMIT", params.Get("type"))
		assert.Equal(t, "0.5", params.Get("quantity"))
		assert.Equal(t, "100.25", params.Get("price"))
		assert.Equal(t, "GTC", params.Get("timeInForce"))
		assert.Equal(t, "g_abc", params.Get("newClientOrderId"))
		assert.Equal(t, "1700000000000", params.Get("timestamp"))
		assert.Equal(t, "5000", params.Get("recvWindow"))
		assert.Empty(t, params.Get("stopPrice"))

		_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"g_abc","symbol":"BTCUSDT","status":"NEW","side":"BUY","type":"LIMIT","price":"100.25","stopPrice":"0","avgPrice":"0.00000","origQty":"0.5","executedQty":"0","updateTime":1700000000123}`))
	})

	order, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Symbol:        "btcusdt",
		Side:          entity.OrderSideBuy,
		Type:          entity.OrderTypeLimit,
		Quantity:      decimal.RequireFromString("0.5"),
		Price:         decimal.NewNullDecimal(decimal.RequireFromString("100.25")),
		ClientOrderID: "g_abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "42", order.OrderID)
	assert.Equal(t, entity.OrderStatusNew, order.Status)
	assert.True(t, order.Price.Valid)
	assert.False(t, order.StopPrice.Valid)
	assert.True(t, decimal.RequireFromString("0.5").Equal(order.Quantity))
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), order.UpdatedAt)
}

func TestBinancePlaceStopMarketOrder(t *testing.T) {
	client := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		params := verifySignature(t, string(body))

		assert.Equal(t, "STOP_MARKET", params.Get("type"))
		assert.Equal(t, "90", params.Get("stopPrice"))
		assert.Empty(t, params.Get("price"))
		assert.Empty(t, params.Get("timeInForce"))

		_, _ = w.Write([]byte(`{"orderId":7,"symbol":"BTCUSDT","status":"NEW","side":"SELL","type":"STOP_MARKET","price":"0","stopPrice":"90","origQty":"1","executedQty":"0"}`))
	})

	order, err := client.PlaceOrder(context.Background(), entity.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      entity.OrderSideSell,
		Type:      entity.OrderTypeStopMarket,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewNullDecimal(decimal.NewFromInt(90)),
	})
	require.NoError(t, err)
	assert.Equal(t, "7", order.OrderID)
	assert.True(t, decimal.NewFromInt(90).Equal(order.StopPrice.Decimal))
}

func TestBinanceGetOrderStatusAndCancel(t *testing.T) {
	client := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		params := verifySignature(t, r.URL.RawQuery)
		assert.Equal(t, "BTCUSDT", params.Get("symbol"))
		assert.Equal(t, "42", params.Get("orderId"))
		assert.Equal(t, testAPIKey, r.Header.Get("X-MBX-APIKEY"))

		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"orderId":42,"symbol":"BTCUSDT","status":"FILLED","side":"BUY","type":"LIMIT","price":"100","avgPrice":"100","origQty":"1","executedQty":"1"}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"orderId":42,"symbol":"BTCUSDT","status":"CANCELED","side":"BUY","type":"LIMIT","price":"100","origQty":"1","executedQty":"0"}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	order, err := client.GetOrderStatus(context.Background(), "BTCUSDT", "42")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFilled, order.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(order.AvgPrice))

	assert.NoError(t, client.CancelOrder(context.Background(), "BTCUSDT", "42"))
}

func TestBinanceAPIError(t *testing.T) {
	client := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	err := client.CancelOrder(context.Background(), "BTCUSDT", "1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, -2011, apiErr.Code)
	assert.Equal(t, "Unknown order sent.", apiErr.Message)
}

func TestBinanceMissingCredentials(t *testing.T) {
	client := NewBinanceExchange(config.ExchangeConfig{BaseURL: "http://127.0.0.1:0"})

	_, err := client.GetOrderStatus(context.Background(), "BTCUSDT", "1")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestBinancePublicEndpoints(t *testing.T) {
	client := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		switch r.URL.Path {
		case "/fapi/v1/ticker/price":
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"2500.50"}`))
		case "/fapi/v1/time":
			_, _ = w.Write([]byte(`{"serverTime":1700000000000}`))
		default:
			http.NotFound(w, r)
		}
	})

	price, err := client.GetTickerPrice(context.Background(), "ethusdt")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2500.50").Equal(price))

	assert.NoError(t, client.TestConnectivity(context.Background()))
}

func TestNewBinanceExchangeDefaults(t *testing.T) {
	client := NewBinanceExchange(config.ExchangeConfig{RecvWindow: 120000})
	assert.Equal(t, BinanceFuturesTestnetBaseURL, client.baseURL)
	assert.Equal(t, binanceDefaultRecvWindow, client.recvWindow)
	assert.Equal(t, binanceDefaultTimeout, client.httpClient.Timeout)
}
