package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "TradePilot/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

func testCreds() Credentials {
	return Credentials{APIKey: "key-1", APISecret: "secret-1", Passphrase: "pass-1"}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// verifyBinanceSignature 校验 query 中的签名和公共参数。
func verifyBinanceSignature(t *testing.T, r *http.Request) {
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	if !assert.True(t, idx > 0, "missing signature") {
		return
	}
	assert.Equal(t, signHex("secret-1", raw[:idx]), raw[idx+len("&signature="):])
	assert.Equal(t, "key-1", r.Header.Get("X-MBX-APIKEY"))
	assert.Equal(t, "1700000000000", r.URL.Query().Get("timestamp"))
	assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))
}

func TestBinanceMarketBuyByQuoteAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		verifyBinanceSignature(t, r)
		q := r.URL.Query()
		assert.Equal(t, "PEPEUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "25", q.Get("quoteOrderQty"))
		assert.Empty(t, q.Get("quantity"))
		assert.NotEmpty(t, q.Get("newClientOrderId"))
		respondJSON(w, http.StatusOK, map[string]any{
			"symbol": "PEPEUSDT", "orderId": 991, "clientOrderId": q.Get("newClientOrderId"),
			"origQty": "2500000", "executedQty": "2500000", "cummulativeQuoteQty": "25",
			"status": "FILLED", "type": "MARKET", "side": "BUY",
		})
	}))
	defer srv.Close()

	venue := NewBinance(Config{BaseURL: srv.URL, Now: fixedNow})
	order, err := venue.PlaceMarketOrder(t.Context(), testCreds(), MarketOrderRequest{
		Symbol: "pepeusdt", Side: SideBuy, QuoteAmount: decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	assert.Equal(t, "991", order.OrderID)
	assert.Equal(t, OrderTypeMarket, order.Type)
	assert.Equal(t, SideBuy, order.Side)
	assert.Equal(t, "filled", order.Status)
	assert.True(t, order.ExecutedQuantity.Equal(decimal.NewFromInt(2_500_000)))
}

func TestBinanceTriggerOrderTypes(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyBinanceSignature(t, r)
		q := r.URL.Query()
		mu.Lock()
		seen = append(seen, q.Get("type"))
		mu.Unlock()
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, q.Get("stopPrice"), q.Get("price"))
		respondJSON(w, http.StatusOK, map[string]any{"symbol": "PEPEUSDT", "orderId": 1, "type": q.Get("type"), "side": "SELL", "status": "NEW"})
	}))
	defer srv.Close()

	venue := NewBinance(Config{BaseURL: srv.URL, Now: fixedNow})
	for _, kind := range []TriggerKind{TriggerTakeProfit, TriggerStopLoss} {
		order, err := venue.PlaceTriggerOrder(t.Context(), testCreds(), TriggerOrderRequest{
			Symbol: "PEPEUSDT", Kind: kind, Quantity: decimal.NewFromInt(10), TriggerPrice: decimal.RequireFromString("0.5"),
		})
		require.NoError(t, err)
		assert.Equal(t, OrderTypeTrigger, order.Type)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"TAKE_PROFIT_LIMIT", "STOP_LOSS_LIMIT"}, seen)
}

func TestBinanceInsufficientBalanceMapsToInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusBadRequest, map[string]any{"code": -2010, "msg": "Account has insufficient balance for requested action."})
	}))
	defer srv.Close()

	_, err := NewBinance(Config{BaseURL: srv.URL}).PlaceMarketOrder(t.Context(), testCreds(), MarketOrderRequest{
		Symbol: "PEPEUSDT", Side: SideSell, Quantity: decimal.NewFromInt(1),
	})
	assert.Equal(t, xerrors.CodeInsufficientFunds, xerrors.CodeOf(err))
}

func TestBinanceAPIErrorCarriesVenueCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusBadRequest, map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	_, err := NewBinance(Config{BaseURL: srv.URL}).PlaceLimitOrder(t.Context(), testCreds(), LimitOrderRequest{
		Symbol: "NOPEUSDT", Side: SideBuy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(2),
	})
	typed, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.CodeProviderError, typed.Code())
	assert.Equal(t, "-1121", typed.Meta("venue_code"))
	assert.Equal(t, "400", typed.Meta("status"))
	assert.Contains(t, typed.Message(), "Invalid symbol.")
}

func TestBinanceGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		verifyBinanceSignature(t, r)
		respondJSON(w, http.StatusOK, map[string]any{"balances": []map[string]string{
			{"asset": "USDT", "free": "120.5", "locked": "3"},
		}})
	}))
	defer srv.Close()

	venue := NewBinance(Config{BaseURL: srv.URL, Now: fixedNow})
	balance, err := venue.GetBalance(t.Context(), testCreds(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, "120.5", balance.Free.String())
	assert.Equal(t, "3", balance.Locked.String())

	missing, err := venue.GetBalance(t.Context(), testCreds(), "PEPE")
	require.NoError(t, err)
	assert.True(t, missing.Free.IsZero())
}

func TestBinanceCancelAndOpenOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "42", r.URL.Query().Get("orderId"))
		respondJSON(w, http.StatusOK, map[string]any{"orderId": 42, "status": "CANCELED"})
	})
	mux.HandleFunc("/api/v3/openOrders", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, []map[string]any{
			{"symbol": "PEPEUSDT", "orderId": 7, "type": "LIMIT", "side": "SELL", "origQty": "5", "price": "0.1", "status": "NEW"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	venue := NewBinance(Config{BaseURL: srv.URL})
	require.NoError(t, venue.CancelOrder(t.Context(), testCreds(), "PEPEUSDT", "42"))

	orders, err := venue.GetOpenOrders(t.Context(), testCreds(), "PEPEUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, OrderTypeLimit, orders[0].Type)
	assert.Equal(t, SideSell, orders[0].Side)
}

func TestBinanceRejectsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	venue := NewBinance(Config{BaseURL: srv.URL})
	_, err := venue.PlaceMarketOrder(t.Context(), Credentials{}, MarketOrderRequest{
		Symbol: "PEPEUSDT", Side: SideBuy, QuoteAmount: decimal.NewFromInt(1),
	})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = venue.PlaceMarketOrder(t.Context(), testCreds(), MarketOrderRequest{
		Symbol: "PEPEUSDT", Side: SideSell, QuoteAmount: decimal.NewFromInt(1),
	})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	assert.Equal(t, CodeUnsupported, xerrors.CodeOf(venue.SetLeverage(t.Context(), testCreds(), "PEPEUSDT", 5)))
	assert.Zero(t, calls.Load())
}

func TestNewVenueByName(t *testing.T) {
	v, err := New("Binance", Config{})
	require.NoError(t, err)
	assert.Equal(t, VenueBinance, v.Name())

	v, err = New("bitget", Config{})
	require.NoError(t, err)
	assert.Equal(t, VenueBitget, v.Name())

	_, err = New("kraken", Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
