package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"TradePilot/internal/aggregator"
	"TradePilot/internal/auth"
	"TradePilot/internal/bridge"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/signal"
	"TradePilot/internal/task"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"
	"TradePilot/internal/web3/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenAddr = "0x1111111111111111111111111111111111111111"

type fakeResolver struct {
	signer web3.Signer
}

func (f fakeResolver) Wallet(ref string) (web3.Signer, error) {
	if ref != "" && ref != "main" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown wallet: "+ref)
	}
	return f.signer, nil
}

func (f fakeResolver) Exchange(ref string) (*exchange.Credentials, error) {
	if ref != "" && ref != "main" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown exchange account: "+ref)
	}
	return &exchange.Credentials{APIKey: "k", APISecret: "s"}, nil
}

type fakeOnchain struct {
	result   trade.Result
	gotToken string
	gotAmt   string
	gotAddr  common.Address
	taker    string
}

func (f *fakeOnchain) Buy(_ context.Context, signer web3.Signer, token, amount string) trade.Result {
	f.gotToken, f.gotAmt, f.gotAddr = token, amount, signer.Address()
	return f.result
}

func (f *fakeOnchain) Sell(_ context.Context, signer web3.Signer, token, amount string) trade.Result {
	f.gotToken, f.gotAmt, f.gotAddr = token, amount, signer.Address()
	return f.result
}

func (f *fakeOnchain) Quote(_ context.Context, _, _, _ string, taker string) (aggregator.SwapQuote, error) {
	f.taker = taker
	return aggregator.SwapQuote{Provider: aggregator.TagPrimary, Value: big.NewInt(0), AmountOut: big.NewInt(42)}, nil
}

type fakeExchange struct {
	quote    decimal.Decimal
	size     decimal.Decimal
	leverage int
	tp       *decimal.Decimal
	sold     decimal.Decimal
	limit    decimal.Decimal
	canceled string
}

func (f *fakeExchange) BuyWithBracket(_ context.Context, _ exchange.Credentials, symbol string, quote decimal.Decimal, tp, _ *decimal.Decimal) (exchange.BracketResult, error) {
	f.quote, f.tp = quote, tp
	return exchange.BracketResult{Order: exchange.Order{Symbol: symbol, OrderID: "1", Side: exchange.SideBuy}}, nil
}

func (f *fakeExchange) Sell(_ context.Context, _ exchange.Credentials, symbol string, qty decimal.Decimal) (exchange.Order, error) {
	f.sold = qty
	return exchange.Order{Symbol: symbol, OrderID: "2", Side: exchange.SideSell}, nil
}

func (f *fakeExchange) OpenLeveragedPosition(_ context.Context, _ exchange.Credentials, symbol string, size decimal.Decimal, leverage int, side exchange.Side, _, _ *decimal.Decimal) (exchange.BracketResult, error) {
	f.size, f.leverage = size, leverage
	return exchange.BracketResult{Order: exchange.Order{Symbol: symbol, OrderID: "3", Side: side}}, nil
}

func (f *fakeExchange) FreeBalance(context.Context, exchange.Credentials, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("12.5"), nil
}

func (f *fakeExchange) PlaceLimit(_ context.Context, _ exchange.Credentials, symbol string, side exchange.Side, qty, price decimal.Decimal) (exchange.Order, error) {
	f.limit = price
	return exchange.Order{Symbol: symbol, OrderID: "4", Side: side, Type: exchange.OrderTypeLimit, Quantity: qty, Price: price}, nil
}

func (f *fakeExchange) Cancel(_ context.Context, _ exchange.Credentials, symbol, orderID string) error {
	f.canceled = symbol + "/" + orderID
	return nil
}

func (f *fakeExchange) OpenOrders(_ context.Context, _ exchange.Credentials, symbol string) ([]exchange.Order, error) {
	return []exchange.Order{{Symbol: symbol, OrderID: "4", Type: exchange.OrderTypeLimit}}, nil
}

type fakeSignals struct {
	sig   signal.Signal
	creds bridge.Credentials
}

func (f *fakeSignals) Execute(_ context.Context, sig signal.Signal, creds bridge.Credentials) trade.Result {
	f.sig, f.creds = sig, creds
	return trade.Result{Success: true, OrderID: "9"}
}

type fixture struct {
	handler  http.Handler
	onchain  *fakeOnchain
	exchange *fakeExchange
	signals  *fakeSignals
	wallet   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := wallet.FromKey(key)

	f := &fixture{
		onchain:  &fakeOnchain{result: trade.Result{Success: true, TxHash: "0xabc", AmountReceived: "100"}},
		exchange: &fakeExchange{},
		signals:  &fakeSignals{},
		wallet:   crypto.PubkeyToAddress(key.PublicKey),
	}
	jobs := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(16), 3)
	server := NewServer(":0", Deps{
		Signals:     f.signals,
		Onchain:     f.onchain,
		Exchange:    f.exchange,
		Jobs:        jobs,
		Credentials: fakeResolver{signer: signer},
	})
	f.handler = server.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"onchain":true`)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeProbe struct {
	err error
}

func (p fakeProbe) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	if p.err != nil {
		return web3.ChainSnapshot{}, p.err
	}
	return web3.ChainSnapshot{ChainID: "0x2105", BlockNumber: "0x10"}, nil
}

func TestHealthReportsChainSnapshot(t *testing.T) {
	handler := NewServer(":0", Deps{Chain: fakeProbe{}}).Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Status string             `json:"status"`
		Chain  web3.ChainSnapshot `json:"chain"`
	}](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "0x2105", body.Chain.ChainID)
	assert.Equal(t, "0x10", body.Chain.BlockNumber)

	handler = NewServer(":0", Deps{Chain: fakeProbe{err: errors.New("rpc down")}}).Handler()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "rpc down")
}

func TestExtractSignals(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/signals/extract", map[string]any{
		"posts": []map[string]any{{"id": "p1", "title": "buying $PEPE, looks ready to pump", "upvotes": 20, "downvotes": 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[signalsResponse](t, rec)
	require.Len(t, resp.Signals, 1)
	assert.Equal(t, "PEPE", resp.Signals[0].Token)
	assert.InDelta(t, 0.86, resp.Signals[0].Confidence, 1e-9)
}

func TestExtractValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/signals/extract", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorEnvelope](t, rec)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "ERR_REQUIRED", resp.Error.Details[0].Code)
	assert.Equal(t, "posts", resp.Error.Details[0].Field)

	rec = f.do(t, http.MethodPost, "/api/v1/signals/extract", map[string]any{"posts": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_MIN", decode[errorEnvelope](t, rec).Error.Details[0].Code)
}

func TestBuyAndSell(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/trades/buy", map[string]any{"token": tokenAddr, "amount": "0.01"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[trade.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "0xabc", res.TxHash)
	assert.Equal(t, f.wallet, f.onchain.gotAddr)
	assert.Equal(t, "0.01", f.onchain.gotAmt)

	rec = f.do(t, http.MethodPost, "/api/v1/trades/sell", map[string]any{"token": tokenAddr})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trade.SellAll, f.onchain.gotAmt)
}

func TestTradeFailureMapsStatus(t *testing.T) {
	f := newFixture(t)
	f.onchain.result = trade.Failure(xerrors.New(xerrors.CodeInsufficientFunds, "余额不足"))

	rec := f.do(t, http.MethodPost, "/api/v1/trades/buy", map[string]any{"token": tokenAddr, "amount": "5"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	res := decode[trade.Result](t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeInsufficientFunds, res.ErrorKind)

	rec = f.do(t, http.MethodPost, "/api/v1/trades/buy", map[string]any{"token": tokenAddr, "amount": "1", "wallet": "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/trades/buy", map[string]any{"token": tokenAddr, "amount": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteUsesWalletAsTaker(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/swaps/quote", map[string]any{
		"sell_token": "0x0000000000000000000000000000000000000000", "buy_token": tokenAddr, "amount": "1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.wallet.Hex(), f.onchain.taker)

	rec = f.do(t, http.MethodPost, "/api/v1/swaps/quote", map[string]any{
		"sell_token": tokenAddr, "buy_token": tokenAddr, "amount": "1", "taker": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteSignalSync(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/signals/execute", map[string]any{
		"action": "buy", "token": "PEPE", "take_profit": "2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PEPE", f.signals.sig.Token)
	assert.Equal(t, 1.0, f.signals.sig.Confidence)
	assert.Equal(t, "2", f.signals.sig.TakeProfit)
	require.NotNil(t, f.signals.creds.Exchange)
	require.NotNil(t, f.signals.creds.Wallet)

	rec = f.do(t, http.MethodPost, "/api/v1/signals/execute", map[string]any{"action": "hold", "token": "PEPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncJobLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/trades/buy", map[string]any{
		"token": tokenAddr, "amount": "0.02", "wallet": "main", "async": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[task.Job](t, rec)
	assert.Equal(t, task.StatusPending, job.Status)
	assert.Equal(t, task.KindBuy, job.Kind)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.ID, decode[task.Job](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs?kind=buy&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Jobs []task.Job `json:"jobs"`
	}](t, rec)
	assert.Len(t, list.Jobs, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[task.JobStats](t, rec).Pending)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "buy", "token": tokenAddr})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, task.CodeJobValidation, decode[errorEnvelope](t, rec).Error.Code)
}

func TestExchangeOrders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/exchange/orders", map[string]any{
		"symbol": "pepeusdt", "quote_amount": "25", "take_profit": "0.00002",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.exchange.quote.Equal(decimal.NewFromInt(25)))
	require.NotNil(t, f.exchange.tp)
	resp := decode[exchangeOrderResponse](t, rec)
	assert.Equal(t, "PEPEUSDT", resp.Order.Symbol)

	rec = f.do(t, http.MethodPost, "/api/v1/exchange/orders", map[string]any{
		"symbol": "BTCUSDT", "side": "sell", "quantity": "0.5", "leverage": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.exchange.leverage)
	assert.True(t, f.exchange.size.Equal(decimal.RequireFromString("0.5")))

	rec = f.do(t, http.MethodPost, "/api/v1/exchange/orders", map[string]any{"symbol": "BTCUSDT", "side": "sell"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/exchange/balances/pepe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"asset": "PEPE", "free": "12.5"}, decode[map[string]string](t, rec))
}

func TestExchangeLimitOrdersAndCancel(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/exchange/orders", map[string]any{
		"symbol": "btcusdt", "order_type": "limit", "quantity": "0.1", "price": "60000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.exchange.limit.Equal(decimal.NewFromInt(60000)))
	resp := decode[exchangeOrderResponse](t, rec)
	assert.Equal(t, exchange.OrderTypeLimit, resp.Order.Type)
	assert.True(t, f.exchange.quote.IsZero())

	rec = f.do(t, http.MethodPost, "/api/v1/exchange/orders", map[string]any{
		"symbol": "BTCUSDT", "order_type": "limit", "quantity": "0.1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/exchange/orders?symbol=btcusdt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[struct {
		Symbol string           `json:"symbol"`
		Orders []exchange.Order `json:"orders"`
	}](t, rec)
	assert.Equal(t, "BTCUSDT", open.Symbol)
	require.Len(t, open.Orders, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/exchange/orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/exchange/orders/btcusdt/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT/4", f.exchange.canceled)
}

func TestUnavailableCapabilities(t *testing.T) {
	handler := NewServer(":0", Deps{}).Handler()
	for _, path := range []string{"/api/v1/trades/buy", "/api/v1/exchange/orders", "/api/v1/signals/scan", "/api/v1/jobs"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"token":"`+tokenAddr+`","amount":"1","symbol":"X","subreddits":["a"],"kind":"buy"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestTokenAuth(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeToken,
		Principals: []auth.Principal{
			{Name: "dashboard", Token: "viewer", Permissions: []string{auth.PermissionRead}},
			{Name: "bot", Token: "trader", Permissions: []string{auth.PermissionTrade}},
		},
	})
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	handler := NewServer(":0", Deps{
		Onchain:     &fakeOnchain{result: trade.Result{Success: true, TxHash: "0xabc"}},
		Credentials: fakeResolver{signer: wallet.FromKey(key)},
	}, WithAuth(svc)).Handler()

	send := func(method, path, token, body string) int {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	buy := `{"token":"` + tokenAddr + `","amount":"0.1"}`

	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/healthz", "", ""))
	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/v1/trades/buy", "", buy))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/api/v1/trades/buy", "viewer", buy))
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/trades/buy", "trader", buy))
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/signals/extract", "viewer", `{"posts":[{"id":"1","title":"buy $PEPE"}]}`))
}
