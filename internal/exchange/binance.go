package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "TradePilot/internal/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// VenueBinance 是 Binance 现货的名称。
	VenueBinance = "binance"

	binanceBaseURL = "https://api.binance.com"

	// 余额不足类错误码。
	binanceCodeInsufficientBalance = -2010
)

// Binance 是 Binance 现货 REST 客户端。请求参数以 query string 签名（十六进制 HMAC-SHA256）。
type Binance struct {
	client     *restClient
	recvWindow time.Duration
}

// NewBinance 创建 Binance 客户端。
func NewBinance(cfg Config) *Binance {
	window := cfg.RecvWindow
	if window <= 0 {
		window = defaultRecvWindow
	}
	return &Binance{client: newRESTClient(VenueBinance, cfg, binanceBaseURL), recvWindow: window}
}

// Name implements Venue.
func (b *Binance) Name() string { return VenueBinance }

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type binanceOrder struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	StopPrice           string `json:"stopPrice"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

func (o binanceOrder) toOrder() Order {
	order := Order{
		Symbol:           o.Symbol,
		Side:             Side(strings.ToLower(o.Side)),
		Quantity:         parseDecimal(o.OrigQty),
		QuoteAmount:      parseDecimal(o.CummulativeQuoteQty),
		Price:            parseDecimal(o.Price),
		TriggerPrice:     parseDecimal(o.StopPrice),
		OrderID:          strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:    o.ClientOrderID,
		Status:           strings.ToLower(o.Status),
		ExecutedQuantity: parseDecimal(o.ExecutedQty),
	}
	switch strings.ToUpper(o.Type) {
	case "MARKET":
		order.Type = OrderTypeMarket
	case "LIMIT", "LIMIT_MAKER":
		order.Type = OrderTypeLimit
	default:
		order.Type = OrderTypeTrigger
	}
	return order
}

// signed 发送带签名的请求。timestamp、recvWindow、signature 由此处追加。
func (b *Binance) signed(ctx context.Context, creds Credentials, operation, method, path string, params url.Values, out any) (err error) {
	started := time.Now()
	defer func() { b.client.observe(ctx, operation, started, err) }()

	if err := creds.Validate(false); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", b.client.timestamp())
	params.Set("recvWindow", strconv.FormatInt(b.recvWindow.Milliseconds(), 10))
	query := params.Encode()
	query += "&signature=" + signHex(creds.APISecret, query)

	req, err := http.NewRequestWithContext(ctx, method, b.client.baseURL+path+"?"+query, nil)
	if err != nil {
		return b.client.failure(err, 0, "构造请求失败")
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)
	req.Header.Set("Accept", "application/json")

	raw, status, err := b.client.send(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return b.apiError(status, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return b.client.failure(err, status, "解析响应失败")
	}
	return nil
}

func (b *Binance) apiError(status int, raw []byte) error {
	var body binanceError
	if err := json.Unmarshal(raw, &body); err != nil || body.Msg == "" {
		return b.client.failure(nil, status, strings.TrimSpace(string(raw)))
	}
	code := strconv.Itoa(body.Code)
	if body.Code == binanceCodeInsufficientBalance {
		return xerrors.New(xerrors.CodeInsufficientFunds, "binance: "+body.Msg,
			xerrors.WithMetadata("venue", VenueBinance),
			xerrors.WithMetadata("venue_code", code))
	}
	return b.client.failure(nil, status, body.Msg, xerrors.WithMetadata("venue_code", code))
}

func binanceSide(side Side) string {
	return strings.ToUpper(string(side))
}

func (b *Binance) placeOrder(ctx context.Context, creds Credentials, operation string, params url.Values) (Order, error) {
	params.Set("newClientOrderId", uuid.NewString())
	params.Set("newOrderRespType", "FULL")
	var resp binanceOrder
	if err := b.signed(ctx, creds, operation, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return Order{}, err
	}
	return resp.toOrder(), nil
}

// PlaceMarketOrder implements Venue. 买入且只给出 QuoteAmount 时使用 quoteOrderQty。
func (b *Binance) PlaceMarketOrder(ctx context.Context, creds Credentials, req MarketOrderRequest) (Order, error) {
	if err := validateMarket(req); err != nil {
		return Order{}, err
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", binanceSide(req.Side))
	params.Set("type", "MARKET")
	if req.Quantity.IsPositive() {
		params.Set("quantity", req.Quantity.String())
	} else {
		params.Set("quoteOrderQty", req.QuoteAmount.String())
	}
	return b.placeOrder(ctx, creds, "market_order", params)
}

// PlaceLimitOrder implements Venue.
func (b *Binance) PlaceLimitOrder(ctx context.Context, creds Credentials, req LimitOrderRequest) (Order, error) {
	if err := validateLimit(req); err != nil {
		return Order{}, err
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", binanceSide(req.Side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.Price.String())
	return b.placeOrder(ctx, creds, "limit_order", params)
}

// PlaceTriggerOrder implements Venue，使用 TAKE_PROFIT_LIMIT / STOP_LOSS_LIMIT。
func (b *Binance) PlaceTriggerOrder(ctx context.Context, creds Credentials, req TriggerOrderRequest) (Order, error) {
	if err := validateTrigger(req); err != nil {
		return Order{}, err
	}
	price := req.Price
	if !price.IsPositive() {
		price = req.TriggerPrice
	}
	orderType := "TAKE_PROFIT_LIMIT"
	if req.Kind == TriggerStopLoss {
		orderType = "STOP_LOSS_LIMIT"
	}
	side := req.Side
	if side == "" {
		side = SideSell
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", binanceSide(side))
	params.Set("type", orderType)
	params.Set("timeInForce", "GTC")
	params.Set("quantity", req.Quantity.String())
	params.Set("price", price.String())
	params.Set("stopPrice", req.TriggerPrice.String())
	return b.placeOrder(ctx, creds, "trigger_order", params)
}

// CancelOrder implements Venue.
func (b *Binance) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) error {
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(orderID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "撤单需要交易对和订单号")
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)
	return b.signed(ctx, creds, "cancel_order", http.MethodDelete, "/api/v3/order", params, nil)
}

// GetBalance implements Venue。账户中不存在的资产返回零余额。
func (b *Binance) GetBalance(ctx context.Context, creds Credentials, asset string) (Balance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return Balance{}, xerrors.New(xerrors.CodeInvalidArgument, "资产名称不能为空")
	}
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.signed(ctx, creds, "balance", http.MethodGet, "/api/v3/account", nil, &account); err != nil {
		return Balance{}, err
	}
	for _, item := range account.Balances {
		if strings.EqualFold(item.Asset, asset) {
			return Balance{Asset: asset, Free: parseDecimal(item.Free), Locked: parseDecimal(item.Locked)}, nil
		}
	}
	return Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
}

// GetOpenOrders implements Venue。
func (b *Binance) GetOpenOrders(ctx context.Context, creds Credentials, symbol string) ([]Order, error) {
	params := url.Values{}
	if strings.TrimSpace(symbol) != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	var resp []binanceOrder
	if err := b.signed(ctx, creds, "open_orders", http.MethodGet, "/api/v3/openOrders", params, &resp); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(resp))
	for _, item := range resp {
		orders = append(orders, item.toOrder())
	}
	return orders, nil
}

// SetLeverage implements Venue。现货账户没有杠杆。
func (b *Binance) SetLeverage(context.Context, Credentials, string, int) error {
	return xerrors.New(CodeUnsupported, "binance 现货不支持设置杠杆", xerrors.WithMetadata("venue", VenueBinance))
}

var _ Venue = (*Binance)(nil)
