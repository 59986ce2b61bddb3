package exchange

import (
	"bytes"
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
	// VenueBitget 是 Bitget USDT 永续合约的名称。
	VenueBitget = "bitget"

	bitgetBaseURL     = "https://api.bitget.com"
	bitgetSuccessCode = "00000"

	defaultProductType = "USDT-FUTURES"
	defaultMarginCoin  = "USDT"
	defaultMarginMode  = "crossed"
)

// 余额不足类错误码。
var bitgetInsufficientCodes = map[string]bool{"40754": true, "40762": true, "43012": true}

// Bitget 是 Bitget 合约 REST 客户端。签名为 base64(HMAC-SHA256(timestamp+METHOD+path[?query]+body))。
type Bitget struct {
	client      *restClient
	productType string
	marginCoin  string
	marginMode  string
}

// NewBitget 创建 Bitget 客户端。
func NewBitget(cfg Config) *Bitget {
	b := &Bitget{
		client:      newRESTClient(VenueBitget, cfg, bitgetBaseURL),
		productType: strings.TrimSpace(cfg.ProductType),
		marginCoin:  strings.ToUpper(strings.TrimSpace(cfg.MarginCoin)),
		marginMode:  strings.TrimSpace(cfg.MarginMode),
	}
	if b.productType == "" {
		b.productType = defaultProductType
	}
	if b.marginCoin == "" {
		b.marginCoin = defaultMarginCoin
	}
	if b.marginMode == "" {
		b.marginMode = defaultMarginMode
	}
	return b
}

// Name implements Venue.
func (b *Bitget) Name() string { return VenueBitget }

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type bitgetOrderDetail struct {
	Symbol     string `json:"symbol"`
	OrderID    string `json:"orderId"`
	ClientOid  string `json:"clientOid"`
	Size       string `json:"size"`
	BaseVolume string `json:"baseVolume"`
	QuoteVol   string `json:"quoteVolume"`
	Price      string `json:"price"`
	PriceAvg   string `json:"priceAvg"`
	State      string `json:"state"`
	Status     string `json:"status"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
}

func (d bitgetOrderDetail) toOrder() Order {
	order := Order{
		Symbol:           d.Symbol,
		Side:             Side(strings.ToLower(d.Side)),
		Type:             OrderType(strings.ToLower(d.OrderType)),
		Quantity:         parseDecimal(d.Size),
		QuoteAmount:      parseDecimal(d.QuoteVol),
		Price:            parseDecimal(d.PriceAvg),
		OrderID:          d.OrderID,
		ClientOrderID:    d.ClientOid,
		Status:           d.State,
		ExecutedQuantity: parseDecimal(d.BaseVolume),
	}
	if order.Price.IsZero() {
		order.Price = parseDecimal(d.Price)
	}
	if order.Status == "" {
		order.Status = d.Status
	}
	return order
}

type bitgetPlaced struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

// signed 发送带签名的请求。GET 参数进入 query，其余方法使用 JSON body。
func (b *Bitget) signed(ctx context.Context, creds Credentials, operation, method, path string, query url.Values, body, out any) (err error) {
	started := time.Now()
	defer func() { b.client.observe(ctx, operation, started, err) }()

	if err := creds.Validate(true); err != nil {
		return err
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码请求体失败")
		}
	}
	ts := b.client.timestamp()
	sign := signBase64(creds.APISecret, ts+method+requestPath+string(payload))

	req, err := http.NewRequestWithContext(ctx, method, b.client.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return b.client.failure(err, 0, "构造请求失败")
	}
	req.Header.Set("ACCESS-KEY", creds.APIKey)
	req.Header.Set("ACCESS-SIGN", sign)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	raw, status, err := b.client.send(req)
	if err != nil {
		return err
	}
	var envelope bitgetEnvelope
	if decodeErr := json.Unmarshal(raw, &envelope); decodeErr != nil {
		if status < 200 || status >= 300 {
			return b.client.failure(nil, status, strings.TrimSpace(string(raw)))
		}
		return b.client.failure(decodeErr, status, "解析响应失败")
	}
	if status < 200 || status >= 300 || envelope.Code != bitgetSuccessCode {
		return b.apiError(status, envelope)
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return b.client.failure(err, status, "解析响应数据失败")
	}
	return nil
}

func (b *Bitget) public(ctx context.Context, operation, path string, query url.Values, out any) (err error) {
	started := time.Now()
	defer func() { b.client.observe(ctx, operation, started, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.client.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return b.client.failure(err, 0, "构造请求失败")
	}
	raw, status, err := b.client.send(req)
	if err != nil {
		return err
	}
	var envelope bitgetEnvelope
	if decodeErr := json.Unmarshal(raw, &envelope); decodeErr != nil {
		return b.client.failure(decodeErr, status, "解析响应失败")
	}
	if status < 200 || status >= 300 || envelope.Code != bitgetSuccessCode {
		return b.apiError(status, envelope)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return b.client.failure(err, status, "解析响应数据失败")
	}
	return nil
}

func (b *Bitget) apiError(status int, envelope bitgetEnvelope) error {
	if bitgetInsufficientCodes[envelope.Code] {
		return xerrors.New(xerrors.CodeInsufficientFunds, "bitget: "+envelope.Msg,
			xerrors.WithMetadata("venue", VenueBitget),
			xerrors.WithMetadata("venue_code", envelope.Code))
	}
	if status == 0 {
		status = http.StatusOK
	}
	return b.client.failure(nil, status, envelope.Msg, xerrors.WithMetadata("venue_code", envelope.Code))
}

func (b *Bitget) baseBody(symbol string) map[string]any {
	return map[string]any{
		"symbol":      strings.ToUpper(symbol),
		"productType": b.productType,
		"marginCoin":  b.marginCoin,
	}
}

// contractSize 把计价金额换算成合约下单数量，按合约的数量精度向下截断。
func (b *Bitget) contractSize(ctx context.Context, symbol string, quote decimal.Decimal) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("productType", b.productType)

	var tickers []struct {
		LastPr string `json:"lastPr"`
	}
	if err := b.public(ctx, "ticker", "/api/v2/mix/market/ticker", query, &tickers); err != nil {
		return decimal.Zero, err
	}
	if len(tickers) == 0 || !parseDecimal(tickers[0].LastPr).IsPositive() {
		return decimal.Zero, xerrors.New(xerrors.CodeNoLiquidity, "bitget: 没有可用的最新成交价",
			xerrors.WithMetadata("symbol", symbol))
	}
	price := parseDecimal(tickers[0].LastPr)

	var contracts []struct {
		VolumePlace string `json:"volumePlace"`
	}
	if err := b.public(ctx, "contracts", "/api/v2/mix/market/contracts", query, &contracts); err != nil {
		return decimal.Zero, err
	}
	places := int32(4)
	if len(contracts) > 0 {
		if p, err := strconv.Atoi(contracts[0].VolumePlace); err == nil && p >= 0 {
			places = int32(p)
		}
	}
	size := quote.Div(price).Truncate(places)
	if !size.IsPositive() {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "bitget: 下单金额低于最小合约数量",
			xerrors.WithMetadata("symbol", symbol))
	}
	return size, nil
}

func (b *Bitget) orderDetail(ctx context.Context, creds Credentials, symbol, orderID string) (Order, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("productType", b.productType)
	query.Set("orderId", orderID)
	var detail bitgetOrderDetail
	if err := b.signed(ctx, creds, "order_detail", http.MethodGet, "/api/v2/mix/order/detail", query, nil, &detail); err != nil {
		return Order{}, err
	}
	return detail.toOrder(), nil
}

// PlaceMarketOrder implements Venue。下单后读取订单详情以获得成交数量。
func (b *Bitget) PlaceMarketOrder(ctx context.Context, creds Credentials, req MarketOrderRequest) (Order, error) {
	if err := validateMarket(req); err != nil {
		return Order{}, err
	}
	if err := creds.Validate(true); err != nil {
		return Order{}, err
	}
	size := req.Quantity
	if !size.IsPositive() {
		var err error
		if size, err = b.contractSize(ctx, req.Symbol, req.QuoteAmount); err != nil {
			return Order{}, err
		}
	}
	body := b.baseBody(req.Symbol)
	body["marginMode"] = b.marginMode
	body["side"] = string(req.Side)
	body["orderType"] = "market"
	body["size"] = size.String()
	body["clientOid"] = uuid.NewString()

	var placed bitgetPlaced
	if err := b.signed(ctx, creds, "market_order", http.MethodPost, "/api/v2/mix/order/place-order", nil, body, &placed); err != nil {
		return Order{}, err
	}
	order, err := b.orderDetail(ctx, creds, req.Symbol, placed.OrderID)
	if err != nil {
		// 订单已经提交，详情读取失败时按已知信息返回。
		return Order{
			Symbol:        strings.ToUpper(req.Symbol),
			Side:          req.Side,
			Type:          OrderTypeMarket,
			Quantity:      size,
			OrderID:       placed.OrderID,
			ClientOrderID: placed.ClientOid,
			Status:        "submitted",
		}, nil
	}
	order.Type = OrderTypeMarket
	return order, nil
}

// PlaceLimitOrder implements Venue。
func (b *Bitget) PlaceLimitOrder(ctx context.Context, creds Credentials, req LimitOrderRequest) (Order, error) {
	if err := validateLimit(req); err != nil {
		return Order{}, err
	}
	body := b.baseBody(req.Symbol)
	body["marginMode"] = b.marginMode
	body["side"] = string(req.Side)
	body["orderType"] = "limit"
	body["force"] = "gtc"
	body["size"] = req.Quantity.String()
	body["price"] = req.Price.String()
	body["clientOid"] = uuid.NewString()

	var placed bitgetPlaced
	if err := b.signed(ctx, creds, "limit_order", http.MethodPost, "/api/v2/mix/order/place-order", nil, body, &placed); err != nil {
		return Order{}, err
	}
	return Order{
		Symbol:        strings.ToUpper(req.Symbol),
		Side:          req.Side,
		Type:          OrderTypeLimit,
		Quantity:      req.Quantity,
		Price:         req.Price,
		OrderID:       placed.OrderID,
		ClientOrderID: placed.ClientOid,
		Status:        "live",
	}, nil
}

// PlaceTriggerOrder implements Venue，使用 place-tpsl-order。Side 为平仓方向，卖出表示平多。
func (b *Bitget) PlaceTriggerOrder(ctx context.Context, creds Credentials, req TriggerOrderRequest) (Order, error) {
	if err := validateTrigger(req); err != nil {
		return Order{}, err
	}
	side := req.Side
	if side == "" {
		side = SideSell
	}
	planType := "profit_plan"
	if req.Kind == TriggerStopLoss {
		planType = "loss_plan"
	}
	holdSide := "long"
	if side == SideBuy {
		holdSide = "short"
	}
	body := b.baseBody(req.Symbol)
	body["planType"] = planType
	body["triggerPrice"] = req.TriggerPrice.String()
	body["triggerType"] = "mark_price"
	body["executePrice"] = req.Price.String()
	body["holdSide"] = holdSide
	body["size"] = req.Quantity.String()
	body["clientOid"] = uuid.NewString()

	var placed bitgetPlaced
	if err := b.signed(ctx, creds, "trigger_order", http.MethodPost, "/api/v2/mix/order/place-tpsl-order", nil, body, &placed); err != nil {
		return Order{}, err
	}
	return Order{
		Symbol:        strings.ToUpper(req.Symbol),
		Side:          side,
		Type:          OrderTypeTrigger,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		OrderID:       placed.OrderID,
		ClientOrderID: placed.ClientOid,
		Status:        "live",
	}, nil
}

// CancelOrder implements Venue。
func (b *Bitget) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) error {
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(orderID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "撤单需要交易对和订单号")
	}
	body := b.baseBody(symbol)
	body["orderId"] = orderID
	return b.signed(ctx, creds, "cancel_order", http.MethodPost, "/api/v2/mix/order/cancel-order", nil, body, nil)
}

// GetBalance implements Venue。保证金币种返回账户可用余额，其他资产返回多仓可平数量。
func (b *Bitget) GetBalance(ctx context.Context, creds Credentials, asset string) (Balance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return Balance{}, xerrors.New(xerrors.CodeInvalidArgument, "资产名称不能为空")
	}
	if asset == b.marginCoin {
		query := url.Values{}
		query.Set("productType", b.productType)
		var accounts []struct {
			MarginCoin string `json:"marginCoin"`
			Available  string `json:"available"`
			Locked     string `json:"locked"`
		}
		if err := b.signed(ctx, creds, "balance", http.MethodGet, "/api/v2/mix/account/accounts", query, nil, &accounts); err != nil {
			return Balance{}, err
		}
		for _, item := range accounts {
			if strings.EqualFold(item.MarginCoin, asset) {
				return Balance{Asset: asset, Free: parseDecimal(item.Available), Locked: parseDecimal(item.Locked)}, nil
			}
		}
		return Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
	}

	query := url.Values{}
	query.Set("symbol", asset+b.marginCoin)
	query.Set("productType", b.productType)
	query.Set("marginCoin", b.marginCoin)
	var positions []struct {
		HoldSide  string `json:"holdSide"`
		Available string `json:"available"`
		Total     string `json:"total"`
	}
	if err := b.signed(ctx, creds, "position", http.MethodGet, "/api/v2/mix/position/single-position", query, nil, &positions); err != nil {
		return Balance{}, err
	}
	balance := Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}
	for _, pos := range positions {
		if !strings.EqualFold(pos.HoldSide, "long") {
			continue
		}
		free := parseDecimal(pos.Available)
		balance.Free = balance.Free.Add(free)
		balance.Locked = balance.Locked.Add(parseDecimal(pos.Total).Sub(free))
	}
	return balance, nil
}

// GetOpenOrders implements Venue。
func (b *Bitget) GetOpenOrders(ctx context.Context, creds Credentials, symbol string) ([]Order, error) {
	query := url.Values{}
	query.Set("productType", b.productType)
	if strings.TrimSpace(symbol) != "" {
		query.Set("symbol", strings.ToUpper(symbol))
	}
	var resp struct {
		EntrustedList []bitgetOrderDetail `json:"entrustedList"`
	}
	if err := b.signed(ctx, creds, "open_orders", http.MethodGet, "/api/v2/mix/order/orders-pending", query, nil, &resp); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(resp.EntrustedList))
	for _, item := range resp.EntrustedList {
		orders = append(orders, item.toOrder())
	}
	return orders, nil
}

// SetLeverage implements Venue。
func (b *Bitget) SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int) error {
	if strings.TrimSpace(symbol) == "" || leverage < 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "杠杆设置需要交易对和不小于 1 的倍数")
	}
	body := b.baseBody(symbol)
	body["leverage"] = strconv.Itoa(leverage)
	return b.signed(ctx, creds, "set_leverage", http.MethodPost, "/api/v2/mix/account/set-leverage", nil, body, nil)
}

var _ Venue = (*Bitget)(nil)
