// Package exchange 封装中心化交易所的签名 REST 接口，并在其上提供带止盈止损的组合下单。
package exchange

import (
	"context"
	"strings"

	xerrors "TradePilot/internal/errors"

	"github.com/shopspring/decimal"
)

// CodeUnsupported 表示交易所不支持该操作。
const CodeUnsupported xerrors.Code = "UNSUPPORTED"

func init() {
	xerrors.Register(CodeUnsupported, xerrors.Attributes{
		Message:   "operation not supported by venue",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket  OrderType = "market"
	OrderTypeLimit   OrderType = "limit"
	OrderTypeTrigger OrderType = "trigger"
)

// TriggerKind 区分止盈与止损。
type TriggerKind string

const (
	TriggerTakeProfit TriggerKind = "take_profit"
	TriggerStopLoss   TriggerKind = "stop_loss"
)

// Credentials 是一次调用使用的 API 凭据，由调用方逐次传入。
type Credentials struct {
	APIKey     string `json:"-"`
	APISecret  string `json:"-"`
	Passphrase string `json:"-"`
}

// Validate 检查凭据是否完整。requirePassphrase 用于需要口令的交易所。
func (c Credentials) Validate(requirePassphrase bool) error {
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易所 API Key 或 Secret 为空")
	}
	if requirePassphrase && strings.TrimSpace(c.Passphrase) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易所 API 口令为空")
	}
	return nil
}

// Order 映射交易所侧的订单。
type Order struct {
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Type             OrderType       `json:"type"`
	Quantity         decimal.Decimal `json:"quantity"`
	QuoteAmount      decimal.Decimal `json:"quote_amount"`
	Price            decimal.Decimal `json:"price"`
	TriggerPrice     decimal.Decimal `json:"trigger_price"`
	OrderID          string          `json:"order_id"`
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	Status           string          `json:"status"`
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
}

// MarketOrderRequest 描述市价单。买入可以只给 QuoteAmount。
type MarketOrderRequest struct {
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	QuoteAmount decimal.Decimal
}

// LimitOrderRequest 描述限价单。
type LimitOrderRequest struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// TriggerOrderRequest 描述止盈或止损触发单。Price 为零时按触发价挂单。
type TriggerOrderRequest struct {
	Symbol       string
	Side         Side
	Kind         TriggerKind
	Quantity     decimal.Decimal
	TriggerPrice decimal.Decimal
	Price        decimal.Decimal
}

// Balance 是单个资产的余额。
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Venue 是单个交易所的签名 REST 客户端，每个方法都显式接收凭据。
type Venue interface {
	Name() string
	PlaceMarketOrder(ctx context.Context, creds Credentials, req MarketOrderRequest) (Order, error)
	PlaceLimitOrder(ctx context.Context, creds Credentials, req LimitOrderRequest) (Order, error)
	PlaceTriggerOrder(ctx context.Context, creds Credentials, req TriggerOrderRequest) (Order, error)
	CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) error
	GetBalance(ctx context.Context, creds Credentials, asset string) (Balance, error)
	GetOpenOrders(ctx context.Context, creds Credentials, symbol string) ([]Order, error)
	SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int) error
}

func validateMarket(req MarketOrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易对不能为空")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return xerrors.New(xerrors.CodeInvalidArgument, "无效的买卖方向: "+string(req.Side))
	}
	if !req.Quantity.IsPositive() && !(req.Side == SideBuy && req.QuoteAmount.IsPositive()) {
		return xerrors.New(xerrors.CodeInvalidArgument, "市价单数量必须大于 0")
	}
	return nil
}

func validateLimit(req LimitOrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易对不能为空")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return xerrors.New(xerrors.CodeInvalidArgument, "无效的买卖方向: "+string(req.Side))
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return xerrors.New(xerrors.CodeInvalidArgument, "限价单数量和价格必须大于 0")
	}
	return nil
}

func validateTrigger(req TriggerOrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易对不能为空")
	}
	if req.Kind != TriggerTakeProfit && req.Kind != TriggerStopLoss {
		return xerrors.New(xerrors.CodeInvalidArgument, "无效的触发类型: "+string(req.Kind))
	}
	if !req.Quantity.IsPositive() || !req.TriggerPrice.IsPositive() {
		return xerrors.New(xerrors.CodeInvalidArgument, "触发单数量和触发价必须大于 0")
	}
	return nil
}
