package exchange

import (
	"context"
	"log/slog"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/observability/metrics"
	"TradePilot/pkg/logger"

	"github.com/shopspring/decimal"
)

// BracketResult 是组合下单的结果。主单失败时不会出现在结果中，
// 止盈止损的失败记录在 Errors 里，不影响主单。
type BracketResult struct {
	Order      Order    `json:"order"`
	TakeProfit *Order   `json:"take_profit,omitempty"`
	StopLoss   *Order   `json:"stop_loss,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Trader 在单个交易所之上组合主单与止盈止损单。
type Trader struct {
	venue Venue
	log   *slog.Logger
}

// NewTrader 创建组合下单器。
func NewTrader(venue Venue) *Trader {
	return &Trader{venue: venue, log: logger.Named("exchange")}
}

// Venue 返回底层交易所。
func (t *Trader) Venue() Venue { return t.venue }

// BuyWithBracket 以计价金额市价买入，成交后按成交数量挂止盈/止损卖单。
func (t *Trader) BuyWithBracket(ctx context.Context, creds Credentials, symbol string, quoteAmount decimal.Decimal, takeProfit, stopLoss *decimal.Decimal) (BracketResult, error) {
	order, err := t.venue.PlaceMarketOrder(ctx, creds, MarketOrderRequest{
		Symbol:      symbol,
		Side:        SideBuy,
		QuoteAmount: quoteAmount,
	})
	if err != nil {
		t.record(symbol, SideBuy, err)
		return BracketResult{}, err
	}
	t.record(symbol, SideBuy, nil)

	result := BracketResult{Order: order}
	t.attachBrackets(ctx, creds, &result, symbol, SideSell, order.ExecutedQuantity, takeProfit, stopLoss)
	return result, nil
}

// FreeBalance 返回资产的可用余额。
func (t *Trader) FreeBalance(ctx context.Context, creds Credentials, asset string) (decimal.Decimal, error) {
	balance, err := t.venue.GetBalance(ctx, creds, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Free, nil
}

// Sell 市价卖出指定数量。
func (t *Trader) Sell(ctx context.Context, creds Credentials, symbol string, quantity decimal.Decimal) (Order, error) {
	order, err := t.venue.PlaceMarketOrder(ctx, creds, MarketOrderRequest{
		Symbol:   symbol,
		Side:     SideSell,
		Quantity: quantity,
	})
	t.record(symbol, SideSell, err)
	return order, err
}

// OpenLeveragedPosition 设置杠杆后按数量开仓，主单有成交数量时再以反方向挂止盈/止损。
// 杠杆设置或主单失败时直接返回错误，不再尝试后续步骤。
func (t *Trader) OpenLeveragedPosition(ctx context.Context, creds Credentials, symbol string, size decimal.Decimal, leverage int, side Side, takeProfit, stopLoss *decimal.Decimal) (BracketResult, error) {
	if side != SideBuy && side != SideSell {
		return BracketResult{}, xerrors.New(xerrors.CodeInvalidArgument, "无效的开仓方向: "+string(side))
	}
	if leverage > 1 {
		if err := t.venue.SetLeverage(ctx, creds, symbol, leverage); err != nil {
			return BracketResult{}, err
		}
	}
	order, err := t.venue.PlaceMarketOrder(ctx, creds, MarketOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: size,
	})
	if err != nil {
		t.record(symbol, side, err)
		return BracketResult{}, err
	}
	t.record(symbol, side, nil)

	result := BracketResult{Order: order}
	t.attachBrackets(ctx, creds, &result, symbol, side.Opposite(), order.ExecutedQuantity, takeProfit, stopLoss)
	return result, nil
}

// PlaceLimit 挂限价单。
func (t *Trader) PlaceLimit(ctx context.Context, creds Credentials, symbol string, side Side, quantity, price decimal.Decimal) (Order, error) {
	order, err := t.venue.PlaceLimitOrder(ctx, creds, LimitOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
	})
	t.record(symbol, side, err)
	return order, err
}

// Cancel 撤销挂单。
func (t *Trader) Cancel(ctx context.Context, creds Credentials, symbol, orderID string) error {
	if orderID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	err := t.venue.CancelOrder(ctx, creds, symbol, orderID)
	if err == nil {
		logger.Audit().Info("exchange cancel", "venue", t.venue.Name(), "symbol", symbol, "order_id", orderID)
	}
	return err
}

// OpenOrders 列出交易对上的未完成订单。
func (t *Trader) OpenOrders(ctx context.Context, creds Credentials, symbol string) ([]Order, error) {
	return t.venue.GetOpenOrders(ctx, creds, symbol)
}

func (t *Trader) attachBrackets(ctx context.Context, creds Credentials, result *BracketResult, symbol string, side Side, quantity decimal.Decimal, takeProfit, stopLoss *decimal.Decimal) {
	if takeProfit == nil && stopLoss == nil {
		return
	}
	if !quantity.IsPositive() {
		result.Errors = append(result.Errors, "主单没有成交数量，未挂止盈止损")
		return
	}
	place := func(kind TriggerKind, price decimal.Decimal) *Order {
		order, err := t.venue.PlaceTriggerOrder(ctx, creds, TriggerOrderRequest{
			Symbol:       symbol,
			Side:         side,
			Kind:         kind,
			Quantity:     quantity,
			TriggerPrice: price,
			Price:        price,
		})
		if err != nil {
			t.log.WarnContext(ctx, "挂单失败",
				"venue", t.venue.Name(),
				"kind", kind,
				"order_id", result.Order.OrderID,
				"error", err,
			)
			result.Errors = append(result.Errors, string(kind)+": "+xerrors.MessageOf(err))
			return nil
		}
		return &order
	}
	if takeProfit != nil {
		result.TakeProfit = place(TriggerTakeProfit, *takeProfit)
	}
	if stopLoss != nil {
		result.StopLoss = place(TriggerStopLoss, *stopLoss)
	}
}

func (t *Trader) record(symbol string, side Side, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	metrics.ObserveTrade(t.venue.Name(), string(side), outcome)
	logger.Audit().Info("exchange trade",
		"venue", t.venue.Name(),
		"symbol", symbol,
		"side", side,
		"outcome", outcome,
	)
}
