// Package bridge 把提取出的信号落到具体的交易场所：中心化交易所或链上。
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/signal"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"
	"TradePilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Venue 是信号的执行场所。
type Venue string

const (
	VenueExchange Venue = "exchange"
	VenueOnchain  Venue = "onchain"
)

// Config 控制信号到交易的映射规则。
type Config struct {
	// Venue 是默认执行场所，为空时使用交易所。
	Venue Venue
	// QuoteCurrency 是交易所交易对的计价币种。
	QuoteCurrency string
	// DefaultQuoteSize 是交易所买入的计价金额。信号数量以代币计，不用于买入。
	DefaultQuoteSize decimal.Decimal
	// DefaultETHSize 是链上买入花费的 ETH 数量。
	DefaultETHSize string
	// MinConfidence 低于该置信度的信号被拒绝，0 表示不限制。
	MinConfidence float64
	// TokenAddresses 把代币符号映射到链上地址，链上执行依赖该映射。
	TokenAddresses map[string]string
}

// Credentials 是执行单个信号使用的凭据，按需提供。
type Credentials struct {
	Exchange *exchange.Credentials
	Wallet   web3.Signer
}

// OnchainTrader 执行链上买卖。
type OnchainTrader interface {
	Buy(ctx context.Context, signer web3.Signer, token, ethAmount string) trade.Result
	Sell(ctx context.Context, signer web3.Signer, token, amount string) trade.Result
}

// ExchangeTrader 执行交易所买卖。
type ExchangeTrader interface {
	BuyWithBracket(ctx context.Context, creds exchange.Credentials, symbol string, quoteAmount decimal.Decimal, takeProfit, stopLoss *decimal.Decimal) (exchange.BracketResult, error)
	Sell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) (exchange.Order, error)
	FreeBalance(ctx context.Context, creds exchange.Credentials, asset string) (decimal.Decimal, error)
}

// Bridge 按规则把信号路由到交易所或链上执行。
type Bridge struct {
	cfg       Config
	onchain   OnchainTrader
	exchange  ExchangeTrader
	venueName string
	addresses map[string]common.Address
	log       *slog.Logger
}

// New 创建 Bridge。onchain 或 exchangeTrader 可以为 nil，对应场所随之不可用。
func New(cfg Config, onchain OnchainTrader, exchangeTrader ExchangeTrader, venueName string) *Bridge {
	if cfg.Venue == "" {
		cfg.Venue = VenueExchange
	}
	cfg.QuoteCurrency = strings.ToUpper(strings.TrimSpace(cfg.QuoteCurrency))
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if !cfg.DefaultQuoteSize.IsPositive() {
		cfg.DefaultQuoteSize = decimal.NewFromInt(10)
	}
	if strings.TrimSpace(cfg.DefaultETHSize) == "" {
		cfg.DefaultETHSize = "0.01"
	}
	addresses := make(map[string]common.Address, len(cfg.TokenAddresses))
	for symbol, addr := range cfg.TokenAddresses {
		if common.IsHexAddress(addr) {
			addresses[strings.ToUpper(strings.TrimSpace(symbol))] = common.HexToAddress(addr)
		}
	}
	return &Bridge{
		cfg:       cfg,
		onchain:   onchain,
		exchange:  exchangeTrader,
		venueName: venueName,
		addresses: addresses,
		log:       logger.Named("bridge"),
	}
}

// Resolve 返回信号实际使用的执行场所及链上地址（仅链上有效）。
// 配置为链上但代币没有地址映射时退回交易所。
func (b *Bridge) Resolve(token string) (Venue, common.Address) {
	if b.cfg.Venue == VenueOnchain {
		if addr, ok := b.tokenAddress(token); ok {
			return VenueOnchain, addr
		}
	}
	return VenueExchange, common.Address{}
}

func (b *Bridge) tokenAddress(token string) (common.Address, bool) {
	token = strings.TrimSpace(token)
	if common.IsHexAddress(token) {
		return common.HexToAddress(token), true
	}
	addr, ok := b.addresses[strings.ToUpper(token)]
	return addr, ok
}

// Execute 执行单个信号。所有失败都体现在返回的 Result 中。
func (b *Bridge) Execute(ctx context.Context, sig signal.Signal, creds Credentials) trade.Result {
	if !signal.IsValidAction(sig.Action) {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "无效的信号动作: "+string(sig.Action)))
	}
	if strings.TrimSpace(sig.Token) == "" {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "信号缺少代币"))
	}
	if b.cfg.MinConfidence > 0 && sig.Confidence < b.cfg.MinConfidence {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("信号置信度 %.2f 低于阈值 %.2f", sig.Confidence, b.cfg.MinConfidence)))
	}

	venue, addr := b.Resolve(sig.Token)
	b.log.InfoContext(ctx, "执行信号",
		"action", sig.Action,
		"token", sig.Token,
		"venue", venue,
		"confidence", sig.Confidence,
		"post_id", sig.Source.PostID,
	)
	if venue == VenueOnchain {
		return b.executeOnchain(ctx, sig, addr, creds.Wallet)
	}
	return b.executeExchange(ctx, sig, creds.Exchange)
}

func (b *Bridge) executeOnchain(ctx context.Context, sig signal.Signal, token common.Address, wallet web3.Signer) trade.Result {
	if b.onchain == nil {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "链上执行未启用"))
	}
	if wallet == nil {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "链上执行需要钱包"))
	}
	// 信号中的数量是代币数量，买入一律按配置的 ETH 金额。
	if sig.Action == signal.ActionBuy {
		return b.onchain.Buy(ctx, wallet, token.Hex(), b.cfg.DefaultETHSize)
	}
	amount := strings.TrimSpace(sig.Amount)
	if amount == "" {
		amount = trade.SellAll
	}
	return b.onchain.Sell(ctx, wallet, token.Hex(), amount)
}

func (b *Bridge) executeExchange(ctx context.Context, sig signal.Signal, creds *exchange.Credentials) trade.Result {
	if b.exchange == nil {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "交易所执行未启用"))
	}
	if creds == nil {
		return trade.Failure(xerrors.New(xerrors.CodeInvalidArgument, "交易所执行需要 API 凭据"))
	}
	base := strings.ToUpper(strings.TrimSpace(sig.Token))
	symbol := base + b.cfg.QuoteCurrency

	if sig.Action == signal.ActionBuy {
		result, err := b.exchange.BuyWithBracket(ctx, *creds, symbol, b.cfg.DefaultQuoteSize, optionalPrice(sig.TakeProfit), optionalPrice(sig.StopLoss))
		if err != nil {
			return b.exchangeFailure(err)
		}
		return trade.Result{
			Success:        true,
			OrderID:        result.Order.OrderID,
			AmountReceived: result.Order.ExecutedQuantity.String(),
			Provider:       b.venueName,
			Message:        strings.Join(result.Errors, "; "),
		}
	}

	var quantity decimal.Decimal
	if strings.TrimSpace(sig.Amount) != "" {
		parsed, err := positiveDecimal(sig.Amount)
		if err != nil {
			return trade.Failure(err)
		}
		quantity = parsed
	} else {
		free, err := b.exchange.FreeBalance(ctx, *creds, base)
		if err != nil {
			return b.exchangeFailure(err)
		}
		if !free.IsPositive() {
			return trade.Failure(xerrors.New(xerrors.CodeNothingToSell, base+" 可用余额为 0"))
		}
		quantity = free
	}
	order, err := b.exchange.Sell(ctx, *creds, symbol, quantity)
	if err != nil {
		return b.exchangeFailure(err)
	}
	return trade.Result{
		Success:        true,
		OrderID:        order.OrderID,
		AmountReceived: order.QuoteAmount.String(),
		Provider:       b.venueName,
	}
}

func (b *Bridge) exchangeFailure(err error) trade.Result {
	res := trade.Failure(err)
	res.Provider = b.venueName
	return res
}

func positiveDecimal(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "数量格式无效: "+raw)
	}
	if !value.IsPositive() {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
	}
	return value, nil
}

// optionalPrice 解析止盈止损价，空值或非正数视为未设置。
func optionalPrice(raw string) *decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !value.IsPositive() {
		return nil
	}
	return &value
}
