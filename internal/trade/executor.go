// Package trade 负责链上买卖的完整执行流程：余额检查、路由、授权、提交与对账。
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"TradePilot/internal/aggregator"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/observability/metrics"
	"TradePilot/internal/web3"
	"TradePilot/internal/web3/erc20"
	"TradePilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const (
	nativeDecimals = 18
	// SellAll 表示卖出执行时刻的全部余额。
	SellAll = "all"
)

// DefaultGasBuffer 是买入时在金额之外预留的 gas 余量（ETH）。
var DefaultGasBuffer = decimal.RequireFromString("0.0005")

// SwapRouter 返回可执行的兑换调用。
type SwapRouter interface {
	GetExecutableSwap(ctx context.Context, req aggregator.Request) (aggregator.SwapQuote, error)
}

// Executor 执行链上买卖。它不持有任何钱包，签名器随每次调用传入。
type Executor struct {
	chain     web3.Chain
	router    SwapRouter
	gasBuffer *big.Int
	log       *slog.Logger
}

// Option 定义 Executor 的可选配置。
type Option func(*Executor)

// WithGasBuffer 覆盖默认 gas 余量。
func WithGasBuffer(eth decimal.Decimal) Option {
	return func(e *Executor) {
		if !eth.IsNegative() {
			e.gasBuffer = erc20.ToBaseUnits(eth, nativeDecimals)
		}
	}
}

// NewExecutor 创建 Executor。
func NewExecutor(chain web3.Chain, router SwapRouter, opts ...Option) *Executor {
	e := &Executor{
		chain:     chain,
		router:    router,
		gasBuffer: erc20.ToBaseUnits(DefaultGasBuffer, nativeDecimals),
		log:       logger.Named("trade"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Buy 用 ethAmount 个原生币买入 token。
func (e *Executor) Buy(ctx context.Context, signer web3.Signer, token, ethAmount string) Result {
	res := e.buy(ctx, signer, token, ethAmount)
	e.record("buy", signer, token, ethAmount, res)
	return res
}

// Sell 卖出 amount 个 token 换回原生币。amount 为 "all" 时卖出执行时刻的全部余额。
func (e *Executor) Sell(ctx context.Context, signer web3.Signer, token, amount string) Result {
	res := e.sell(ctx, signer, token, amount)
	e.record("sell", signer, token, amount, res)
	return res
}

// Quote 只询价不执行，返回首个可用路由的调用数据。
func (e *Executor) Quote(ctx context.Context, sellToken, buyToken, amount, taker string) (aggregator.SwapQuote, error) {
	sell, err := parseToken(sellToken)
	if err != nil {
		return aggregator.SwapQuote{}, err
	}
	buy, err := parseToken(buyToken)
	if err != nil {
		return aggregator.SwapQuote{}, err
	}
	if !common.IsHexAddress(taker) {
		return aggregator.SwapQuote{}, xerrors.New(xerrors.CodeInvalidArgument, "taker 地址无效")
	}
	human, err := parseAmount(amount)
	if err != nil {
		return aggregator.SwapQuote{}, err
	}

	sellDecimals, err := e.decimalsOf(ctx, sell)
	if err != nil {
		return aggregator.SwapQuote{}, err
	}
	buyDecimals, err := e.decimalsOf(ctx, buy)
	if err != nil {
		return aggregator.SwapQuote{}, err
	}
	return e.router.GetExecutableSwap(ctx, aggregator.Request{
		SellToken:    sell,
		BuyToken:     buy,
		SellAmount:   erc20.ToBaseUnits(human, sellDecimals),
		Taker:        common.HexToAddress(taker),
		SellDecimals: sellDecimals,
		BuyDecimals:  buyDecimals,
	})
}

func (e *Executor) buy(ctx context.Context, signer web3.Signer, token, ethAmount string) Result {
	if signer == nil {
		return Failure(xerrors.New(xerrors.CodeInvalidArgument, "未提供钱包"))
	}
	tokenAddr, err := parseToken(token)
	if err != nil {
		return Failure(err)
	}
	if aggregator.IsNative(tokenAddr) {
		return Failure(xerrors.New(xerrors.CodeInvalidArgument, "不能用原生币买入原生币"))
	}
	human, err := parseAmount(ethAmount)
	if err != nil {
		return Failure(err)
	}
	wei := erc20.ToBaseUnits(human, nativeDecimals)
	owner := signer.Address()

	balance, err := e.chain.BalanceAt(ctx, owner)
	if err != nil {
		return Failure(chainReadError(err, "查询原生币余额失败"))
	}
	required := new(big.Int).Add(wei, e.gasBuffer)
	if balance.Cmp(required) < 0 {
		return Failure(xerrors.New(xerrors.CodeInsufficientFunds,
			fmt.Sprintf("余额 %s ETH 不足以支付 %s ETH 及 gas 余量", formatUnits(balance, nativeDecimals), human.String()),
			xerrors.WithMetadata("balance", balance.String()),
			xerrors.WithMetadata("required", required.String()),
		))
	}

	decimals, err := e.decimalsOf(ctx, tokenAddr)
	if err != nil {
		return Failure(err)
	}
	before, err := erc20.BalanceOf(ctx, e.chain, tokenAddr, owner)
	if err != nil {
		return Failure(chainReadError(err, "查询代币余额失败"))
	}

	quote, err := e.router.GetExecutableSwap(ctx, aggregator.Request{
		SellToken:    aggregator.NativeToken,
		BuyToken:     tokenAddr,
		SellAmount:   wei,
		Taker:        owner,
		SellDecimals: nativeDecimals,
		BuyDecimals:  decimals,
	})
	if err != nil {
		return Failure(err)
	}

	hash, err := e.submit(ctx, signer, web3.TxRequest{To: quote.Target, Data: quote.CallData, Value: quote.Value}, xerrors.CodeTransactionFailure, "兑换交易")
	if err != nil {
		res := Failure(err)
		res.Provider = string(quote.Provider)
		return res
	}

	res := Result{Success: true, TxHash: hash.Hex(), Provider: string(quote.Provider)}
	after, err := erc20.BalanceOf(ctx, e.chain, tokenAddr, owner)
	if err != nil {
		e.log.Warn("买入后读取代币余额失败", slog.String("tx_hash", res.TxHash), slog.Any("error", err))
		return res
	}
	res.AmountReceived = formatUnits(nonNegativeDelta(after, before), decimals)
	return res
}

func (e *Executor) sell(ctx context.Context, signer web3.Signer, token, amount string) Result {
	amount = strings.TrimSpace(amount)
	sellAll := strings.EqualFold(amount, SellAll)
	if !sellAll {
		if amount == "" {
			return Failure(xerrors.New(xerrors.CodeNothingToSell, "卖出数量为空"))
		}
		if value, err := decimal.NewFromString(amount); err == nil && value.IsZero() {
			return Failure(xerrors.New(xerrors.CodeNothingToSell, "卖出数量为 0"))
		}
	}
	if signer == nil {
		return Failure(xerrors.New(xerrors.CodeInvalidArgument, "未提供钱包"))
	}
	tokenAddr, err := parseToken(token)
	if err != nil {
		return Failure(err)
	}
	if aggregator.IsNative(tokenAddr) {
		return Failure(xerrors.New(xerrors.CodeInvalidArgument, "不能把原生币卖成原生币"))
	}
	owner := signer.Address()

	decimals, err := e.decimalsOf(ctx, tokenAddr)
	if err != nil {
		return Failure(err)
	}
	held, err := erc20.BalanceOf(ctx, e.chain, tokenAddr, owner)
	if err != nil {
		return Failure(chainReadError(err, "查询代币余额失败"))
	}

	var units *big.Int
	if sellAll {
		units = held
	} else {
		human, err := parseAmount(amount)
		if err != nil {
			return Failure(err)
		}
		units = erc20.ToBaseUnits(human, decimals)
	}
	if units.Sign() <= 0 {
		return Failure(xerrors.New(xerrors.CodeNothingToSell, "没有可卖出的代币余额"))
	}
	if units.Cmp(held) > 0 {
		return Failure(xerrors.New(xerrors.CodeInsufficientFunds,
			fmt.Sprintf("代币余额 %s 小于卖出数量 %s", formatUnits(held, decimals), formatUnits(units, decimals))))
	}

	nativeBefore, err := e.chain.BalanceAt(ctx, owner)
	if err != nil {
		return Failure(chainReadError(err, "查询原生币余额失败"))
	}
	if nativeBefore.Cmp(e.gasBuffer) < 0 {
		return Failure(xerrors.New(xerrors.CodeInsufficientFunds, "原生币余额不足以支付 gas",
			xerrors.WithMetadata("balance", nativeBefore.String())))
	}

	quote, err := e.router.GetExecutableSwap(ctx, aggregator.Request{
		SellToken:    tokenAddr,
		BuyToken:     aggregator.NativeToken,
		SellAmount:   units,
		Taker:        owner,
		SellDecimals: decimals,
		BuyDecimals:  nativeDecimals,
	})
	if err != nil {
		return Failure(err)
	}

	approveData, err := erc20.PackApprove(quote.Target, units)
	if err != nil {
		return Failure(xerrors.Wrap(xerrors.CodeApprovalFailure, err, "构建授权调用失败"))
	}
	if _, err := e.submit(ctx, signer, web3.TxRequest{To: tokenAddr, Data: approveData}, xerrors.CodeApprovalFailure, "授权交易"); err != nil {
		res := Failure(err)
		res.Provider = string(quote.Provider)
		return res
	}

	hash, err := e.submit(ctx, signer, web3.TxRequest{To: quote.Target, Data: quote.CallData, Value: quote.Value}, xerrors.CodeTransactionFailure, "兑换交易")
	if err != nil {
		res := Failure(err)
		res.Provider = string(quote.Provider)
		return res
	}

	res := Result{Success: true, TxHash: hash.Hex(), Provider: string(quote.Provider)}
	nativeAfter, err := e.chain.BalanceAt(ctx, owner)
	if err != nil {
		e.log.Warn("卖出后读取原生币余额失败", slog.String("tx_hash", res.TxHash), slog.Any("error", err))
		return res
	}
	res.AmountReceived = formatUnits(nonNegativeDelta(nativeAfter, nativeBefore), nativeDecimals)
	return res
}

// submit 发送交易并等待回执，所有失败（包括等待回执超时）都归类为 code。
func (e *Executor) submit(ctx context.Context, signer web3.Signer, req web3.TxRequest, code xerrors.Code, label string) (common.Hash, error) {
	hash, err := e.chain.SendTransaction(ctx, signer, req)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(code, err, label+"发送失败")
	}
	receipt, err := e.chain.WaitForReceipt(ctx, hash)
	if err != nil {
		return hash, xerrors.Wrap(code, err, label+"未确认", xerrors.WithMetadata(xerrors.MetaTxHash, hash.Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, xerrors.New(code, label+"执行失败（回执状态为 0）", xerrors.WithMetadata(xerrors.MetaTxHash, hash.Hex()))
	}
	return hash, nil
}

func (e *Executor) decimalsOf(ctx context.Context, token common.Address) (uint8, error) {
	if aggregator.IsNative(token) {
		return nativeDecimals, nil
	}
	decimals, err := erc20.Decimals(ctx, e.chain, token)
	if err != nil {
		return 0, chainReadError(err, "查询代币精度失败")
	}
	return decimals, nil
}

func (e *Executor) record(side string, signer web3.Signer, token, amount string, res Result) {
	metrics.ObserveTrade("onchain", side, res.Outcome())
	attrs := []any{
		slog.String("side", side),
		slog.String("token", token),
		slog.String("amount", amount),
		slog.Bool("success", res.Success),
		slog.String("provider", res.Provider),
		slog.String("tx_hash", res.TxHash),
		slog.String("amount_received", res.AmountReceived),
		slog.String("error_kind", string(res.ErrorKind)),
	}
	if signer != nil {
		attrs = append(attrs, slog.String("wallet", signer.Address().Hex()))
	}
	logger.Audit().Info("链上交易完成", attrs...)
}

func parseToken(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "eth") || strings.EqualFold(raw, "native") {
		return aggregator.NativeToken, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "代币地址无效: "+raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "数量格式无效")
	}
	if !value.IsPositive() {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
	}
	return value, nil
}

func chainReadError(err error, message string) error {
	if typed, ok := xerrors.From(err); ok && typed.Code() == xerrors.CodeTimeout {
		return err
	}
	return xerrors.Wrap(xerrors.CodeProviderError, err, message)
}

func nonNegativeDelta(after, before *big.Int) *big.Int {
	delta := new(big.Int).Sub(after, before)
	if delta.Sign() < 0 {
		return new(big.Int)
	}
	return delta
}

func formatUnits(value *big.Int, decimals uint8) string {
	return erc20.FromBaseUnits(value, decimals).String()
}
