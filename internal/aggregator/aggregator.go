// Package aggregator contains clients for DEX aggregator APIs.
//
// Every client performs the same two-step exchange: obtain a route for the
// requested pair, then ask the provider to build executable calldata for it.
// Clients never retry; the router decides what happens after a failure.
package aggregator

import (
	"context"
	"math/big"
	"strings"

	xerrors "TradePilot/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Tag identifies a provider position in the fallback chain.
type Tag string

const (
	TagPrimary    Tag = "primary"
	TagSecondary  Tag = "secondary"
	TagTertiary   Tag = "tertiary"
	TagQuaternary Tag = "quaternary"
	TagDirect     Tag = "direct"
)

// NativeToken is the sentinel address aggregators use for the chain's native asset.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNative reports whether addr denotes the native asset.
func IsNative(addr common.Address) bool {
	return addr == NativeToken || addr == (common.Address{})
}

// Request describes a swap of SellAmount base units of SellToken into BuyToken.
type Request struct {
	SellToken    common.Address
	BuyToken     common.Address
	SellAmount   *big.Int
	Taker        common.Address
	SellDecimals uint8
	BuyDecimals  uint8
}

// SellsNative reports whether the request spends the native asset.
func (r Request) SellsNative() bool { return IsNative(r.SellToken) }

// BuysNative reports whether the request receives the native asset.
func (r Request) BuysNative() bool { return IsNative(r.BuyToken) }

// Validate checks the request before any provider is contacted.
func (r Request) Validate() error {
	if r.SellAmount == nil || r.SellAmount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "sell amount must be positive")
	}
	if r.SellToken == r.BuyToken {
		return xerrors.New(xerrors.CodeInvalidArgument, "sell and buy token are identical")
	}
	if r.Taker == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "taker address is required")
	}
	return nil
}

// TxValue is the native value that must accompany the swap transaction.
func (r Request) TxValue() *big.Int {
	if r.SellsNative() {
		return new(big.Int).Set(r.SellAmount)
	}
	return new(big.Int)
}

// SwapQuote is executable calldata for one swap. It is used once.
type SwapQuote struct {
	Target    common.Address `json:"target"`
	CallData  hexutil.Bytes  `json:"call_data"`
	Value     *big.Int       `json:"value"`
	AmountOut *big.Int       `json:"amount_out,omitempty"`
	Provider  Tag            `json:"provider"`
}

// Provider is a single aggregator client.
type Provider interface {
	Name() Tag
	QuoteAndBuild(ctx context.Context, req Request) (SwapQuote, error)
}

func noRoute(tag Tag, message string) error {
	return xerrors.New(xerrors.CodeNoRoute, message, xerrors.WithMetadata("provider", string(tag)))
}

func parseBig(raw string) (*big.Int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw, base = raw[2:], 16
		if raw == "" {
			return new(big.Int), true
		}
	}
	return new(big.Int).SetString(raw, base)
}

func buildQuote(tag Tag, req Request, target, data, amountOut string) (SwapQuote, error) {
	if !common.IsHexAddress(target) {
		return SwapQuote{}, noRoute(tag, "build response has no target address")
	}
	callData := common.FromHex(strings.TrimSpace(data))
	if len(callData) == 0 {
		return SwapQuote{}, noRoute(tag, "build response has no calldata")
	}
	quote := SwapQuote{
		Target:   common.HexToAddress(target),
		CallData: callData,
		Value:    req.TxValue(),
		Provider: tag,
	}
	if out, ok := parseBig(amountOut); ok {
		quote.AmountOut = out
	}
	return quote, nil
}
