// Package launchpad talks to the token launch contract used as the last
// routing fallback for freshly launched tokens.
package launchpad

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"TradePilot/internal/aggregator"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const abiJSON = `[
{"type":"function","name":"isLaunchToken","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"buy","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"minTokensOut","type":"uint256"}],"outputs":[]}
]`

var contractABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("launchpad: invalid abi: %v", err))
	}
	return parsed
}()

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Contract is a deployed launch contract.
type Contract struct {
	address common.Address
	caller  Caller
}

// New binds the contract at address.
func New(address common.Address, caller Caller) (*Contract, error) {
	if address == (common.Address{}) {
		return nil, errors.New("launchpad address is required")
	}
	if caller == nil {
		return nil, errors.New("launchpad caller is required")
	}
	return &Contract{address: address, caller: caller}, nil
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.address }

// IsLaunchToken reports whether token was launched through this contract.
func (c *Contract) IsLaunchToken(ctx context.Context, token common.Address) (bool, error) {
	data, err := contractABI.Pack("isLaunchToken", token)
	if err != nil {
		return false, fmt.Errorf("pack isLaunchToken: %w", err)
	}
	raw, err := c.caller.CallContract(ctx, c.address, data)
	if err != nil {
		return false, fmt.Errorf("isLaunchToken: %w", err)
	}
	out, err := contractABI.Unpack("isLaunchToken", raw)
	if err != nil {
		return false, fmt.Errorf("unpack isLaunchToken: %w", err)
	}
	if len(out) == 0 {
		return false, errors.New("isLaunchToken: empty result")
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// BuildDevBuy packs a payable buy sending amount wei for token to taker.
func (c *Contract) BuildDevBuy(token common.Address, amount *big.Int, taker common.Address) (aggregator.SwapQuote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return aggregator.SwapQuote{}, errors.New("dev-buy amount must be positive")
	}
	data, err := contractABI.Pack("buy", token, taker, new(big.Int))
	if err != nil {
		return aggregator.SwapQuote{}, fmt.Errorf("pack buy: %w", err)
	}
	return aggregator.SwapQuote{
		Target:   c.address,
		CallData: data,
		Value:    new(big.Int).Set(amount),
		Provider: aggregator.TagDirect,
	}, nil
}
