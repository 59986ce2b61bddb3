package launchpad

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"TradePilot/internal/aggregator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	launched map[common.Address]bool
}

func (s stubCaller) CallContract(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	args, err := contractABI.Methods["isLaunchToken"].Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	token := args[0].(common.Address)
	return contractABI.Methods["isLaunchToken"].Outputs.Pack(s.launched[token])
}

func TestIsLaunchToken(t *testing.T) {
	launched := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	contract, err := New(common.HexToAddress("0x9999999999999999999999999999999999999999"),
		stubCaller{launched: map[common.Address]bool{launched: true}})
	require.NoError(t, err)

	ok, err := contract.IsLaunchToken(context.Background(), launched)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = contract.IsLaunchToken(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildDevBuy(t *testing.T) {
	address := common.HexToAddress("0x9999999999999999999999999999999999999999")
	contract, err := New(address, stubCaller{})
	require.NoError(t, err)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x3333333333333333333333333333333333333333")

	quote, err := contract.BuildDevBuy(token, big.NewInt(500), taker)
	require.NoError(t, err)
	assert.Equal(t, aggregator.TagDirect, quote.Provider)
	assert.Equal(t, address, quote.Target)
	assert.Equal(t, "500", quote.Value.String())
	assert.True(t, bytes.Equal(contractABI.Methods["buy"].ID, quote.CallData[:4]))

	args, err := contractABI.Methods["buy"].Inputs.Unpack(quote.CallData[4:])
	require.NoError(t, err)
	assert.Equal(t, token, args[0])
	assert.Equal(t, taker, args[1])

	_, err = contract.BuildDevBuy(token, big.NewInt(0), taker)
	assert.Error(t, err)
}
