package aggregator

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

const (
	paraswapBaseURL     = "https://api.paraswap.io"
	paraswapSlippageBps = 500
)

// ParaSwap is the tertiary provider.
type ParaSwap struct {
	transport   *transport
	chainID     int64
	slippageBps int
}

// NewParaSwap creates the ParaSwap client.
func NewParaSwap(cfg Config) *ParaSwap {
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 8453
	}
	return &ParaSwap{
		transport:   newTransport(TagTertiary, cfg, paraswapBaseURL, map[string]string{"X-API-KEY": cfg.APIKey}),
		chainID:     chainID,
		slippageBps: slippage(cfg, paraswapSlippageBps),
	}
}

// Name implements Provider.
func (p *ParaSwap) Name() Tag { return TagTertiary }

type paraswapPricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
	Error      string          `json:"error"`
}

type paraswapPriceRoute struct {
	DestAmount string `json:"destAmount"`
}

type paraswapTxResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// QuoteAndBuild implements Provider.
func (p *ParaSwap) QuoteAndBuild(ctx context.Context, req Request) (SwapQuote, error) {
	network := strconv.FormatInt(p.chainID, 10)
	query := url.Values{}
	query.Set("srcToken", req.SellToken.Hex())
	query.Set("destToken", req.BuyToken.Hex())
	query.Set("amount", req.SellAmount.String())
	query.Set("side", "SELL")
	query.Set("network", network)
	query.Set("userAddress", req.Taker.Hex())
	if req.SellDecimals > 0 {
		query.Set("srcDecimals", strconv.Itoa(int(req.SellDecimals)))
	}
	if req.BuyDecimals > 0 {
		query.Set("destDecimals", strconv.Itoa(int(req.BuyDecimals)))
	}

	var prices paraswapPricesResponse
	if err := p.transport.get(ctx, "/prices", query, &prices); err != nil {
		return SwapQuote{}, err
	}
	if prices.Error != "" || len(prices.PriceRoute) == 0 || string(prices.PriceRoute) == "null" {
		return SwapQuote{}, noRoute(TagTertiary, "no price route: "+prices.Error)
	}
	var route paraswapPriceRoute
	if err := json.Unmarshal(prices.PriceRoute, &route); err != nil {
		return SwapQuote{}, p.transport.providerError(err, 0, "decode price route")
	}

	body := map[string]any{
		"srcToken":    req.SellToken.Hex(),
		"destToken":   req.BuyToken.Hex(),
		"srcAmount":   req.SellAmount.String(),
		"slippage":    p.slippageBps,
		"priceRoute":  prices.PriceRoute,
		"userAddress": req.Taker.Hex(),
	}
	if req.SellDecimals > 0 {
		body["srcDecimals"] = req.SellDecimals
	}
	if req.BuyDecimals > 0 {
		body["destDecimals"] = req.BuyDecimals
	}
	query = url.Values{}
	query.Set("ignoreChecks", "true")
	var tx paraswapTxResponse
	if err := p.transport.post(ctx, "/transactions/"+network+"?"+query.Encode(), body, &tx); err != nil {
		return SwapQuote{}, err
	}
	return buildQuote(TagTertiary, req, tx.To, tx.Data, route.DestAmount)
}

var _ Provider = (*ParaSwap)(nil)
