package aggregator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

const (
	odosBaseURL     = "https://api.odos.xyz"
	odosSlippageBps = 300
)

// Odos is the secondary provider.
type Odos struct {
	transport   *transport
	chainID     int64
	slippageBps int
}

// NewOdos creates the Odos client.
func NewOdos(cfg Config) *Odos {
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 8453
	}
	return &Odos{
		transport:   newTransport(TagSecondary, cfg, odosBaseURL, nil),
		chainID:     chainID,
		slippageBps: slippage(cfg, odosSlippageBps),
	}
}

// Name implements Provider.
func (o *Odos) Name() Tag { return TagSecondary }

type odosQuoteResponse struct {
	PathID     string   `json:"pathId"`
	OutAmounts []string `json:"outAmounts"`
}

type odosAssembleResponse struct {
	Transaction struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transaction"`
	OutputTokens []struct {
		Amount string `json:"amount"`
	} `json:"outputTokens"`
}

// odosToken maps the native sentinel to the zero address Odos expects.
func odosToken(addr common.Address) string {
	if IsNative(addr) {
		return common.Address{}.Hex()
	}
	return addr.Hex()
}

// QuoteAndBuild implements Provider.
func (o *Odos) QuoteAndBuild(ctx context.Context, req Request) (SwapQuote, error) {
	quoteBody := map[string]any{
		"chainId": o.chainID,
		"inputTokens": []map[string]string{
			{"tokenAddress": odosToken(req.SellToken), "amount": req.SellAmount.String()},
		},
		"outputTokens": []map[string]any{
			{"tokenAddress": odosToken(req.BuyToken), "proportion": 1},
		},
		"userAddr":             req.Taker.Hex(),
		"slippageLimitPercent": float64(o.slippageBps) / 100,
		"compact":              true,
	}
	var quote odosQuoteResponse
	if err := o.transport.post(ctx, "/sor/quote/v2", quoteBody, &quote); err != nil {
		return SwapQuote{}, err
	}
	if quote.PathID == "" {
		return SwapQuote{}, noRoute(TagSecondary, "no path returned")
	}

	assembleBody := map[string]any{
		"userAddr": req.Taker.Hex(),
		"pathId":   quote.PathID,
		"simulate": false,
	}
	var assembled odosAssembleResponse
	if err := o.transport.post(ctx, "/sor/assemble", assembleBody, &assembled); err != nil {
		return SwapQuote{}, err
	}
	amountOut := ""
	if len(assembled.OutputTokens) > 0 {
		amountOut = assembled.OutputTokens[0].Amount
	} else if len(quote.OutAmounts) > 0 {
		amountOut = quote.OutAmounts[0]
	}
	return buildQuote(TagSecondary, req, assembled.Transaction.To, assembled.Transaction.Data, amountOut)
}

var _ Provider = (*Odos)(nil)
