package aggregator

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const (
	openOceanBaseURL     = "https://open-api.openocean.finance"
	openOceanSlippageBps = 500
	openOceanGasPrice    = "1"
)

// OpenOcean is the quaternary provider.
type OpenOcean struct {
	transport   *transport
	chain       string
	slippageBps int
}

// NewOpenOcean creates the OpenOcean client. cfg.Chain is the chain code, e.g. "base".
func NewOpenOcean(cfg Config) *OpenOcean {
	chain := strings.TrimSpace(cfg.Chain)
	if chain == "" {
		chain = "base"
	}
	return &OpenOcean{
		transport:   newTransport(TagQuaternary, cfg, openOceanBaseURL, map[string]string{"apikey": cfg.APIKey}),
		chain:       chain,
		slippageBps: slippage(cfg, openOceanSlippageBps),
	}
}

// Name implements Provider.
func (o *OpenOcean) Name() Tag { return TagQuaternary }

type openOceanResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
	Data  struct {
		OutAmount string `json:"outAmount"`
		To        string `json:"to"`
		Data      string `json:"data"`
		Value     string `json:"value"`
	} `json:"data"`
}

func (o *OpenOcean) query(req Request) url.Values {
	query := url.Values{}
	query.Set("inTokenAddress", req.SellToken.Hex())
	query.Set("outTokenAddress", req.BuyToken.Hex())
	query.Set("amountDecimals", req.SellAmount.String())
	query.Set("gasPrice", openOceanGasPrice)
	return query
}

// QuoteAndBuild implements Provider.
func (o *OpenOcean) QuoteAndBuild(ctx context.Context, req Request) (SwapQuote, error) {
	var quote openOceanResponse
	if err := o.transport.get(ctx, "/v4/"+o.chain+"/quote", o.query(req), &quote); err != nil {
		return SwapQuote{}, err
	}
	if quote.Code != 200 {
		return SwapQuote{}, noRoute(TagQuaternary, "quote rejected: "+quote.Error)
	}
	if out, ok := parseBig(quote.Data.OutAmount); !ok || out.Sign() == 0 {
		return SwapQuote{}, noRoute(TagQuaternary, "quote has no output amount")
	}

	query := o.query(req)
	query.Set("slippage", strconv.FormatFloat(float64(o.slippageBps)/100, 'f', -1, 64))
	query.Set("account", req.Taker.Hex())
	var swap openOceanResponse
	if err := o.transport.get(ctx, "/v4/"+o.chain+"/swap", query, &swap); err != nil {
		return SwapQuote{}, err
	}
	if swap.Code != 200 {
		return SwapQuote{}, noRoute(TagQuaternary, "swap build rejected: "+swap.Error)
	}
	return buildQuote(TagQuaternary, req, swap.Data.To, swap.Data.Data, swap.Data.OutAmount)
}

var _ Provider = (*OpenOcean)(nil)
