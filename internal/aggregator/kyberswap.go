package aggregator

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
)

const (
	kyberBaseURL     = "https://aggregator-api.kyberswap.com"
	kyberSlippageBps = 300
	kyberClientID    = "tradepilot"
)

// KyberSwap is the primary provider.
type KyberSwap struct {
	transport   *transport
	chain       string
	slippageBps int
}

// NewKyberSwap creates the KyberSwap client. cfg.Chain is the chain slug, e.g. "base".
func NewKyberSwap(cfg Config) *KyberSwap {
	chain := strings.TrimSpace(cfg.Chain)
	if chain == "" {
		chain = "base"
	}
	clientID := cfg.APIKey
	if clientID == "" {
		clientID = kyberClientID
	}
	return &KyberSwap{
		transport:   newTransport(TagPrimary, cfg, kyberBaseURL, map[string]string{"x-client-id": clientID}),
		chain:       chain,
		slippageBps: slippage(cfg, kyberSlippageBps),
	}
}

// Name implements Provider.
func (k *KyberSwap) Name() Tag { return TagPrimary }

type kyberRoutesResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RouteSummary  json.RawMessage `json:"routeSummary"`
		RouterAddress string          `json:"routerAddress"`
	} `json:"data"`
}

type kyberBuildResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		AmountOut     string `json:"amountOut"`
		Data          string `json:"data"`
		RouterAddress string `json:"routerAddress"`
	} `json:"data"`
}

// QuoteAndBuild implements Provider.
func (k *KyberSwap) QuoteAndBuild(ctx context.Context, req Request) (SwapQuote, error) {
	query := url.Values{}
	query.Set("tokenIn", req.SellToken.Hex())
	query.Set("tokenOut", req.BuyToken.Hex())
	query.Set("amountIn", req.SellAmount.String())

	var routes kyberRoutesResponse
	if err := k.transport.get(ctx, "/"+k.chain+"/api/v1/routes", query, &routes); err != nil {
		return SwapQuote{}, err
	}
	if routes.Code != 0 || len(routes.Data.RouteSummary) == 0 || string(routes.Data.RouteSummary) == "null" {
		return SwapQuote{}, noRoute(TagPrimary, "no route: "+routes.Message)
	}

	body := map[string]any{
		"routeSummary":      routes.Data.RouteSummary,
		"sender":            req.Taker.Hex(),
		"recipient":         req.Taker.Hex(),
		"slippageTolerance": k.slippageBps,
	}
	var built kyberBuildResponse
	if err := k.transport.post(ctx, "/"+k.chain+"/api/v1/route/build", body, &built); err != nil {
		return SwapQuote{}, err
	}
	if built.Code != 0 {
		return SwapQuote{}, noRoute(TagPrimary, "build failed: "+built.Message)
	}
	target := built.Data.RouterAddress
	if target == "" {
		target = routes.Data.RouterAddress
	}
	return buildQuote(TagPrimary, req, target, built.Data.Data, built.Data.AmountOut)
}

var _ Provider = (*KyberSwap)(nil)
