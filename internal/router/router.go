// Package router turns a swap request into executable calldata by walking
// the aggregator fallback chain in priority order.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"TradePilot/internal/aggregator"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/observability/metrics"
	"TradePilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultGuidanceURL is where users are sent when no provider can route a pair.
const DefaultGuidanceURL = "https://app.uniswap.org/swap?chain=base&inputCurrency={sell}&outputCurrency={buy}"

// LaunchVenue is a token launch contract that can sell its own tokens directly.
type LaunchVenue interface {
	IsLaunchToken(ctx context.Context, token common.Address) (bool, error)
	BuildDevBuy(token common.Address, amount *big.Int, taker common.Address) (aggregator.SwapQuote, error)
}

// Router walks providers sequentially; the first success wins.
type Router struct {
	providers []aggregator.Provider
	launch    LaunchVenue
	guidance  string
	log       *slog.Logger
}

// Option customises the router.
type Option func(*Router)

// WithLaunchVenue enables the dev-buy fallback for buys of launch tokens.
func WithLaunchVenue(venue LaunchVenue) Option {
	return func(r *Router) {
		r.launch = venue
	}
}

// WithGuidanceURL sets the manual trading link template. {sell} and {buy}
// are replaced with token addresses.
func WithGuidanceURL(template string) Option {
	return func(r *Router) {
		if strings.TrimSpace(template) != "" {
			r.guidance = template
		}
	}
}

// New creates a router over providers in priority order.
func New(providers []aggregator.Provider, opts ...Option) *Router {
	r := &Router{
		providers: append([]aggregator.Provider(nil), providers...),
		guidance:  DefaultGuidanceURL,
		log:       logger.Named("router"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Providers returns the provider tags in attempt order.
func (r *Router) Providers() []aggregator.Tag {
	tags := make([]aggregator.Tag, 0, len(r.providers))
	for _, p := range r.providers {
		tags = append(tags, p.Name())
	}
	return tags
}

// GetExecutableSwap returns calldata for req from the first provider that can build it.
func (r *Router) GetExecutableSwap(ctx context.Context, req aggregator.Request) (aggregator.SwapQuote, error) {
	if err := req.Validate(); err != nil {
		return aggregator.SwapQuote{}, err
	}

	var failures []error
	for _, provider := range r.providers {
		if err := ctx.Err(); err != nil {
			return aggregator.SwapQuote{}, xerrors.Wrap(xerrors.CodeTimeout, err, "swap routing interrupted")
		}
		tag := provider.Name()
		started := time.Now()
		quote, err := provider.QuoteAndBuild(ctx, req)
		metrics.ObserveProviderAttempt(string(tag), outcome(err), time.Since(started))
		if err == nil {
			quote.Provider = tag
			r.log.Info("swap route built",
				slog.String("provider", string(tag)),
				slog.String("sell", req.SellToken.Hex()),
				slog.String("buy", req.BuyToken.Hex()),
				slog.String("amount", req.SellAmount.String()),
			)
			return quote, nil
		}
		r.log.Debug("swap provider failed",
			slog.String("provider", string(tag)),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		failures = append(failures, err)
	}

	quote, ok, err := r.tryLaunchVenue(ctx, req)
	if ok {
		return quote, nil
	}
	if err != nil {
		failures = append(failures, err)
	}

	guidance := r.guidanceFor(req)
	return aggregator.SwapQuote{}, xerrors.Wrap(xerrors.CodeNoLiquidity, errors.Join(failures...),
		"no provider could route this pair; trade it manually",
		xerrors.WithMetadata(xerrors.MetaGuidance, guidance),
	)
}

func (r *Router) tryLaunchVenue(ctx context.Context, req aggregator.Request) (aggregator.SwapQuote, bool, error) {
	if r.launch == nil || !req.SellsNative() {
		return aggregator.SwapQuote{}, false, nil
	}
	isLaunch, err := r.launch.IsLaunchToken(ctx, req.BuyToken)
	if err != nil {
		r.log.Warn("launch venue lookup failed", slog.String("token", req.BuyToken.Hex()), slog.Any("error", err))
		return aggregator.SwapQuote{}, false, nil
	}
	if !isLaunch {
		return aggregator.SwapQuote{}, false, nil
	}
	quote, err := r.launch.BuildDevBuy(req.BuyToken, req.SellAmount, req.Taker)
	metrics.ObserveProviderAttempt(string(aggregator.TagDirect), outcome(err), 0)
	if err != nil {
		r.log.Warn("dev-buy build failed", slog.String("token", req.BuyToken.Hex()), slog.Any("error", err))
		return aggregator.SwapQuote{}, false, fmt.Errorf("build dev-buy call: %w", err)
	}
	quote.Provider = aggregator.TagDirect
	r.log.Info("swap routed to launch venue", slog.String("token", req.BuyToken.Hex()))
	return quote, true, nil
}

func (r *Router) guidanceFor(req aggregator.Request) string {
	return strings.NewReplacer(
		"{sell}", tokenParam(req.SellToken),
		"{buy}", tokenParam(req.BuyToken),
	).Replace(r.guidance)
}

func tokenParam(addr common.Address) string {
	if aggregator.IsNative(addr) {
		return "ETH"
	}
	return addr.Hex()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(xerrors.CodeOf(err)))
}
