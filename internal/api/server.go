package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"TradePilot/internal/aggregator"
	"TradePilot/internal/auth"
	"TradePilot/internal/bridge"
	"TradePilot/internal/exchange"
	"TradePilot/internal/observability/metrics"
	"TradePilot/internal/signal"
	"TradePilot/internal/task"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"
)

// OnchainTrader 执行链上买卖与询价。
type OnchainTrader interface {
	Buy(ctx context.Context, signer web3.Signer, token, ethAmount string) trade.Result
	Sell(ctx context.Context, signer web3.Signer, token, amount string) trade.Result
	Quote(ctx context.Context, sellToken, buyToken, amount, taker string) (aggregator.SwapQuote, error)
}

// ExchangeTrader 执行交易所下单。
type ExchangeTrader interface {
	BuyWithBracket(ctx context.Context, creds exchange.Credentials, symbol string, quoteAmount decimal.Decimal, takeProfit, stopLoss *decimal.Decimal) (exchange.BracketResult, error)
	Sell(ctx context.Context, creds exchange.Credentials, symbol string, quantity decimal.Decimal) (exchange.Order, error)
	OpenLeveragedPosition(ctx context.Context, creds exchange.Credentials, symbol string, size decimal.Decimal, leverage int, side exchange.Side, takeProfit, stopLoss *decimal.Decimal) (exchange.BracketResult, error)
	FreeBalance(ctx context.Context, creds exchange.Credentials, asset string) (decimal.Decimal, error)
	PlaceLimit(ctx context.Context, creds exchange.Credentials, symbol string, side exchange.Side, quantity, price decimal.Decimal) (exchange.Order, error)
	Cancel(ctx context.Context, creds exchange.Credentials, symbol, orderID string) error
	OpenOrders(ctx context.Context, creds exchange.Credentials, symbol string) ([]exchange.Order, error)
}

// SignalExecutor 执行单个信号。
type SignalExecutor interface {
	Execute(ctx context.Context, sig signal.Signal, creds bridge.Credentials) trade.Result
}

// SignalScanner 抓取社区帖子并提取信号。
type SignalScanner interface {
	Scan(ctx context.Context, communities []string) ([]signal.Signal, error)
}

// JobService 管理异步交易任务。
type JobService interface {
	Submit(ctx context.Context, req task.Request) (*task.Job, error)
	Get(ctx context.Context, id string) (*task.Job, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Job, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.JobStats, error)
}

// ChainProbe 报告默认链的链 ID 与区块高度，用于健康检查。
type ChainProbe interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Deps 汇总 API 依赖，未配置的能力对应的接口返回 503。
type Deps struct {
	Extractor   *signal.Extractor
	Scanner     SignalScanner
	Signals     SignalExecutor
	Onchain     OnchainTrader
	Exchange    ExchangeTrader
	Jobs        JobService
	Credentials task.CredentialResolver
	Chain       ChainProbe
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	deps            Deps
	shutdownTimeout time.Duration
	readTimeout     time.Duration
	auth            *auth.Service
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithReadTimeout 设置读取请求的超时时间。
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithAuth 为 /api/v1 下的接口启用令牌认证。只读接口需要 read 权限，其余需要 trade 权限。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps, opts ...Option) *Server {
	s := &Server{addr: addr, deps: deps, shutdownTimeout: 5 * time.Second, readTimeout: 15 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.deps.Extractor == nil {
		s.deps.Extractor = signal.NewExtractor()
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	read := s.guard(auth.PermissionRead)
	write := s.guard(auth.PermissionTrade)
	mux.Handle("POST /api/v1/signals/extract", read(s.handleExtract))
	mux.Handle("POST /api/v1/signals/scan", write(s.handleScan))
	mux.Handle("POST /api/v1/signals/execute", write(s.handleExecuteSignal))
	mux.Handle("POST /api/v1/trades/buy", write(s.handleBuy))
	mux.Handle("POST /api/v1/trades/sell", write(s.handleSell))
	mux.Handle("POST /api/v1/swaps/quote", read(s.handleQuote))
	mux.Handle("POST /api/v1/exchange/orders", write(s.handleExchangeOrder))
	mux.Handle("GET /api/v1/exchange/orders", read(s.handleOpenOrders))
	mux.Handle("DELETE /api/v1/exchange/orders/{symbol}/{id}", write(s.handleCancelOrder))
	mux.Handle("GET /api/v1/exchange/balances/{asset}", read(s.handleExchangeBalance))

	mux.Handle("POST /api/v1/jobs", write(s.handleSubmitJob))
	mux.Handle("GET /api/v1/jobs", read(s.handleListJobs))
	mux.Handle("GET /api/v1/jobs/stats", read(s.handleJobStats))
	mux.Handle("GET /api/v1/jobs/{id}", read(s.handleGetJob))
	return withMetrics(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// guard 返回按权限包装处理函数的辅助函数，未启用认证时原样返回。
func (s *Server) guard(perm string) func(http.HandlerFunc) http.Handler {
	return func(h http.HandlerFunc) http.Handler {
		if s.auth == nil {
			return h
		}
		return s.auth.Require(perm)(h)
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(started))
	})
}
