package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradepilot_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)

	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_swap_provider_attempts_total",
			Help: "Swap route attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradepilot_swap_provider_duration_seconds",
			Help:    "Quote and build latency per provider.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_trades_total",
			Help: "Trades executed by venue, side and outcome.",
		},
		[]string{"venue", "side", "outcome"},
	)

	exchangeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_exchange_requests_total",
			Help: "Signed exchange REST calls by venue, operation and outcome.",
		},
		[]string{"venue", "operation", "outcome"},
	)

	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_jobs_total",
			Help: "Trade job transitions by kind and status.",
		},
		[]string{"kind", "status"},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepilot_signals_extracted_total",
			Help: "Signals extracted from community posts.",
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpLatency,
		providerAttempts, providerLatency,
		trades, exchangeRequests, jobs, signals,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveProviderAttempt records one swap provider attempt.
func ObserveProviderAttempt(provider, outcome string, duration time.Duration) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
	providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveTrade counts a finished trade.
func ObserveTrade(venue, side, outcome string) {
	trades.WithLabelValues(venue, side, outcome).Inc()
}

// ObserveExchangeRequest counts a signed exchange call.
func ObserveExchangeRequest(venue, operation, outcome string) {
	exchangeRequests.WithLabelValues(venue, operation, outcome).Inc()
}

// ObserveJob counts a job status transition.
func ObserveJob(kind, status string) {
	jobs.WithLabelValues(kind, status).Inc()
}

// ObserveSignal counts an extracted signal.
func ObserveSignal(action string) {
	signals.WithLabelValues(action).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
