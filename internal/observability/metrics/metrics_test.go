package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	ObserveHTTPRequest("/api/v1/trades/buy", "POST", 200, 120*time.Millisecond)
	ObserveProviderAttempt("primary", "no_route", 30*time.Millisecond)
	ObserveTrade("onchain", "buy", "success")
	ObserveJob("buy", "succeeded")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`tradepilot_http_requests_total{code="200",handler="/api/v1/trades/buy",method="POST"}`,
		`tradepilot_swap_provider_attempts_total{outcome="no_route",provider="primary"}`,
		`tradepilot_trades_total{outcome="success",side="buy",venue="onchain"}`,
		`tradepilot_jobs_total{kind="buy",status="succeeded"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
