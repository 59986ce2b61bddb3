package tradepilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestBuySendsBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/trades/buy" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Token != "0xabc" || req.Amount != "0.1" {
			t.Fatalf("unexpected body: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(TradeResult{Success: true, TxHash: "0xdead"})
	})
	client.SetAccessToken("secret")

	result, err := client.Buy(context.Background(), TradeRequest{Token: "0xabc", Amount: "0.1"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !result.Success || result.TxHash != "0xdead" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSellFailureCarriesResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(TradeResult{ErrorKind: "NOTHING_TO_SELL", Message: "balance is zero"})
	})

	_, err := client.Sell(context.Background(), TradeRequest{Token: "0xabc"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "NOTHING_TO_SELL" || apiErr.Result == nil || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestGetJobError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-404" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "JOB_NOT_FOUND", "message": "missing"},
		})
	})

	_, err := client.GetJob(context.Background(), "job-404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "JOB_NOT_FOUND" || apiErr.Result != nil {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestSubmitAndWaitForJob(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jobs":
			var sub JobSubmission
			if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
				t.Fatalf("decode: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Kind: sub.Kind, Status: StatusPending})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/jobs/job-1":
			status := StatusRunning
			if polls.Add(1) >= 3 {
				status = StatusSucceeded
			}
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Status: status, Result: &TradeResult{Success: status == StatusSucceeded}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	job, err := client.SubmitJob(context.Background(), JobSubmission{Kind: "buy", Token: "0xabc", Amount: "1", Wallet: "main"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "job-1" || job.Status != StatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := client.WaitForJob(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !done.Finished() || done.Result == nil || !done.Result.Success {
		t.Fatalf("unexpected final job: %+v", done)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestListJobsQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != StatusFailed || r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []Job{{ID: "a"}, {ID: "b"}}})
	})
	jobs, err := client.ListJobs(context.Background(), StatusFailed, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestExchangeOrderLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/exchange/orders":
			var req ExchangeOrderRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.OrderType != "limit" || req.Price != "60000" {
				t.Fatalf("unexpected order: %+v", req)
			}
			_ = json.NewEncoder(w).Encode(ExchangeOrderResult{Order: &ExchangeOrder{OrderID: "4", Type: "limit", Price: "60000"}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/exchange/orders":
			if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("account") != "main" {
				t.Fatalf("unexpected query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orders":[{"order_id":"4","type":"limit"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/exchange/orders/BTCUSDT/4":
			_, _ = w.Write([]byte(`{"status":"canceled"}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	res, err := client.PlaceExchangeOrder(ctx, ExchangeOrderRequest{Symbol: "BTCUSDT", Side: "buy", OrderType: "limit", Quantity: "0.1", Price: "60000"})
	if err != nil || res.Order == nil || res.Order.OrderID != "4" {
		t.Fatalf("place: %+v %v", res, err)
	}
	orders, err := client.OpenExchangeOrders(ctx, "main", "BTCUSDT")
	if err != nil || len(orders) != 1 {
		t.Fatalf("open orders: %+v %v", orders, err)
	}
	if err := client.CancelExchangeOrder(ctx, "", "BTCUSDT", "4"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}
