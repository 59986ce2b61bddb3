// Package tradepilot is a Go client for the TradePilot REST API.
package tradepilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Synchronous on-chain trades wait for receipts, so it is generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Job statuses reported by the API.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the TradePilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TradeRequest buys or sells a token on-chain. For sells an empty Amount
// means the whole balance.
type TradeRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount,omitempty"`
	Wallet string `json:"wallet,omitempty"`
	Async  bool   `json:"async,omitempty"`
}

// TradeResult is the outcome of a trade.
type TradeResult struct {
	Success        bool   `json:"success"`
	TxHash         string `json:"tx_hash,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	AmountReceived string `json:"amount_received,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Message        string `json:"message,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Guidance       string `json:"guidance,omitempty"`
}

// Post is a social post submitted for signal extraction.
type Post struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Author    string `json:"author,omitempty"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
}

// Signal is a trading signal extracted from posts.
type Signal struct {
	Action     string       `json:"action"`
	Token      string       `json:"token"`
	Amount     string       `json:"amount,omitempty"`
	TakeProfit string       `json:"take_profit,omitempty"`
	StopLoss   string       `json:"stop_loss,omitempty"`
	Confidence float64      `json:"confidence"`
	Source     SignalSource `json:"source"`
}

// SignalSource identifies the post a signal came from.
type SignalSource struct {
	PostID  string `json:"post_id"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Upvotes int    `json:"upvotes"`
}

// JobSubmission describes an asynchronous trade job.
type JobSubmission struct {
	ID      string  `json:"id,omitempty"`
	Kind    string  `json:"kind"`
	Token   string  `json:"token,omitempty"`
	Amount  string  `json:"amount,omitempty"`
	Signal  *Signal `json:"signal,omitempty"`
	Wallet  string  `json:"wallet,omitempty"`
	Account string  `json:"account,omitempty"`
}

// Job is the server-side view of a trade job.
type Job struct {
	ID         string       `json:"id"`
	Kind       string       `json:"kind"`
	Token      string       `json:"token,omitempty"`
	Amount     string       `json:"amount,omitempty"`
	Status     string       `json:"status"`
	Attempts   int          `json:"attempts"`
	MaxRetries int          `json:"max_retries"`
	LastError  string       `json:"last_error,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	Result     *TradeResult `json:"result,omitempty"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// ExchangeOrderRequest places an order on the configured centralized exchange.
// OrderType is "market" (default) or "limit"; limit orders need Quantity and Price.
type ExchangeOrderRequest struct {
	Account     string `json:"account,omitempty"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side,omitempty"`
	OrderType   string `json:"order_type,omitempty"`
	Price       string `json:"price,omitempty"`
	QuoteAmount string `json:"quote_amount,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	Leverage    int    `json:"leverage,omitempty"`
	TakeProfit  string `json:"take_profit,omitempty"`
	StopLoss    string `json:"stop_loss,omitempty"`
}

// ExchangeOrder mirrors an order as reported by the exchange.
type ExchangeOrder struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	Quantity         string `json:"quantity"`
	QuoteAmount      string `json:"quote_amount"`
	Price            string `json:"price"`
	TriggerPrice     string `json:"trigger_price"`
	OrderID          string `json:"order_id"`
	ClientOrderID    string `json:"client_order_id,omitempty"`
	Status           string `json:"status"`
	ExecutedQuantity string `json:"executed_quantity"`
}

// ExchangeOrderResult is the primary order plus any bracket orders.
type ExchangeOrderResult struct {
	Order      *ExchangeOrder `json:"order,omitempty"`
	TakeProfit *ExchangeOrder `json:"take_profit,omitempty"`
	StopLoss   *ExchangeOrder `json:"stop_loss,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// APIError represents server side validation, trade or internal errors.
// Result is set when the server rejected a synchronous trade.
type APIError struct {
	StatusCode int
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
	Result     *TradeResult `json:"-"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("tradepilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tradepilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the TradePilot API. When httpClient is
// nil, a default client is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Buy spends native currency on a token. With req.Async the trade is queued
// and the returned result is empty; use SubmitJob to get the job handle.
func (c *Client) Buy(ctx context.Context, req TradeRequest) (TradeResult, error) {
	var result TradeResult
	err := c.post(ctx, "/api/v1/trades/buy", req, &result)
	return result, err
}

// Sell sells a token for native currency.
func (c *Client) Sell(ctx context.Context, req TradeRequest) (TradeResult, error) {
	var result TradeResult
	err := c.post(ctx, "/api/v1/trades/sell", req, &result)
	return result, err
}

// ExtractSignals runs the server-side extractor over posts.
func (c *Client) ExtractSignals(ctx context.Context, posts []Post) ([]Signal, error) {
	var out struct {
		Signals []Signal `json:"signals"`
	}
	if err := c.post(ctx, "/api/v1/signals/extract", map[string]any{"posts": posts}, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// SubmitJob queues a trade job.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/v1/jobs", query, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// WaitForJob polls a job until it finishes or ctx is cancelled.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PlaceExchangeOrder submits a market, limit or leveraged order.
func (c *Client) PlaceExchangeOrder(ctx context.Context, req ExchangeOrderRequest) (ExchangeOrderResult, error) {
	var out ExchangeOrderResult
	if err := c.post(ctx, "/api/v1/exchange/orders", req, &out); err != nil {
		return ExchangeOrderResult{}, err
	}
	return out, nil
}

// OpenExchangeOrders lists unfilled orders for symbol.
func (c *Client) OpenExchangeOrders(ctx context.Context, account, symbol string) ([]ExchangeOrder, error) {
	query := url.Values{"symbol": {symbol}}
	if account != "" {
		query.Set("account", account)
	}
	var out struct {
		Orders []ExchangeOrder `json:"orders"`
	}
	if err := c.get(ctx, "/api/v1/exchange/orders", query, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// CancelExchangeOrder cancels an open order.
func (c *Client) CancelExchangeOrder(ctx context.Context, account, symbol, orderID string) error {
	var query url.Values
	if account != "" {
		query = url.Values{"account": {account}}
	}
	endpoint := "/api/v1/exchange/orders/" + url.PathEscape(symbol) + "/" + url.PathEscape(orderID)
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(data) > 0 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		envelope.Error = apiErr
		if err := json.Unmarshal(data, &envelope); err == nil && apiErr.Code == "" {
			// rejected synchronous trades carry the trade result as the body
			var result TradeResult
			if json.Unmarshal(data, &result) == nil && result.ErrorKind != "" {
				apiErr.Code = result.ErrorKind
				apiErr.Message = result.Message
				apiErr.Result = &result
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
