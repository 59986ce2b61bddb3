package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "TradePilot/internal/errors"
)

const defaultTimeout = 15 * time.Second

// Config holds the connection settings shared by all aggregator clients.
type Config struct {
	BaseURL     string
	Chain       string
	ChainID     int64
	APIKey      string
	Timeout     time.Duration
	SlippageBps int
	HTTPClient  *http.Client
}

type transport struct {
	tag        Tag
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

func newTransport(tag Tag, cfg Config, defaultBaseURL string, headers map[string]string) *transport {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &transport{tag: tag, baseURL: baseURL, headers: headers, httpClient: client}
}

func (t *transport) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return t.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (t *transport) post(ctx context.Context, path string, body, out any) error {
	return t.do(ctx, http.MethodPost, t.baseURL+path, body, out)
}

func (t *transport) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return t.providerError(err, 0, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range t.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.providerError(err, 0, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return t.providerError(err, resp.StatusCode, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return t.providerError(nil, resp.StatusCode, upstreamMessage(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return t.providerError(err, resp.StatusCode, "decode response")
	}
	return nil
}

func (t *transport) providerError(cause error, status int, message string) error {
	opts := []xerrors.Option{xerrors.WithMetadata("provider", string(t.tag))}
	if status > 0 {
		opts = append(opts, xerrors.WithMetadata("status", strconv.Itoa(status)))
		message = fmt.Sprintf("%s: status %d: %s", t.tag, status, message)
	} else {
		message = fmt.Sprintf("%s: %s", t.tag, message)
	}
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeProviderError, cause, message, opts...)
	}
	return xerrors.New(xerrors.CodeProviderError, message, opts...)
}

// upstreamMessage pulls the human readable error out of a provider error body.
func upstreamMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"message", "error", "description", "detail", "errorMsg", "reason"} {
			if value, ok := body[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		text = "empty response"
	}
	return text
}

// Slippage tolerance accepted by every provider, in basis points.
const (
	MinSlippageBps = 300
	MaxSlippageBps = 500
)

// slippage returns the configured tolerance clamped to
// [MinSlippageBps, MaxSlippageBps], or fallback when unset.
func slippage(cfg Config, fallback int) int {
	bps := fallback
	if cfg.SlippageBps > 0 {
		bps = cfg.SlippageBps
	}
	return min(max(bps, MinSlippageBps), MaxSlippageBps)
}
