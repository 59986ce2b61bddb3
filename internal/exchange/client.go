package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/observability/metrics"
	"TradePilot/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRecvWindow = 5 * time.Second
)

// Config 是交易所客户端的连接参数。ProductType、MarginCoin、MarginMode 只对合约交易所生效。
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RecvWindow  time.Duration
	ProductType string
	MarginCoin  string
	MarginMode  string
	HTTPClient  *http.Client
	Now         func() time.Time
}

// New 根据交易所名称创建客户端。
func New(name string, cfg Config) (Venue, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case VenueBinance:
		return NewBinance(cfg), nil
	case VenueBitget:
		return NewBitget(cfg), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的交易所: %s", name))
	}
}

type restClient struct {
	venue      string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func newRESTClient(venue string, cfg Config, defaultBaseURL string) *restClient {
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
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &restClient{venue: venue, baseURL: baseURL, httpClient: client, now: now}
}

func (c *restClient) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// send 执行请求并返回响应体与状态码。只有网络层失败才返回 error。
func (c *restClient) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, 0, xerrors.Wrap(xerrors.CodeTimeout, err, c.venue+": 请求超时或被取消",
				xerrors.WithMetadata("venue", c.venue))
		}
		return nil, 0, c.failure(err, 0, "请求失败")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, c.failure(err, resp.StatusCode, "读取响应失败")
	}
	return raw, resp.StatusCode, nil
}

func (c *restClient) failure(cause error, status int, message string, opts ...xerrors.Option) error {
	opts = append(opts, xerrors.WithMetadata("venue", c.venue))
	if status > 0 {
		opts = append(opts, xerrors.WithMetadata("status", strconv.Itoa(status)))
		message = fmt.Sprintf("%s: status %d: %s", c.venue, status, message)
	} else {
		message = fmt.Sprintf("%s: %s", c.venue, message)
	}
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeProviderError, cause, message, opts...)
	}
	return xerrors.New(xerrors.CodeProviderError, message, opts...)
}

func (c *restClient) observe(ctx context.Context, operation string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(xerrors.CodeOf(err)))
	}
	metrics.ObserveExchangeRequest(c.venue, operation, outcome)
	if err != nil {
		logger.L().WarnContext(ctx, "交易所请求失败",
			"venue", c.venue,
			"operation", operation,
			"duration", time.Since(started),
			"error", err,
		)
	}
}

// parseDecimal 解析交易所返回的数字字符串，空串或非法值视为 0。
func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return d
}
