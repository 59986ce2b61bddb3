// Package feed reads community posts that the signal scanner classifies.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TradePilot/internal/signal"
)

const (
	defaultBaseURL   = "https://www.reddit.com"
	defaultUserAgent = "tradepilot-scanner/1.0"
	defaultTimeout   = 15 * time.Second
	maxListingLimit  = 100
)

// Config 描述读取 Reddit 公共列表所需的参数。
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// RedditClient 通过公开的 listing JSON 读取子版块最新帖子。
type RedditClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewRedditClient 根据配置创建客户端。
func NewRedditClient(cfg Config) *RedditClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RedditClient{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Title      string  `json:"title"`
				Selftext   string  `json:"selftext"`
				Author     string  `json:"author"`
				Ups        int     `json:"ups"`
				Downs      int     `json:"downs"`
				Subreddit  string  `json:"subreddit"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch 实现 signal.PostSource。
func (c *RedditClient) Fetch(ctx context.Context, subreddit string, limit int) ([]signal.Post, error) {
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit == "" {
		return nil, fmt.Errorf("子版块名称不能为空")
	}
	if limit <= 0 || limit > maxListingLimit {
		limit = 25
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json?limit=%s", c.baseURL, url.PathEscape(subreddit), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建 Reddit 请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Reddit 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("Reddit 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded listing
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Reddit 响应失败: %w", err)
	}

	posts := make([]signal.Post, 0, len(decoded.Data.Children))
	for _, child := range decoded.Data.Children {
		item := child.Data
		posts = append(posts, signal.Post{
			ID:        item.ID,
			Title:     item.Title,
			Body:      item.Selftext,
			Author:    item.Author,
			Upvotes:   item.Ups,
			Downvotes: item.Downs,
			Community: item.Subreddit,
			CreatedAt: time.Unix(int64(item.CreatedUTC), 0).UTC(),
		})
	}
	return posts, nil
}

var _ signal.PostSource = (*RedditClient)(nil)
