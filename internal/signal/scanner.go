package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"TradePilot/pkg/logger"
)

// PostSource 从某个社区读取最新帖子。
type PostSource interface {
	Fetch(ctx context.Context, community string, limit int) ([]Post, error)
}

// Scanner 组合帖子来源、提取器与发布器，完成一次扫描。
type Scanner struct {
	source    PostSource
	extractor *Extractor
	publisher Publisher
	limit     int
}

// NewScanner 创建 Scanner。publisher 为空时信号只返回给调用方。
func NewScanner(source PostSource, extractor *Extractor, publisher Publisher, limit int) *Scanner {
	if extractor == nil {
		extractor = defaultExtractor
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if limit <= 0 {
		limit = 25
	}
	return &Scanner{source: source, extractor: extractor, publisher: publisher, limit: limit}
}

// Scan 读取各社区帖子并提取信号。单个社区读取失败不会中断整批扫描。
func (s *Scanner) Scan(ctx context.Context, communities []string) ([]Signal, error) {
	if s.source == nil {
		return nil, errors.New("未配置帖子来源")
	}
	var posts []Post
	var errs []error
	for _, community := range communities {
		batch, err := s.source.Fetch(ctx, community, s.limit)
		if err != nil {
			logger.L().Warn("读取社区帖子失败", slog.String("community", community), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", community, err))
			continue
		}
		posts = append(posts, batch...)
	}
	if len(posts) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	signals := s.extractor.Extract(posts)
	if err := s.publisher.Publish(ctx, signals); err != nil {
		logger.L().Error("发布信号失败", slog.Any("error", err), slog.Int("signals", len(signals)))
		return signals, err
	}
	logger.Audit().Info("信号扫描完成",
		slog.Int("communities", len(communities)),
		slog.Int("posts", len(posts)),
		slog.Int("signals", len(signals)),
	)
	return signals, nil
}
