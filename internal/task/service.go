package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/signal"
	"TradePilot/pkg/logger"
)

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Validate 检查请求是否可以入队。
func (r Request) Validate() error {
	switch r.Kind {
	case KindBuy, KindSell:
		if strings.TrimSpace(r.Token) == "" {
			return xerrors.New(CodeJobValidation, "代币地址不能为空")
		}
		if strings.TrimSpace(r.Amount) == "" {
			return xerrors.New(CodeJobValidation, "交易数量不能为空，卖出全部请使用 all")
		}
		if strings.TrimSpace(r.WalletRef) == "" {
			return xerrors.New(CodeJobValidation, "链上交易需要指定钱包")
		}
	case KindSignal:
		if r.Signal == nil {
			return xerrors.New(CodeJobValidation, "信号任务缺少信号内容")
		}
		if !signal.IsValidAction(r.Signal.Action) || strings.TrimSpace(r.Signal.Token) == "" {
			return xerrors.New(CodeJobValidation, "信号动作或代币无效")
		}
		if strings.TrimSpace(r.WalletRef) == "" && strings.TrimSpace(r.ExchangeRef) == "" {
			return xerrors.New(CodeJobValidation, "信号任务需要钱包或交易所账户")
		}
	default:
		return xerrors.New(CodeJobValidation, "不支持的任务类型: "+string(r.Kind))
	}
	return nil
}

// Submit 创建一个新的任务并推送到队列。携带已存在的 ID 时直接返回已有任务。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:          jobID,
		Kind:        req.Kind,
		Token:       strings.TrimSpace(req.Token),
		Amount:      strings.TrimSpace(req.Amount),
		WalletRef:   strings.TrimSpace(req.WalletRef),
		ExchangeRef: strings.TrimSpace(req.ExchangeRef),
		Status:      StatusPending,
		Attempts:    0,
		MaxRetries:  s.maxRetries,
	}
	if req.Signal != nil {
		sig := *req.Signal
		job.Signal = &sig
		if job.Token == "" {
			job.Token = sig.Token
		}
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, Failure{Code: string(CodeJobPublish), Message: wrapped.Error(), Terminal: true})
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("kind", string(job.Kind)),
		slog.String("token", job.Token),
		slog.String("wallet", job.WalletRef),
		slog.String("account", job.ExchangeRef),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询任务状态直到结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
