package task

import (
	"context"

	"TradePilot/internal/trade"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result trade.Result) error
	// MarkFailed 记录失败。terminal 为 false 时任务进入 retrying，可再次被领取。
	MarkFailed(ctx context.Context, id string, failure Failure) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (JobStats, error)
	Close() error
}

// Failure 描述一次失败的执行。
type Failure struct {
	Code     string
	Message  string
	Result   *trade.Result
	Terminal bool
}

func (f Failure) status() Status {
	if f.Terminal {
		return StatusFailed
	}
	return StatusRetrying
}
