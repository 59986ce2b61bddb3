package task

import (
	stdErrors "errors"

	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/signal"
	"TradePilot/internal/trade"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind 表示任务要执行的交易类型。
type Kind string

const (
	KindBuy    Kind = "buy"
	KindSell   Kind = "sell"
	KindSignal Kind = "signal"
)

// Request 描述提交交易任务所需的参数。钱包与交易所账户以引用名传入，执行时再解析。
type Request struct {
	ID          string         `json:"id,omitempty"`
	Kind        Kind           `json:"kind"`
	Token       string         `json:"token,omitempty"`
	Amount      string         `json:"amount,omitempty"`
	Signal      *signal.Signal `json:"signal,omitempty"`
	WalletRef   string         `json:"wallet,omitempty"`
	ExchangeRef string         `json:"account,omitempty"`
}

// Job 描述了排队执行的交易任务。
type Job struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Token       string         `json:"token,omitempty"`
	Amount      string         `json:"amount,omitempty"`
	Signal      *signal.Signal `json:"signal,omitempty"`
	WalletRef   string         `json:"wallet,omitempty"`
	ExchangeRef string         `json:"account,omitempty"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxRetries  int            `json:"max_retries"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Result      *trade.Result  `json:"result,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobFinished 表示任务已经结束（成功或终止失败）。
	ErrJobFinished = xerrors.New(CodeJobFinished, "job already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobFinished   xerrors.Code = "JOB_FINISHED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobFinished, xerrors.Attributes{
		Message:   "job already finished",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "job retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:   "job validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为指定的任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeJobNotFound:
		return stdErrors.Is(err, ErrJobNotFound)
	case CodeJobConflict:
		return stdErrors.Is(err, ErrJobConflict)
	case CodeJobFinished:
		return stdErrors.Is(err, ErrJobFinished)
	case CodeJobExhausted:
		return stdErrors.Is(err, ErrJobExhausted)
	default:
		return xerrors.CodeOf(err) == target
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusRetrying, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind 检查任务类型。
func IsValidKind(kind Kind) bool {
	return kind == KindBuy || kind == KindSell || kind == KindSignal
}

// Finished 表示任务不会再被执行。
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	if job.Signal != nil {
		sig := *job.Signal
		clone.Signal = &sig
	}
	return &clone
}
