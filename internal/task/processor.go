package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"TradePilot/internal/bridge"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/observability/alerting"
	"TradePilot/internal/observability/metrics"
	"TradePilot/internal/signal"
	"TradePilot/internal/trade"
	"TradePilot/internal/web3"
	"TradePilot/pkg/logger"
)

// TradeExecutor 执行链上买卖。
type TradeExecutor interface {
	Buy(ctx context.Context, signer web3.Signer, token, ethAmount string) trade.Result
	Sell(ctx context.Context, signer web3.Signer, token, amount string) trade.Result
}

// SignalExecutor 将信号路由到交易所或链上执行。
type SignalExecutor interface {
	Execute(ctx context.Context, sig signal.Signal, creds bridge.Credentials) trade.Result
}

// CredentialResolver 按引用名解析钱包与交易所凭证。
type CredentialResolver interface {
	Wallet(ref string) (web3.Signer, error)
	Exchange(ref string) (*exchange.Credentials, error)
}

// Executors 汇总处理器依赖的执行能力。
type Executors struct {
	Trades      TradeExecutor
	Signals     SignalExecutor
	Credentials CredentialResolver
}

// Processor 负责从队列消费任务并执行交易。
type Processor struct {
	executors   Executors
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executors Executors, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executors:   executors,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executors.Credentials == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobFinished) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, xerrors.CodeOf(err), err, "claim")
		return err
	}
	metrics.ObserveJob(string(job.Kind), string(StatusRunning))

	result := p.execute(ctx, job)
	if !result.Success {
		return p.handleFailure(ctx, job, result)
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		// 交易已完成，不能重新投递；保持 running 由人工核对。
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID),
			slog.String("tx_hash", result.TxHash), slog.String("order_id", result.OrderID))
		p.emitAlert(ctx, job, xerrors.CodeStorageFailure, err, "record_success")
		return nil
	}
	metrics.ObserveJob(string(job.Kind), string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("token", job.Token),
		slog.String("tx_hash", result.TxHash),
		slog.String("order_id", result.OrderID),
		slog.String("amount_received", result.AmountReceived),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

func (p *Processor) execute(ctx context.Context, job *Job) trade.Result {
	switch job.Kind {
	case KindBuy, KindSell:
		if p.executors.Trades == nil {
			return trade.Failure(xerrors.New(xerrors.CodeInitializationFailure, "未配置链上交易执行器"))
		}
		signer, err := p.executors.Credentials.Wallet(job.WalletRef)
		if err != nil {
			return trade.Failure(err)
		}
		if job.Kind == KindBuy {
			return p.executors.Trades.Buy(ctx, signer, job.Token, job.Amount)
		}
		return p.executors.Trades.Sell(ctx, signer, job.Token, job.Amount)
	case KindSignal:
		if p.executors.Signals == nil {
			return trade.Failure(xerrors.New(xerrors.CodeInitializationFailure, "未配置信号执行器"))
		}
		if job.Signal == nil {
			return trade.Failure(xerrors.New(CodeJobValidation, "信号任务缺少信号内容"))
		}
		creds, err := p.credentials(job)
		if err != nil {
			return trade.Failure(err)
		}
		return p.executors.Signals.Execute(ctx, *job.Signal, creds)
	default:
		return trade.Failure(xerrors.New(CodeJobValidation, fmt.Sprintf("未知任务类型 %q", job.Kind)))
	}
}

func (p *Processor) credentials(job *Job) (bridge.Credentials, error) {
	var creds bridge.Credentials
	if job.WalletRef != "" {
		signer, err := p.executors.Credentials.Wallet(job.WalletRef)
		if err != nil {
			return creds, err
		}
		creds.Wallet = signer
	}
	if job.ExchangeRef != "" {
		account, err := p.executors.Credentials.Exchange(job.ExchangeRef)
		if err != nil {
			return creds, err
		}
		creds.Exchange = account
	}
	return creds, nil
}

// Retryable 判断失败的交易是否可以自动重试：错误码可重试且没有广播过交易。
func Retryable(result trade.Result) bool {
	if result.Success || result.TxHash != "" || result.OrderID != "" {
		return false
	}
	return xerrors.RetryableError(result.Err())
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, result trade.Result) error {
	execErr := result.Err()
	code := xerrors.CodeOf(execErr)
	retryable := Retryable(result)
	exhausted := job.Attempts >= job.MaxRetries
	terminal := exhausted || !retryable

	failure := Failure{Code: string(code), Message: result.Message, Result: &result, Terminal: terminal}
	if storeErr := p.store.MarkFailed(ctx, job.ID, failure); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	metrics.ObserveJob(string(job.Kind), string(failure.status()))
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("token", job.Token),
		slog.Bool("terminal", terminal),
		slog.String("error", result.Message),
		slog.String("error_code", string(code)),
		slog.String("tx_hash", result.TxHash),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		switch {
		case retryable && exhausted:
			p.emitAlert(ctx, job, CodeJobExhausted, execErr, "exhausted")
		case xerrors.ShouldAlert(execErr):
			p.emitAlert(ctx, job, code, execErr, "terminal")
		}
		return nil
	}

	if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
		return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
	}
	p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{
		"stage": stage,
	}
	if job.Kind != "" {
		metadata["kind"] = string(job.Kind)
	}
	if job.Token != "" {
		metadata["token"] = job.Token
	}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: p.now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
