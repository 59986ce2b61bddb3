package task

import (
	"context"
	"errors"
	"time"

	xerrors "TradePilot/internal/errors"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisQueue     = "tradepilot:jobs"
	defaultRedisBlockWait = 5 * time.Second
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 是基于 Redis list 的可靠队列。任务经 BLMOVE 从待处理列表移到
// "<queue>:processing"，处理成功后删除；失败时放回待处理列表。消费开始前会把
// processing 中残留的任务（上次进程退出时未确认的）重新入队，重复投递由 Store.Claim 去重。
type RedisQueue struct {
	client     redis.Cmdable
	closer     func() error
	queue      string
	processing string
	wait       time.Duration
}

// NewRedisQueue 连接 Redis 并创建队列。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, client.Close, cfg), nil
}

func newRedisQueue(client redis.Cmdable, closer func() error, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{client: client, closer: closer, queue: cfg.Queue, wait: cfg.BlockWait}
	if q.queue == "" {
		q.queue = defaultRedisQueue
	}
	if q.wait <= 0 {
		q.wait = defaultRedisBlockWait
	}
	q.processing = q.queue + ":processing"
	return q
}

// Publish 将任务 ID 推入待处理列表。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 先回收未确认的任务，再以 workerCount 个协程阻塞消费，任一协程遇到
// 非超时错误即返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if err := q.recover(ctx); err != nil {
		return err
	}
	workers := max(workerCount, 1)
	errCh := make(chan error, workers)
	for range workers {
		go func() { errCh <- q.work(ctx, handler) }()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for ctx.Err() == nil {
		jobID, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.wait).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, redis.ErrClosed):
			return err
		case err != nil:
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		}
		handleErr := handler(ctx, jobID)
		if err := q.ack(ctx, jobID, handleErr != nil); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// ack 从 processing 中移除任务，requeue 为 true 时放回待处理列表的出队端。
func (q *RedisQueue) ack(ctx context.Context, jobID string, requeue bool) error {
	ctx = context.WithoutCancel(ctx)
	if err := q.client.LRem(ctx, q.processing, 1, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 确认任务失败")
	}
	if !requeue {
		return nil
	}
	if err := q.client.RPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 重新入队失败")
	}
	return nil
}

func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		err := q.client.LMove(ctx, q.processing, q.queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 回收未确认任务失败")
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.closer == nil {
		return nil
	}
	return q.closer()
}

var _ Queue = (*RedisQueue)(nil)
