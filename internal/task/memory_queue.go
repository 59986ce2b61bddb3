package task

import (
	"context"
	"sync"

	xerrors "TradePilot/internal/errors"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 是进程内的缓冲队列，适用于单机部署与测试。处理失败的任务不会重新入队，
// 重试由 Processor 通过再次 Publish 完成。
type MemoryQueue struct {
	jobs      chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正时使用默认容量。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{jobs: make(chan string, size), done: make(chan struct{})}
}

// Publish 投递任务，队列已满时阻塞直到有空位、ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-q.done:
		return errQueueClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 以 workerCount 个协程消费任务，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var wg sync.WaitGroup
	for range max(workerCount, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errQueueClosed()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case jobID := <-q.jobs:
			_ = handler(ctx, jobID)
		}
	}
}

// Close 关闭队列，之后的 Publish 返回错误，消费者退出。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
}

var _ Queue = (*MemoryQueue)(nil)
