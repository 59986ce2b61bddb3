package task

import (
	"context"
	"errors"
	"sync"
	"time"

	xerrors "TradePilot/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultRabbitQueue = "tradepilot.jobs"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。Prefetch 为 0 时取消费协程数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 基于 RabbitMQ 的任务队列。发布走独立 channel 并等待 broker 确认，
// 消费使用手动 ack，处理失败的消息 nack 后重新入队。
type RabbitMQQueue struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	pubMu    sync.Mutex
	queue    string
	prefetch int
}

// NewRabbitMQQueue 连接 broker、声明队列并开启发布确认。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	q := &RabbitMQQueue{queue: cfg.Queue, prefetch: cfg.Prefetch}
	if q.queue == "" {
		q.queue = defaultRabbitQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q.conn = conn
	if q.pub, err = conn.Channel(); err != nil {
		_ = q.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := q.pub.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		_ = q.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	if err := q.pub.Confirm(false); err != nil {
		_ = q.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "开启 RabbitMQ 发布确认失败")
	}
	return q, nil
}

// Publish 发送持久化消息并等待 broker 确认。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.pub == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 队列未初始化")
	}
	q.pubMu.Lock()
	confirm, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now(),
		Body:         []byte(jobID),
	})
	q.pubMu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "等待 RabbitMQ 确认失败")
	}
	if !acked {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 拒绝了任务 "+jobID)
	}
	return nil
}

// Consume 在独立 channel 上订阅队列，直到 ctx 结束或 broker 关闭投递通道。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 队列未初始化")
	}
	workers := max(workerCount, 1)
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	defer ch.Close()

	prefetch := q.prefetch
	if prefetch <= 0 {
		prefetch = workers
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	var (
		wg     sync.WaitGroup
		closed = make(chan struct{}, workers)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if handler(ctx, string(d.Body)) != nil {
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
			closed <- struct{}{}
		}()
	}

	select {
	case <-ctx.Done():
	case <-closed:
	}
	_ = ch.Close()
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return xerrors.Wrap(xerrors.CodeQueueFailure, errors.New("delivery channel closed"), "RabbitMQ 消费通道已关闭")
}

// Close 关闭发布 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	var err error
	if q.pub != nil {
		err = q.pub.Close()
	}
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
	}
	return err
}

var _ Queue = (*RabbitMQQueue)(nil)
