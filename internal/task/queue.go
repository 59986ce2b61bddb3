package task

import "context"

// Handler 处理一条任务 ID。返回错误表示未处理完成，由队列实现决定是否重新投递。
type Handler func(ctx context.Context, jobID string) error

// Producer 投递任务 ID，Service 只依赖这一半。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 驱动 Processor 的工作协程，阻塞直到 ctx 结束或队列不可用。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力。
type Queue interface {
	Producer
	Consumer
}
