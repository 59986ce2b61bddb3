package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher 将扫描得到的信号投递给下游消费者。
type Publisher interface {
	Publish(ctx context.Context, signals []Signal) error
	Close() error
}

// NopPublisher 丢弃所有信号，用于未配置消息总线的部署。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, []Signal) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }

// KafkaConfig 描述信号主题的连接参数。
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// messageWriter 是 kafka.Writer 中发布所需的子集。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以代币为 key 将信号写入 Kafka 主题，同一代币的信号保持分区内有序。
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher 创建 KafkaPublisher。
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("Kafka brokers 不能为空")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = "tradepilot.signals"
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish 实现 Publisher。
func (p *KafkaPublisher) Publish(ctx context.Context, signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(signals))
	for _, sig := range signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("序列化信号失败: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(sig.Token),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "action", Value: []byte(sig.Action)},
				{Key: "post_id", Value: []byte(sig.Source.PostID)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	return nil
}

// Close 关闭底层 writer。
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
