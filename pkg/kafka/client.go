// Package kafka 提供了向 Kafka 发布记录变更事件的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"health-smart-go/internal/config"
	"health-smart-go/pkg/events"
	"health-smart-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// messageWriter 是 *kafka.Writer 中被使用的部分。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 发布 RecordEvent。消息以 userID 作为 key，同一用户的事件落在同一分区并保持顺序。
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer 根据配置创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	log.Infof("Kafka 生产者初始化成功, topic=%s", cfg.Topic)
	return &Producer{writer: w, topic: cfg.Topic}
}

// PublishRecordEvent 发送一个记录变更事件。
func (p *Producer) PublishRecordEvent(ctx context.Context, event events.RecordEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal record event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.At,
	}); err != nil {
		return fmt.Errorf("failed to write record event to %s: %w", p.topic, err)
	}
	return nil
}

// Close 刷新并关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}
