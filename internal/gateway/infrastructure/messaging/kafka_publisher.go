// Package messaging 审计事件的 Kafka 发布实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/tradesim/internal/gateway/domain"
)

// KafkaConfig Kafka 发布配置
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	MaxRetries   int      `mapstructure:"max_retries"`
	RetryBackoff int      `mapstructure:"retry_backoff"` // 毫秒
}

// KafkaSink 将审计事件发布到 Kafka 主题，消息 Key 为订单 ID 保证同单有序
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
	return &KafkaSink{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger.With("module", "audit_kafka_sink"),
	}
}

func (s *KafkaSink) Record(ctx context.Context, event domain.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
	})
	if err != nil {
		s.logger.Error("failed to publish audit event", "order_id", event.OrderID, "error", err)
		return err
	}
	return nil
}

// Close 关闭底层 writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
