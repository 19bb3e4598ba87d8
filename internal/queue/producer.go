package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer 封装意向队列的 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key(product_id)：同一商品的意向落到同一分区，保证分区内有序。
// - RequireAll：等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout：控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条预约意向。分区 key 用 product_id：
// 同一商品的持久扣减串到同一消费者，减少 CAS 冲突。
func (p *Producer) Publish(ctx context.Context, intent AdmissionIntent) error {
	if err := intent.Validate(); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}
	b, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(intent.ProductID), 10)),
		Value: b,
	})
}
