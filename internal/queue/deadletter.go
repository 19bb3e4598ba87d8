package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// 死信消息头：保留原始位置与失败原因，供运维定位。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorMessage      = "x-error-message"
)

// DeadLetterWriter 把无法自动处理的意向投到死信 Topic。
// 每条被接受的预约最终要么成单、要么回补、要么进死信等人工介入，绝不静默丢弃。
type DeadLetterWriter struct {
	w *kafka.Writer
}

func NewDeadLetterWriter(brokers []string, topic string) *DeadLetterWriter {
	return &DeadLetterWriter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (d *DeadLetterWriter) Close() error { return d.w.Close() }

// Publish 转投原始消息，附带来源与错误信息头。
func (d *DeadLetterWriter) Publish(ctx context.Context, original kafka.Message, cause error) error {
	msg := kafka.Message{
		Key:   original.Key,
		Value: original.Value,
		Headers: []kafka.Header{
			{Key: HeaderOriginalTopic, Value: []byte(original.Topic)},
			{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(original.Partition))},
			{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(original.Offset, 10))},
			{Key: HeaderErrorMessage, Value: []byte(cause.Error())},
		},
	}
	return d.w.WriteMessages(ctx, msg)
}

// DeadLetterLogger 监听死信 Topic 并结构化记录，消息记完即提交。
type DeadLetterLogger struct {
	r       *kafka.Reader
	log     *zap.Logger
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewDeadLetterLogger(brokers []string, topic, groupID string, log *zap.Logger) *DeadLetterLogger {
	return &DeadLetterLogger{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		log: log,
	}
}

func (d *DeadLetterLogger) Run(ctx context.Context) error {
	d.wg.Add(1)
	defer d.wg.Done()
	d.log.Info("dead letter logger started", zap.String("topic", d.r.Config().Topic))
	for {
		if d.stopped.Load() {
			return nil
		}
		msg, err := d.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		// 死信代表永久滞留的库存或丢失的订单，必须进告警通道。
		d.log.Error("dead letter message received",
			zap.String("alert", "seckill_dead_letter"),
			zap.String("original_topic", headers[HeaderOriginalTopic]),
			zap.String("original_partition", headers[HeaderOriginalPartition]),
			zap.String("original_offset", headers[HeaderOriginalOffset]),
			zap.String("error", headers[HeaderErrorMessage]),
			zap.ByteString("key", msg.Key),
			zap.ByteString("value", msg.Value),
		)
	}
}

func (d *DeadLetterLogger) Close() error {
	d.stopped.Store(true)
	err := d.r.Close()
	d.wg.Wait()
	return err
}
