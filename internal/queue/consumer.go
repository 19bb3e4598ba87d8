package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"seckill/internal/metrics"
)

// Consumer 拉取意向消息并按 Kind 分发给注册的处理器。
// 提交 offset 的时机是唯一的可靠性开关：只有拿到终态（成单 / 拒绝并回补 /
// 重复 / 已转死信）才 commit，进程崩溃最多导致重复投递，由消费侧幂等兜底。
type Consumer struct {
	r          *kafka.Reader
	handlers   map[string]IntentConsumer
	deadLetter deadLetterPublisher
	log        *zap.Logger

	retryBackoff time.Duration
}

// deadLetterPublisher 是死信出口的最小接口，测试时可替换。
type deadLetterPublisher interface {
	Publish(ctx context.Context, original kafka.Message, cause error) error
}

func NewConsumer(brokers []string, topic, groupID string, dlw *DeadLetterWriter, log *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handlers:     make(map[string]IntentConsumer),
		deadLetter:   dlw,
		log:          log,
		retryBackoff: time.Second,
	}
}

// Register 绑定某个意向类型的处理器。启动前调用，运行期不加锁。
func (c *Consumer) Register(kind string, h IntentConsumer) {
	c.handlers[kind] = h
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 阻塞消费直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("fetch message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := c.resolveMessage(ctx, msg); err != nil {
			// 只在 ctx 取消时到这里：offset 未提交，重启后重新投递。
			return nil
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("commit messages", zap.Error(err))
		}
	}
}

// resolveMessage 原地重试同一条消息直到到达终态（成单 / 拒绝并回补 / 重复 /
// 已转死信）。不能跳过去拉下一条：后续消息的 commit 会把这条未决消息的
// offset 一并提交，这笔已扣减的库存就永远丢了。
func (c *Consumer) resolveMessage(ctx context.Context, msg kafka.Message) error {
	for {
		err := c.processMessage(ctx, msg)
		if err == nil {
			return nil
		}
		c.log.Error("intent unresolved, retrying same message",
			zap.Int64("offset", msg.Offset), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryBackoff):
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var intent AdmissionIntent
	if err := json.Unmarshal(msg.Value, &intent); err != nil {
		// 脏消息重试无意义，直接转死信。
		return c.toDeadLetter(ctx, msg, fmt.Errorf("unmarshal intent: %w", err))
	}
	if err := intent.Validate(); err != nil {
		return c.toDeadLetter(ctx, msg, fmt.Errorf("validate intent: %w", err))
	}

	handler, ok := c.handlers[intent.Kind]
	if !ok {
		return c.toDeadLetter(ctx, msg, fmt.Errorf("no handler for kind %q", intent.Kind))
	}

	outcome, err := handler.Consume(ctx, intent)
	if err != nil {
		// 处理器内部已做有界重试，到这里说明瞬时故障持续存在。
		return c.toDeadLetter(ctx, msg, err)
	}

	switch outcome {
	case OutcomeCommitted:
		metrics.MaterializeOutcomesTotal.WithLabelValues("committed").Inc()
	case OutcomeRejected:
		metrics.MaterializeOutcomesTotal.WithLabelValues("rejected").Inc()
	case OutcomeAlreadyProcessed:
		metrics.MaterializeOutcomesTotal.WithLabelValues("duplicate").Inc()
	}
	return nil
}

// toDeadLetter 转投死信。写入失败时向上返回错误，阻止 offset 提交。
func (c *Consumer) toDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if err := c.deadLetter.Publish(ctx, msg, cause); err != nil {
		return fmt.Errorf("dead letter publish (cause: %v): %w", cause, err)
	}
	metrics.MaterializeOutcomesTotal.WithLabelValues("dead_letter").Inc()
	c.log.Error("intent parked to dead letter",
		zap.String("alert", "seckill_dead_letter"),
		zap.ByteString("key", msg.Key),
		zap.Error(cause))
	return nil
}
