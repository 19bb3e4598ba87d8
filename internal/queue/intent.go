package queue

import (
	"context"
	"fmt"
	"time"
)

// KindOrderCreate 是当前唯一的意向类型；消费侧按 Kind 分发处理器。
const KindOrderCreate = "order_create"

// AdmissionIntent 是写入 Kafka 的预约意向：Gate 准入成功后的凭据，
// 由 Materializer 异步落成订单。at-least-once 投递，消费侧按 IntentID 幂等。
type AdmissionIntent struct {
	IntentID   string    `json:"intent_id"`
	Kind       string    `json:"kind"`
	UserID     int64     `json:"user_id"`
	ProductID  uint      `json:"product_id"`
	Quantity   int       `json:"quantity"`
	UnitPrice  int64     `json:"unit_price"` // 分
	OccurredAt time.Time `json:"occurred_at"`
}

// Amount 订单总金额（分）。
func (m AdmissionIntent) Amount() int64 {
	return m.UnitPrice * int64(m.Quantity)
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m AdmissionIntent) Validate() error {
	if m.IntentID == "" {
		return fmt.Errorf("intent_id is required")
	}
	if m.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if m.ProductID == 0 {
		return fmt.Errorf("product_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if m.UnitPrice <= 0 {
		return fmt.Errorf("unit_price must be > 0")
	}
	return nil
}

// Outcome 是消费一条意向的终态。
type Outcome int

const (
	OutcomeCommitted        Outcome = iota // 订单已落库
	OutcomeRejected                        // 持久侧拒绝，已触发回补
	OutcomeAlreadyProcessed                // 重复投递，订单已存在
)

// IntentConsumer 按消息类型实现的消费接口，由 worker 池显式调用。
type IntentConsumer interface {
	Consume(ctx context.Context, intent AdmissionIntent) (Outcome, error)
}
