package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// IntentStatePending 表示预约已入队，等待异步落单。
	IntentStatePending = "pending"
	// IntentStateSuccess 表示异步建单成功。
	IntentStateSuccess = "success"
	// IntentStateFailed 表示持久侧拒绝或死信（已终态，库存已回补）。
	IntentStateFailed = "failed"
)

// IntentState 对应 Redis 内的意向状态结构，供结果查询接口快速读取。
type IntentState struct {
	IntentID string
	Status   string
	OrderNo  string
	Reason   string
}

// GetIntentState 查询 intent_id 当前状态。found=false 表示 key 不存在（走 DB 兜底）。
func GetIntentState(ctx context.Context, rdb *rd.Client, intentID string) (IntentState, bool, error) {
	m, err := rdb.HGetAll(ctx, IntentStatusKey(intentID)).Result()
	if err != nil {
		return IntentState{}, false, err
	}
	if len(m) == 0 {
		return IntentState{}, false, nil
	}

	out := IntentState{
		IntentID: intentID,
		Status:   m["status"],
		OrderNo:  m["order_no"],
		Reason:   m["reason"],
	}
	if out.Status == "" {
		out.Status = IntentStatePending
	}
	return out, true, nil
}

// PutIntentState 更新意向状态，并刷新 key TTL。
func PutIntentState(ctx context.Context, rdb *rd.Client, intentID, status, orderNo, reason string, ttl time.Duration) error {
	key := IntentStatusKey(intentID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"intent_id", intentID,
		"status", status,
		"order_no", orderNo,
		"reason", reason,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
