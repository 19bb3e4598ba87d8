package reconciler

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seckill/internal/metrics"
	"seckill/internal/model"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

// Reconciler 在持久侧拒绝（或入队失败）后，把快路径占掉的库存与去重标记还回去。
// 回补按 intent_id 幂等：同一意向重复补偿只生效一次。
type Reconciler struct {
	rdb            *rd.Client
	store          *store.Store
	log            *zap.Logger
	intentStateTTL time.Duration
}

func New(rdb *rd.Client, st *store.Store, log *zap.Logger, intentStateTTL time.Duration) *Reconciler {
	return &Reconciler{rdb: rdb, store: st, log: log, intentStateTTL: intentStateTTL}
}

// Compensate 执行一次完整补偿：
// 1. Redis 原子回补计数器 + 清除准入标记（SETNX 幂等锁，重复调用短路）
// 2. 追加 rollback 库存流水
// 3. 意向记录改 failed，刷新 Redis 结果状态
// 返回 applied=false 表示此意向之前已补偿过。
// 补偿失败意味着库存永久泄漏，必须走告警通道，绝不吞掉。
func (r *Reconciler) Compensate(ctx context.Context, intentID string, productID uint, userID int64, quantity int, reason string) (bool, error) {
	applied, err := rediskey.CompensateStockOnce(ctx, r.rdb, intentID, productID, userID, int64(quantity))
	if err != nil {
		metrics.CompensationsTotal.WithLabelValues("failed").Inc()
		r.log.Error("stock compensation failed",
			zap.String("alert", "seckill_compensation_failure"),
			zap.String("intent_id", intentID),
			zap.Uint("product_id", productID),
			zap.Error(err))
		return false, fmt.Errorf("compensate stock for intent %s: %w", intentID, err)
	}
	if !applied {
		metrics.CompensationsTotal.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	metrics.CompensationsTotal.WithLabelValues("applied").Inc()

	// 回补已生效。后面的记账失败只降级为日志：库存一致性优先于审计完整性。
	if err := r.store.AppendMovement(ctx, &model.StockMovementLog{
		IntentID:  intentID,
		ProductID: productID,
		Quantity:  quantity,
		Type:      model.MovementRollback,
	}); err != nil {
		r.log.Error("append rollback movement", zap.String("intent_id", intentID), zap.Error(err))
	}
	if err := r.store.MarkIntentFailed(ctx, intentID, reason); err != nil {
		r.log.Error("mark intent failed", zap.String("intent_id", intentID), zap.Error(err))
	}
	if err := rediskey.PutIntentState(ctx, r.rdb, intentID, rediskey.IntentStateFailed, "", reason, r.intentStateTTL); err != nil {
		r.log.Warn("put intent state", zap.String("intent_id", intentID), zap.Error(err))
	}

	r.log.Info("admission compensated",
		zap.String("intent_id", intentID),
		zap.Uint("product_id", productID),
		zap.Int64("user_id", userID),
		zap.Int("quantity", quantity),
		zap.String("reason", reason))
	return true, nil
}
