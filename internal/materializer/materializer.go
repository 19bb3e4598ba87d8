package materializer

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seckill/internal/metrics"
	"seckill/internal/model"
	"seckill/internal/queue"
	"seckill/internal/reconciler"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

// Materializer 把被接受的预约意向落成持久订单。
// 每条意向的状态机：收到 → 校验 → {成单 | 拒绝} → ACK。
// 与 Stock Cache 之间没有分布式事务，两边的一致性只靠
// 「持久 CAS + 拒绝后补偿」这一条路径收敛。
type Materializer struct {
	store *store.Store
	rdb   *rd.Client
	rec   *reconciler.Reconciler
	log   *zap.Logger

	maxRetries int
	backoff    time.Duration
	stateTTL   time.Duration
}

func New(st *store.Store, rdb *rd.Client, rec *reconciler.Reconciler, log *zap.Logger,
	maxRetries int, backoff time.Duration, stateTTL time.Duration) *Materializer {
	return &Materializer{
		store:      st,
		rdb:        rdb,
		rec:        rec,
		log:        log,
		maxRetries: maxRetries,
		backoff:    backoff,
		stateTTL:   stateTTL,
	}
}

// Consume 实现 queue.IntentConsumer。
// 返回 error 表示瞬时故障持续存在，由消费循环转死信；
// 正常返回的 Outcome 都是可提交 offset 的终态。
func (m *Materializer) Consume(ctx context.Context, intent queue.AdmissionIntent) (queue.Outcome, error) {
	// 幂等检查：该用户该商品的订单已存在。
	if existing, found, err := m.store.FindOrderByUserProduct(ctx, intent.UserID, intent.ProductID); err != nil {
		return 0, fmt.Errorf("idempotency check: %w", err)
	} else if found {
		if existing.IntentID == intent.IntentID {
			// 同一意向的重复投递，直接 ACK。
			m.log.Info("intent already materialized",
				zap.String("intent_id", intent.IntentID),
				zap.String("order_no", existing.OrderNo))
			return queue.OutcomeAlreadyProcessed, nil
		}
		// 不同意向撞上已有订单（用户在回补后重新准入过）：这条意向自己
		// 扣过一次缓存，必须回补掉，否则它占的坑和 pending 记录都悬空。
		if _, cerr := m.rec.Compensate(ctx, intent.IntentID, intent.ProductID, intent.UserID, intent.Quantity, "duplicate_user_order"); cerr != nil {
			return 0, fmt.Errorf("compensate duplicate intent: %w", cerr)
		}
		m.log.Info("duplicate intent for existing order compensated",
			zap.String("intent_id", intent.IntentID),
			zap.String("order_no", existing.OrderNo))
		return queue.OutcomeAlreadyProcessed, nil
	}

	outcome, snapshot, err := m.decrementDurableStock(ctx, intent)
	if err != nil {
		return 0, err
	}
	if outcome == stockRejected {
		// 持久侧拒绝：回补缓存、清除标记，让别的用户能抢到这个坑。
		// ACK 必须晚于补偿，否则进程崩溃会把泄漏固化。
		if _, cerr := m.rec.Compensate(ctx, intent.IntentID, intent.ProductID, intent.UserID, intent.Quantity, "stock_exhausted_durable"); cerr != nil {
			return 0, fmt.Errorf("compensate rejected intent: %w", cerr)
		}
		return queue.OutcomeRejected, nil
	}

	return m.commitOrder(ctx, intent, snapshot)
}

type stockResult int

const (
	stockDecremented stockResult = iota
	stockRejected
)

// decrementDurableStock 读-CAS 循环，有界重试 + 退避：
// 版本冲突（与别的消费者抢同一行）重试；余量不足立即拒绝；
// 重试耗尽仍冲突按 StockExhaustedDurable 处理，交给补偿路径。
// 成功时返回 CAS 命中那一刻的读快照，流水的前后库存以它为准。
func (m *Materializer) decrementDurableStock(ctx context.Context, intent queue.AdmissionIntent) (stockResult, model.Product, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, model.Product{}, ctx.Err()
			case <-time.After(m.backoff * time.Duration(attempt)):
			}
		}

		prod, err := m.store.GetProduct(ctx, intent.ProductID)
		if err != nil {
			lastErr = fmt.Errorf("read stock record: %w", err)
			continue
		}
		if prod.Stock < int64(intent.Quantity) {
			return stockRejected, model.Product{}, nil
		}

		ok, err := m.store.CASDecrementStock(ctx, intent.ProductID, prod.Version, intent.Quantity)
		if err != nil {
			lastErr = fmt.Errorf("cas decrement: %w", err)
			continue
		}
		if ok {
			return stockDecremented, prod, nil
		}
		// 输给了同行上的另一个消费者，重读再试。
		metrics.CASConflictsTotal.Inc()
		lastErr = nil
	}

	if lastErr != nil {
		// 瞬时故障重试耗尽，向上转死信，预约留待人工或重投处理。
		return 0, model.Product{}, lastErr
	}
	// 纯冲突耗尽：视作持久侧售罄。
	return stockRejected, model.Product{}, nil
}

// commitOrder 单事务落单：订单 + decrement 流水 + 意向记录置成功。
func (m *Materializer) commitOrder(ctx context.Context, intent queue.AdmissionIntent, prod model.Product) (queue.Outcome, error) {
	order := &model.SeckillOrder{
		OrderNo:     generateOrderNo(intent.UserID, intent.ProductID),
		UserID:      intent.UserID,
		ProductID:   intent.ProductID,
		ProductName: prod.Name,
		Price:       intent.UnitPrice,
		Quantity:    intent.Quantity,
		Status:      model.OrderPending,
		IntentID:    intent.IntentID,
	}

	err := m.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.AppendMovement(ctx, &model.StockMovementLog{
			OrderNo:     order.OrderNo,
			IntentID:    intent.IntentID,
			ProductID:   intent.ProductID,
			ProductName: prod.Name,
			Quantity:    intent.Quantity,
			BeforeStock: prod.Stock,
			AfterStock:  prod.Stock - int64(intent.Quantity),
			Type:        model.MovementDecrement,
		}); err != nil {
			return err
		}
		return tx.MarkIntentSuccess(ctx, intent.IntentID, order.OrderNo)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			// 与重复投递赛跑输了：订单已由另一次消费创建。
			m.log.Info("duplicate intent lost insert race", zap.String("intent_id", intent.IntentID))
			return queue.OutcomeAlreadyProcessed, nil
		}
		return 0, fmt.Errorf("commit order: %w", err)
	}

	// Redis 结果状态是查询加速层，写失败只降级（DB 记录已是事实）。
	if err := rediskey.PutIntentState(ctx, m.rdb, intent.IntentID, rediskey.IntentStateSuccess, order.OrderNo, "", m.stateTTL); err != nil {
		m.log.Warn("put intent state", zap.String("intent_id", intent.IntentID), zap.Error(err))
	}

	m.log.Info("order materialized",
		zap.String("intent_id", intent.IntentID),
		zap.String("order_no", order.OrderNo),
		zap.Int64("user_id", intent.UserID),
		zap.Uint("product_id", intent.ProductID))
	return queue.OutcomeCommitted, nil
}

// generateOrderNo 订单号：SK + 毫秒时间戳 + 用户ID + 商品ID。
func generateOrderNo(userID int64, productID uint) string {
	return fmt.Sprintf("SK%d%d%d", time.Now().UnixMilli(), userID, productID)
}
