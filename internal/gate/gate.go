package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seckill/internal/metrics"
	"seckill/internal/model"
	"seckill/internal/queue"
	"seckill/internal/reconciler"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

// 同步拒绝原因，由路由层映射为 HTTP 响应。
var (
	ErrDuplicateAdmission = errors.New("user already admitted for this product")
	ErrProductNotFound    = errors.New("stock counter not preloaded")
	ErrStockExhausted     = errors.New("stock exhausted")
)

// Publisher 是意向队列的写入口，测试时可替换。
type Publisher interface {
	Publish(ctx context.Context, intent queue.AdmissionIntent) error
}

// Admission 准入成功的回执：预约凭据，不是已落库的订单。
type Admission struct {
	IntentID  string
	Remaining int64
}

// Gate 同步准入入口。跨请求竞态全部交给 Redis 的单条原子脚本裁决，
// 进程内不持有任何共享可变状态。
type Gate struct {
	rdb       *rd.Client
	store     *store.Store
	publisher Publisher
	rec       *reconciler.Reconciler
	log       *zap.Logger

	reconcileStream string
	maxRetries      int
	backoff         time.Duration
	publishTimeout  time.Duration
}

func New(rdb *rd.Client, st *store.Store, publisher Publisher, rec *reconciler.Reconciler,
	log *zap.Logger, reconcileStream string, maxRetries int, backoff, publishTimeout time.Duration) *Gate {
	return &Gate{
		rdb:             rdb,
		store:           st,
		publisher:       publisher,
		rec:             rec,
		log:             log,
		reconcileStream: reconcileStream,
		maxRetries:      maxRetries,
		backoff:         backoff,
		publishTimeout:  publishTimeout,
	}
}

// Admit 秒杀准入。流程：
//  1. Redis 原子「去重 → 存在性 → 余量 → 扣减+打标」
//  2. 落 pending 意向记录
//  3. 投递 Kafka（有界退避重试）；最终失败则押入清扫流等回补，
//     绝不在扣减成功后对调用方谎报「库存不足」。
func (g *Gate) Admit(ctx context.Context, prod model.Product, userID int64, quantity int) (Admission, error) {
	res, err := rediskey.Admit(ctx, g.rdb, prod.ID, userID, quantity)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		return Admission{}, fmt.Errorf("cache admit: %w", err)
	}
	switch res.Code {
	case rediskey.AdmitDuplicate:
		metrics.AdmissionsTotal.WithLabelValues("duplicate").Inc()
		return Admission{}, ErrDuplicateAdmission
	case rediskey.AdmitNotFound:
		metrics.AdmissionsTotal.WithLabelValues("not_found").Inc()
		return Admission{}, ErrProductNotFound
	case rediskey.AdmitInsufficient:
		metrics.AdmissionsTotal.WithLabelValues("out_of_stock").Inc()
		return Admission{}, ErrStockExhausted
	}

	// 缓存已扣减。从这里起任何失败都必须以补偿或押单收尾。
	intent := queue.AdmissionIntent{
		IntentID:   uuid.New().String(),
		Kind:       queue.KindOrderCreate,
		UserID:     userID,
		ProductID:  prod.ID,
		Quantity:   quantity,
		UnitPrice:  prod.SalePrice,
		OccurredAt: time.Now(),
	}

	rec := &model.IntentRecord{
		IntentID:  intent.IntentID,
		UserID:    userID,
		ProductID: prod.ID,
		Quantity:  quantity,
		Amount:    intent.Amount(),
		Status:    model.IntentPending,
	}
	if err := g.store.CreateIntent(ctx, rec); err != nil {
		// 还没对外承诺任何东西，立刻幂等回补并如实报错。
		if _, cerr := g.rec.Compensate(ctx, intent.IntentID, prod.ID, userID, quantity, "create_intent_failed"); cerr != nil {
			g.log.Error("compensate after intent insert failure",
				zap.String("intent_id", intent.IntentID), zap.Error(cerr))
		}
		metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		return Admission{}, fmt.Errorf("create intent record: %w", err)
	}

	if err := g.publishWithRetry(ctx, intent); err != nil {
		g.parkOrphan(ctx, intent, err)
	}

	metrics.AdmissionsTotal.WithLabelValues("accept").Inc()
	return Admission{IntentID: intent.IntentID, Remaining: res.Remaining}, nil
}

// publishWithRetry 有界退避重试投递。队列饱和时宁可阻塞调用方也不丢弃：
// 静默丢一条已接受的预约等于永久冻结对应库存。
func (g *Gate) publishWithRetry(ctx context.Context, intent queue.AdmissionIntent) error {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.PublishRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}
		pubCtx, cancel := context.WithTimeout(ctx, g.publishTimeout)
		lastErr = g.publisher.Publish(pubCtx, intent)
		cancel()
		if lastErr == nil {
			return nil
		}
		g.log.Warn("publish intent failed",
			zap.String("intent_id", intent.IntentID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

// parkOrphan 把入队失败的预约押入清扫流。押单本身失败时退回同步补偿，
// 两条路都断了才允许报 CompensationFailure 级别的告警。
func (g *Gate) parkOrphan(ctx context.Context, intent queue.AdmissionIntent, cause error) {
	metrics.OrphanedIntentsTotal.Inc()
	err := reconciler.ParkIntent(ctx, g.rdb, g.reconcileStream, intent)
	if err == nil {
		g.log.Warn("intent parked for reconciliation",
			zap.String("intent_id", intent.IntentID), zap.Error(cause))
		return
	}
	g.log.Error("park intent failed, falling back to inline compensation",
		zap.String("intent_id", intent.IntentID), zap.Error(err))

	if _, err := g.rec.Compensate(ctx, intent.IntentID, intent.ProductID, intent.UserID, intent.Quantity, "enqueue_failed"); err != nil {
		g.log.Error("orphaned reservation could not be reclaimed",
			zap.String("alert", "seckill_compensation_failure"),
			zap.String("intent_id", intent.IntentID),
			zap.Error(err))
	}
}
