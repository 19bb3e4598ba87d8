package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seckill/internal/model"
	"seckill/internal/queue"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

func newTestReconciler(t *testing.T) (*Reconciler, *rd.Client, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "rec_test.db"))
	require.NoError(t, err)

	return New(rdb, st, zap.NewNop(), time.Hour), rdb, st
}

func TestCompensateAppliesOnce(t *testing.T) {
	rec, rdb, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, 1, 10, time.Hour))
	res, err := rediskey.Admit(ctx, rdb, 1, 42, 1)
	require.NoError(t, err)
	require.Equal(t, rediskey.AdmitOK, res.Code)

	require.NoError(t, st.CreateIntent(ctx, &model.IntentRecord{
		IntentID:  "intent-comp",
		UserID:    42,
		ProductID: 1,
		Quantity:  1,
		Amount:    100,
		Status:    model.IntentPending,
	}))

	applied, err := rec.Compensate(ctx, "intent-comp", 1, 42, 1, "enqueue_failed")
	require.NoError(t, err)
	assert.True(t, applied)

	stock, _, _ := rediskey.GetStock(ctx, rdb, 1)
	assert.Equal(t, int64(10), stock)

	intentRec, found, err := st.FindIntent(ctx, "intent-comp")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.IntentFailed, intentRec.Status)
	assert.Equal(t, "enqueue_failed", intentRec.ErrorMsg)

	state, found, err := rediskey.GetIntentState(ctx, rdb, "intent-comp")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rediskey.IntentStateFailed, state.Status)

	// 重复补偿短路：库存不二次回补，流水不重复追加。
	applied, err = rec.Compensate(ctx, "intent-comp", 1, 42, 1, "enqueue_failed")
	require.NoError(t, err)
	assert.False(t, applied)

	stock, _, _ = rediskey.GetStock(ctx, rdb, 1)
	assert.Equal(t, int64(10), stock)

	var rollbacks int64
	require.NoError(t, st.DB().Model(&model.StockMovementLog{}).
		Where("intent_id = ? AND type = ?", "intent-comp", model.MovementRollback).
		Count(&rollbacks).Error)
	assert.Equal(t, int64(1), rollbacks)
}

func TestSweeperCompensatesParkedIntent(t *testing.T) {
	rec, rdb, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, 1, 10, time.Hour))
	res, err := rediskey.Admit(ctx, rdb, 1, 42, 2)
	require.NoError(t, err)
	require.Equal(t, rediskey.AdmitOK, res.Code)

	require.NoError(t, st.CreateIntent(ctx, &model.IntentRecord{
		IntentID:  "intent-parked",
		UserID:    42,
		ProductID: 1,
		Quantity:  2,
		Amount:    200,
		Status:    model.IntentPending,
	}))

	intent := queue.AdmissionIntent{
		IntentID:  "intent-parked",
		Kind:      queue.KindOrderCreate,
		UserID:    42,
		ProductID: 1,
		Quantity:  2,
		UnitPrice: 100,
	}
	require.NoError(t, ParkIntent(ctx, rdb, "test:stream", intent))

	s := NewSweeper(rdb, rec, st, zap.NewNop(), "test:stream", "test-group", "sweeper-1")
	require.NoError(t, s.ensureGroup(ctx))

	msgs, err := s.readGroup(ctx, ">", time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, s.processOne(ctx, msgs[0]))

	// 库存回补、流里的孤儿已清理。
	stock, _, _ := rediskey.GetStock(ctx, rdb, 1)
	assert.Equal(t, int64(10), stock)

	length, err := rdb.XLen(ctx, "test:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	intentRec, _, _ := st.FindIntent(ctx, "intent-parked")
	assert.Equal(t, model.IntentFailed, intentRec.Status)
}

// 投递超时但 broker 实际收下、订单已落库的押件：清扫时必须跳过回补。
func TestSweeperSkipsAlreadyMaterializedIntent(t *testing.T) {
	rec, rdb, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, 1, 10, time.Hour))
	res, err := rediskey.Admit(ctx, rdb, 1, 42, 1)
	require.NoError(t, err)
	require.Equal(t, rediskey.AdmitOK, res.Code)

	require.NoError(t, st.CreateIntent(ctx, &model.IntentRecord{
		IntentID:  "intent-done",
		UserID:    42,
		ProductID: 1,
		Quantity:  1,
		Amount:    100,
		Status:    model.IntentPending,
	}))
	require.NoError(t, st.MarkIntentSuccess(ctx, "intent-done", "SK555"))

	intent := queue.AdmissionIntent{
		IntentID:  "intent-done",
		Kind:      queue.KindOrderCreate,
		UserID:    42,
		ProductID: 1,
		Quantity:  1,
		UnitPrice: 100,
	}
	require.NoError(t, ParkIntent(ctx, rdb, "test:stream", intent))

	s := NewSweeper(rdb, rec, st, zap.NewNop(), "test:stream", "test-group", "sweeper-1")
	require.NoError(t, s.ensureGroup(ctx))

	msgs, err := s.readGroup(ctx, ">", time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, s.processOne(ctx, msgs[0]))

	// 库存不回补（订单是真的），押件清理掉。
	stock, _, _ := rediskey.GetStock(ctx, rdb, 1)
	assert.Equal(t, int64(9), stock)

	length, err := rdb.XLen(ctx, "test:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	intentRec, _, _ := st.FindIntent(ctx, "intent-done")
	assert.Equal(t, model.IntentSuccess, intentRec.Status)
}

func TestSweeperDropsMalformedEntry(t *testing.T) {
	rec, rdb, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: "test:stream",
		Values: map[string]interface{}{"garbage": "1"},
	}).Err())

	s := NewSweeper(rdb, rec, st, zap.NewNop(), "test:stream", "test-group", "sweeper-1")
	require.NoError(t, s.ensureGroup(ctx))

	msgs, err := s.readGroup(ctx, ">", time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, s.processOne(ctx, msgs[0]))

	length, err := rdb.XLen(ctx, "test:stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestParseOrphan(t *testing.T) {
	o, err := parseOrphan(map[string]interface{}{
		"intent_id":  "intent-1",
		"user_id":    "42",
		"product_id": "7",
		"quantity":   "2",
	})
	require.NoError(t, err)
	assert.Equal(t, orphan{IntentID: "intent-1", UserID: 42, ProductID: 7, Quantity: 2}, o)

	_, err = parseOrphan(map[string]interface{}{"intent_id": "x"})
	assert.Error(t, err)

	_, err = parseOrphan(map[string]interface{}{
		"intent_id":  "intent-1",
		"user_id":    "42",
		"product_id": "7",
		"quantity":   "0",
	})
	assert.Error(t, err)
}
