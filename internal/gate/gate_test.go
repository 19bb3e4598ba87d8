package gate

import (
	"context"
	"errors"
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
	"seckill/internal/reconciler"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

const testStream = "seckill:reconcile:stream"

// fakePublisher 记录投递的意向，可按需注入失败。
type fakePublisher struct {
	published []queue.AdmissionIntent
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, intent queue.AdmissionIntent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, intent)
	return nil
}

func newTestGate(t *testing.T, pub *fakePublisher) (*Gate, *rd.Client, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "gate_test.db"))
	require.NoError(t, err)

	log := zap.NewNop()
	rec := reconciler.New(rdb, st, log, time.Hour)
	g := New(rdb, st, pub, rec, log, testStream, 2, time.Millisecond, time.Second)
	return g, rdb, st
}

func seedProduct(t *testing.T, st *store.Store) model.Product {
	t.Helper()
	p := model.Product{
		Name:      "秒杀商品",
		Stock:     10,
		SalePrice: 499900,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreateProduct(context.Background(), &p))
	return p
}

func TestAdmitAccept(t *testing.T) {
	pub := &fakePublisher{}
	g, rdb, st := newTestGate(t, pub)
	ctx := context.Background()
	prod := seedProduct(t, st)

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, prod.ID, prod.Stock, time.Hour))

	adm, err := g.Admit(ctx, prod, 42, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, adm.IntentID)
	assert.Equal(t, int64(9), adm.Remaining)

	// 意向已落 pending 记录并投递到队列。
	rec, found, err := st.FindIntent(ctx, adm.IntentID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.IntentPending, rec.Status)
	assert.Equal(t, int64(499900), rec.Amount)

	require.Len(t, pub.published, 1)
	assert.Equal(t, adm.IntentID, pub.published[0].IntentID)
	assert.Equal(t, queue.KindOrderCreate, pub.published[0].Kind)
	assert.Equal(t, prod.SalePrice, pub.published[0].UnitPrice)
}

func TestAdmitSynchronousRejections(t *testing.T) {
	pub := &fakePublisher{}
	g, rdb, st := newTestGate(t, pub)
	ctx := context.Background()
	prod := seedProduct(t, st)

	// 未预热
	_, err := g.Admit(ctx, prod, 42, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, prod.ID, 1, time.Hour))

	_, err = g.Admit(ctx, prod, 42, 1)
	require.NoError(t, err)

	// 同一用户重复准入
	_, err = g.Admit(ctx, prod, 42, 1)
	assert.ErrorIs(t, err, ErrDuplicateAdmission)

	// 库存已被抢空
	_, err = g.Admit(ctx, prod, 43, 1)
	assert.ErrorIs(t, err, ErrStockExhausted)

	// 被拒的请求不产生意向投递
	assert.Len(t, pub.published, 1)
}

// 投递最终失败不能对调用方谎报失败：预约必须押入清扫流等回补。
func TestAdmitParksOrphanWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	g, rdb, st := newTestGate(t, pub)
	ctx := context.Background()
	prod := seedProduct(t, st)

	require.NoError(t, rediskey.PreloadStock(ctx, rdb, prod.ID, prod.Stock, time.Hour))

	adm, err := g.Admit(ctx, prod, 42, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, adm.IntentID)

	length, err := rdb.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	// 押单期间库存保持扣减状态，等 Sweeper 决定回补。
	stock, _, _ := rediskey.GetStock(ctx, rdb, prod.ID)
	assert.Equal(t, int64(9), stock)
}
