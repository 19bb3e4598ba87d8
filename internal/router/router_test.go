package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seckill/internal/config"
	"seckill/internal/gate"
	"seckill/internal/model"
	"seckill/internal/queue"
	"seckill/internal/reconciler"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

type fakePublisher struct {
	published []queue.AdmissionIntent
}

func (f *fakePublisher) Publish(_ context.Context, intent queue.AdmissionIntent) error {
	f.published = append(f.published, intent)
	return nil
}

type testEnv struct {
	r   *gin.Engine
	st  *store.Store
	rdb *rd.Client
	pub *fakePublisher
	cfg config.AppConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "router_test.db"))
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.BuyRateLimit = 10000 // 测试里不关心限流

	log := zap.NewNop()
	pub := &fakePublisher{}
	rec := reconciler.New(rdb, st, log, time.Hour)
	g := gate.New(rdb, st, pub, rec, log, cfg.ReconcileStream, 2, time.Millisecond, time.Second)

	r := gin.New()
	Setup(r, st, rdb, g, cfg, log)
	return &testEnv{r: r, st: st, rdb: rdb, pub: pub, cfg: cfg}
}

func (e *testEnv) seedProduct(t *testing.T, stock int64) model.Product {
	t.Helper()
	p := model.Product{
		Name:      "秒杀商品",
		Stock:     stock,
		SalePrice: 499900,
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	require.NoError(t, e.st.CreateProduct(context.Background(), &p))
	return p
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPreloadStock(t *testing.T) {
	e := newTestEnv(t)
	prod := e.seedProduct(t, 10)
	path := fmt.Sprintf("/api/seckill/preload/%d", prod.ID)

	// 无 token 拒绝
	w := e.do(t, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := map[string]string{"X-Admin-Token": e.cfg.PreloadAdminToken}

	// 不存在的商品
	w = e.do(t, http.MethodPost, "/api/seckill/preload/999", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, path, nil, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	stock, found, err := rediskey.GetStock(context.Background(), e.rdb, prod.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), stock)
}

func TestBuyFlow(t *testing.T) {
	e := newTestEnv(t)
	prod := e.seedProduct(t, 2)
	require.NoError(t, rediskey.PreloadStock(context.Background(), e.rdb, prod.ID, prod.Stock, time.Hour))

	buyReq := func(userID int64) map[string]any {
		return map[string]any{"product_id": prod.ID, "user_id": userID, "quantity": 1}
	}

	w := e.do(t, http.MethodPost, "/api/seckill/buy", buyReq(42), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			IntentID string `json:"intent_id"`
			Status   string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.IntentID)
	assert.Equal(t, "pending", resp.Data.Status)
	require.Len(t, e.pub.published, 1)

	// 重复购买
	w = e.do(t, http.MethodPost, "/api/seckill/buy", buyReq(42), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "已抢购")

	// 超出限购
	w = e.do(t, http.MethodPost, "/api/seckill/buy",
		map[string]any{"product_id": prod.ID, "user_id": int64(43), "quantity": e.cfg.MaxQuantity + 1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 抢空后返回库存不足
	w = e.do(t, http.MethodPost, "/api/seckill/buy", buyReq(43), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/seckill/buy", buyReq(44), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "库存不足")

	// 不存在的商品
	w = e.do(t, http.MethodPost, "/api/seckill/buy",
		map[string]any{"product_id": 999, "user_id": int64(45), "quantity": 1}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuyOutsideSaleWindow(t *testing.T) {
	e := newTestEnv(t)
	p := model.Product{
		Name:      "未开售",
		Stock:     10,
		SalePrice: 100,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(2 * time.Hour),
	}
	require.NoError(t, e.st.CreateProduct(context.Background(), &p))
	require.NoError(t, rediskey.PreloadStock(context.Background(), e.rdb, p.ID, p.Stock, time.Hour))

	w := e.do(t, http.MethodPost, "/api/seckill/buy",
		map[string]any{"product_id": p.ID, "user_id": int64(42), "quantity": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "秒杀时间段")
}

func TestGetStockEndpoint(t *testing.T) {
	e := newTestEnv(t)
	prod := e.seedProduct(t, 10)
	require.NoError(t, rediskey.PreloadStock(context.Background(), e.rdb, prod.ID, 7, time.Hour))

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/seckill/stock/%d", prod.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stock":7`)

	// 未预热的商品按 0 返回
	w = e.do(t, http.MethodGet, "/api/seckill/stock/999", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stock":0`)
}

func TestGetResult(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Redis 状态优先
	require.NoError(t, rediskey.PutIntentState(ctx, e.rdb, "intent-hot", rediskey.IntentStateSuccess, "SK123", "", time.Hour))
	w := e.do(t, http.MethodGet, "/api/seckill/result/intent-hot", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"created"`)
	assert.Contains(t, w.Body.String(), "SK123")

	// Redis miss 时回 DB 兜底
	require.NoError(t, e.st.CreateIntent(ctx, &model.IntentRecord{
		IntentID: "intent-cold", UserID: 1, ProductID: 1, Quantity: 1, Amount: 1,
		Status: model.IntentFailed, ErrorMsg: "stock_exhausted_durable",
	}))
	w = e.do(t, http.MethodGet, "/api/seckill/result/intent-cold", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failed"`)

	// 两边都没有
	w = e.do(t, http.MethodGet, "/api/seckill/result/no-such", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrder(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.st.CreateOrder(context.Background(), &model.SeckillOrder{
		OrderNo:     "SK777",
		UserID:      42,
		ProductID:   1,
		ProductName: "秒杀商品",
		Price:       100,
		Quantity:    1,
		IntentID:    "intent-order",
	}))

	w := e.do(t, http.MethodGet, "/api/seckill/order/SK777", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SK777")

	w = e.do(t, http.MethodGet, "/api/seckill/order/none", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndListProducts(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/products", map[string]any{
		"name":       "新品",
		"stock":      100,
		"sale_price": 9900,
		"start_time": time.Now().Format(time.RFC3339),
		"end_time":   time.Now().Add(time.Hour).Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 时间窗颠倒
	w = e.do(t, http.MethodPost, "/api/products", map[string]any{
		"name":       "坏时间",
		"stock":      100,
		"sale_price": 9900,
		"start_time": time.Now().Add(time.Hour).Format(time.RFC3339),
		"end_time":   time.Now().Format(time.RFC3339),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "新品")
}
