package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRateLimitedRouter(rdb *rd.Client, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/buy", RedisRateLimit(rdb, limit, time.Second, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0})
	})
	return r
}

func doBuy(r *gin.Engine, body string) int {
	req := httptest.NewRequest(http.MethodPost, "/buy", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := newRateLimitedRouter(rdb, 2)

	assert.Equal(t, http.StatusOK, doBuy(r, `{"user_id":42}`))
	assert.Equal(t, http.StatusOK, doBuy(r, `{"user_id":42}`))
	assert.Equal(t, http.StatusTooManyRequests, doBuy(r, `{"user_id":42}`))

	// 不同用户各有各的窗口
	assert.Equal(t, http.StatusOK, doBuy(r, `{"user_id":43}`))
}

// Redis 不可用时降级放行，不把限流故障放大成业务故障。
func TestRateLimitDegradesWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	mr.Close()
	defer rdb.Close()

	r := newRateLimitedRouter(rdb, 1)
	assert.Equal(t, http.StatusOK, doBuy(r, `{"user_id":42}`))
	assert.Equal(t, http.StatusOK, doBuy(r, `{"user_id":42}`))
}
