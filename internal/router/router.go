package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"seckill/internal/config"
	"seckill/internal/gate"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/store"
	rediskey "seckill/pkg/redis"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, st *store.Store, rdb *rd.Client, g *gate.Gate, cfg config.AppConfig, log *zap.Logger) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Products
	r.GET("/api/products", listProducts(st))
	r.POST("/api/products", createProduct(st))

	// Seckill
	r.POST("/api/seckill/preload/:product_id", preloadStock(st, rdb, cfg.PreloadAdminToken, cfg.StockCacheTTL))
	r.GET("/api/seckill/stock/:product_id", getStock(rdb))
	r.POST("/api/seckill/buy",
		middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow, log),
		buy(st, g, cfg.MaxQuantity))
	r.GET("/api/seckill/result/:intent_id", getResult(st, rdb))
	r.GET("/api/seckill/order/:order_no", getOrder(st))
}

// listProducts 查询商品列表。
func listProducts(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := st.ListProducts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createProduct 创建秒杀商品（含时间窗校验）。
func createProduct(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      string `json:"name" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
			StartTime string `json:"start_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "start_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(start) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 start_time"})
			return
		}
		p := &model.Product{
			Name:      req.Name,
			Stock:     req.Stock,
			SalePrice: req.SalePrice,
			StartTime: start,
			EndTime:   end,
		}
		if err := st.CreateProduct(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

// preloadStock 开售前把持久库存预热到 Redis，同时清掉上一场的准入标记。
// 该接口要求简单管理员 token，避免被任意调用重置库存。
func preloadStock(st *store.Store, rdb *rd.Client, adminToken string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}

		id, err := parseProductID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品ID无效"})
			return
		}
		p, err := st.GetProduct(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商品不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if err := rediskey.PreloadStock(c.Request.Context(), rdb, id, p.Stock, ttl); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": gin.H{"stock": p.Stock}})
	}
}

// getStock 查询 Redis 中的实时库存。
func getStock(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseProductID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "商品ID无效"})
			return
		}
		val, found, err := rediskey.GetStock(c.Request.Context(), rdb, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": int64(0)}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": val}})
	}
}

// buy 秒杀下单入口。
// 参数与活动时间在这里校验；真正的并发裁决在 Gate 的单条原子脚本里。
func buy(st *store.Store, g *gate.Gate, maxQuantity int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID uint  `json:"product_id" binding:"required,min=1"`
			UserID    int64 `json:"user_id" binding:"required,min=1"`
			Quantity  int   `json:"quantity" binding:"omitempty,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Quantity <= 0 {
			req.Quantity = 1
		}
		if req.Quantity > maxQuantity {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "超出单笔限购数量"})
			return
		}

		prod, err := st.GetProduct(c.Request.Context(), req.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "商品不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		now := time.Now()
		if now.Before(prod.StartTime) || now.After(prod.EndTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "不在秒杀时间段内"})
			return
		}

		adm, err := g.Admit(c.Request.Context(), prod, req.UserID, req.Quantity)
		if err != nil {
			switch {
			case errors.Is(err, gate.ErrDuplicateAdmission):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "该商品已抢购过，限购一次"})
			case errors.Is(err, gate.ErrProductNotFound):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "活动未开始或已结束"})
			case errors.Is(err, gate.ErrStockExhausted):
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "库存不足"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			}
			return
		}

		// 准入 ≠ 成单，落库是异步的；intent_id 用于轮询结果。
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"intent_id": adm.IntentID,
				"status":    "pending",
			},
		})
	}
}

// getResult 根据 intent_id 查询异步落单状态。
// Redis 结果状态先行，miss 了再回 DB 意向记录兜底。
func getResult(st *store.Store, rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		intentID := c.Param("intent_id")
		if intentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "intent_id 必填"})
			return
		}

		if state, found, err := rediskey.GetIntentState(c.Request.Context(), rdb, intentID); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"intent_id": intentID,
				"status":    presentStatus(state.Status),
				"order_no":  state.OrderNo,
				"reason":    state.Reason,
			}})
			return
		}

		rec, found, err := st.FindIntent(c.Request.Context(), intentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "intent_id 不存在"})
			return
		}

		switch rec.Status {
		case model.IntentPending:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"intent_id": rec.IntentID,
				"status":    "pending",
			}})
		case model.IntentSuccess:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"intent_id": rec.IntentID,
				"status":    "created",
				"order_no":  rec.OrderNo,
			}})
		case model.IntentFailed:
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"intent_id": rec.IntentID,
				"status":    "failed",
				"reason":    rec.ErrorMsg,
			}})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "unknown intent status"})
		}
	}
}

// getOrder 按订单号查询已落库的订单。
func getOrder(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNo := c.Param("order_no")
		order, found, err := st.FindOrderByNo(c.Request.Context(), orderNo)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "订单不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": order})
	}
}

func presentStatus(s string) string {
	if s == rediskey.IntentStateSuccess {
		return "created"
	}
	return s
}

func parseProductID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("product_id"), 10, 32)
	return uint(id), err
}
