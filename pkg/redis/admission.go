package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// AdmitCode 是准入脚本返回的业务状态码。
type AdmitCode int

const (
	AdmitOK           AdmitCode = 1  // 扣减成功
	AdmitInsufficient AdmitCode = 0  // 库存不足
	AdmitNotFound     AdmitCode = -1 // 计数器不存在（未预热或已过期）
	AdmitDuplicate    AdmitCode = -2 // 该用户已获准过
)

// AdmitResult 原子准入的结果。Remaining 仅在 AdmitOK 时表示扣减后的剩余库存。
type AdmitResult struct {
	Code      AdmitCode
	Remaining int64
}

// luaAdmit：单次 EVAL 内完成「去重检查 → 计数器存在性 → 余量判断 → DECRBY + SADD」。
// 去重标记与扣减在同一脚本内落地，并发请求不可能都通过检查。
// KEYS[1]=库存key KEYS[2]=已获准用户集合
// ARGV[1]=用户ID ARGV[2]=扣减数量
// 返回 {code, remaining}
const luaAdmit = `
local stockKey = KEYS[1]
local userSetKey = KEYS[2]
local userID = ARGV[1]
local quantity = tonumber(ARGV[2])

if redis.call('SISMEMBER', userSetKey, userID) == 1 then
  return {-2, 0}
end

local current = redis.call('GET', stockKey)
if not current then
  return {-1, 0}
end
current = tonumber(current)

if current < quantity then
  return {0, current}
end

local remaining = redis.call('DECRBY', stockKey, quantity)
redis.call('SADD', userSetKey, userID)
return {1, remaining}
`

// Admit 执行原子准入扣减。调用方不持任何锁，序列化完全交给 Redis。
func Admit(ctx context.Context, rdb *rd.Client, productID uint, userID int64, quantity int) (AdmitResult, error) {
	keys := []string{StockKey(productID), AdmissionSetKey(productID)}
	raw, err := rdb.Eval(ctx, luaAdmit, keys, strconv.FormatInt(userID, 10), quantity).Result()
	if err != nil {
		return AdmitResult{}, fmt.Errorf("admit eval: %w", err)
	}
	return parseAdmitReply(raw)
}

func parseAdmitReply(raw interface{}) (AdmitResult, error) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 2 {
		return AdmitResult{}, fmt.Errorf("unexpected admit reply: %T %v", raw, raw)
	}
	code, ok1 := arr[0].(int64)
	remaining, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return AdmitResult{}, fmt.Errorf("unexpected admit reply elements: %v", arr)
	}
	switch AdmitCode(code) {
	case AdmitOK, AdmitInsufficient, AdmitNotFound, AdmitDuplicate:
		return AdmitResult{Code: AdmitCode(code), Remaining: remaining}, nil
	default:
		return AdmitResult{}, fmt.Errorf("unknown admit code %d", code)
	}
}

// PreloadStock 把持久库存拷贝进缓存并清空已获准集合，开售前调用。
// 计数器与去重集合共用同一 TTL，随活动窗口一起过期。
func PreloadStock(ctx context.Context, rdb *rd.Client, productID uint, stock int64, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.Set(ctx, StockKey(productID), stock, ttl)
	pipe.Del(ctx, AdmissionSetKey(productID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("preload stock: %w", err)
	}
	return nil
}

// GetStock 查询缓存中的实时库存。计数器不存在时返回 found=false。
func GetStock(ctx context.Context, rdb *rd.Client, productID uint) (int64, bool, error) {
	val, err := rdb.Get(ctx, StockKey(productID)).Int64()
	if err != nil {
		if err == rd.Nil {
			return 0, false, nil
		}
		return 0, false, err
	}
	return val, true, nil
}
