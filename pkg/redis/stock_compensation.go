package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaCompensateStockOnce 通过 SETNX 锁保证「同一意向只回补一次」。
// 回补与清除准入标记在同一脚本内完成，被回补的用户可以立刻重新抢购。
const luaCompensateStockOnce = `
local lockKey = KEYS[1]
local stockKey = KEYS[2]
local userSetKey = KEYS[3]
local userID = ARGV[1]
local quantity = tonumber(ARGV[2])
local ttlSec = tonumber(ARGV[3])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  redis.call('INCRBY', stockKey, quantity)
  redis.call('SREM', userSetKey, userID)
  return 1
end
return 0
`

// CompensateStockOnce 幂等回补库存并清除准入标记：
// - 首次回补返回 true
// - 重复回补返回 false（不会重复加库存）
func CompensateStockOnce(ctx context.Context, rdb *rd.Client, intentID string, productID uint, userID int64, quantity int64) (bool, error) {
	keys := []string{CompensationLockKey(intentID), StockKey(productID), AdmissionSetKey(productID)}
	const lockTTLSeconds = int64((7 * 24 * time.Hour) / time.Second)

	n, err := rdb.Eval(ctx, luaCompensateStockOnce, keys,
		strconv.FormatInt(userID, 10), quantity, lockTTLSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
