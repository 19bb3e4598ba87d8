package redis

import "fmt"

// StockKey 统一约定商品库存计数器键名。
func StockKey(productID uint) string {
	return fmt.Sprintf("seckill:stock:%d", productID)
}

// AdmissionSetKey 某商品已获准用户集合（准入去重标记）。
func AdmissionSetKey(productID uint) string {
	return fmt.Sprintf("seckill:admitted:%d", productID)
}

// CompensationLockKey 标记某个 intent_id 是否已做过库存回补。
func CompensationLockKey(intentID string) string {
	return fmt.Sprintf("seckill:stock:compensated:%s", intentID)
}

// IntentStatusKey 存储 intent_id 的异步状态（pending/success/failed）。
func IntentStatusKey(intentID string) string {
	return fmt.Sprintf("seckill:intent:status:%s", intentID)
}
