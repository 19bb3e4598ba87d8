package reconciler

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"

	"seckill/internal/queue"
)

// 清扫流里一条孤儿预约的字段布局。
// Gate 投递 Kafka 最终失败时把预约押到这里，由 Sweeper 回补。
const (
	fieldIntentID  = "intent_id"
	fieldUserID    = "user_id"
	fieldProductID = "product_id"
	fieldQuantity  = "quantity"
)

// ParkIntent 把无法入队的预约押入清扫流。XADD 本身失败由调用方兜底。
func ParkIntent(ctx context.Context, rdb *rd.Client, stream string, intent queue.AdmissionIntent) error {
	return rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldIntentID:  intent.IntentID,
			fieldUserID:    strconv.FormatInt(intent.UserID, 10),
			fieldProductID: strconv.FormatUint(uint64(intent.ProductID), 10),
			fieldQuantity:  strconv.Itoa(intent.Quantity),
		},
	}).Err()
}

// orphan 是从清扫流解析出的回补任务。
type orphan struct {
	IntentID  string
	UserID    int64
	ProductID uint
	Quantity  int
}

func parseOrphan(values map[string]interface{}) (orphan, error) {
	intentID, err := streamString(values, fieldIntentID)
	if err != nil {
		return orphan{}, err
	}
	userStr, err := streamString(values, fieldUserID)
	if err != nil {
		return orphan{}, err
	}
	productStr, err := streamString(values, fieldProductID)
	if err != nil {
		return orphan{}, err
	}
	quantityStr, err := streamString(values, fieldQuantity)
	if err != nil {
		return orphan{}, err
	}

	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return orphan{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	productID64, err := strconv.ParseUint(productStr, 10, 64)
	if err != nil {
		return orphan{}, fmt.Errorf("invalid product_id %q", productStr)
	}
	quantity, err := strconv.Atoi(quantityStr)
	if err != nil || quantity <= 0 {
		return orphan{}, fmt.Errorf("invalid quantity %q", quantityStr)
	}
	if intentID == "" {
		return orphan{}, fmt.Errorf("missing intent_id")
	}

	return orphan{
		IntentID:  intentID,
		UserID:    userID,
		ProductID: uint(productID64),
		Quantity:  quantity,
	}, nil
}

func streamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
