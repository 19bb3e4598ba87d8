package model

import (
	"time"

	"gorm.io/gorm"
)

// IntentStatus 描述异步落单状态机。
type IntentStatus int

const (
	IntentPending IntentStatus = iota // 已扣缓存库存、待消费
	IntentSuccess                     // 消费成功，订单已创建
	IntentFailed                      // 持久侧拒绝或死信，已回补
)

// IntentRecord tracks async order materialization state for queryability and retries.
type IntentRecord struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	IntentID  string `gorm:"size:64;uniqueIndex;not null" json:"intent_id"`
	UserID    int64  `gorm:"not null;index" json:"user_id"`
	ProductID uint   `gorm:"not null;index" json:"product_id"`
	Quantity  int    `gorm:"not null;default:1" json:"quantity"`
	Amount    int64  `gorm:"not null" json:"amount"`
	// Status + ErrorMsg 支撑结果查询接口与失败排查。
	Status   IntentStatus `gorm:"not null;default:0;index" json:"status"`
	OrderNo  string       `gorm:"size:64;index" json:"order_no"`
	ErrorMsg string       `gorm:"size:255" json:"error_msg"`
}

func (IntentRecord) TableName() string { return "admission_intents" }
