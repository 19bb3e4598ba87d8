package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus 订单状态。
type OrderStatus int

const (
	OrderPending   OrderStatus = iota // 待支付
	OrderPaid                         // 已支付
	OrderCancelled                    // 已取消
)

// SeckillOrder 秒杀订单，只由 Materializer 创建。
// (user_id, product_id) 唯一索引兜底“一人一单”，重复投递的意向靠它幂等。
type SeckillOrder struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo     string      `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	UserID      int64       `gorm:"not null;uniqueIndex:idx_user_product" json:"user_id"`
	ProductID   uint        `gorm:"not null;uniqueIndex:idx_user_product" json:"product_id"`
	ProductName string      `gorm:"size:128;not null" json:"product_name"`
	Price       int64       `gorm:"not null" json:"price"` // 成交单价，单位分
	Quantity    int         `gorm:"not null;default:1" json:"quantity"`
	Status      OrderStatus `gorm:"not null;default:0" json:"status"`
	IntentID    string      `gorm:"size:64;uniqueIndex;not null" json:"intent_id"`
	PayTime     *time.Time  `json:"pay_time"`
}

func (SeckillOrder) TableName() string { return "seckill_orders" }
