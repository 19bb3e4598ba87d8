package model

import "time"

// MovementType 库存流水类型。
type MovementType int

const (
	MovementDecrement MovementType = 1 // 扣减
	MovementRollback  MovementType = 2 // 回补
)

// StockMovementLog 库存流水，append-only，记录每次持久扣减/回补的前后库存。
type StockMovementLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderNo     string       `gorm:"size:64;index" json:"order_no"`
	IntentID    string       `gorm:"size:64;index" json:"intent_id"`
	ProductID   uint         `gorm:"not null;index" json:"product_id"`
	ProductName string       `gorm:"size:128" json:"product_name"`
	Quantity    int          `gorm:"not null" json:"quantity"`
	BeforeStock int64        `gorm:"not null" json:"before_stock"`
	AfterStock  int64        `gorm:"not null" json:"after_stock"`
	Type        MovementType `gorm:"not null" json:"type"`
}

func (StockMovementLog) TableName() string { return "stock_movement_logs" }
