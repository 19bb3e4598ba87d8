package model

import (
	"time"

	"gorm.io/gorm"
)

// Product 秒杀商品：名称、库存、秒杀价、秒杀时间段。
// Stock+Version 是持久侧库存的事实来源，只允许通过乐观锁 CAS 扣减；
// 秒杀实时扣减走 Redis，预热时从这里拷贝。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name      string    `gorm:"size:128;not null" json:"name"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	SalePrice int64     `gorm:"not null" json:"sale_price"` // 单位：分
	StartTime time.Time `gorm:"not null" json:"start_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Product) TableName() string { return "products" }
