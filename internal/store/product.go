package store

import (
	"context"

	"gorm.io/gorm"

	"seckill/internal/model"
)

// GetProduct 按 ID 读取商品（含当前 stock/version）。
func (s *Store) GetProduct(ctx context.Context, productID uint) (model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).First(&p, productID).Error
	return p, err
}

// ListProducts 商品列表。
func (s *Store) ListProducts(ctx context.Context) ([]model.Product, error) {
	var list []model.Product
	err := s.db.WithContext(ctx).Find(&list).Error
	return list, err
}

// CreateProduct 创建秒杀商品。
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// CASDecrementStock 乐观锁扣减持久库存：
// 只有 version 未变且余量足够时才命中，命中则 version+1。
// 返回 false 表示没扣成（版本冲突或库存不足），由调用方重读后决定重试或拒绝。
func (s *Store) CASDecrementStock(ctx context.Context, productID uint, version int64, quantity int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND version = ? AND stock >= ?", productID, version, quantity).
		Updates(map[string]interface{}{
			"stock":   gorm.Expr("stock - ?", quantity),
			"version": gorm.Expr("version + ?", 1),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
