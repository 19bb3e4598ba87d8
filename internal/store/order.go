package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"seckill/internal/model"
)

// CreateOrder 落单，唯一索引冲突表示重复意向。
func (s *Store) CreateOrder(ctx context.Context, o *model.SeckillOrder) error {
	return s.db.WithContext(ctx).Create(o).Error
}

// FindOrderByUserProduct 按 (user_id, product_id) 查订单，幂等检查用。
// found=false 表示尚无订单。
func (s *Store) FindOrderByUserProduct(ctx context.Context, userID int64, productID uint) (model.SeckillOrder, bool, error) {
	var o model.SeckillOrder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.SeckillOrder{}, false, nil
		}
		return model.SeckillOrder{}, false, err
	}
	return o, true, nil
}

// FindOrderByNo 按订单号查询。found=false 表示不存在。
func (s *Store) FindOrderByNo(ctx context.Context, orderNo string) (model.SeckillOrder, bool, error) {
	var o model.SeckillOrder
	err := s.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.SeckillOrder{}, false, nil
		}
		return model.SeckillOrder{}, false, err
	}
	return o, true, nil
}

// AppendMovement 追加库存流水，append-only。
func (s *Store) AppendMovement(ctx context.Context, m *model.StockMovementLog) error {
	return s.db.WithContext(ctx).Create(m).Error
}
