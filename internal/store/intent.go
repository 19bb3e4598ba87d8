package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"seckill/internal/model"
)

// CreateIntent 写入 pending 意向记录。
func (s *Store) CreateIntent(ctx context.Context, rec *model.IntentRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// FindIntent 按 intent_id 查询。found=false 表示不存在。
func (s *Store) FindIntent(ctx context.Context, intentID string) (model.IntentRecord, bool, error) {
	var rec model.IntentRecord
	err := s.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.IntentRecord{}, false, nil
		}
		return model.IntentRecord{}, false, err
	}
	return rec, true, nil
}

// MarkIntentSuccess 标记意向成单。
func (s *Store) MarkIntentSuccess(ctx context.Context, intentID, orderNo string) error {
	return s.db.WithContext(ctx).Model(&model.IntentRecord{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]interface{}{
			"status":   model.IntentSuccess,
			"order_no": orderNo,
		}).Error
}

// MarkIntentFailed 标记意向失败并记录原因。
func (s *Store) MarkIntentFailed(ctx context.Context, intentID, reason string) error {
	return s.db.WithContext(ctx).Model(&model.IntentRecord{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]interface{}{
			"status":    model.IntentFailed,
			"error_msg": reason,
		}).Error
}
