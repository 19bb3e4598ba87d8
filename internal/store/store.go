package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"seckill/internal/model"
)

// Store 持久层仓储：商品（含乐观锁库存）、订单、库存流水、意向记录。
type Store struct {
	db *gorm.DB
}

// Open 按配置打开数据库并建表。driver 支持 sqlite / mysql。
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.AutoMigrate(
		&model.Product{},
		&model.SeckillOrder{},
		&model.StockMovementLog{},
		&model.IntentRecord{},
	); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// New 包装既有连接，测试用。
func New(db *gorm.DB) *Store { return &Store{db: db} }

// DB 暴露底层连接，仅供 AutoMigrate 之外的边缘场景。
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction 在单个数据库事务内执行 fn。
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// IsUniqueViolation 识别唯一索引冲突（sqlite 与 mysql 的措辞不同）。
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") ||
		strings.Contains(s, "unique") ||
		strings.Contains(s, "Duplicate entry")
}
