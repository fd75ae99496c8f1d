package repository

import (
	"testing"

	"qrpay/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB 每个用例一个内存库，结构与生产迁移一致
func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Order{},
		&model.OrderItem{},
		&model.GatewayOrder{},
		&model.PaymentRecord{},
		&model.OutboxMessage{},
	))

	return db
}

func seedOrder(t *testing.T, db *gorm.DB, status string, amount int64) *model.Order {
	t.Helper()

	order := &model.Order{
		CustomerID:  7,
		TotalAmount: amount,
		Status:      status,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}
