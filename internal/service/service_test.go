package service

import (
	"testing"

	"qrpay/internal/config"
	"qrpay/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test_secret"

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

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			MerchantID:     "merchant_demo",
			KeyID:          "test_key",
			KeySecret:      testSecret,
			TimeoutSeconds: 1,
			MaxAttempts:    3,
			Currency:       "INR",
			Currencies:     []string{"INR"},
		},
		QR: config.QRConfig{Level: "medium", Size: 128},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PaymentResult: "payment-result"},
		},
		Business: config.BusinessConfig{
			GatewayOrderTTLMinutes: 30,
			MaxRetryCount:          3,
		},
	}
}

func seedOrder(t *testing.T, db *gorm.DB, customerID, amount int64, status string) *model.Order {
	t.Helper()

	order := &model.Order{
		CustomerID:  customerID,
		TotalAmount: amount,
		Status:      status,
		Items: []model.OrderItem{
			{ProductID: "sku-1", Quantity: 1, UnitPrice: amount},
		},
	}
	require.NoError(t, db.Create(order).Error)
	return order
}
