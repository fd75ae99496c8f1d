package repository

import (
	"context"
	"testing"
	"time"

	"qrpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(orderID int64, gatewayPaymentID, paymentNo string) *model.PaymentRecord {
	now := time.Now()
	return &model.PaymentRecord{
		PaymentNo:        paymentNo,
		OrderID:          orderID,
		GatewayOrderID:   "gw_1",
		GatewayPaymentID: gatewayPaymentID,
		Amount:           4500,
		Status:           model.PaymentStatusCaptured,
		VerifiedAt:       &now,
	}
}

func TestInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewPaymentRepository(db)

	record, fresh, err := repo.InsertIfAbsent(ctx, nil, newRecord(1, "pay_1", "PMT001"))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "PMT001", record.PaymentNo)
}

func TestInsertIfAbsentDuplicate(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewPaymentRepository(db)

	first, fresh, err := repo.InsertIfAbsent(ctx, nil, newRecord(1, "pay_1", "PMT001"))
	require.NoError(t, err)
	require.True(t, fresh)

	// 同一 gateway_payment_id 第二次插入：返回已有流水，不新增行
	second, fresh, err := repo.InsertIfAbsent(ctx, nil, newRecord(1, "pay_1", "PMT002"))
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, first.PaymentNo, second.PaymentNo)

	var count int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListByOrderID(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewPaymentRepository(db)

	_, _, err := repo.InsertIfAbsent(ctx, nil, newRecord(1, "pay_1", "PMT001"))
	require.NoError(t, err)
	_, _, err = repo.InsertIfAbsent(ctx, nil, newRecord(1, "pay_2", "PMT002"))
	require.NoError(t, err)
	_, _, err = repo.InsertIfAbsent(ctx, nil, newRecord(2, "pay_3", "PMT003"))
	require.NoError(t, err)

	records, err := repo.ListByOrderID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGetByGatewayPaymentIDNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(testDB(t))

	_, err := repo.GetByGatewayPaymentID(ctx, "pay_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
