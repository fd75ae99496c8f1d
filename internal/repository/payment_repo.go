package repository

import (
	"context"
	"errors"

	"qrpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPaymentNotFound = errors.New("支付流水不存在")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// InsertIfAbsent 以 gateway_payment_id 唯一索引保证至多一次入账
// 返回 fresh=true 表示本次是首次插入；false 表示同一笔网关支付已经入账过，
// 返回已有流水（回调重复投递是常态，不作为错误处理）
func (r *PaymentRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord) (*model.PaymentRecord, bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_payment_id"}},
			DoNothing: true,
		}).
		Create(record)

	if result.Error != nil {
		return nil, false, result.Error
	}

	if result.RowsAffected == 0 {
		existing, err := r.getByGatewayPaymentID(ctx, tx, record.GatewayPaymentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return record, true, nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*model.PaymentRecord, error) {
	return r.getByGatewayPaymentID(ctx, r.db, gatewayPaymentID)
}

func (r *PaymentRepository) getByGatewayPaymentID(ctx context.Context, tx *gorm.DB, gatewayPaymentID string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := tx.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) ListByOrderID(ctx context.Context, orderID int64) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
