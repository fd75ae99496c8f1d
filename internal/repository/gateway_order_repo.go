package repository

import (
	"context"
	"errors"

	"qrpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrGatewayOrderNotFound = errors.New("网关订单不存在")

type GatewayOrderRepository struct {
	db *gorm.DB
}

func NewGatewayOrderRepository(db *gorm.DB) *GatewayOrderRepository {
	return &GatewayOrderRepository{db: db}
}

// CreateIfAbsent 以 internal_order_id 唯一索引为准的写入
// 并发插入时只有一条能落库，冲突方读回已有记录，保证一个订单只有一条网关订单
func (r *GatewayOrderRepository) CreateIfAbsent(ctx context.Context, gwOrder *model.GatewayOrder) (*model.GatewayOrder, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "internal_order_id"}},
			DoNothing: true,
		}).
		Create(gwOrder)

	if result.Error != nil {
		return nil, false, result.Error
	}

	if result.RowsAffected == 0 {
		existing, err := r.GetByInternalOrderID(ctx, gwOrder.InternalOrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return gwOrder, true, nil
}

func (r *GatewayOrderRepository) GetByInternalOrderID(ctx context.Context, internalOrderID int64) (*model.GatewayOrder, error) {
	var gwOrder model.GatewayOrder
	err := r.db.WithContext(ctx).Where("internal_order_id = ?", internalOrderID).First(&gwOrder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &gwOrder, nil
}

func (r *GatewayOrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.GatewayOrder, error) {
	var gwOrder model.GatewayOrder
	err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&gwOrder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGatewayOrderNotFound
		}
		return nil, err
	}
	return &gwOrder, nil
}

// DeleteByInternalOrderID 删除已过期的网关订单记录
// 仅在重新发起支付、换新网关订单前调用
func (r *GatewayOrderRepository) DeleteByInternalOrderID(ctx context.Context, internalOrderID int64) error {
	return r.db.WithContext(ctx).
		Where("internal_order_id = ?", internalOrderID).
		Delete(&model.GatewayOrder{}).Error
}
