package service

import (
	"context"
	"errors"

	"qrpay/internal/model"
	"qrpay/internal/repository"

	"gorm.io/gorm"
)

type OrderService struct {
	orderRepo *repository.OrderRepository
	db        *gorm.DB
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{
		orderRepo: repository.NewOrderRepository(db),
		db:        db,
	}
}

type CreateOrderRequest struct {
	CustomerID      int64
	ShippingAddress string
	Items           []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID string
	Quantity  int64
	UnitPrice int64
}

// CreateOrder 创建订单
// 总金额由明细快照行计算，调用方不能直接指定
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.Order, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("订单明细不能为空")
	}

	var total int64
	items := make([]model.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return nil, errors.New("订单明细数量和单价必须为正数")
		}
		total += item.Quantity * item.UnitPrice
		items = append(items, model.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order := &model.Order{
		CustomerID:      req.CustomerID,
		TotalAmount:     total,
		Status:          model.OrderStatusCreated,
		ShippingAddress: req.ShippingAddress,
		Items:           items,
	}

	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64, caller Caller) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := caller.Authorize(order); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder 取消订单
// 只有 CREATED / AWAITING_PAYMENT 可以取消，终态订单直接拒绝
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, caller Caller) error {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := caller.Authorize(order); err != nil {
		return err
	}

	err = s.orderRepo.UpdateStatus(ctx, nil, orderID, order.Status, model.OrderStatusCancelled)
	if errors.Is(err, repository.ErrOrderStatusInvalid) {
		return ErrInvalidOrderState
	}
	return err
}

func (s *OrderService) ListOrders(ctx context.Context, customerID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orderRepo.ListByCustomerID(ctx, customerID, page, pageSize)
}
