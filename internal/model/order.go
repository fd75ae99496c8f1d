package model

import (
	"time"
)

const (
	OrderStatusCreated         = "CREATED"
	OrderStatusAwaitingPayment = "AWAITING_PAYMENT"
	OrderStatusPaid            = "PAID"
	OrderStatusPaymentFailed   = "PAYMENT_FAILED"
	OrderStatusCancelled       = "CANCELLED"
)

// ValidStatusTransitions 订单状态机
// PAID / PAYMENT_FAILED / CANCELLED 为终态，不允许再转出
var ValidStatusTransitions = map[string][]string{
	OrderStatusCreated:         {OrderStatusAwaitingPayment, OrderStatusCancelled},
	OrderStatusAwaitingPayment: {OrderStatusPaid, OrderStatusPaymentFailed, OrderStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 订单表
// 订单金额为最小货币单位（如「分/paise」），全程整数，禁止浮点
type Order struct {
	ID              int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID      int64       `gorm:"index;not null" json:"customer_id"`
	TotalAmount     int64       `gorm:"not null" json:"total_amount"`
	Status          string      `gorm:"type:varchar(20);index;not null" json:"status"`
	ShippingAddress string      `gorm:"type:varchar(256)" json:"shipping_address"`
	Items           []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	PaidAt          *time.Time  `json:"paid_at"`
	CreatedAt       time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "pay_order"
}

// OrderItem 订单明细（下单时的商品快照）
type OrderItem struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64  `gorm:"index;not null" json:"order_id"`
	ProductID string `gorm:"type:varchar(64);not null" json:"product_id"`
	Quantity  int64  `gorm:"not null" json:"quantity"`
	UnitPrice int64  `gorm:"not null" json:"unit_price"`
}

func (OrderItem) TableName() string {
	return "pay_order_item"
}
