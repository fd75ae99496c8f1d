package model

import (
	"time"
)

const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusCaptured = "CAPTURED"
	PaymentStatusFailed   = "FAILED"
)

// PaymentRecord 支付流水表
// 每一次通过校验的支付回执落一条流水，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. gateway_payment_id 全局唯一 —— 同一笔网关支付最多入账一次，
//    网关回调重复投递时靠它兜底
type PaymentRecord struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	OrderID          int64      `gorm:"index;not null" json:"order_id"`
	GatewayOrderID   string     `gorm:"type:varchar(64);index;not null" json:"gateway_order_id"`
	GatewayPaymentID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"gateway_payment_id"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Status           string     `gorm:"type:varchar(20);not null" json:"status"`
	VerifiedAt       *time.Time `json:"verified_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_record"
}
