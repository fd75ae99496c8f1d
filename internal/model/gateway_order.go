package model

import (
	"time"
)

// GatewayOrder 网关订单表
// 记录在外部支付网关创建的交易单，一个内部订单同一时刻最多一条有效记录
//
// 【重要】internal_order_id 唯一索引是防止重复远端下单的核心约束：
// UI 重复提交、多实例并发发起时，第二次插入会落到已有记录上
// amount / currency / receipt 创建后冻结，不允许修改
type GatewayOrder struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GatewayOrderID  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"gateway_order_id"`
	InternalOrderID int64     `gorm:"uniqueIndex;not null" json:"internal_order_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(8);not null" json:"currency"`
	Receipt         string    `gorm:"type:varchar(64);not null" json:"receipt"`
	ExpiredAt       time.Time `gorm:"not null" json:"expired_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (GatewayOrder) TableName() string {
	return "gateway_order"
}

// Expired 判断网关订单是否已过可复用期
func (g *GatewayOrder) Expired(now time.Time) bool {
	return now.After(g.ExpiredAt)
}
