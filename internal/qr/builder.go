package qr

import (
	"errors"
	"fmt"

	"qrpay/internal/config"
	"qrpay/internal/model"

	qrcode "github.com/skip2/go-qrcode"
)

var (
	ErrInvalidOrderState = errors.New("订单状态不允许生成付款码")
	ErrConfiguration     = errors.New("商户配置缺失")
)

// Builder 付款码生成器
// 纯函数，不落库不发请求；相同订单重复调用得到相同 payload
type Builder struct {
	merchantID string
	level      qrcode.RecoveryLevel
	size       int
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		merchantID: cfg.Gateway.MerchantID,
		level:      parseLevel(cfg.QR.Level),
		size:       pickSize(cfg.QR.Size),
	}
}

// parseLevel 纠错等级由运营配置，默认 medium
func parseLevel(level string) qrcode.RecoveryLevel {
	switch level {
	case "low":
		return qrcode.Low
	case "high":
		return qrcode.High
	case "highest":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

func pickSize(size int) int {
	if size <= 0 {
		return 300
	}
	return size
}

// Build 生成付款意图串并编码为二维码图片
// payload 内嵌商户号、网关最小货币单位金额、币种和订单引用（ORD+订单号）
func (b *Builder) Build(order *model.Order, currency string) (string, []byte, error) {
	if b.merchantID == "" {
		return "", nil, ErrConfiguration
	}
	if order.TotalAmount <= 0 {
		return "", nil, ErrInvalidOrderState
	}
	if order.Status != model.OrderStatusAwaitingPayment {
		return "", nil, ErrInvalidOrderState
	}

	payload := b.Payload(order, currency)

	image, err := qrcode.Encode(payload, b.level, b.size)
	if err != nil {
		return "", nil, fmt.Errorf("生成二维码失败: %w", err)
	}

	return payload, image, nil
}

// Payload 付款意图串，字段顺序固定以保证确定性
func (b *Builder) Payload(order *model.Order, currency string) string {
	return fmt.Sprintf("upi://pay?pa=%s&am=%d&cu=%s&tr=ORD%d",
		b.merchantID, order.TotalAmount, currency, order.ID)
}
