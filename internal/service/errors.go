package service

import "errors"

var (
	// ErrUnauthorized 调用方无权操作该订单
	ErrUnauthorized = errors.New("无权操作该订单")
	// ErrInvalidOrderState 订单当前状态不允许本次操作
	ErrInvalidOrderState = errors.New("订单状态不允许此操作")
	// ErrConfiguration 商户号或密钥等运营配置缺失
	ErrConfiguration = errors.New("支付配置缺失")

	// 以下三个是回调校验的完整性错误：属于攻击或缺陷信号，
	// 绝不自动重试，日志必须留痕，对外只给统一的「支付校验失败」
	ErrUnknownGatewayOrder = errors.New("网关订单不存在或不匹配")
	ErrSignatureMismatch   = errors.New("回调签名校验失败")
	ErrAmountMismatch      = errors.New("回调金额与网关订单不符")
)
