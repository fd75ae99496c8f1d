package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign 计算回调签名
// 网关签名规则：HMAC-SHA256(secret, "{gateway_order_id}|{gateway_payment_id}")，十六进制编码
func Sign(gatewayOrderID, gatewayPaymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 校验回调签名
// 必须用常数时间比较，防止时序侧信道探测签名
func VerifySignature(gatewayOrderID, gatewayPaymentID, signature, secret string) bool {
	expected := Sign(gatewayOrderID, gatewayPaymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
