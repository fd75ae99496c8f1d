package service

import "qrpay/internal/model"

const RoleAdmin = "ADMIN"

// Caller 调用方身份
// 由上游认证网关解析凭证后通过请求头透传，本服务只做归属判断
type Caller struct {
	UserID int64
	Roles  []string
}

func (c Caller) IsAdmin() bool {
	for _, role := range c.Roles {
		if role == RoleAdmin {
			return true
		}
	}
	return false
}

// Authorize 校验调用方是否有权操作该订单：订单归属人或管理员
func (c Caller) Authorize(order *model.Order) error {
	if c.UserID == order.CustomerID || c.IsAdmin() {
		return nil
	}
	return ErrUnauthorized
}
