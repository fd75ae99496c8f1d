package handler

import (
	"encoding/base64"
	"errors"
	"strconv"

	"qrpay/internal/config"
	"qrpay/internal/gateway"
	"qrpay/internal/qr"
	"qrpay/internal/repository"
	"qrpay/internal/service"
	"qrpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		orderService:   service.NewOrderService(db),
		paymentService: service.NewPaymentService(db, rdb, cfg, gateway.NewClient(&cfg.Gateway)),
	}
}

// writeError 业务错误到响应码的统一映射
// 完整性错误（签名/金额/网关订单）对外只给通用口径，细节只进服务端日志
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, "订单不存在")
	case errors.Is(err, service.ErrUnauthorized):
		response.Forbidden(c, "无权操作该订单")
	case errors.Is(err, service.ErrInvalidOrderState), errors.Is(err, qr.ErrInvalidOrderState):
		response.BusinessError(c, response.CodeOrderStatusInvalid, "订单状态不允许此操作")
	case errors.Is(err, service.ErrConfiguration), errors.Is(err, qr.ErrConfiguration):
		response.BusinessError(c, response.CodeConfigurationError, "支付暂不可用，请联系客服")
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		response.BusinessError(c, response.CodeGatewayUnavailable, "支付渠道繁忙，请稍后重试")
	case errors.Is(err, gateway.ErrGatewayRejected):
		response.BusinessError(c, response.CodeGatewayRejected, "支付渠道拒绝了本次请求")
	case errors.Is(err, service.ErrUnknownGatewayOrder),
		errors.Is(err, service.ErrSignatureMismatch),
		errors.Is(err, service.ErrAmountMismatch):
		response.BusinessError(c, response.CodeVerificationFailed, "支付校验失败")
	default:
		response.ServerError(c, "服务器内部错误")
	}
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	ShippingAddress string             `json:"shipping_address" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice int64  `json:"unit_price" binding:"required,gt=0"` // 最小货币单位
}

// CreateOrder 创建订单
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	caller := CallerFrom(c)

	serviceReq := &service.CreateOrderRequest{
		CustomerID:      caller.UserID,
		ShippingAddress: req.ShippingAddress,
	}
	for _, item := range req.Items {
		serviceReq.Items = append(serviceReq.Items, service.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), serviceReq)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_id":     order.ID,
		"status":       order.Status,
		"total_amount": order.TotalAmount,
	})
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_id=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "order_id 参数错误")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID, CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, order)
}

// ListOrders 查询调用方订单列表
// GET /api/v1/order/list?page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	caller := CallerFrom(c)
	orders, total, err := h.orderService.ListOrders(c.Request.Context(), caller.UserID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelOrder 取消订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req struct {
		OrderID int64 `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.CancelOrder(c.Request.Context(), req.OrderID, CallerFrom(c)); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "订单已取消",
	})
}

// ============================================================
// 支付相关接口
// ============================================================

// InitiatePaymentRequest 发起支付请求
type InitiatePaymentRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// InitiatePayment 发起支付
// POST /api/v1/payment/initiate
//
// 幂等：同一订单重复发起返回同一个网关订单和付款码
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.paymentService.Initiate(c.Request.Context(), req.OrderID, CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"gateway_order_id": result.GatewayOrder.GatewayOrderID,
		"amount":           result.GatewayOrder.Amount,
		"currency":         result.GatewayOrder.Currency,
		"qr_payload":       result.QRPayload,
		"qr_image":         base64.StdEncoding.EncodeToString(result.QRImage),
	})
}

// PaymentQR 获取订单付款码图片
// GET /api/v1/payment/qr?order_id=xxx
func (h *Handler) PaymentQR(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "order_id 参数错误")
		return
	}

	image, err := h.paymentService.QRImage(c.Request.Context(), orderID, CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Data(200, "image/png", image)
}

// CapturePaymentRequest 支付回执
// 来自网关的客户端回调中继，属于不可信输入，全部字段参与校验
type CapturePaymentRequest struct {
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
	Amount           int64  `json:"amount" binding:"required,gt=0"`
	OrderID          int64  `json:"order_id" binding:"required"`
}

// CapturePayment 提交支付回执
// POST /api/v1/payment/capture
//
// 【关键点】这是整个系统安全性的咽喉：
// 1. 签名校验防伪造，常数时间比较
// 2. 金额校验防篡改
// 3. gateway_payment_id 唯一键保证至多一次入账，重复投递幂等返回
func (h *Handler) CapturePayment(c *gin.Context) {
	var req CapturePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	assertion := &service.CaptureAssertion{
		GatewayPaymentID: req.GatewayPaymentID,
		GatewayOrderID:   req.GatewayOrderID,
		Signature:        req.Signature,
		ClaimedAmount:    req.Amount,
		InternalOrderID:  req.OrderID,
	}

	record, err := h.paymentService.Capture(c.Request.Context(), assertion)
	if err != nil {
		writeError(c, err)
		return
	}

	status, err := h.paymentService.Status(c.Request.Context(), record.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"payment_no":   record.PaymentNo,
		"order_status": status,
	})
}

// PaymentStatus 查询订单支付状态
// GET /api/v1/payment/status?order_id=xxx
func (h *Handler) PaymentStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "order_id 参数错误")
		return
	}

	status, err := h.paymentService.Status(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order_id": orderID,
		"status":   status,
	})
}

// ListPayments 查询订单支付流水
// GET /api/v1/payment/list?order_id=xxx
func (h *Handler) ListPayments(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "order_id 参数错误")
		return
	}

	records, err := h.paymentService.ListPayments(c.Request.Context(), orderID, CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list": records,
	})
}
