package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"qrpay/internal/config"
	"qrpay/internal/gateway"
	"qrpay/internal/infrastructure/lock"
	"qrpay/internal/model"
	"qrpay/internal/qr"
	"qrpay/internal/repository"
	"qrpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// GatewayClient 远端下单接口
// 生产环境为 gateway.Client，测试中可替换
type GatewayClient interface {
	CreateOrder(ctx context.Context, req *gateway.CreateOrderRequest) (*gateway.CreateOrderResponse, error)
}

// PaymentService 支付编排服务
// 持有订单支付状态机：发起支付 -> 网关下单 -> 付款码 -> 回调校验 -> 状态落定
type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	gateway     GatewayClient
	qrBuilder   *qr.Builder
	orderRepo   *repository.OrderRepository
	gwOrderRepo *repository.GatewayOrderRepository
	paymentRepo *repository.PaymentRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gw GatewayClient) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		gateway:     gw,
		qrBuilder:   qr.NewBuilder(cfg),
		orderRepo:   repository.NewOrderRepository(db),
		gwOrderRepo: repository.NewGatewayOrderRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// Receipt 网关幂等回执号，由内部订单号确定性派生
// 同一订单无论重试多少次，发给网关的 receipt 都不变
func Receipt(orderID int64) string {
	return fmt.Sprintf("shop_order_%d", orderID)
}

type InitiateResult struct {
	GatewayOrder *model.GatewayOrder
	QRPayload    string
	QRImage      []byte
}

// CaptureAssertion 客户端中继回来的支付回执，未经校验前一律视为不可信输入
// 只在校验时消费一次，从不落库
type CaptureAssertion struct {
	GatewayPaymentID string
	GatewayOrderID   string
	Signature        string
	ClaimedAmount    int64
	InternalOrderID  int64
}

// Initiate 发起支付
//
// 幂等语义：订单已有未过期网关订单时直接复用，不再远端下单；
// CREATED -> AWAITING_PAYMENT 的转移允许重入。
// 远端下单包在按订单维度的分布式锁里，防止双击提交打出两个网关订单。
func (s *PaymentService) Initiate(ctx context.Context, orderID int64, caller Caller) (*InitiateResult, error) {
	if s.cfg.Gateway.MerchantID == "" || s.cfg.Gateway.KeySecret == "" {
		return nil, ErrConfiguration
	}

	currency := s.cfg.Gateway.Currency
	if !s.cfg.Gateway.CurrencyAllowed(currency) {
		return nil, fmt.Errorf("%w: 币种 %s 不在允许列表", ErrConfiguration, currency)
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := caller.Authorize(order); err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderStatusCreated, model.OrderStatusAwaitingPayment:
	default:
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrInvalidOrderState, order.Status)
	}

	// 快路径：已有未过期网关订单，直接复用
	gwOrder, err := s.gwOrderRepo.GetByInternalOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询网关订单失败: %w", err)
	}
	if gwOrder != nil && !gwOrder.Expired(time.Now()) {
		return s.buildResult(ctx, order, gwOrder)
	}

	// 慢路径：需要远端下单，按订单维度加锁
	holder := fmt.Sprintf("u%d-%d", caller.UserID, time.Now().UnixNano())
	initiateLock := lock.NewInitiateLock(s.redisClient, orderID, holder)
	if err := initiateLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer initiateLock.Unlock(ctx)

	// 获取锁后再次检查，另一个请求可能已经下过单
	gwOrder, err = s.gwOrderRepo.GetByInternalOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询网关订单失败: %w", err)
	}
	if gwOrder != nil {
		if !gwOrder.Expired(time.Now()) {
			return s.buildResult(ctx, order, gwOrder)
		}
		// 过期记录让出唯一索引位，换新网关订单
		if err := s.gwOrderRepo.DeleteByInternalOrderID(ctx, orderID); err != nil {
			return nil, fmt.Errorf("清理过期网关订单失败: %w", err)
		}
	}

	resp, err := s.gateway.CreateOrder(ctx, &gateway.CreateOrderRequest{
		Amount:          order.TotalAmount,
		Currency:        currency,
		Receipt:         Receipt(orderID),
		InternalOrderID: orderID,
	})
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(s.cfg.Business.GatewayOrderTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	gwOrder = &model.GatewayOrder{
		GatewayOrderID:  resp.ID,
		InternalOrderID: orderID,
		Amount:          order.TotalAmount,
		Currency:        currency,
		Receipt:         Receipt(orderID),
		ExpiredAt:       time.Now().Add(ttl),
	}

	gwOrder, fresh, err := s.gwOrderRepo.CreateIfAbsent(ctx, gwOrder)
	if err != nil {
		return nil, fmt.Errorf("保存网关订单失败: %w", err)
	}
	if fresh {
		log.Printf("[Payment] 网关订单已创建: orderID=%d, gatewayOrderID=%s, amount=%d", orderID, gwOrder.GatewayOrderID, gwOrder.Amount)
	}

	return s.buildResult(ctx, order, gwOrder)
}

// buildResult 保证订单处于 AWAITING_PAYMENT 后生成付款码
func (s *PaymentService) buildResult(ctx context.Context, order *model.Order, gwOrder *model.GatewayOrder) (*InitiateResult, error) {
	if order.Status == model.OrderStatusCreated {
		err := s.orderRepo.UpdateStatus(ctx, nil, order.ID, model.OrderStatusCreated, model.OrderStatusAwaitingPayment)
		if err != nil {
			if !errors.Is(err, repository.ErrOrderStatusInvalid) {
				return nil, fmt.Errorf("更新订单状态失败: %w", err)
			}
			// CAS 失败说明并发下已被转走，重读确认仍可支付
			fresh, rerr := s.orderRepo.GetByID(ctx, order.ID)
			if rerr != nil {
				return nil, rerr
			}
			if fresh.Status != model.OrderStatusAwaitingPayment {
				return nil, fmt.Errorf("%w: 当前状态 %s", ErrInvalidOrderState, fresh.Status)
			}
		}
		order.Status = model.OrderStatusAwaitingPayment
	}

	payload, image, err := s.qrBuilder.Build(order, gwOrder.Currency)
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		GatewayOrder: gwOrder,
		QRPayload:    payload,
		QRImage:      image,
	}, nil
}

// Capture 校验支付回执并落定订单状态
//
// 四道硬闸门按序执行：网关订单匹配 -> 签名 -> 金额 -> 唯一键入账。
// 流水插入、订单转 PAID、事件出箱在同一个数据库事务内提交，
// 不存在「流水已记订单未改」或反过来的中间态。
// 重复投递的同一笔回执返回已有流水，不触发第二次转移。
func (s *PaymentService) Capture(ctx context.Context, assertion *CaptureAssertion) (*model.PaymentRecord, error) {
	secret := s.cfg.Gateway.KeySecret
	if secret == "" {
		return nil, ErrConfiguration
	}

	// 闸门1：网关订单存在且归属一致
	gwOrder, err := s.gwOrderRepo.GetByGatewayOrderID(ctx, assertion.GatewayOrderID)
	if err != nil {
		if errors.Is(err, repository.ErrGatewayOrderNotFound) {
			log.Printf("[SECURITY] 回调引用未知网关订单: gatewayOrderID=%s, claimedOrderID=%d",
				assertion.GatewayOrderID, assertion.InternalOrderID)
			return nil, ErrUnknownGatewayOrder
		}
		return nil, fmt.Errorf("查询网关订单失败: %w", err)
	}
	if gwOrder.InternalOrderID != assertion.InternalOrderID {
		log.Printf("[SECURITY] 回调订单归属不符: gatewayOrderID=%s, expectOrderID=%d, claimedOrderID=%d",
			assertion.GatewayOrderID, gwOrder.InternalOrderID, assertion.InternalOrderID)
		return nil, ErrUnknownGatewayOrder
	}

	// 闸门2：签名校验（常数时间比较；日志不得包含密钥）
	if !gateway.VerifySignature(assertion.GatewayOrderID, assertion.GatewayPaymentID, assertion.Signature, secret) {
		log.Printf("[SECURITY] 回调签名校验失败: gatewayOrderID=%s, gatewayPaymentID=%s",
			assertion.GatewayOrderID, assertion.GatewayPaymentID)
		return nil, ErrSignatureMismatch
	}

	// 闸门3：金额必须与网关订单冻结金额一致
	if assertion.ClaimedAmount != gwOrder.Amount {
		log.Printf("[SECURITY] 回调金额不符: gatewayOrderID=%s, expect=%d, claimed=%d",
			assertion.GatewayOrderID, gwOrder.Amount, assertion.ClaimedAmount)
		return nil, ErrAmountMismatch
	}

	// 闸门4：唯一键入账 + 状态转移 + 事件出箱，单事务
	var record *model.PaymentRecord

	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		newRecord := &model.PaymentRecord{
			PaymentNo:        idgen.GeneratePaymentNo(),
			OrderID:          gwOrder.InternalOrderID,
			GatewayOrderID:   gwOrder.GatewayOrderID,
			GatewayPaymentID: assertion.GatewayPaymentID,
			Amount:           assertion.ClaimedAmount,
			Status:           model.PaymentStatusCaptured,
			VerifiedAt:       &now,
		}

		inserted, fresh, err := s.paymentRepo.InsertIfAbsent(ctx, tx, newRecord)
		if err != nil {
			return fmt.Errorf("记录支付流水失败: %w", err)
		}
		record = inserted

		if !fresh {
			// 同一笔网关支付重复投递，幂等返回已有流水，不再转移订单
			return nil
		}

		err = s.orderRepo.UpdateStatus(ctx, tx, gwOrder.InternalOrderID, model.OrderStatusAwaitingPayment, model.OrderStatusPaid)
		if err != nil {
			if !errors.Is(err, repository.ErrOrderStatusInvalid) {
				return fmt.Errorf("更新订单状态失败: %w", err)
			}

			var current model.Order
			if lerr := tx.WithContext(ctx).Where("id = ?", gwOrder.InternalOrderID).First(&current).Error; lerr != nil {
				return lerr
			}
			if current.Status == model.OrderStatusPaid {
				// 同一网关订单下的第二笔支付：流水照记（留给运营核对），
				// 但绝不把已 PAID 的订单再转移一次
				log.Printf("[SECURITY] 订单已支付仍收到新支付回执: orderID=%d, gatewayPaymentID=%s",
					gwOrder.InternalOrderID, assertion.GatewayPaymentID)
				return nil
			}
			return fmt.Errorf("%w: 当前状态 %s", ErrInvalidOrderState, current.Status)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"payment_no":         record.PaymentNo,
			"order_id":           gwOrder.InternalOrderID,
			"gateway_order_id":   gwOrder.GatewayOrderID,
			"gateway_payment_id": assertion.GatewayPaymentID,
			"amount":             assertion.ClaimedAmount,
			"status":             model.OrderStatusPaid,
			"paid_at":            now.Format(time.RFC3339),
		})

		outboxMsg := &model.OutboxMessage{
			MessageKey: record.PaymentNo,
			Topic:      s.cfg.Kafka.Topic.PaymentResult,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		log.Printf("[Payment] 支付入账: orderID=%d, paymentNo=%s, amount=%d",
			gwOrder.InternalOrderID, record.PaymentNo, record.Amount)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// Status 查询订单状态，纯读
func (s *PaymentService) Status(ctx context.Context, orderID int64) (string, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// ListPayments 查询订单的支付流水（对账/报表读路径）
func (s *PaymentService) ListPayments(ctx context.Context, orderID int64, caller Caller) ([]*model.PaymentRecord, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := caller.Authorize(order); err != nil {
		return nil, err
	}
	return s.paymentRepo.ListByOrderID(ctx, orderID)
}

// QRImage 重新渲染订单付款码
// 要求订单处于 AWAITING_PAYMENT 且已有未过期网关订单
func (s *PaymentService) QRImage(ctx context.Context, orderID int64, caller Caller) ([]byte, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := caller.Authorize(order); err != nil {
		return nil, err
	}

	gwOrder, err := s.gwOrderRepo.GetByInternalOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询网关订单失败: %w", err)
	}
	if gwOrder == nil || gwOrder.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: 请先发起支付", ErrInvalidOrderState)
	}

	_, image, err := s.qrBuilder.Build(order, gwOrder.Currency)
	if err != nil {
		return nil, err
	}
	return image, nil
}
