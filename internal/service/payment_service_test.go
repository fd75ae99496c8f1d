package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"qrpay/internal/gateway"
	"qrpay/internal/model"
	"qrpay/internal/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeGateway 测试用网关：每次下单返回新的网关订单号，便于断言是否复用
type fakeGateway struct {
	calls   int32
	lastReq *gateway.CreateOrderRequest
	err     error
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req *gateway.CreateOrderRequest) (*gateway.CreateOrderResponse, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.CreateOrderResponse{
		ID:        fmt.Sprintf("gw_%d_c%d", req.InternalOrderID, n),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		CreatedAt: time.Now().Unix(),
	}, nil
}

func newPaymentService(t *testing.T) (*PaymentService, *gorm.DB, *fakeGateway) {
	t.Helper()

	db := testDB(t)
	gw := &fakeGateway{}
	svc := NewPaymentService(db, testRedis(t), testConfig(), gw)
	return svc, db, gw
}

func validAssertion(gwOrder *model.GatewayOrder, gatewayPaymentID string) *CaptureAssertion {
	return &CaptureAssertion{
		GatewayPaymentID: gatewayPaymentID,
		GatewayOrderID:   gwOrder.GatewayOrderID,
		Signature:        gateway.Sign(gwOrder.GatewayOrderID, gatewayPaymentID, testSecret),
		ClaimedAmount:    gwOrder.Amount,
		InternalOrderID:  gwOrder.InternalOrderID,
	}
}

// ============================================================
// Initiate
// ============================================================

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	svc, db, gw := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	assert.Equal(t, int64(4500), result.GatewayOrder.Amount)
	assert.Equal(t, "INR", result.GatewayOrder.Currency)
	assert.Equal(t, fmt.Sprintf("shop_order_%d", order.ID), result.GatewayOrder.Receipt)
	assert.Contains(t, result.QRPayload, "am=4500")
	assert.Contains(t, result.QRPayload, fmt.Sprintf("ORD%d", order.ID))
	assert.NotEmpty(t, result.QRImage)
	assert.Equal(t, fmt.Sprintf("shop_order_%d", order.ID), gw.lastReq.Receipt)

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAwaitingPayment, status)
}

func TestInitiateIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, db, gw := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	first, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)
	second, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	// 重复发起复用同一网关订单，远端只下过一次单
	assert.Equal(t, first.GatewayOrder.GatewayOrderID, second.GatewayOrder.GatewayOrderID)
	assert.Equal(t, first.QRPayload, second.QRPayload)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))
}

func TestInitiateUnauthorized(t *testing.T) {
	ctx := context.Background()
	svc, db, gw := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	_, err := svc.Initiate(ctx, order.ID, Caller{UserID: 99})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gw.calls))

	// 管理员可以代客发起
	_, err = svc.Initiate(ctx, order.ID, Caller{UserID: 99, Roles: []string{RoleAdmin}})
	assert.NoError(t, err)
}

func TestInitiateTerminalStates(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)

	for _, status := range []string{model.OrderStatusPaid, model.OrderStatusCancelled, model.OrderStatusPaymentFailed} {
		order := seedOrder(t, db, 7, 4500, status)
		_, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
		assert.ErrorIs(t, err, ErrInvalidOrderState, "status=%s", status)
	}
}

func TestInitiateExpiredGatewayOrderReplaced(t *testing.T) {
	ctx := context.Background()
	svc, db, gw := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	first, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	// 把网关订单改成已过期
	require.NoError(t, db.Model(&model.GatewayOrder{}).
		Where("internal_order_id = ?", order.ID).
		Update("expired_at", time.Now().Add(-time.Minute)).Error)

	second, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	assert.NotEqual(t, first.GatewayOrder.GatewayOrderID, second.GatewayOrder.GatewayOrderID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gw.calls))

	// receipt 不随重试变化
	assert.Equal(t, first.GatewayOrder.Receipt, second.GatewayOrder.Receipt)
}

func TestInitiateGatewayUnavailable(t *testing.T) {
	ctx := context.Background()
	svc, db, gw := newPaymentService(t)
	gw.err = gateway.ErrGatewayUnavailable
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	_, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

	// 远端失败不留半截状态：没有网关订单，订单维持 CREATED
	var count int64
	require.NoError(t, db.Model(&model.GatewayOrder{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCreated, status)
}

func TestInitiateMissingConfig(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	cfg := testConfig()
	cfg.Gateway.MerchantID = ""
	svc := NewPaymentService(db, testRedis(t), cfg, &fakeGateway{})
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	_, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	assert.ErrorIs(t, err, ErrConfiguration)
}

// ============================================================
// Capture
// ============================================================

func TestCapture(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	record, err := svc.Capture(ctx, validAssertion(result.GatewayOrder, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, model.PaymentStatusCaptured, record.Status)
	assert.Equal(t, int64(4500), record.Amount)
	assert.NotNil(t, record.VerifiedAt)

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, status)

	// 流水一条，事件一条
	var recordCount, outboxCount int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&recordCount).Error)
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), recordCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestCaptureIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	assertion := validAssertion(result.GatewayOrder, "pay_1")
	first, err := svc.Capture(ctx, assertion)
	require.NoError(t, err)

	// 网关回调重复投递同一笔支付
	second, err := svc.Capture(ctx, assertion)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentNo, second.PaymentNo)

	var recordCount, outboxCount int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&recordCount).Error)
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), recordCount, "重复投递不得新增流水")
	assert.Equal(t, int64(1), outboxCount, "重复投递不得重发事件")

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, status)
}

func TestCaptureTamperedSignature(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	assertion := validAssertion(result.GatewayOrder, "pay_1")
	assertion.Signature = "forged" + assertion.Signature

	_, err = svc.Capture(ctx, assertion)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// 订单保持待支付，可重试；不留任何流水
	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAwaitingPayment, status)

	var count int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCaptureAmountMismatch(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	assertion := validAssertion(result.GatewayOrder, "pay_1")
	assertion.ClaimedAmount = 100

	_, err = svc.Capture(ctx, assertion)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAwaitingPayment, status)
}

func TestCaptureUnknownGatewayOrder(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	// 不存在的网关订单
	assertion := validAssertion(result.GatewayOrder, "pay_1")
	assertion.GatewayOrderID = "gw_forged"
	assertion.Signature = "anything"
	_, err = svc.Capture(ctx, assertion)
	assert.ErrorIs(t, err, ErrUnknownGatewayOrder)

	// 网关订单存在但归属的内部订单不符
	assertion = validAssertion(result.GatewayOrder, "pay_1")
	assertion.InternalOrderID = order.ID + 1
	_, err = svc.Capture(ctx, assertion)
	assert.ErrorIs(t, err, ErrUnknownGatewayOrder)
}

func TestCaptureSecondPaymentAfterPaid(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	_, err = svc.Capture(ctx, validAssertion(result.GatewayOrder, "pay_1"))
	require.NoError(t, err)

	// 同一网关订单下的另一笔支付：流水照记（异常留痕），订单不再转移
	record, err := svc.Capture(ctx, validAssertion(result.GatewayOrder, "pay_2"))
	require.NoError(t, err)
	assert.Equal(t, "pay_2", record.GatewayPaymentID)

	status, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, status)

	var recordCount, outboxCount int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&recordCount).Error)
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(2), recordCount)
	assert.Equal(t, int64(1), outboxCount, "第二笔支付不产生支付成功事件")
}

func TestCaptureOnCancelledOrder(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	// 发起支付后订单被取消，回执不得入账
	require.NoError(t, db.Model(&model.Order{}).
		Where("id = ?", order.ID).
		Update("status", model.OrderStatusCancelled).Error)

	_, err = svc.Capture(ctx, validAssertion(result.GatewayOrder, "pay_1"))
	assert.ErrorIs(t, err, ErrInvalidOrderState)

	var count int64
	require.NoError(t, db.Model(&model.PaymentRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "事务回滚后不得残留流水")
}

// ============================================================
// 读路径
// ============================================================

func TestListPayments(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	result, err := svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)
	_, err = svc.Capture(ctx, validAssertion(result.GatewayOrder, "pay_1"))
	require.NoError(t, err)

	records, err := svc.ListPayments(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = svc.ListPayments(ctx, order.ID, Caller{UserID: 99})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestQRImage(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := newPaymentService(t)
	order := seedOrder(t, db, 7, 4500, model.OrderStatusCreated)

	// 未发起支付时没有付款码
	_, err := svc.QRImage(ctx, order.ID, Caller{UserID: 7})
	assert.ErrorIs(t, err, ErrInvalidOrderState)

	_, err = svc.Initiate(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)

	image, err := svc.QRImage(ctx, order.ID, Caller{UserID: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, image)
}

func TestQRImageUsesBuilderValidation(t *testing.T) {
	// 付款码构建与发起支付共用同一套校验
	builder := qr.NewBuilder(testConfig())
	order := &model.Order{ID: 1, TotalAmount: 4500, Status: model.OrderStatusCreated}
	_, _, err := builder.Build(order, "INR")
	assert.ErrorIs(t, err, qr.ErrInvalidOrderState)
}
