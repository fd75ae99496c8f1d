package job

import (
	"context"
	"log"
	"time"

	"qrpay/internal/config"
	"qrpay/internal/model"
	"qrpay/internal/repository"

	"gorm.io/gorm"
)

// PaymentExpiryJob 支付超期处理任务
//
// 默认策略：支付失败的订单无限期可重试（客户随时可以再扫一次码），
// 只有运营显式开启 fail_after_expiry 后，等待支付超过网关订单有效期
// 的订单才会被转为 PAYMENT_FAILED
type PaymentExpiryJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPaymentExpiryJob(db *gorm.DB, cfg *config.Config) *PaymentExpiryJob {
	return &PaymentExpiryJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 100,
	}
}

func (j *PaymentExpiryJob) Start(ctx context.Context) {
	if !j.cfg.Business.FailAfterExpiry {
		log.Println("[PaymentExpiryJob] fail_after_expiry 未开启，任务不启动")
		return
	}

	log.Println("[PaymentExpiryJob] 支付超期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PaymentExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PaymentExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.failStaleOrders(ctx)
		}
	}
}

func (j *PaymentExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentExpiryJob) failStaleOrders(ctx context.Context) {
	ttl := time.Duration(j.cfg.Business.GatewayOrderTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	beforeTime := time.Now().Add(-ttl)

	orders, err := j.orderRepo.GetStaleAwaitingOrders(ctx, beforeTime, j.batchSize)
	if err != nil {
		log.Printf("[PaymentExpiryJob] 查询超期订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	log.Printf("[PaymentExpiryJob] 发现 %d 个超期未支付订单", len(orders))

	failedCount := 0
	for _, order := range orders {
		// CAS 转移：期间如果订单支付成功，这里会失败并跳过，不会误伤
		err := j.orderRepo.UpdateStatus(ctx, nil, order.ID, model.OrderStatusAwaitingPayment, model.OrderStatusPaymentFailed)
		if err != nil {
			continue
		}
		failedCount++
		log.Printf("[PaymentExpiryJob] 订单支付超期，已标记失败: orderID=%d, amount=%d", order.ID, order.TotalAmount)
	}

	log.Printf("[PaymentExpiryJob] 本次处理 %d 个超期订单", failedCount)
}
