package handler

import (
	"qrpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	// API 路由组，全部要求调用方身份
	api := r.Group("/api/v1")
	api.Use(CallerMiddleware())
	{
		// 订单相关
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
			order.POST("/cancel", h.CancelOrder)
		}

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/initiate", h.InitiatePayment)
			payment.GET("/qr", h.PaymentQR)
			payment.POST("/capture", h.CapturePayment)
			payment.GET("/status", h.PaymentStatus)
			payment.GET("/list", h.ListPayments)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
