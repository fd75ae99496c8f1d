package handler

import (
	"log"
	"strconv"
	"strings"
	"time"

	"qrpay/internal/service"
	"qrpay/pkg/response"

	"github.com/gin-gonic/gin"
)

const callerContextKey = "caller"

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-User-ID, X-User-Roles")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// CallerMiddleware 调用方身份中间件
// 认证由上游网关完成，这里只读取网关写入的身份头；缺失即拒绝
func CallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.GetHeader("X-User-ID")
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			response.Error(c, response.CodeUnauthorized, "缺少调用方身份")
			c.Abort()
			return
		}

		var roles []string
		if rolesHeader := c.GetHeader("X-User-Roles"); rolesHeader != "" {
			for _, role := range strings.Split(rolesHeader, ",") {
				roles = append(roles, strings.TrimSpace(role))
			}
		}

		c.Set(callerContextKey, service.Caller{UserID: userID, Roles: roles})
		c.Next()
	}
}

// CallerFrom 从请求上下文取出调用方身份
func CallerFrom(c *gin.Context) service.Caller {
	value, _ := c.Get(callerContextKey)
	caller, _ := value.(service.Caller)
	return caller
}
