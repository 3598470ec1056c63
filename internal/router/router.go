package router

import (
	"github.com/oryjk/payment-go/internal/config"
	"github.com/oryjk/payment-go/internal/http/handlers"
	"github.com/oryjk/payment-go/internal/logger"
	"github.com/oryjk/payment-go/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	handler := handlers.New(c)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		payments := apiV1.Group("/payments")
		{
			payments.POST("", handler.CreatePayment)
			payments.GET("/:order_no", handler.QueryPayment)
			payments.POST("/:order_no/close", handler.ClosePayment)

			// 微信支付结果回调
			payments.POST("/callback/wechat", handler.HandleWechatCallback)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
