package handlers

import "github.com/oryjk/payment-go/internal/provider"

// Handler 支付接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
