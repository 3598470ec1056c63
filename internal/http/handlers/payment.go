package handlers

import (
	"errors"

	"github.com/oryjk/payment-go/internal/http/response"
	"github.com/oryjk/payment-go/internal/models"
	"github.com/oryjk/payment-go/internal/repository"
	"github.com/oryjk/payment-go/internal/service"
	"github.com/oryjk/payment-go/internal/wechat"

	"github.com/gin-gonic/gin"
)

// CreatePaymentRequest 创建支付订单请求
type CreatePaymentRequest struct {
	OrderNo     string `json:"order_no" binding:"required"`
	AmountTotal int64  `json:"amount_total" binding:"required"`
	Method      string `json:"method" binding:"required"`
	Description string `json:"description" binding:"required"`
	OpenID      string `json:"openid"`
	Attach      string `json:"attach"`
}

// CreatePayment 创建支付订单并预下单
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := h.PaymentService.CreatePayment(c.Request.Context(), service.CreatePaymentInput{
		OrderNo:     req.OrderNo,
		AmountTotal: req.AmountTotal,
		Method:      req.Method,
		Description: req.Description,
		OpenID:      req.OpenID,
		ClientIP:    c.ClientIP(),
		Attach:      req.Attach,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderInvalid):
			response.BadRequest(c, err.Error())
		case errors.Is(err, repository.ErrDuplicateOrder):
			response.Conflict(c, "order_no already exists")
		default:
			response.Internal(c, "create payment failed")
		}
		return
	}

	data := gin.H{"order": result.Order}
	if result.PayParams != nil {
		data["pay_params"] = result.PayParams
	}
	if result.CodeURL != "" {
		data["code_url"] = result.CodeURL
	}
	if result.H5URL != "" {
		data["h5_url"] = result.H5URL
	}
	response.Success(c, data)
}

// QueryPayment 查询订单（未到终态时向网关发起查询）
func (h *Handler) QueryPayment(c *gin.Context) {
	orderNo := c.Param("order_no")
	order, err := h.PaymentService.QueryPayment(c.Request.Context(), orderNo)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "payment order not found")
		case errors.Is(err, models.ErrStateConflict):
			response.Conflict(c, err.Error())
		default:
			response.Internal(c, "query payment failed")
		}
		return
	}
	response.Success(c, gin.H{"order": order})
}

// ClosePayment 管理关闭订单
func (h *Handler) ClosePayment(c *gin.Context) {
	orderNo := c.Param("order_no")
	order, err := h.PaymentService.ClosePayment(c.Request.Context(), orderNo)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "payment order not found")
		case errors.Is(err, models.ErrStateConflict):
			response.Conflict(c, err.Error())
		case errors.Is(err, wechat.ErrConfigInvalid):
			response.Internal(c, "gateway config invalid")
		default:
			response.Internal(c, "close payment failed")
		}
		return
	}
	response.Success(c, gin.H{"order": order})
}
