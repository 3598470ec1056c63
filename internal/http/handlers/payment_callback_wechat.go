package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/oryjk/payment-go/internal/constants"
	"github.com/oryjk/payment-go/internal/logger"
	"github.com/oryjk/payment-go/internal/wechat"

	"github.com/gin-gonic/gin"
)

// HandleWechatCallback 微信支付结果回调。验签/解密/状态机任一环节
// 失败均应答 FAIL，触发网关按退避策略重试。
func (h *Handler) HandleWechatCallback(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		logger.Warnw("wechat_callback_body_read_failed", "error", err)
		respondWechatCallback(c, false)
		return
	}

	header := wechat.NotifyHeader{
		Timestamp: strings.TrimSpace(c.GetHeader(constants.HeaderWechatpayTimestamp)),
		Nonce:     strings.TrimSpace(c.GetHeader(constants.HeaderWechatpayNonce)),
		Signature: strings.TrimSpace(c.GetHeader(constants.HeaderWechatpaySignature)),
		SerialNo:  strings.TrimSpace(c.GetHeader(constants.HeaderWechatpaySerial)),
	}
	logger.Infow("wechat_callback_received",
		"client_ip", c.ClientIP(),
		"body_size", len(body),
		"wechatpay_timestamp", header.Timestamp,
		"wechatpay_serial", header.SerialNo,
	)

	order, err := h.PaymentService.HandleNotification(c.Request.Context(), header, body)
	if err != nil {
		logger.Warnw("wechat_callback_handle_failed", "error", err)
		respondWechatCallback(c, false)
		return
	}

	logger.Infow("wechat_callback_processed",
		"order_no", order.OrderNo,
		"state", order.State,
	)
	respondWechatCallback(c, true)
}

func respondWechatCallback(c *gin.Context, success bool) {
	if success {
		c.JSON(http.StatusOK, gin.H{
			"code":    "SUCCESS",
			"message": "成功",
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "FAIL",
		"message": "失败",
	})
}
