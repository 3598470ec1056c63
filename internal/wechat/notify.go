package wechat

import (
	"strings"
	"time"

	"github.com/oryjk/payment-go/internal/constants"
)

// NotifyHeader 回调签名头（Wechatpay-* 请求头）
type NotifyHeader struct {
	Timestamp string
	Nonce     string
	Signature string
	SerialNo  string
}

// Notification 回调通知外层报文
type Notification struct {
	ID           string             `json:"id"`
	CreateTime   string             `json:"create_time"`
	EventType    string             `json:"event_type"`
	ResourceType string             `json:"resource_type"`
	Summary      string             `json:"summary"`
	Resource     *EncryptedResource `json:"resource"`
}

// EncryptedResource 加密资源信封
type EncryptedResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
	OriginalType   string `json:"original_type"`
}

// TransactionResource 解密后的交易数据
type TransactionResource struct {
	OutTradeNo     string             `json:"out_trade_no"`
	TransactionID  string             `json:"transaction_id"`
	TradeState     string             `json:"trade_state"`
	TradeStateDesc string             `json:"trade_state_desc"`
	SuccessTime    string             `json:"success_time"`
	Attach         string             `json:"attach"`
	Amount         TransactionAmount  `json:"amount"`
	Payer          *TransactionPayer  `json:"payer,omitempty"`
}

// TransactionAmount 交易金额（分）
type TransactionAmount struct {
	Total      int64  `json:"total"`
	PayerTotal int64  `json:"payer_total"`
	Currency   string `json:"currency"`
}

// TransactionPayer 支付用户
type TransactionPayer struct {
	OpenID string `json:"openid"`
}

// PaidAt 解析支付完成时间
func (t *TransactionResource) PaidAt() time.Time {
	raw := strings.TrimSpace(t.SuccessTime)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// 交易结果分类
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeClosed   = "closed"
	OutcomeRefunded = "refunded"
	OutcomePending  = "pending"
)

// MapTradeState 将微信交易状态映射为本系统的交易结果
func MapTradeState(tradeState string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(tradeState)) {
	case constants.TradeStateSuccess:
		return OutcomeSuccess, true
	case constants.TradeStatePayError:
		return OutcomeFailed, true
	case constants.TradeStateClosed, constants.TradeStateRevoked:
		return OutcomeClosed, true
	case constants.TradeStateRefund:
		return OutcomeRefunded, true
	case constants.TradeStateNotPay, constants.TradeStatePaying:
		return OutcomePending, true
	default:
		return "", false
	}
}
