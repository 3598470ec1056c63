package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oryjk/payment-go/internal/constants"

	"github.com/google/uuid"
)

var (
	// ErrStateConflict 非法状态迁移
	ErrStateConflict = errors.New("payment order state conflict")
	// ErrOrderInvalid 订单参数非法
	ErrOrderInvalid = errors.New("payment order invalid")
)

// PaymentOrder 支付订单
type PaymentOrder struct {
	ID            string     `gorm:"type:varchar(36);primarykey" json:"id"`          // 内部订单ID
	OrderNo       string     `gorm:"uniqueIndex;size:64;not null" json:"order_no"`   // 商户订单号
	TransactionID string     `gorm:"index;size:64" json:"transaction_id,omitempty"`  // 微信交易号（支付后写入）
	AmountTotal   int64      `gorm:"not null" json:"amount_total"`                   // 支付金额（分）
	Currency      string     `gorm:"size:16;not null" json:"currency"`               // 币种
	Method        string     `gorm:"size:32;not null" json:"method"`                 // 支付方式
	State         string     `gorm:"index;size:32;not null" json:"state"`            // 订单状态
	Description   string     `gorm:"size:127;not null" json:"description"`           // 商品描述
	OpenID        string     `gorm:"size:128" json:"openid,omitempty"`               // 用户OpenID（小程序/JSAPI）
	ClientIP      string     `gorm:"size:64" json:"client_ip,omitempty"`             // 下单客户端IP
	Attach        string     `gorm:"size:255" json:"attach,omitempty"`               // 透传附加数据
	PrepayID      string     `gorm:"size:128" json:"prepay_id,omitempty"`            // 预下单凭证
	ExpiresAt     *time.Time `gorm:"index" json:"expires_at,omitempty"`              // 支付过期时间
	PaidAt        *time.Time `gorm:"index" json:"paid_at,omitempty"`                 // 支付完成时间
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`                        // 创建时间
	UpdatedAt     time.Time  `gorm:"index" json:"updated_at"`                        // 更新时间
}

// TableName 指定表名
func (PaymentOrder) TableName() string {
	return "payment_orders"
}

// NewPaymentOrder 创建待支付订单
func NewPaymentOrder(orderNo string, amountTotal int64, method, description, clientIP, openID, attach string) (*PaymentOrder, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" || len(orderNo) > 64 {
		return nil, fmt.Errorf("%w: order_no must be 1-64 chars", ErrOrderInvalid)
	}
	if amountTotal <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrOrderInvalid)
	}
	description = strings.TrimSpace(description)
	if description == "" || len(description) > 127 {
		return nil, fmt.Errorf("%w: description must be 1-127 chars", ErrOrderInvalid)
	}
	if !IsSupportedMethod(method) {
		return nil, fmt.Errorf("%w: method %s is not supported", ErrOrderInvalid, method)
	}
	now := time.Now()
	return &PaymentOrder{
		ID:          uuid.NewString(),
		OrderNo:     orderNo,
		AmountTotal: amountTotal,
		Currency:    "CNY",
		Method:      strings.ToLower(strings.TrimSpace(method)),
		State:       constants.OrderStatePending,
		Description: description,
		ClientIP:    strings.TrimSpace(clientIP),
		OpenID:      strings.TrimSpace(openID),
		Attach:      strings.TrimSpace(attach),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsSupportedMethod 是否支持的支付方式
func IsSupportedMethod(method string) bool {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case constants.PaymentMethodMiniProgram, constants.PaymentMethodJSAPI,
		constants.PaymentMethodNative, constants.PaymentMethodH5:
		return true
	default:
		return false
	}
}

// MarkProcessing 取得预下单凭证，进入支付中
func (o *PaymentOrder) MarkProcessing(prepayID string) error {
	if o.State != constants.OrderStatePending {
		return fmt.Errorf("%w: processing requires pending, got %s", ErrStateConflict, o.State)
	}
	prepayID = strings.TrimSpace(prepayID)
	if prepayID == "" {
		return fmt.Errorf("%w: prepay id is empty", ErrOrderInvalid)
	}
	if o.PrepayID != "" && o.PrepayID != prepayID {
		return fmt.Errorf("%w: prepay id already set", ErrStateConflict)
	}
	o.PrepayID = prepayID
	o.State = constants.OrderStateProcessing
	o.UpdatedAt = time.Now()
	return nil
}

// MarkSucceeded 网关确认支付成功。订单已处于成功状态时为幂等空操作，
// changed 为 false；其余终态返回 ErrStateConflict。
func (o *PaymentOrder) MarkSucceeded(transactionID string, paidAt time.Time) (changed bool, err error) {
	switch o.State {
	case constants.OrderStateSucceeded:
		return false, nil
	case constants.OrderStateProcessing:
		transactionID = strings.TrimSpace(transactionID)
		if transactionID == "" {
			return false, fmt.Errorf("%w: transaction id is empty", ErrOrderInvalid)
		}
		o.State = constants.OrderStateSucceeded
		o.TransactionID = transactionID
		ts := paidAt
		if ts.IsZero() {
			ts = time.Now()
		}
		o.PaidAt = &ts
		o.UpdatedAt = time.Now()
		return true, nil
	default:
		return false, fmt.Errorf("%w: success requires processing, got %s", ErrStateConflict, o.State)
	}
}

// MarkFailed 网关确认支付失败
func (o *PaymentOrder) MarkFailed() error {
	if o.State != constants.OrderStateProcessing {
		return fmt.Errorf("%w: failure requires processing, got %s", ErrStateConflict, o.State)
	}
	o.State = constants.OrderStateFailed
	o.UpdatedAt = time.Now()
	return nil
}

// MarkClosed 管理关闭/超时关闭
func (o *PaymentOrder) MarkClosed() error {
	switch o.State {
	case constants.OrderStatePending, constants.OrderStateProcessing:
		o.State = constants.OrderStateClosed
		o.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("%w: close requires pending or processing, got %s", ErrStateConflict, o.State)
	}
}

// MarkRefunded 退款确认
func (o *PaymentOrder) MarkRefunded() error {
	if o.State != constants.OrderStateSucceeded {
		return fmt.Errorf("%w: refund requires succeeded, got %s", ErrStateConflict, o.State)
	}
	o.State = constants.OrderStateRefunded
	o.UpdatedAt = time.Now()
	return nil
}

// IsFinished 支付流程是否已到终态
func (o *PaymentOrder) IsFinished() bool {
	switch o.State {
	case constants.OrderStateSucceeded, constants.OrderStateFailed,
		constants.OrderStateRefunded, constants.OrderStateClosed:
		return true
	default:
		return false
	}
}
