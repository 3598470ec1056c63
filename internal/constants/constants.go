package constants

// 订单状态常量
const (
	OrderStatePending    = "pending"
	OrderStateProcessing = "processing"
	OrderStateSucceeded  = "succeeded"
	OrderStateFailed     = "failed"
	OrderStateRefunded   = "refunded"
	OrderStateClosed     = "closed"
)

// 支付方式常量
const (
	PaymentMethodMiniProgram = "mini_program"
	PaymentMethodJSAPI       = "jsapi"
	PaymentMethodNative      = "native"
	PaymentMethodH5          = "h5"
)

// 微信回调头常量
const (
	HeaderWechatpayTimestamp = "Wechatpay-Timestamp"
	HeaderWechatpayNonce     = "Wechatpay-Nonce"
	HeaderWechatpaySignature = "Wechatpay-Signature"
	HeaderWechatpaySerial    = "Wechatpay-Serial"
)

// 微信回调事件类型常量
const (
	EventTypeTransactionSuccess = "TRANSACTION.SUCCESS"
	EventTypeTransactionFail    = "TRANSACTION.FAIL"
	EventTypeTransactionRefund  = "TRANSACTION.REFUND"
)

// 微信交易状态常量
const (
	TradeStateSuccess  = "SUCCESS"
	TradeStateNotPay   = "NOTPAY"
	TradeStatePaying   = "USERPAYING"
	TradeStatePayError = "PAYERROR"
	TradeStateClosed   = "CLOSED"
	TradeStateRevoked  = "REVOKED"
	TradeStateRefund   = "REFUND"
)

// 队列任务常量
const (
	QueueDefault          = "default"
	TaskOrderTimeoutClose = "payment:order_timeout_close"
)
