package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oryjk/payment-go/internal/cache"
	"github.com/oryjk/payment-go/internal/constants"
	"github.com/oryjk/payment-go/internal/logger"
	"github.com/oryjk/payment-go/internal/models"
	"github.com/oryjk/payment-go/internal/queue"
	"github.com/oryjk/payment-go/internal/repository"
	"github.com/oryjk/payment-go/internal/transport"
	"github.com/oryjk/payment-go/internal/wechat"
)

var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrAmountMismatch 回调金额与订单金额不一致
	ErrAmountMismatch = errors.New("notification amount mismatch")
)

// 终态订单不再变化，可长期缓存
const terminalOrderCacheTTL = 24 * time.Hour

func orderCacheKey(orderNo string) string {
	return "order:" + orderNo
}

// PaymentService 支付应用服务：创建/查询/关闭订单与回调处理的编排层。
type PaymentService struct {
	orders      repository.OrderRepository
	adapter     *wechat.Adapter
	transport   transport.Client
	queueClient *queue.Client
	locks       *orderLocks
	expireAfter time.Duration
}

// NewPaymentService 创建支付服务
func NewPaymentService(orders repository.OrderRepository, adapter *wechat.Adapter, transportClient transport.Client, queueClient *queue.Client, expireAfter time.Duration) *PaymentService {
	return &PaymentService{
		orders:      orders,
		adapter:     adapter,
		transport:   transportClient,
		queueClient: queueClient,
		locks:       newOrderLocks(),
		expireAfter: expireAfter,
	}
}

// CreatePaymentInput 创建支付订单输入
type CreatePaymentInput struct {
	OrderNo     string
	AmountTotal int64
	Method      string
	Description string
	OpenID      string
	ClientIP    string
	Attach      string
}

// PaymentResult 创建支付订单结果
type PaymentResult struct {
	Order     *models.PaymentOrder
	PayParams *wechat.ClientPayParams
	CodeURL   string
	H5URL     string
}

// CreatePayment 创建支付订单：落库（pending）→ 预下单 → 写入预下单凭证
// 并进入 processing。预下单网络失败时订单保持 pending，可由查询兜底。
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error) {
	order, err := models.NewPaymentOrder(
		input.OrderNo, input.AmountTotal, input.Method,
		input.Description, input.ClientIP, input.OpenID, input.Attach,
	)
	if err != nil {
		return nil, err
	}
	if s.expireAfter > 0 {
		expiresAt := time.Now().Add(s.expireAfter)
		order.ExpiresAt = &expiresAt
	}

	if err := s.orders.Create(order); err != nil {
		return nil, err
	}
	logger.Infow("payment_order_created",
		"order_no", order.OrderNo,
		"method", order.Method,
		"amount", wechat.FormatAmount(order.AmountTotal),
	)

	if s.queueClient != nil && s.expireAfter > 0 {
		if err := s.queueClient.EnqueueOrderTimeoutClose(
			queue.OrderTimeoutClosePayload{OrderNo: order.OrderNo}, s.expireAfter,
		); err != nil {
			logger.Warnw("payment_timeout_task_enqueue_failed", "order_no", order.OrderNo, "error", err)
		}
	}

	descriptor, err := s.adapter.BuildPrepayRequest(order)
	if err != nil {
		return nil, err
	}
	respBody, err := s.transport.Do(ctx, descriptor)
	if err != nil {
		// 网络失败（含超时）不代表网关未受理，订单保持 pending
		logger.Warnw("payment_prepay_request_failed", "order_no", order.OrderNo, "error", err)
		return nil, err
	}
	prepay, err := wechat.ParsePrepayResponse(order.Method, respBody)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(order.OrderNo)
	defer unlock()
	if err := order.MarkProcessing(prepay.PrepayID); err != nil {
		return nil, err
	}
	if err := s.orders.UpdateState(order, constants.OrderStatePending); err != nil {
		return nil, err
	}

	result := &PaymentResult{Order: order, CodeURL: prepay.CodeURL, H5URL: prepay.H5URL}
	switch order.Method {
	case constants.PaymentMethodMiniProgram, constants.PaymentMethodJSAPI:
		params, err := s.adapter.PayParams(prepay.PrepayID)
		if err != nil {
			return nil, err
		}
		result.PayParams = params
	}
	logger.Infow("payment_prepay_obtained", "order_no", order.OrderNo, "state", order.State)
	return result, nil
}

// HandleNotification 处理支付结果回调。前四道关卡（时间戳、防重放、
// 验签、解密）由协议适配器执行，第五道在订单锁内驱动状态机并以
// compare-and-set 落库；任一关卡失败订单状态不变。
func (s *PaymentService) HandleNotification(ctx context.Context, header wechat.NotifyHeader, body []byte) (*models.PaymentOrder, error) {
	notification, resource, err := s.adapter.VerifyNotification(ctx, header, body)
	if err != nil {
		return nil, err
	}
	outcome, ok := wechat.MapTradeState(resource.TradeState)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported trade_state %s", wechat.ErrNotificationInvalid, resource.TradeState)
	}
	logger.Infow("payment_notification_verified",
		"notification_id", notification.ID,
		"event_type", notification.EventType,
		"order_no", resource.OutTradeNo,
		"outcome", outcome,
	)
	return s.applyOutcome(ctx, resource.OutTradeNo, outcome, resource)
}

// QueryPayment 查询订单。未到终态时向网关发起签名查询，
// 查询结果驱动与回调相同的状态机。
func (s *PaymentService) QueryPayment(ctx context.Context, orderNo string) (*models.PaymentOrder, error) {
	var cached models.PaymentOrder
	if hit, err := cache.GetJSON(ctx, orderCacheKey(orderNo), &cached); err == nil && hit && cached.IsFinished() {
		return &cached, nil
	}

	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
	}
	if order.IsFinished() {
		return order, nil
	}

	descriptor, err := s.adapter.BuildQueryRequest(orderNo)
	if err != nil {
		return nil, err
	}
	respBody, err := s.transport.Do(ctx, descriptor)
	if err != nil {
		// 查询失败返回本地状态，不影响订单
		logger.Warnw("payment_gateway_query_failed", "order_no", orderNo, "error", err)
		return order, nil
	}
	resource, err := wechat.ParseTransactionResponse(respBody)
	if err != nil {
		return nil, err
	}
	outcome, ok := wechat.MapTradeState(resource.TradeState)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported trade_state %s", wechat.ErrResponseInvalid, resource.TradeState)
	}
	if outcome == wechat.OutcomePending {
		return order, nil
	}
	return s.applyOutcome(ctx, orderNo, outcome, resource)
}

// ClosePayment 管理关闭订单：先通知网关关单，再应用关闭迁移。
func (s *PaymentService) ClosePayment(ctx context.Context, orderNo string) (*models.PaymentOrder, error) {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
	}
	if order.State == constants.OrderStateClosed {
		return order, nil
	}
	if order.IsFinished() {
		// 已支付/已退款/已失败的订单不可再关闭，也无需打扰网关
		return nil, fmt.Errorf("%w: close requires pending or processing, got %s", models.ErrStateConflict, order.State)
	}

	descriptor, err := s.adapter.BuildCloseRequest(orderNo)
	if err != nil {
		return nil, err
	}
	if _, err := s.transport.Do(ctx, descriptor); err != nil {
		logger.Warnw("payment_gateway_close_failed", "order_no", orderNo, "error", err)
		return nil, err
	}
	return s.applyOutcome(ctx, orderNo, wechat.OutcomeClosed, nil)
}

// applyOutcome 在订单锁内应用交易结果。重复投递的终态结果是幂等
// 空操作；矛盾的结果（如成功通知落在已关闭订单上）返回状态冲突。
func (s *PaymentService) applyOutcome(ctx context.Context, orderNo, outcome string, resource *wechat.TransactionResource) (*models.PaymentOrder, error) {
	unlock := s.locks.Lock(orderNo)
	defer unlock()

	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
	}
	expectedState := order.State

	switch outcome {
	case wechat.OutcomeSuccess:
		if resource != nil && resource.Amount.Total != order.AmountTotal {
			logger.Errorw("payment_notification_amount_mismatch",
				"order_no", orderNo,
				"expected", order.AmountTotal,
				"got", resource.Amount.Total,
			)
			return nil, fmt.Errorf("%w: expected %d got %d", ErrAmountMismatch, order.AmountTotal, resource.Amount.Total)
		}
		transactionID := ""
		paidAt := time.Time{}
		if resource != nil {
			transactionID = resource.TransactionID
			paidAt = resource.PaidAt()
		}
		changed, err := order.MarkSucceeded(transactionID, paidAt)
		if err != nil {
			return nil, err
		}
		if !changed {
			logger.Infow("payment_success_redelivered", "order_no", orderNo)
			return order, nil
		}
	case wechat.OutcomeFailed:
		if order.State == constants.OrderStateFailed {
			return order, nil
		}
		if err := order.MarkFailed(); err != nil {
			return nil, err
		}
	case wechat.OutcomeClosed:
		if order.State == constants.OrderStateClosed {
			return order, nil
		}
		if err := order.MarkClosed(); err != nil {
			return nil, err
		}
	case wechat.OutcomeRefunded:
		if order.State == constants.OrderStateRefunded {
			return order, nil
		}
		if err := order.MarkRefunded(); err != nil {
			return nil, err
		}
	case wechat.OutcomePending:
		return order, nil
	default:
		return nil, fmt.Errorf("%w: outcome %s", wechat.ErrNotificationInvalid, outcome)
	}

	if err := s.orders.UpdateState(order, expectedState); err != nil {
		return nil, err
	}
	if order.IsFinished() {
		if err := cache.SetJSON(ctx, orderCacheKey(orderNo), order, terminalOrderCacheTTL); err != nil {
			logger.Warnw("payment_order_cache_write_failed", "order_no", orderNo, "error", err)
		}
	}
	logger.Infow("payment_state_advanced", "order_no", orderNo, "from", expectedState, "to", order.State)
	return order, nil
}

// CloseExpiredOrder 超时关闭任务入口：订单已到终态时静默跳过。
func (s *PaymentService) CloseExpiredOrder(ctx context.Context, orderNo string) error {
	order, err := s.orders.GetByOrderNo(orderNo)
	if err != nil {
		return err
	}
	if order == nil || order.IsFinished() {
		return nil
	}
	if _, err := s.ClosePayment(ctx, orderNo); err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			// 关闭前一刻订单已支付成功，保持现状
			logger.Infow("payment_timeout_close_skipped", "order_no", orderNo)
			return nil
		}
		return err
	}
	return nil
}
