package worker

import (
	"context"
	"encoding/json"

	"github.com/oryjk/payment-go/internal/logger"
	"github.com/oryjk/payment-go/internal/provider"
	"github.com/oryjk/payment-go/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderTimeoutClose, c.handleOrderTimeoutClose)
}

func (c *Consumer) handleOrderTimeoutClose(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_timeout_close_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderTimeoutClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_timeout_close_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderNo == "" {
		logger.Debugw("worker_order_timeout_close_skip_invalid_payload")
		return nil
	}
	if c.PaymentService == nil {
		logger.Debugw("worker_order_timeout_close_skip_service_nil", "order_no", payload.OrderNo)
		return nil
	}
	if err := c.PaymentService.CloseExpiredOrder(ctx, payload.OrderNo); err != nil {
		logger.Warnw("worker_order_timeout_close_failed", "order_no", payload.OrderNo, "error", err)
		return err
	}
	logger.Infow("worker_order_timeout_close_done", "order_no", payload.OrderNo)
	return nil
}
