package queue

import (
	"encoding/json"

	"github.com/oryjk/payment-go/internal/constants"

	"github.com/hibiken/asynq"
)

// TaskOrderTimeoutClose 订单超时关闭任务
const TaskOrderTimeoutClose = constants.TaskOrderTimeoutClose

// OrderTimeoutClosePayload 超时关闭任务载荷
type OrderTimeoutClosePayload struct {
	OrderNo string `json:"order_no"`
}

// NewOrderTimeoutCloseTask 创建超时关闭任务
func NewOrderTimeoutCloseTask(payload OrderTimeoutClosePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderTimeoutClose, body), nil
}
