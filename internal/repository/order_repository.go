package repository

import (
	"errors"
	"strings"

	"github.com/oryjk/payment-go/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateOrder 商户订单号已存在
	ErrDuplicateOrder = errors.New("duplicate merchant order no")
)

// OrderRepository 支付订单数据访问接口
type OrderRepository interface {
	Create(order *models.PaymentOrder) error
	GetByID(id string) (*models.PaymentOrder, error)
	GetByOrderNo(orderNo string) (*models.PaymentOrder, error)
	GetByTransactionID(transactionID string) (*models.PaymentOrder, error)
	UpdateState(order *models.PaymentOrder, expectedState string) error
	WithTx(tx *gorm.DB) *GormOrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单，商户订单号唯一索引冲突映射为 ErrDuplicateOrder
func (r *GormOrderRepository) Create(order *models.PaymentOrder) error {
	if err := r.db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// GetByID 根据内部ID获取订单
func (r *GormOrderRepository) GetByID(id string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	result := r.db.Where("id = ?", strings.TrimSpace(id)).Limit(1).Find(&order)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

// GetByOrderNo 根据商户订单号获取订单
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.PaymentOrder, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, nil
	}
	var order models.PaymentOrder
	result := r.db.Where("order_no = ?", orderNo).Limit(1).Find(&order)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

// GetByTransactionID 根据微信交易号获取订单
func (r *GormOrderRepository) GetByTransactionID(transactionID string) (*models.PaymentOrder, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	var order models.PaymentOrder
	result := r.db.Where("transaction_id = ?", transactionID).Limit(1).Find(&order)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

// UpdateState 以 compare-and-set 方式持久化状态迁移：
// 只有当前持久化状态仍等于 expectedState 时写入才生效，
// 否则返回 models.ErrStateConflict，订单不被改动。
func (r *GormOrderRepository) UpdateState(order *models.PaymentOrder, expectedState string) error {
	result := r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND state = ?", order.ID, expectedState).
		Updates(map[string]interface{}{
			"state":          order.State,
			"transaction_id": order.TransactionID,
			"prepay_id":      order.PrepayID,
			"paid_at":        order.PaidAt,
			"updated_at":     order.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrStateConflict
	}
	return nil
}

// isUniqueViolation 兼容未开启 TranslateError 的驱动返回
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique") || strings.Contains(message, "duplicate")
}
