package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/oryjk/payment-go/internal/cache"
	"github.com/oryjk/payment-go/internal/constants"
	"github.com/oryjk/payment-go/internal/models"
	"github.com/oryjk/payment-go/internal/repository"
	"github.com/oryjk/payment-go/internal/wechat"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testAPIV3Key   = "0123456789abcdef0123456789abcdef"
	platformSerial = "PLATFORM-SERIAL-1"
)

type fakeTransport struct {
	responses map[string][]byte
	calls     []string
	err       error
}

func (f *fakeTransport) Do(_ context.Context, req *wechat.RequestDescriptor) ([]byte, error) {
	f.calls = append(f.calls, req.Method+" "+req.URL)
	if f.err != nil {
		return nil, f.err
	}
	for fragment, body := range f.responses {
		if strings.Contains(req.URL, fragment) {
			return body, nil
		}
	}
	return nil, fmt.Errorf("unexpected request %s", req.URL)
}

type serviceFixture struct {
	service        *PaymentService
	repo           *repository.GormOrderRepository
	transport      *fakeTransport
	platformSigner *wechat.Signer
	nonceSeq       int
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.PaymentOrder{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	repo := repository.NewOrderRepository(db)

	merchantPEM := generatePrivateKeyPEM(t)
	platformKey, platformPEM := generatePlatformKey(t)

	certs := wechat.NewCertStore()
	certs.RegisterKey(platformSerial, &platformKey.PublicKey, time.Time{})

	cfg := &wechat.Config{
		AppID:              "wxAPP00000000001",
		MerchantID:         "1900000001",
		MerchantSerialNo:   "MERCHANT-SERIAL-1",
		MerchantPrivateKey: merchantPEM,
		APIV3Key:           testAPIV3Key,
		NotifyURL:          "https://pay.example.com/api/v1/payments/callback/wechat",
	}
	adapter, err := wechat.NewAdapter(cfg, certs, cache.NewMemoryNonceStore(10*time.Minute))
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}

	platformSigner, err := wechat.NewSigner("platform", platformSerial, platformPEM)
	if err != nil {
		t.Fatalf("new platform signer failed: %v", err)
	}

	tr := &fakeTransport{responses: map[string][]byte{}}
	svc := NewPaymentService(repo, adapter, tr, nil, 30*time.Minute)
	return &serviceFixture{
		service:        svc,
		repo:           repo,
		transport:      tr,
		platformSigner: platformSigner,
	}
}

func generatePrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key failed: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key failed: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func generatePlatformKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key failed: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key failed: %v", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func (fx *serviceFixture) nextNonce() string {
	fx.nonceSeq++
	return fmt.Sprintf("cb-nonce-%04d", fx.nonceSeq)
}

// buildNotification 构造一条完整的已加密、已签名成功回调
func (fx *serviceFixture) buildNotification(t *testing.T, orderNo, transactionID, tradeState string, amountTotal int64) (wechat.NotifyHeader, []byte) {
	t.Helper()
	plaintext, err := json.Marshal(map[string]interface{}{
		"out_trade_no":   orderNo,
		"transaction_id": transactionID,
		"trade_state":    tradeState,
		"success_time":   "2026-08-30T12:00:00+08:00",
		"amount": map[string]interface{}{
			"total":       amountTotal,
			"payer_total": amountTotal,
			"currency":    "CNY",
		},
	})
	if err != nil {
		t.Fatalf("marshal resource failed: %v", err)
	}

	block, err := aes.NewCipher([]byte(testAPIV3Key))
	if err != nil {
		t.Fatalf("new cipher failed: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm failed: %v", err)
	}
	sealed := aead.Seal(nil, []byte("nonce1234567"), plaintext, []byte("transaction"))

	body, err := json.Marshal(map[string]interface{}{
		"id":            "evt-0001",
		"create_time":   time.Now().Format(time.RFC3339),
		"event_type":    "TRANSACTION.SUCCESS",
		"resource_type": "encrypt-resource",
		"summary":       "支付结果",
		"resource": map[string]interface{}{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      base64.StdEncoding.EncodeToString(sealed),
			"nonce":           "nonce1234567",
			"associated_data": "transaction",
			"original_type":   "transaction",
		},
	})
	if err != nil {
		t.Fatalf("marshal notification failed: %v", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := fx.nextNonce()
	signature, err := fx.platformSigner.Sign(wechat.BuildNotifyMessage(timestamp, nonce, body))
	if err != nil {
		t.Fatalf("sign notification failed: %v", err)
	}
	return wechat.NotifyHeader{
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: signature,
		SerialNo:  platformSerial,
	}, body
}

func (fx *serviceFixture) createProcessingOrder(t *testing.T, orderNo string) *models.PaymentOrder {
	t.Helper()
	fx.transport.responses["/v3/pay/transactions/jsapi"] = []byte(`{"prepay_id":"wx2026prepay"}`)
	result, err := fx.service.CreatePayment(context.Background(), CreatePaymentInput{
		OrderNo:     orderNo,
		AmountTotal: 990,
		Method:      "jsapi",
		Description: "测试商品",
		OpenID:      "o-openid-1",
		ClientIP:    "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	return result.Order
}

func TestCreatePaymentJSAPIFlow(t *testing.T) {
	fx := newServiceFixture(t)
	fx.transport.responses["/v3/pay/transactions/jsapi"] = []byte(`{"prepay_id":"wx2026prepay"}`)

	result, err := fx.service.CreatePayment(context.Background(), CreatePaymentInput{
		OrderNo:     "ORD20260001",
		AmountTotal: 990,
		Method:      "jsapi",
		Description: "测试商品",
		OpenID:      "o-openid-1",
		ClientIP:    "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if result.Order.State != constants.OrderStateProcessing {
		t.Fatalf("order must be processing, got %s", result.Order.State)
	}
	if result.Order.PrepayID != "wx2026prepay" {
		t.Fatalf("unexpected prepay id %s", result.Order.PrepayID)
	}
	if result.PayParams == nil || result.PayParams.Package != "prepay_id=wx2026prepay" {
		t.Fatalf("unexpected pay params %+v", result.PayParams)
	}

	persisted, err := fx.repo.GetByOrderNo("ORD20260001")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if persisted.State != constants.OrderStateProcessing {
		t.Fatalf("persisted state must be processing, got %s", persisted.State)
	}
	if persisted.ExpiresAt == nil {
		t.Fatalf("expected payment expiry to be set")
	}
}

func TestCreatePaymentDuplicateOrderNo(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentInput{
		OrderNo:     "ORD20260001",
		AmountTotal: 500,
		Method:      "native",
		Description: "另一个商品",
	})
	if !errors.Is(err, repository.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestCreatePaymentGatewayUnavailableKeepsPending(t *testing.T) {
	fx := newServiceFixture(t)
	fx.transport.err = errors.New("connect timeout")

	_, err := fx.service.CreatePayment(context.Background(), CreatePaymentInput{
		OrderNo:     "ORD20260001",
		AmountTotal: 990,
		Method:      "native",
		Description: "测试商品",
	})
	if err == nil {
		t.Fatalf("expected transport error to propagate")
	}

	persisted, err := fx.repo.GetByOrderNo("ORD20260001")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if persisted == nil || persisted.State != constants.OrderStatePending {
		t.Fatalf("order must stay pending after gateway failure, got %+v", persisted)
	}
}

func TestHandleNotificationSuccess(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	order, err := fx.service.HandleNotification(context.Background(), header, body)
	if err != nil {
		t.Fatalf("handle notification failed: %v", err)
	}
	if order.State != constants.OrderStateSucceeded {
		t.Fatalf("order must be succeeded, got %s", order.State)
	}
	if order.TransactionID != "420000123" {
		t.Fatalf("unexpected transaction id %s", order.TransactionID)
	}
	if order.PaidAt == nil {
		t.Fatalf("paid_at must be set")
	}

	persisted, _ := fx.repo.GetByOrderNo("ORD20260001")
	if persisted.State != constants.OrderStateSucceeded {
		t.Fatalf("persisted state must be succeeded, got %s", persisted.State)
	}
}

func TestHandleNotificationSuccessRedelivery(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	first, err := fx.service.HandleNotification(context.Background(), header, body)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	paidAt := *first.PaidAt

	// 网关重试会换新的头部 nonce，但交易内容相同
	header2, body2 := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	second, err := fx.service.HandleNotification(context.Background(), header2, body2)
	if err != nil {
		t.Fatalf("redelivery must be accepted: %v", err)
	}
	if second.State != constants.OrderStateSucceeded {
		t.Fatalf("order must stay succeeded, got %s", second.State)
	}
	if !second.PaidAt.Equal(paidAt) {
		t.Fatalf("redelivery must not overwrite paid_at")
	}
}

func TestHandleNotificationReplayedHeaderRejected(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	if _, err := fx.service.HandleNotification(context.Background(), header, body); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	// 同一 nonce 原样重放是攻击特征而不是重试
	_, err := fx.service.HandleNotification(context.Background(), header, body)
	if !errors.Is(err, wechat.ErrNonceReplayed) {
		t.Fatalf("expected ErrNonceReplayed, got %v", err)
	}
}

func TestHandleNotificationAmountMismatch(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 100)
	_, err := fx.service.HandleNotification(context.Background(), header, body)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	persisted, _ := fx.repo.GetByOrderNo("ORD20260001")
	if persisted.State != constants.OrderStateProcessing {
		t.Fatalf("order must stay processing on mismatch, got %s", persisted.State)
	}
}

func TestHandleNotificationUnknownOrder(t *testing.T) {
	fx := newServiceFixture(t)
	header, body := fx.buildNotification(t, "ORD-UNKNOWN", "420000123", "SUCCESS", 990)
	_, err := fx.service.HandleNotification(context.Background(), header, body)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestHandleNotificationSuccessOnClosedOrderConflicts(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	fx.transport.responses["/close"] = []byte(``)
	if _, err := fx.service.ClosePayment(context.Background(), "ORD20260001"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	_, err := fx.service.HandleNotification(context.Background(), header, body)
	if !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestHandleNotificationPayError(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")

	header, body := fx.buildNotification(t, "ORD20260001", "", "PAYERROR", 990)
	order, err := fx.service.HandleNotification(context.Background(), header, body)
	if err != nil {
		t.Fatalf("handle notification failed: %v", err)
	}
	if order.State != constants.OrderStateFailed {
		t.Fatalf("order must be failed, got %s", order.State)
	}
}

func TestQueryPaymentFinishedSkipsGateway(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	if _, err := fx.service.HandleNotification(context.Background(), header, body); err != nil {
		t.Fatalf("handle notification failed: %v", err)
	}

	callsBefore := len(fx.transport.calls)
	order, err := fx.service.QueryPayment(context.Background(), "ORD20260001")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if order.State != constants.OrderStateSucceeded {
		t.Fatalf("unexpected state %s", order.State)
	}
	if len(fx.transport.calls) != callsBefore {
		t.Fatalf("finished order must not hit the gateway")
	}
}

func TestQueryPaymentAdvancesFromGatewayResult(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	fx.transport.responses["/out-trade-no/ORD20260001?"] = []byte(`{"out_trade_no":"ORD20260001","transaction_id":"420000123","trade_state":"SUCCESS","success_time":"2026-08-30T12:00:00+08:00","amount":{"total":990,"currency":"CNY"}}`)

	order, err := fx.service.QueryPayment(context.Background(), "ORD20260001")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if order.State != constants.OrderStateSucceeded {
		t.Fatalf("order must be succeeded after gateway query, got %s", order.State)
	}
}

func TestQueryPaymentGatewayDownReturnsLocalState(t *testing.T) {
	fx := newServiceFixture(t)
	order := fx.createProcessingOrder(t, "ORD20260001")
	fx.transport.err = errors.New("gateway down")

	got, err := fx.service.QueryPayment(context.Background(), "ORD20260001")
	if err != nil {
		t.Fatalf("query must fall back to local state: %v", err)
	}
	if got.State != order.State {
		t.Fatalf("unexpected state %s", got.State)
	}
}

func TestQueryPaymentNotFound(t *testing.T) {
	fx := newServiceFixture(t)
	_, err := fx.service.QueryPayment(context.Background(), "ORD-MISSING")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestClosePaymentIdempotent(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	fx.transport.responses["/close"] = []byte(``)

	order, err := fx.service.ClosePayment(context.Background(), "ORD20260001")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if order.State != constants.OrderStateClosed {
		t.Fatalf("order must be closed, got %s", order.State)
	}

	callsBefore := len(fx.transport.calls)
	again, err := fx.service.ClosePayment(context.Background(), "ORD20260001")
	if err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if again.State != constants.OrderStateClosed {
		t.Fatalf("unexpected state %s", again.State)
	}
	if len(fx.transport.calls) != callsBefore {
		t.Fatalf("second close must not hit the gateway")
	}
}

func TestClosePaymentOnPaidOrderConflicts(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	if _, err := fx.service.HandleNotification(context.Background(), header, body); err != nil {
		t.Fatalf("handle notification failed: %v", err)
	}

	callsBefore := len(fx.transport.calls)
	_, err := fx.service.ClosePayment(context.Background(), "ORD20260001")
	if !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if len(fx.transport.calls) != callsBefore {
		t.Fatalf("close on a paid order must not hit the gateway")
	}
	persisted, _ := fx.repo.GetByOrderNo("ORD20260001")
	if persisted.State != constants.OrderStateSucceeded {
		t.Fatalf("paid order must stay succeeded, got %s", persisted.State)
	}
}

func TestCloseExpiredOrderSkipsPaidOrder(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	header, body := fx.buildNotification(t, "ORD20260001", "420000123", "SUCCESS", 990)
	if _, err := fx.service.HandleNotification(context.Background(), header, body); err != nil {
		t.Fatalf("handle notification failed: %v", err)
	}

	if err := fx.service.CloseExpiredOrder(context.Background(), "ORD20260001"); err != nil {
		t.Fatalf("close expired must skip paid orders: %v", err)
	}
	persisted, _ := fx.repo.GetByOrderNo("ORD20260001")
	if persisted.State != constants.OrderStateSucceeded {
		t.Fatalf("paid order must stay succeeded, got %s", persisted.State)
	}
}

func TestCloseExpiredOrderClosesProcessing(t *testing.T) {
	fx := newServiceFixture(t)
	fx.createProcessingOrder(t, "ORD20260001")
	fx.transport.responses["/close"] = []byte(``)

	if err := fx.service.CloseExpiredOrder(context.Background(), "ORD20260001"); err != nil {
		t.Fatalf("close expired failed: %v", err)
	}
	persisted, _ := fx.repo.GetByOrderNo("ORD20260001")
	if persisted.State != constants.OrderStateClosed {
		t.Fatalf("order must be closed, got %s", persisted.State)
	}
}
