package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oryjk/payment-go/internal/constants"
	"github.com/oryjk/payment-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const aeadAlgorithm = "AEAD_AES_256_GCM"

// NonceStore 回调 nonce 防重放存储。记录保留窗口必须覆盖时间戳容忍窗口。
type NonceStore interface {
	SeenBefore(ctx context.Context, nonce string) (bool, error)
}

// RequestDescriptor 已签名、可直接交给传输层执行的出站请求
type RequestDescriptor struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// PrepayResult 预下单结果
type PrepayResult struct {
	PrepayID string
	CodeURL  string
	H5URL    string
	Raw      map[string]interface{}
}

// ClientPayParams 客户端调起支付参数（小程序/JSAPI）
type ClientPayParams struct {
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// Adapter 微信支付协议适配器。出站方向构造已签名请求描述符，
// 入站方向对回调执行逐级校验与解密；自身不发起网络调用，
// 初始化完成后无可变共享状态，可被并发使用。
type Adapter struct {
	cfg      *Config
	signer   *Signer
	verifier *Verifier
	cipher   *ResourceCipher
	nonces   NonceStore
	now      func() time.Time
	newNonce func() string
}

// NewAdapter 创建协议适配器
func NewAdapter(cfg *Config, certs CertificateResolver, nonces NonceStore) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	signer, err := NewSigner(cfg.MerchantID, cfg.MerchantSerialNo, cfg.MerchantPrivateKey)
	if err != nil {
		return nil, err
	}
	cipher, err := NewResourceCipher(cfg.APIV3Key)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:      cfg,
		signer:   signer,
		verifier: NewVerifier(certs),
		cipher:   cipher,
		nonces:   nonces,
		now:      time.Now,
		newNonce: newNonceStr,
	}, nil
}

// BuildPrepayRequest 构造预下单请求
func (a *Adapter) BuildPrepayRequest(order *models.PaymentOrder) (*RequestDescriptor, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: order is nil", ErrConfigInvalid)
	}
	payload := map[string]interface{}{
		"appid":        a.cfg.AppID,
		"mchid":        a.cfg.MerchantID,
		"description":  order.Description,
		"out_trade_no": order.OrderNo,
		"notify_url":   a.cfg.NotifyURL,
		"amount": map[string]interface{}{
			"total":    order.AmountTotal,
			"currency": order.Currency,
		},
	}
	if order.Attach != "" {
		payload["attach"] = order.Attach
	}
	if order.ExpiresAt != nil {
		payload["time_expire"] = order.ExpiresAt.Format(time.RFC3339)
	}

	endpoint := ""
	switch order.Method {
	case constants.PaymentMethodMiniProgram, constants.PaymentMethodJSAPI:
		if strings.TrimSpace(order.OpenID) == "" {
			return nil, fmt.Errorf("%w: openid is required for %s", ErrConfigInvalid, order.Method)
		}
		endpoint = "/v3/pay/transactions/jsapi"
		payload["payer"] = map[string]interface{}{"openid": order.OpenID}
		payload["scene_info"] = map[string]interface{}{"payer_client_ip": clientIPOrDefault(order.ClientIP)}
	case constants.PaymentMethodNative:
		endpoint = "/v3/pay/transactions/native"
		payload["scene_info"] = map[string]interface{}{"payer_client_ip": clientIPOrDefault(order.ClientIP)}
	case constants.PaymentMethodH5:
		endpoint = "/v3/pay/transactions/h5"
		payload["scene_info"] = map[string]interface{}{
			"payer_client_ip": clientIPOrDefault(order.ClientIP),
			"h5_info":         map[string]interface{}{"type": "Wap"},
		}
	default:
		return nil, fmt.Errorf("%w: method %s is not supported", ErrConfigInvalid, order.Method)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal prepay payload failed", ErrConfigInvalid)
	}
	return a.signRequest(http.MethodPost, endpoint, body)
}

// BuildQueryRequest 构造订单查询请求
func (a *Adapter) BuildQueryRequest(orderNo string) (*RequestDescriptor, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order no is required", ErrConfigInvalid)
	}
	endpoint := "/v3/pay/transactions/out-trade-no/" + url.PathEscape(orderNo) +
		"?mchid=" + url.QueryEscape(a.cfg.MerchantID)
	return a.signRequest(http.MethodGet, endpoint, nil)
}

// BuildCloseRequest 构造订单关闭请求
func (a *Adapter) BuildCloseRequest(orderNo string) (*RequestDescriptor, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order no is required", ErrConfigInvalid)
	}
	body, err := json.Marshal(map[string]interface{}{"mchid": a.cfg.MerchantID})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal close payload failed", ErrConfigInvalid)
	}
	endpoint := "/v3/pay/transactions/out-trade-no/" + url.PathEscape(orderNo) + "/close"
	return a.signRequest(http.MethodPost, endpoint, body)
}

// signRequest 按规范串签名并组装 Authorization 头
func (a *Adapter) signRequest(method, endpoint string, body []byte) (*RequestDescriptor, error) {
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	nonce := a.newNonce()
	signature, err := a.signer.Sign(BuildRequestMessage(method, endpoint, timestamp, nonce, body))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf(
		`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%s",serial_no="%s"`,
		AuthorizationSchema, a.cfg.MerchantID, nonce, signature, timestamp, a.cfg.MerchantSerialNo,
	))
	header.Set("Accept", "application/json")
	if len(body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	return &RequestDescriptor{
		Method: method,
		URL:    a.cfg.BaseURL + endpoint,
		Header: header,
		Body:   body,
	}, nil
}

// ParsePrepayResponse 解析预下单响应
func ParsePrepayResponse(method string, body []byte) (*PrepayResult, error) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode prepay response failed", ErrResponseInvalid)
	}
	result := &PrepayResult{Raw: raw}
	switch strings.ToLower(strings.TrimSpace(method)) {
	case constants.PaymentMethodMiniProgram, constants.PaymentMethodJSAPI:
		result.PrepayID = readString(raw, "prepay_id")
		if result.PrepayID == "" {
			return nil, fmt.Errorf("%w: missing prepay_id", ErrResponseInvalid)
		}
	case constants.PaymentMethodNative:
		result.CodeURL = readString(raw, "code_url")
		if result.CodeURL == "" {
			return nil, fmt.Errorf("%w: missing code_url", ErrResponseInvalid)
		}
		result.PrepayID = result.CodeURL
	case constants.PaymentMethodH5:
		result.H5URL = readString(raw, "h5_url")
		if result.H5URL == "" {
			return nil, fmt.Errorf("%w: missing h5_url", ErrResponseInvalid)
		}
		result.PrepayID = result.H5URL
	default:
		return nil, fmt.Errorf("%w: method %s is not supported", ErrResponseInvalid, method)
	}
	return result, nil
}

// ParseTransactionResponse 解析订单查询响应
func ParseTransactionResponse(body []byte) (*TransactionResource, error) {
	var resource TransactionResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("%w: decode transaction failed", ErrResponseInvalid)
	}
	if strings.TrimSpace(resource.OutTradeNo) == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrResponseInvalid)
	}
	return &resource, nil
}

// PayParams 为预下单凭证生成客户端调起支付参数
func (a *Adapter) PayParams(prepayID string) (*ClientPayParams, error) {
	prepayID = strings.TrimSpace(prepayID)
	if prepayID == "" {
		return nil, fmt.Errorf("%w: prepay id is required", ErrConfigInvalid)
	}
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	nonce := a.newNonce()
	pkg := "prepay_id=" + prepayID
	paySign, err := a.signer.Sign(BuildClientSignMessage(a.cfg.AppID, timestamp, nonce, pkg))
	if err != nil {
		return nil, err
	}
	return &ClientPayParams{
		TimeStamp: timestamp,
		NonceStr:  nonce,
		Package:   pkg,
		SignType:  "RSA",
		PaySign:   paySign,
	}, nil
}

// VerifyNotification 回调入站校验：时间戳窗口 → nonce 防重放 → 验签 →
// 解密。任一关卡失败立即返回对应错误，绝不返回部分结果。
func (a *Adapter) VerifyNotification(ctx context.Context, header NotifyHeader, body []byte) (*Notification, *TransactionResource, error) {
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("%w: empty body", ErrNotificationInvalid)
	}

	// 1. 时间戳窗口
	timestamp, err := strconv.ParseInt(strings.TrimSpace(header.Timestamp), 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: timestamp is not numeric", ErrNotificationInvalid)
	}
	skew := a.now().Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > a.cfg.MaxClockSkew {
		return nil, nil, fmt.Errorf("%w: skew %ds", ErrTimestampSkew, skew)
	}

	// 2. nonce 防重放
	nonce := strings.TrimSpace(header.Nonce)
	if nonce == "" {
		return nil, nil, fmt.Errorf("%w: nonce is empty", ErrNotificationInvalid)
	}
	seen, err := a.nonces.SeenBefore(ctx, nonce)
	if err != nil {
		return nil, nil, err
	}
	if seen {
		return nil, nil, fmt.Errorf("%w: nonce %s", ErrNonceReplayed, nonce)
	}

	// 3. 验签（覆盖原始报文字节）
	ok, err := a.verifier.Verify(BuildNotifyMessage(header.Timestamp, nonce, body), header.Signature, header.SerialNo)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
	}

	// 4. 解密资源信封
	var notification Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, nil, fmt.Errorf("%w: decode body failed", ErrNotificationInvalid)
	}
	if notification.Resource == nil {
		return nil, nil, fmt.Errorf("%w: missing resource", ErrNotificationInvalid)
	}
	if alg := strings.TrimSpace(notification.Resource.Algorithm); alg != "" && alg != aeadAlgorithm {
		return nil, nil, fmt.Errorf("%w: unsupported algorithm %s", ErrNotificationInvalid, alg)
	}
	plaintext, err := a.cipher.Decrypt(
		notification.Resource.Ciphertext,
		notification.Resource.Nonce,
		notification.Resource.AssociatedData,
	)
	if err != nil {
		return nil, nil, err
	}
	var resource TransactionResource
	if err := json.Unmarshal(plaintext, &resource); err != nil {
		return nil, nil, fmt.Errorf("%w: decode resource failed", ErrNotificationInvalid)
	}
	if strings.TrimSpace(resource.OutTradeNo) == "" {
		return nil, nil, fmt.Errorf("%w: missing out_trade_no", ErrNotificationInvalid)
	}
	return &notification, &resource, nil
}

// FormatAmount 分转元的展示串
func FormatAmount(amountFen int64) string {
	return decimal.NewFromInt(amountFen).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func newNonceStr() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func clientIPOrDefault(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "127.0.0.1"
	}
	return raw
}

func readString(raw map[string]interface{}, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	str, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}
