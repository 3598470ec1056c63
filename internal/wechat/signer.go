package wechat

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// AuthorizationSchema 出站请求认证方案
const AuthorizationSchema = "WECHATPAY2-SHA256-RSA2048"

// pssOptions PSS 填充为概率性填充，同一消息多次签名结果不同
var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// CertificateResolver 平台证书解析端口：按序列号取得验签公钥
type CertificateResolver interface {
	Resolve(serialNo string) (*rsa.PublicKey, error)
}

// Signer 商户侧签名器，持有商户私钥
type Signer struct {
	mchID    string
	serialNo string
	key      *rsa.PrivateKey
}

// NewSigner 创建签名器
func NewSigner(mchID, serialNo, privateKeyPEM string) (*Signer, error) {
	key, err := utils.LoadPrivateKey(normalizePrivateKey(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: load merchant private key: %v", ErrSigningFailed, err)
	}
	return &Signer{mchID: mchID, serialNo: serialNo, key: key}, nil
}

// MerchantID 商户号
func (s *Signer) MerchantID() string { return s.mchID }

// SerialNo 商户证书序列号
func (s *Signer) SerialNo() string { return s.serialNo }

// Sign 对签名串计算 SHA256-RSA-PSS 签名并返回 base64 编码
func (s *Signer) Sign(message []byte) (string, error) {
	if s == nil || s.key == nil {
		return "", fmt.Errorf("%w: signer not initialized", ErrSigningFailed)
	}
	digest := sha256.Sum256(message)
	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verifier 平台侧验签器，公钥由证书缓存按序列号解析
type Verifier struct {
	certs CertificateResolver
}

// NewVerifier 创建验签器
func NewVerifier(certs CertificateResolver) *Verifier {
	return &Verifier{certs: certs}
}

// Verify 校验签名串与签名是否匹配。密码学不匹配返回 (false, nil)；
// 仅结构性问题（未知证书、签名编码非法）返回错误。
func (v *Verifier) Verify(message []byte, signature, serialNo string) (bool, error) {
	if v == nil || v.certs == nil {
		return false, fmt.Errorf("%w: verifier not initialized", ErrSignatureInvalid)
	}
	publicKey, err := v.certs.Resolve(serialNo)
	if err != nil {
		return false, err
	}
	rawSignature, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("%w: signature base64 decode failed", ErrSignatureInvalid)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPSS(publicKey, crypto.SHA256, digest[:], rawSignature, pssOptions); err != nil {
		return false, nil
	}
	return true, nil
}
