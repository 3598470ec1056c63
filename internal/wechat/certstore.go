package wechat

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// CertStore 平台证书缓存。证书加载后只读，按序列号解析；
// 超过证书有效期后视同未知证书。
type CertStore struct {
	mu    sync.RWMutex
	certs map[string]certEntry
	now   func() time.Time
}

type certEntry struct {
	key      *rsa.PublicKey
	notAfter time.Time
}

// NewCertStore 创建证书缓存
func NewCertStore() *CertStore {
	return &CertStore{
		certs: make(map[string]certEntry),
		now:   time.Now,
	}
}

// Register 注册一张平台证书（PEM）
func (s *CertStore) Register(serialNo, certificatePEM string) error {
	serialNo = strings.TrimSpace(serialNo)
	if serialNo == "" {
		return fmt.Errorf("%w: certificate serial is empty", ErrConfigInvalid)
	}
	cert, err := utils.LoadCertificate(certificatePEM)
	if err != nil {
		return fmt.Errorf("%w: load certificate %s failed", ErrConfigInvalid, serialNo)
	}
	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate %s is not rsa", ErrConfigInvalid, serialNo)
	}
	s.RegisterKey(serialNo, publicKey, cert.NotAfter)
	return nil
}

// RegisterKey 直接注册验签公钥及其过期时间
func (s *CertStore) RegisterKey(serialNo string, key *rsa.PublicKey, notAfter time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[strings.TrimSpace(serialNo)] = certEntry{key: key, notAfter: notAfter}
}

// Resolve 按序列号解析验签公钥
func (s *CertStore) Resolve(serialNo string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	entry, ok := s.certs[strings.TrimSpace(serialNo)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: serial %s", ErrCertificateUnknown, strings.TrimSpace(serialNo))
	}
	if !entry.notAfter.IsZero() && s.now().After(entry.notAfter) {
		return nil, fmt.Errorf("%w: serial %s expired", ErrCertificateUnknown, strings.TrimSpace(serialNo))
	}
	return entry.key, nil
}
