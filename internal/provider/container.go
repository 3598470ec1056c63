package provider

import (
	"time"

	"github.com/oryjk/payment-go/internal/cache"
	"github.com/oryjk/payment-go/internal/config"
	"github.com/oryjk/payment-go/internal/logger"
	"github.com/oryjk/payment-go/internal/models"
	"github.com/oryjk/payment-go/internal/queue"
	"github.com/oryjk/payment-go/internal/repository"
	"github.com/oryjk/payment-go/internal/service"
	"github.com/oryjk/payment-go/internal/transport"
	"github.com/oryjk/payment-go/internal/wechat"
)

const gatewayRequestTimeout = 10 * time.Second

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	OrderRepo repository.OrderRepository

	// Gateway
	WechatAdapter *wechat.Adapter
	CertStore     *wechat.CertStore
	NonceStore    wechat.NonceStore

	// Services
	PaymentService *service.PaymentService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化微信支付网关
	if err := c.initWechatGateway(); err != nil {
		return nil, err
	}

	// 3. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initRepositories() {
	c.OrderRepo = repository.NewOrderRepository(models.DB)
}

func (c *Container) initWechatGateway() error {
	wc := &c.Config.Wechat
	gatewayCfg := &wechat.Config{
		AppID:              wc.AppID,
		MerchantID:         wc.MerchantID,
		MerchantSerialNo:   wc.MerchantSerialNo,
		MerchantPrivateKey: wc.MerchantPrivateKey,
		APIV3Key:           wc.APIV3Key,
		NotifyURL:          wc.NotifyURL,
		BaseURL:            wc.BaseURL,
		MaxClockSkew:       time.Duration(wc.MaxClockSkewSeconds) * time.Second,
		NonceTTL:           time.Duration(wc.NonceTTLSeconds) * time.Second,
	}

	certStore := wechat.NewCertStore()
	for _, cert := range wc.PlatformCerts {
		if err := certStore.Register(cert.SerialNo, cert.Certificate); err != nil {
			logger.Errorw("provider_register_platform_cert_failed", "serial_no", cert.SerialNo, "error", err)
			return err
		}
	}
	c.CertStore = certStore

	if cache.Enabled() {
		c.NonceStore = cache.NewRedisNonceStore(cache.Client(), c.Config.Redis.Prefix+":wechat:nonce", gatewayCfg.NonceTTL)
	} else {
		logger.Warnw("provider_nonce_store_fallback_memory")
		c.NonceStore = cache.NewMemoryNonceStore(gatewayCfg.NonceTTL)
	}

	adapter, err := wechat.NewAdapter(gatewayCfg, certStore, c.NonceStore)
	if err != nil {
		logger.Errorw("provider_init_wechat_adapter_failed", "error", err)
		return err
	}
	c.WechatAdapter = adapter
	return nil
}

func (c *Container) initServices() {
	expireAfter := time.Duration(c.Config.Order.PaymentExpireMinutes) * time.Minute
	c.PaymentService = service.NewPaymentService(
		c.OrderRepo,
		c.WechatAdapter,
		transport.NewHTTPClient(gatewayRequestTimeout),
		c.QueueClient,
		expireAfter,
	)
}
