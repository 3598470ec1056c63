package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oryjk/payment-go/internal/wechat"
)

var (
	// ErrRequestFailed 网关请求失败（网络层）
	ErrRequestFailed = errors.New("gateway request failed")
	// ErrGatewayRejected 网关返回非 2xx
	ErrGatewayRejected = errors.New("gateway rejected request")
)

const defaultTimeout = 10 * time.Second

// Client 出站请求传输端口：执行已签名的请求描述符并返回原始响应体。
// 超时不代表网关未受理，调用方不得据此推进订单状态。
type Client interface {
	Do(ctx context.Context, descriptor *wechat.RequestDescriptor) ([]byte, error)
}

// HTTPClient 基于 net/http 的传输实现
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient 创建传输客户端
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Do 执行请求描述符
func (c *HTTPClient) Do(ctx context.Context, descriptor *wechat.RequestDescriptor) ([]byte, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("%w: descriptor is nil", ErrRequestFailed)
	}
	var bodyReader io.Reader
	if len(descriptor.Body) > 0 {
		bodyReader = bytes.NewReader(descriptor.Body)
	}
	req, err := http.NewRequestWithContext(ctx, descriptor.Method, descriptor.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	for key, values := range descriptor.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			return nil, fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d body %s", ErrGatewayRejected, resp.StatusCode, message)
	}
	return respBody, nil
}
