package wechat

import "errors"

var (
	// ErrConfigInvalid 网关配置非法
	ErrConfigInvalid = errors.New("wechatpay config invalid")
	// ErrSigningFailed 商户私钥不可用或签名计算失败
	ErrSigningFailed = errors.New("wechatpay signing failed")
	// ErrSignatureInvalid 回调签名不通过或签名元数据非法
	ErrSignatureInvalid = errors.New("wechatpay signature invalid")
	// ErrCertificateUnknown 平台证书序列号未知或证书已过期
	ErrCertificateUnknown = errors.New("wechatpay certificate unknown")
	// ErrDecryptFailed 回调资源解密失败（包含认证标签不匹配）
	ErrDecryptFailed = errors.New("wechatpay decrypt failed")
	// ErrTimestampSkew 回调时间戳超出容忍窗口
	ErrTimestampSkew = errors.New("wechatpay timestamp skew exceeded")
	// ErrNonceReplayed 回调 nonce 已消费过
	ErrNonceReplayed = errors.New("wechatpay nonce replayed")
	// ErrNotificationInvalid 回调报文结构非法
	ErrNotificationInvalid = errors.New("wechatpay notification invalid")
	// ErrResponseInvalid 网关响应非法
	ErrResponseInvalid = errors.New("wechatpay response invalid")
)
