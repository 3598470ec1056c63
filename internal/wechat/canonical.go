package wechat

import "strings"

// 签名串构造。签名覆盖的是这里拼出的精确字节序列：字段按固定顺序
// 以单个换行符连接，末尾再跟一个换行符。任何重排或空白差异都会使
// 验签失败，因此调用方必须传入原始报文字节，而不是重新序列化的副本。

// BuildRequestMessage 构造出站请求签名串：
// 方法\n路径\n时间戳\n随机串\n请求体\n
func BuildRequestMessage(method, canonicalURL, timestamp, nonce string, body []byte) []byte {
	return joinMessage(method, canonicalURL, timestamp, nonce, string(body))
}

// BuildNotifyMessage 构造回调验签串：
// 时间戳\n随机串\n报文体\n
func BuildNotifyMessage(timestamp, nonce string, body []byte) []byte {
	return joinMessage(timestamp, nonce, string(body))
}

// BuildClientSignMessage 构造客户端调起支付签名串：
// 应用ID\n时间戳\n随机串\npackage\n
func BuildClientSignMessage(appID, timestamp, nonce, pkg string) []byte {
	return joinMessage(appID, timestamp, nonce, pkg)
}

func joinMessage(fields ...string) []byte {
	var b strings.Builder
	for _, field := range fields {
		b.WriteString(field)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
