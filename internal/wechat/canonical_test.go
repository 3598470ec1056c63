package wechat

import (
	"bytes"
	"testing"
)

func TestBuildRequestMessageLayout(t *testing.T) {
	message := BuildRequestMessage("POST", "/v3/pay/transactions/jsapi", "1700000000", "nonce123", []byte(`{"a":1}`))
	want := "POST\n/v3/pay/transactions/jsapi\n1700000000\nnonce123\n{\"a\":1}\n"
	if string(message) != want {
		t.Fatalf("request message mismatch:\n got %q\nwant %q", message, want)
	}
}

func TestBuildRequestMessageEmptyBody(t *testing.T) {
	message := BuildRequestMessage("GET", "/v3/pay/transactions/out-trade-no/ORD1?mchid=m1", "1700000000", "nonce123", nil)
	want := "GET\n/v3/pay/transactions/out-trade-no/ORD1?mchid=m1\n1700000000\nnonce123\n\n"
	if string(message) != want {
		t.Fatalf("request message mismatch:\n got %q\nwant %q", message, want)
	}
}

func TestBuildNotifyMessageLayout(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	message := BuildNotifyMessage("1700000000", "abc", body)
	want := "1700000000\nabc\n{\"id\":\"evt-1\"}\n"
	if string(message) != want {
		t.Fatalf("notify message mismatch:\n got %q\nwant %q", message, want)
	}
}

func TestBuildNotifyMessageUsesRawBodyBytes(t *testing.T) {
	// 报文字节必须原样参与签名串，重新序列化的副本会改变字节序列
	raw := []byte("{\"id\": \"evt-1\",\n  \"k\": 1}")
	reencoded := []byte(`{"id":"evt-1","k":1}`)
	if bytes.Equal(BuildNotifyMessage("1", "n", raw), BuildNotifyMessage("1", "n", reencoded)) {
		t.Fatalf("expected different messages for different byte sequences")
	}
}

func TestBuildClientSignMessageLayout(t *testing.T) {
	message := BuildClientSignMessage("wx0123456789", "1700000000", "nonce123", "prepay_id=wx20221234567890")
	want := "wx0123456789\n1700000000\nnonce123\nprepay_id=wx20221234567890\n"
	if string(message) != want {
		t.Fatalf("client sign message mismatch:\n got %q\nwant %q", message, want)
	}
}

func TestBuildMessageDeterministic(t *testing.T) {
	first := BuildRequestMessage("POST", "/v3/pay/transactions/native", "1700000000", "n1", []byte("{}"))
	second := BuildRequestMessage("POST", "/v3/pay/transactions/native", "1700000000", "n1", []byte("{}"))
	if !bytes.Equal(first, second) {
		t.Fatalf("same input must produce identical message")
	}
}
