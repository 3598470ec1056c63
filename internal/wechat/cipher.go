package wechat

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// ResourceCipher 回调资源解密器（AES-256-GCM）。
// 认证标签不匹配即整体失败，绝不返回部分明文。
type ResourceCipher struct {
	key []byte
}

// NewResourceCipher 创建解密器，key 为 32 字节 APIv3 密钥
func NewResourceCipher(apiV3Key string) (*ResourceCipher, error) {
	if len(apiV3Key) != 32 {
		return nil, fmt.Errorf("%w: api_v3_key must be 32 chars", ErrConfigInvalid)
	}
	return &ResourceCipher{key: []byte(apiV3Key)}, nil
}

// Decrypt 解密资源信封。nonce 与 associatedData 均参与认证，
// 任何一方被篡改都会导致标签校验失败。
func (c *ResourceCipher) Decrypt(ciphertextB64, nonce, associatedData string) ([]byte, error) {
	if c == nil || len(c.key) == 0 {
		return nil, fmt.Errorf("%w: cipher not initialized", ErrDecryptFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext base64 decode failed", ErrDecryptFailed)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce size must be %d", ErrDecryptFailed, aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, []byte(nonce), ciphertext, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptFailed)
	}
	return plaintext, nil
}
