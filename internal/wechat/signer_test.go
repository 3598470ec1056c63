package wechat

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key failed: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key failed: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(pemBytes)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, keyPEM := generateTestKey(t)
	signer, err := NewSigner("mch-1", "SERIAL-1", keyPEM)
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}

	message := BuildNotifyMessage("1700000000", "nonce123", []byte(`{"id":"evt-1"}`))
	signature, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	store := NewCertStore()
	store.RegisterKey("SERIAL-1", &key.PublicKey, time.Time{})
	verifier := NewVerifier(store)

	ok, err := verifier.Verify(message, signature, "SERIAL-1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSignIsProbabilistic(t *testing.T) {
	_, keyPEM := generateTestKey(t)
	signer, err := NewSigner("mch-1", "SERIAL-1", keyPEM)
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	message := []byte("same message\n")
	first, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	second, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if first == second {
		t.Fatalf("pss signatures over the same message should differ")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key, keyPEM := generateTestKey(t)
	signer, err := NewSigner("mch-1", "SERIAL-1", keyPEM)
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	signature, err := signer.Sign([]byte("original\n"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	store := NewCertStore()
	store.RegisterKey("SERIAL-1", &key.PublicKey, time.Time{})
	verifier := NewVerifier(store)

	ok, err := verifier.Verify([]byte("tampered\n"), signature, "SERIAL-1")
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if ok {
		t.Fatalf("tampered message must not verify")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, signerPEM := generateTestKey(t)
	otherKey, _ := generateTestKey(t)
	signer, err := NewSigner("mch-1", "SERIAL-1", signerPEM)
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	message := []byte("message\n")
	signature, err := signer.Sign(message)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	store := NewCertStore()
	store.RegisterKey("SERIAL-1", &otherKey.PublicKey, time.Time{})
	verifier := NewVerifier(store)

	ok, err := verifier.Verify(message, signature, "SERIAL-1")
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if ok {
		t.Fatalf("signature from another key must not verify")
	}
}

func TestVerifyUnknownSerial(t *testing.T) {
	verifier := NewVerifier(NewCertStore())
	_, err := verifier.Verify([]byte("message\n"), "c2ln", "UNKNOWN")
	if !errors.Is(err, ErrCertificateUnknown) {
		t.Fatalf("expected ErrCertificateUnknown, got %v", err)
	}
}

func TestVerifyBadBase64Signature(t *testing.T) {
	key, _ := generateTestKey(t)
	store := NewCertStore()
	store.RegisterKey("SERIAL-1", &key.PublicKey, time.Time{})
	verifier := NewVerifier(store)

	_, err := verifier.Verify([]byte("message\n"), "%%%not-base64%%%", "SERIAL-1")
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestNewSignerRejectsGarbageKey(t *testing.T) {
	if _, err := NewSigner("mch-1", "SERIAL-1", "not a pem"); !errors.Is(err, ErrSigningFailed) {
		t.Fatalf("expected ErrSigningFailed, got %v", err)
	}
}
