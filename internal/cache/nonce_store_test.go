package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryNonceStoreFirstDelivery(t *testing.T) {
	store := NewMemoryNonceStore(10 * time.Minute)
	seen, err := store.SeenBefore(context.Background(), "nonce-1")
	if err != nil {
		t.Fatalf("seen before failed: %v", err)
	}
	if seen {
		t.Fatalf("first delivery must not be seen")
	}
}

func TestMemoryNonceStoreReplay(t *testing.T) {
	store := NewMemoryNonceStore(10 * time.Minute)
	if _, err := store.SeenBefore(context.Background(), "nonce-1"); err != nil {
		t.Fatalf("seen before failed: %v", err)
	}
	seen, err := store.SeenBefore(context.Background(), "nonce-1")
	if err != nil {
		t.Fatalf("seen before failed: %v", err)
	}
	if !seen {
		t.Fatalf("replayed nonce must be reported as seen")
	}
}

func TestMemoryNonceStoreDistinctNonces(t *testing.T) {
	store := NewMemoryNonceStore(10 * time.Minute)
	_, _ = store.SeenBefore(context.Background(), "nonce-1")
	seen, err := store.SeenBefore(context.Background(), "nonce-2")
	if err != nil {
		t.Fatalf("seen before failed: %v", err)
	}
	if seen {
		t.Fatalf("distinct nonce must not be seen")
	}
}

func TestMemoryNonceStoreExpiry(t *testing.T) {
	store := NewMemoryNonceStore(10 * time.Minute)
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	if _, err := store.SeenBefore(context.Background(), "nonce-1"); err != nil {
		t.Fatalf("seen before failed: %v", err)
	}

	// 保留窗口之内仍视为重放
	current = current.Add(9 * time.Minute)
	seen, _ := store.SeenBefore(context.Background(), "nonce-1")
	if !seen {
		t.Fatalf("nonce inside retention window must be seen")
	}

	// 窗口过后条目清除，可再次接受
	current = current.Add(11 * time.Minute)
	seen, _ = store.SeenBefore(context.Background(), "nonce-1")
	if seen {
		t.Fatalf("expired nonce must be forgotten")
	}
}
