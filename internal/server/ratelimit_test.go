package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/testsupport/redisstub"
)

func TestMemoryRateLimitStore(t *testing.T) {
	store := newMemoryRateLimitStore()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		allowed, err := store.Allow("client-a", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if allowed, _ := store.Allow("client-a", 3, time.Minute); allowed {
		t.Fatal("expected the fourth attempt to be rejected")
	}
	if allowed, _ := store.Allow("client-b", 3, time.Minute); !allowed {
		t.Fatal("expected an unrelated key to pass")
	}

	// The window resets after it elapses.
	current = current.Add(61 * time.Second)
	if allowed, _ := store.Allow("client-a", 3, time.Minute); !allowed {
		t.Fatal("expected the counter to reset after the window")
	}
}

func TestRedisRateLimitStore(t *testing.T) {
	stub := redisstub.Start(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{stub.Addr()},
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := newRedisRateLimitStore(client)
	for i := 0; i < 2; i++ {
		allowed, err := store.Allow("client-a", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	allowed, err := store.Allow("client-a", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatal("expected the third attempt to be rejected")
	}
	if allowed, _ := store.Allow("client-b", 2, time.Minute); !allowed {
		t.Fatal("expected an unrelated key to pass")
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/connect", nil)
	req.RemoteAddr = "192.0.2.1:9999"
	if got := extractClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote address host, got %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.5")
	if got := extractClientIP(req); got != "198.51.100.5" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.3, 198.51.100.5")
	if got := extractClientIP(req); got != "203.0.113.3" {
		t.Fatalf("expected the first forwarded address, got %q", got)
	}
}
