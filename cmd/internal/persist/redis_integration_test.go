package persist

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/chat"
)

// Integration tests are enabled when PARLEY_TEST_REDIS_URL is set.

func TestRedisStore_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := strings.TrimSpace(os.Getenv("PARLEY_TEST_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PARLEY_TEST_REDIS_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, raw)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	key := "parley:it:" + chat.NewID(time.Now())
	t.Cleanup(func() {
		_ = client.Del(context.Background(), key).Err()
		_ = client.Close()
	})

	st, err := NewRedisStore(client, key, time.Minute, false)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	exerciseStore(t, st)

	ttl, err := client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("ttl=%v err=%v", ttl, err)
	}
}

func TestNewRedisStore_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisStore(nil, "", 0, false); err == nil {
		t.Fatalf("expected nil client error")
	}
}
