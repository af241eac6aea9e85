package storage_test

import (
	"context"
	"os"
	"testing"

	"tsundoku/internal/storage"
)

// TestRedisRoundTrip runs against a real server when TSUNDOKU_TEST_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TSUNDOKU_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TSUNDOKU_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := storage.OpenRedis(ctx, storage.RedisOptions{Addr: addr, Prefix: "tsundoku-test:" + t.Name() + ":"})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer s.Close()
	defer s.Clear(ctx)

	if err := s.Set(ctx, "api_cache_search:x", []int{1, 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []int
	if found, err := s.Get(ctx, "api_cache_search:x", &got); !found || err != nil || len(got) != 2 {
		t.Fatalf("unexpected get result %v %v %v", got, found, err)
	}
	keys, err := s.Keys(ctx, "api_cache_")
	if err != nil || len(keys) != 1 || keys[0] != "api_cache_search:x" {
		t.Fatalf("unexpected keys %v err=%v", keys, err)
	}
}

func TestOpenRedisRequiresAddress(t *testing.T) {
	if _, err := storage.OpenRedis(context.Background(), storage.RedisOptions{}); err == nil {
		t.Fatal("expected error without address")
	}
}
