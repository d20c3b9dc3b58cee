package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", payload{Name: "sharpe", Value: 1.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got payload
	if err := c.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "sharpe" || got.Value != 1.5 {
		t.Fatalf("got %+v", got)
	}

	var s string
	_ = c.Set(ctx, "s", "plain", 0)
	if err := c.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("string get = %q, %v", s, err)
	}
}

func TestMemoryCacheExpiryAndMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "k", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	var v int
	if err := c.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Fatal("expired key reported as existing")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryLimits(2, 0))
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "a", 1, 0)
	time.Sleep(time.Millisecond)
	_ = c.Set(ctx, "b", 2, 0)
	time.Sleep(time.Millisecond)
	var v int
	_ = c.Get(ctx, "a", &v)
	time.Sleep(time.Millisecond)
	_ = c.Set(ctx, "c", 3, 0)

	if ok, _ := c.Exists(ctx, "b"); ok {
		t.Fatal("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if ok, _ := c.Exists(ctx, k); !ok {
			t.Fatalf("%s should remain", k)
		}
	}
}

func TestMemoryCacheLock(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if ok, _ := c.TryLock(ctx, "run", time.Minute); !ok {
		t.Fatal("first lock should succeed")
	}
	if ok, _ := c.TryLock(ctx, "run", time.Minute); ok {
		t.Fatal("second lock should fail")
	}
	_ = c.Unlock(ctx, "run")
	if ok, _ := c.TryLock(ctx, "run", time.Minute); !ok {
		t.Fatal("lock after unlock should succeed")
	}
}

func TestRedisPoolZeroKeepsDefaults(t *testing.T) {
	cfg := defaultRedisConfig()
	WithRedisPool(0, 0, 0)(cfg)
	if cfg.PoolSize != 10 || cfg.MinIdleConns != 2 || cfg.PoolTimeout != 30*time.Second {
		t.Fatalf("pool = %d/%d/%s, want defaults", cfg.PoolSize, cfg.MinIdleConns, cfg.PoolTimeout)
	}
	WithRedisPool(32, 0, time.Second)(cfg)
	WithRedisAddr("cache", 6380)(cfg)
	if cfg.PoolSize != 32 || cfg.PoolTimeout != time.Second || cfg.addr() != "cache:6380" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
