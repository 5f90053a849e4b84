package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	client, _ := setupRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "graph:org1", time.Minute)
	second := NewRedisLock(client, "graph:org1", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = (%v, %v)", ok, err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire() after release = (%v, %v)", ok, err)
	}
}

func TestRedisLock_ReleaseOnlyOwn(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "graph:org2", 50*time.Millisecond)
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire() = (%v, %v)", ok, err)
	}

	// The first holder's lock expires and someone else takes it.
	mr.FastForward(100 * time.Millisecond)
	second := NewRedisLock(client, "graph:org2", time.Minute)
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire() after expiry = (%v, %v)", ok, err)
	}

	// A stale release must not free the new holder's lock.
	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale Release() error: %v", err)
	}
	third := NewRedisLock(client, "graph:org2", time.Minute)
	if ok, _ := third.Acquire(ctx); ok {
		t.Fatal("stale release freed another holder's lock")
	}
}

func TestRedisLock_Extend(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "graph:org3", 100*time.Millisecond)
	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire() = (%v, %v)", ok, err)
	}
	if err := lock.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}

	mr.FastForward(500 * time.Millisecond)
	other := NewRedisLock(client, "graph:org3", time.Minute)
	if ok, _ := other.Acquire(ctx); ok {
		t.Fatal("extended lock expired at its original TTL")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	client, _ := setupRedis(t)

	if _, ok := New(client, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Error("non-nil Redis client should select RedisLock")
	}
	if _, ok := New(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("nil Redis client should fall back to PGAdvisoryLock")
	}
}
