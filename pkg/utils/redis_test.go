package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLeaseScriptsCompile(t *testing.T) {
	if leaseRenewScript == nil || leaseReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestNewRedisLease_RejectsBadArgs(t *testing.T) {
	if _, err := NewRedisLease(nil, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewRedisLease(rdb, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRedisLease_EmptyKey(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	l, err := NewRedisLease(rdb, time.Second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := l.Acquire(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := l.Release(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "x"}.withDefaults()
	if got.PoolSize != 20 || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
