package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dshills/coachgraph/graph/store"
	backend "github.com/redis/go-redis/v9"
)

func newLockerFixture(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockerLockUnlock(t *testing.T) {
	mr, client := newLockerFixture(t)
	locker := store.NewRedisLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "thread-1", 5*time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !mr.Exists("test:lock:thread-1") {
		t.Fatal("lock key should be set in Redis")
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("test:lock:thread-1") {
		t.Error("lock key should be removed after unlock")
	}
}

func TestRedisLockerContention(t *testing.T) {
	_, client := newLockerFixture(t)
	first := store.NewRedisLocker(client, "test:")
	second := store.NewRedisLocker(client, "test:")
	ctx := context.Background()

	unlock, err := first.Lock(ctx, "shared", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(waitCtx, "shared", 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("contended Lock = %v, want DeadlineExceeded", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatal(err)
	}

	unlock2, err := second.Lock(ctx, "shared", 5*time.Second)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = unlock2(ctx)
}

func TestRedisLockerStaleUnlockKeepsNewHolder(t *testing.T) {
	mr, client := newLockerFixture(t)
	locker := store.NewRedisLocker(client, "test:")
	ctx := context.Background()

	staleUnlock, err := locker.Lock(ctx, "t", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	unlock, err := locker.Lock(ctx, "t", 5*time.Second)
	if err != nil {
		t.Fatalf("Lock after expiry: %v", err)
	}

	// The expired holder's unlock must not release the new holder's lock.
	if err := staleUnlock(ctx); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:lock:t") {
		t.Error("stale unlock removed the current holder's lock")
	}
	_ = unlock(ctx)
}
