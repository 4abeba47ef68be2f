package graph

import (
	"context"
	"sync"
	"time"
)

// UnlockFunc releases a lock obtained from a Locker. It is an alias so that
// lockers outside this package, such as store.RedisLocker, satisfy Locker
// without importing graph.
type UnlockFunc = func(ctx context.Context) error

// Locker serializes Step calls for one thread.
//
// The engine takes the lock for the thread ID around the whole
// load-execute-save cycle, so two concurrent turns on the same thread cannot
// both resume from the same checkpoint. Distinct threads never contend.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// ttl bounds how long a distributed lock may outlive a crashed holder;
	// in-process implementations ignore it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// lockEntry holds the per-key semaphore and the reference count.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process Locker. Entries are reference counted and
// removed once no caller holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

func (l *LocalLocker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	entry := l.acquire(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-entry.sem
			l.release(key)
		})
		return nil
	}, nil
}

// held returns the number of keys with a holder or waiter. Used by tests.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
