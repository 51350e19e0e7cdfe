// Package lock provides named mutual exclusion for catalog writes.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/tutorlink/tutorbilling/ports"
)

// Redsync holds Redis-backed locks shared across service instances.
type Redsync struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
}

// NewRedsync creates a distributed locker. Locks expire after expiry if the
// holder dies without releasing.
func NewRedsync(client redis.UniversalClient, prefix string, expiry time.Duration) *Redsync {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &Redsync{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		expiry: expiry,
	}
}

func (l *Redsync) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	m := l.rs.NewMutex(l.prefix+name, redsync.WithExpiry(l.expiry), redsync.WithTries(64))
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		ok, err := m.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("release lock %s: lock expired", name)
		}
		return nil
	}, nil
}

// Local serializes holders of the same name within one process.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

func (l *Local) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	ch, ok := l.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[name] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

var (
	_ ports.Locker = (*Redsync)(nil)
	_ ports.Locker = (*Local)(nil)
)
