// Package lock provides the expiring mutual-exclusion leases that keep two
// fulfillment runs for the same date from overlapping.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrHeld = errors.New("lock held by another owner")

// Lease identifies one successful acquisition. Only the holder of the token
// can release it.
type Lease struct {
	Key   string
	Token string
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

type entry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]entry
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]entry), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return Lease{}, ErrHeld
	}
	lease := Lease{Key: key, Token: uuid.NewString()}
	l.held[key] = entry{token: lease.Token, expires: now.Add(ttl)}
	return lease, nil
}

func (l *MemoryLocker) Release(_ context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[lease.Key]; ok && e.token == lease.Token {
		delete(l.held, lease.Key)
	}
	return nil
}
