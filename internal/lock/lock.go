// Package lock provides the process-wide lock that serializes every
// operation creating, reusing or deleting a mission channel.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLockTimeout = errors.New("channel lock: timed out waiting for lock")

// Observer is told when the lock changes hands. Calls happen while the lock is held.
type Observer interface {
	Acquired(at time.Time)
	Released(at time.Time)
}

// ChannelLock is a one-slot semaphore. Construct one per process and inject it.
type ChannelLock struct {
	slot     chan struct{}
	observer Observer
	now      func() time.Time
}

type Option func(*ChannelLock)

func WithObserver(o Observer) Option {
	return func(l *ChannelLock) { l.observer = o }
}

func WithNow(now func() time.Time) Option {
	return func(l *ChannelLock) { l.now = now }
}

func New(opts ...Option) *ChannelLock {
	l := &ChannelLock{slot: make(chan struct{}, 1), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the lock is free, ctx ends, or timeout elapses. A timeout
// of zero or less waits on ctx alone. The returned release func may be called any
// number of times; only the first call unlocks.
func (l *ChannelLock) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, ctx.Err()
	}
	return l.granted(), nil
}

// TryAcquire takes the lock only if it is free right now.
func (l *ChannelLock) TryAcquire() (func(), bool) {
	select {
	case l.slot <- struct{}{}:
	default:
		return nil, false
	}
	return l.granted(), true
}

func (l *ChannelLock) granted() func() {
	if l.observer != nil {
		l.observer.Acquired(l.now())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if l.observer != nil {
				l.observer.Released(l.now())
			}
			<-l.slot
		})
	}
}

// Held reports whether some caller currently holds the lock.
func (l *ChannelLock) Held() bool { return len(l.slot) == 1 }
