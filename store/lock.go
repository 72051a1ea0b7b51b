package store

import (
	"context"
	"sync"
)

// keyedMutex is a set of mutexes indexed by key, created on demand and
// released when no longer used.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Lock acquires the mutex of key, or fails when ctx is done first.
func (k *keyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, l)
		return ctx.Err()
	}
}

// Unlock releases the mutex of key.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.sem
	k.release(key, l)
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Do runs fn holding the mutex of key.
func (k *keyedMutex) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if err := k.Lock(ctx, key); err != nil {
		return err
	}
	defer k.Unlock(key)
	return fn(ctx)
}
