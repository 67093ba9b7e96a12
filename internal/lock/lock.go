// Package lock provides the reader/writer lock that guards a library cache.
//
// Go has no goroutine identity, so a holder is recognised by a token carried
// in its context. Read and Write return a derived context that must be passed
// to nested calls: a nested Read under Read or Write is free, a nested Write
// under Write is free, and a Write under a Read fails fast with
// errors.ErrLockUpgrade instead of deadlocking.
package lock

import (
	"context"
	"sync"

	"github.com/listenupapp/folio/internal/errors"
)

// Mode is the kind of hold a context carries.
type Mode int

// Hold modes.
const (
	None Mode = iota
	Reading
	Writing
)

func (m Mode) String() string {
	switch m {
	case Reading:
		return "read"
	case Writing:
		return "write"
	default:
		return "none"
	}
}

type tokenKey struct{ l *RWLock }

// RWLock is a shared/exclusive lock over a whole cache.
type RWLock struct {
	mu sync.RWMutex
}

// New returns an unlocked RWLock.
func New() *RWLock { return &RWLock{} }

// Held reports how ctx holds l.
func (l *RWLock) Held(ctx context.Context) Mode {
	if ctx == nil {
		return None
	}
	m, _ := ctx.Value(tokenKey{l}).(Mode)
	return m
}

func noop() {}

// Read acquires a shared hold. The returned release func is idempotent.
func (l *RWLock) Read(ctx context.Context) (context.Context, func()) {
	if l.Held(ctx) != None {
		return ctx, noop
	}
	l.mu.RLock()
	return context.WithValue(ctx, tokenKey{l}, Reading), sync.OnceFunc(l.mu.RUnlock)
}

// Write acquires an exclusive hold.
func (l *RWLock) Write(ctx context.Context) (context.Context, func(), error) {
	switch l.Held(ctx) {
	case Writing:
		return ctx, noop, nil
	case Reading:
		return ctx, noop, errors.ErrLockUpgrade
	}
	l.mu.Lock()
	return context.WithValue(ctx, tokenKey{l}, Writing), sync.OnceFunc(l.mu.Unlock), nil
}

// TryWrite is Write without blocking. It reports false when another holder
// has the lock.
func (l *RWLock) TryWrite(ctx context.Context) (context.Context, func(), bool, error) {
	switch l.Held(ctx) {
	case Writing:
		return ctx, noop, true, nil
	case Reading:
		return ctx, noop, false, errors.ErrLockUpgrade
	}
	if !l.mu.TryLock() {
		return ctx, noop, false, nil
	}
	return context.WithValue(ctx, tokenKey{l}, Writing), sync.OnceFunc(l.mu.Unlock), true, nil
}
