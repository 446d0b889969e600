// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package syncx contains useful synchronization primitives.
package syncx

import "sync"

// Protected wraps a value with a mutex, forcing all access to go through
// [Protected.ReadAccess] and [Protected.WriteAccess].
type Protected[T any] struct {
	mu sync.RWMutex
	v  T
}

// Protect returns a [Protected] wrapping v.
func Protect[T any](v T) *Protected[T] {
	return &Protected[T]{v: v}
}

// ReadAccess invokes f with the protected value while holding a read lock.
// f must not retain the value after it returns.
func (p *Protected[T]) ReadAccess(f func(T)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f(p.v)
}

// WriteAccess invokes f with the protected value while holding a write lock.
// f must not retain the value after it returns.
func (p *Protected[T]) WriteAccess(f func(T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p.v)
}

// Lazy is a lazily computed value.
type Lazy[T any] struct {
	once sync.Once
	v    T
}

// Get returns the value, computing it with fill on first use.
func (l *Lazy[T]) Get(fill func() T) T {
	l.once.Do(func() {
		l.v = fill()
	})
	return l.v
}
