package bot

import (
	"context"
	"sync"
)

// Lazy builds a value on first use and caches it. A failed build is not cached, so the
// next Get tries again.
type Lazy[T any] struct {
	build func(ctx context.Context) (T, error)

	mu    sync.Mutex
	value T
	ready bool
}

func NewLazy[T any](build func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return l.value, nil
	}
	v, err := l.build(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.value, l.ready = v, true
	return v, nil
}

// Reset drops the cached value.
func (l *Lazy[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.value, l.ready = zero, false
}
