package dapi

import (
	"context"
	"sync"
)

// Outcome is the typed result of running an operation locally.
type Outcome struct {
	Value any
	Err   *ErrorDetail
}

// OK reports whether the outcome carries a value rather than an error.
func (o Outcome) OK() bool { return o.Err == nil }

// Awaitable is a pending computation returned by async operations.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future is a single-assignment pending result.
type Future struct {
	mu       sync.RWMutex
	done     chan struct{}
	value    any
	err      error
	stored   bool
	metadata map[string]any
}

func NewFuture() *Future {
	return &Future{
		done:     make(chan struct{}),
		metadata: make(map[string]any),
	}
}

// Go runs fn in a new goroutine and returns a future resolved with its
// result.
func Go(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				f.StoreError(NewError(ErrLocalExecution, "async operation panicked", nil,
					map[string]any{"panic": p}))
			}
		}()
		v, err := fn()
		if err != nil {
			f.StoreError(err)
			return
		}
		f.Store(v)
	}()
	return f
}

// Resolved returns a future already holding value.
func Resolved(value any) *Future {
	f := NewFuture()
	f.Store(value)
	return f
}

// Store resolves the future with value. Later calls are ignored.
func (f *Future) Store(value any) {
	f.resolve(value, nil, nil)
}

// StoreError resolves the future with err. Later calls are ignored.
func (f *Future) StoreError(err error) {
	f.resolve(nil, err, nil)
}

// StoreWithMeta resolves the future with value and metadata.
func (f *Future) StoreWithMeta(value any, meta map[string]any) {
	f.resolve(value, nil, meta)
}

func (f *Future) resolve(value any, err error, meta map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored {
		return
	}
	f.value = value
	f.err = err
	f.stored = true
	for k, v := range meta {
		f.metadata[k] = v
	}
	close(f.done)
}

// Load returns the value and whether the future is resolved.
func (f *Future) Load() (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.stored
}

// Err returns the stored error, if any.
func (f *Future) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

func (f *Future) GetMetadata(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	val, ok := f.metadata[key]
	return val, ok
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future is resolved or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.RLock()
		defer f.mu.RUnlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
