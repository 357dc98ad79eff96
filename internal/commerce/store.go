// Package commerce holds the storefront's client-side commerce state: the cart and
// the favorites and comparison lists. Each store keeps its derived fields in step
// with its entries on every transition, persists the entries alone, and recomputes
// the derived fields when it is restored.
package commerce

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storefront-service/internal/metrics"
)

// Persister saves and restores whitelisted store state. Save is called with the
// store lock held, so it must not wait on storage; *persist.Writer queues the
// write and returns.
type Persister interface {
	Save(ctx context.Context, key string, state any, fields ...string)
	Load(ctx context.Context, key string, dest any) bool
}

// Options carries the collaborators shared by all stores. Every field may be nil.
type Options struct {
	Persister Persister
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// observers is a set of callbacks notified with a fresh snapshot after every
// effective mutation.
type observers[T any] struct {
	mu    sync.Mutex
	next  uint64
	funcs map[uint64]func(T)
}

func (o *observers[T]) subscribe(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.funcs == nil {
		o.funcs = make(map[uint64]func(T))
	}
	id := o.next
	o.next++
	o.funcs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.funcs, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers[T]) notify(snapshot T) {
	o.mu.Lock()
	funcs := make([]func(T), 0, len(o.funcs))
	for _, fn := range o.funcs {
		funcs = append(funcs, fn)
	}
	o.mu.Unlock()

	for _, fn := range funcs {
		fn(snapshot)
	}
}
