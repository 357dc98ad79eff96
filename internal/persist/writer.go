package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWriteTimeout bounds a single background slot write or delete.
const DefaultWriteTimeout = 5 * time.Second

type pendingOp struct {
	raw  string
	drop bool
}

// Writer moves slot I/O off the caller's path. Save and Drop encode the state
// immediately and queue it; one background goroutine applies the queue in order.
// A key queued twice before it is written keeps only its latest value, so the
// slot still ends up holding the most recent state.
type Writer struct {
	adapter *Adapter
	timeout time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	pending  map[string]pendingOp
	writing  map[string]pendingOp
	inflight int
	closed   bool
	done     chan struct{}
}

// NewWriter starts a Writer over adapter. timeout <= 0 selects DefaultWriteTimeout.
func NewWriter(adapter *Adapter, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	w := &Writer{
		adapter: adapter,
		timeout: timeout,
		pending: make(map[string]pendingOp),
		writing: make(map[string]pendingOp),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Save queues the whitelisted fields of state for key. The state is encoded
// before Save returns, so the caller may keep mutating it.
func (w *Writer) Save(_ context.Context, key string, state any, fields ...string) {
	raw, ok := w.adapter.encode(key, state, fields...)
	if !ok {
		return
	}
	w.enqueue(key, pendingOp{raw: raw})
}

// Drop queues removal of the slot named key.
func (w *Writer) Drop(_ context.Context, key string) {
	w.enqueue(key, pendingOp{drop: true})
}

// Load reads key, preferring a queued value that has not reached storage yet.
func (w *Writer) Load(ctx context.Context, key string, dest any) bool {
	w.mu.Lock()
	op, queued := w.pending[key]
	if !queued {
		op, queued = w.writing[key]
	}
	w.mu.Unlock()
	if !queued {
		return w.adapter.Load(ctx, key, dest)
	}
	if op.drop {
		return false
	}
	if err := decode(op.raw, w.adapter.version, dest); err != nil {
		w.adapter.logger.Warn("persist: discarding unreadable queued state", zap.String("slot", key), zap.Error(err))
		return false
	}
	return true
}

// Flush blocks until everything queued so far has been applied or ctx ends.
func (w *Writer) Flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		w.mu.Lock()
		for len(w.queue) > 0 || w.inflight > 0 {
			w.cond.Wait()
		}
		w.mu.Unlock()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies the remaining queue and stops the background goroutine.
// Saves after Close are dropped.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cond.Broadcast()
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns how many slots are waiting to be written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Writer) enqueue(key string, op pendingOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.adapter.logger.Warn("persist: writer closed, dropping state", zap.String("slot", key))
		return
	}
	if _, queued := w.pending[key]; !queued {
		w.queue = append(w.queue, key)
	}
	w.pending[key] = op
	w.cond.Broadcast()
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		key := w.queue[0]
		w.queue = w.queue[1:]
		op := w.pending[key]
		delete(w.pending, key)
		w.writing[key] = op
		w.inflight++
		w.mu.Unlock()

		w.apply(key, op)

		w.mu.Lock()
		delete(w.writing, key)
		w.inflight--
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *Writer) apply(key string, op pendingOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if op.drop {
		w.adapter.Drop(ctx, key)
		return
	}
	w.adapter.write(ctx, key, op.raw)
}
