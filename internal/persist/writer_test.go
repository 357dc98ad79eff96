package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSlots holds every write until release is closed and records the order
// in which keys reach storage.
type gatedSlots struct {
	*MemorySlots
	release chan struct{}

	mu     sync.Mutex
	writes []string
}

func newGatedSlots() *gatedSlots {
	return &gatedSlots{MemorySlots: NewMemorySlots(), release: make(chan struct{})}
}

func (g *gatedSlots) WriteSlot(ctx context.Context, key, value string) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.mu.Lock()
	g.writes = append(g.writes, key)
	g.mu.Unlock()
	return g.MemorySlots.WriteSlot(ctx, key, value)
}

func (g *gatedSlots) written() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.writes...)
}

func TestWriter_SaveDoesNotWaitForStorage(t *testing.T) {
	slots := newGatedSlots()
	w := NewWriter(NewAdapter(slots, nil), time.Minute)
	defer func() {
		close(slots.release)
		require.NoError(t, w.Close(context.Background()))
	}()

	returned := make(chan struct{})
	go func() {
		w.Save(context.Background(), KeyCart, sampleState{Items: []string{"p1"}}, "items")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Save blocked on a stalled slot write")
	}
}

func TestWriter_CoalescesAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	slots := newGatedSlots()
	w := NewWriter(NewAdapter(slots, nil), time.Minute)

	w.Save(ctx, KeyFavorites, sampleState{Items: []string{"f1"}}, "items")
	w.Save(ctx, KeyComparison, sampleState{Items: []string{"c1"}}, "items")
	w.Save(ctx, KeyComparison, sampleState{Items: []string{"c1", "c2"}}, "items")
	w.Save(ctx, KeyComparison, sampleState{Items: []string{"c1", "c2", "c3"}}, "items")

	close(slots.release)
	require.NoError(t, w.Flush(ctx))

	// The worker is held on the favorites write, so the comparison saves
	// collapse into one queued write.
	assert.Equal(t, []string{KeyFavorites, KeyComparison}, slots.written())

	var cmp sampleState
	require.True(t, NewAdapter(slots.MemorySlots, nil).Load(ctx, KeyComparison, &cmp))
	assert.Equal(t, []string{"c1", "c2", "c3"}, cmp.Items)
	require.NoError(t, w.Close(ctx))
}

func TestWriter_LoadSeesQueuedState(t *testing.T) {
	ctx := context.Background()
	slots := newGatedSlots()
	w := NewWriter(NewAdapter(slots, nil), time.Minute)
	defer func() {
		close(slots.release)
		require.NoError(t, w.Close(ctx))
	}()

	w.Save(ctx, KeyCart, sampleState{Items: []string{"queued"}, Total: 9}, "items")

	var got sampleState
	require.True(t, w.Load(ctx, KeyCart, &got))
	assert.Equal(t, []string{"queued"}, got.Items)
	assert.Zero(t, got.Total)

	w.Drop(ctx, KeyCart)
	assert.False(t, w.Load(ctx, KeyCart, &got))
}

func TestWriter_FlushHonoursContext(t *testing.T) {
	slots := newGatedSlots()
	w := NewWriter(NewAdapter(slots, nil), time.Minute)
	w.Save(context.Background(), KeyCart, sampleState{}, "items")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)

	close(slots.release)
	require.NoError(t, w.Close(context.Background()))
	assert.Zero(t, w.Pending())
}

func TestWriter_StalledWriteTimesOut(t *testing.T) {
	ctx := context.Background()
	slots := newGatedSlots()
	w := NewWriter(NewAdapter(slots, nil), 10*time.Millisecond)

	w.Save(ctx, KeyCart, sampleState{Items: []string{"lost"}}, "items")

	flushCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Flush(flushCtx), "a stalled write is abandoned after the write timeout")

	_, ok, err := slots.ReadSlot(ctx, KeyCart)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, w.Close(ctx))
}

func TestWriter_CloseDrainsThenRejects(t *testing.T) {
	ctx := context.Background()
	slots := NewMemorySlots()
	w := NewWriter(NewAdapter(slots, nil), 0)

	w.Save(ctx, KeyFavorites, sampleState{Items: []string{"kept"}}, "items")
	require.NoError(t, w.Close(ctx))

	w.Save(ctx, KeyFavorites, sampleState{Items: []string{"late"}}, "items")
	assert.Zero(t, w.Pending())

	var fav sampleState
	require.True(t, NewAdapter(slots, nil).Load(ctx, KeyFavorites, &fav))
	assert.Equal(t, []string{"kept"}, fav.Items)
}
