package commerce

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/domain"
	"storefront-service/internal/persist"
)

func TestFavorites_ToggleScenario(t *testing.T) {
	f := NewFavorites(context.Background(), Options{})
	p1 := product("p1", 100)

	assert.True(t, f.Toggle(p1))
	assert.Equal(t, 1, f.Count())
	assert.True(t, f.Contains("p1"))

	assert.False(t, f.Toggle(p1))
	assert.Equal(t, 0, f.Count())
	assert.False(t, f.Contains("p1"))
}

func TestProductSet_DoubleToggleRestoresState(t *testing.T) {
	ctx := context.Background()
	for _, s := range []*ProductSet{NewFavorites(ctx, Options{}), NewComparison(ctx, Options{})} {
		t.Run(s.Name(), func(t *testing.T) {
			s.Toggle(product("a", 1))
			s.Toggle(product("b", 2))
			before := s.Snapshot()

			s.Toggle(product("c", 3))
			s.Toggle(product("c", 3))
			assert.Equal(t, before, s.Snapshot())

			// A member re-added by the second toggle moves to the end.
			s.Toggle(product("a", 1))
			s.Toggle(product("a", 1))
			after := s.Snapshot()
			assert.Equal(t, before.Count, after.Count)
			assert.ElementsMatch(t, before.Items, after.Items)
		})
	}
}

func TestProductSet_ToggleFiresExactlyOneOperation(t *testing.T) {
	s := NewComparison(context.Background(), Options{})
	notified := 0
	s.Subscribe(func(SetSnapshot) { notified++ })

	s.Toggle(product("p1", 1))
	s.Toggle(product("p1", 1))
	s.Toggle(product("p2", 1))

	assert.Equal(t, 3, notified)
	assert.Equal(t, 1, s.Count())
}

func TestProductSet_AddIsIdempotent(t *testing.T) {
	s := NewFavorites(context.Background(), Options{})
	s.Add(product("p1", 1))
	s.Add(product("p1", 1))
	s.Add(domain.Product{})

	assert.Equal(t, 1, s.Count())
	assert.False(t, s.Toggle(domain.Product{}), "a product without id is never a member")
	assert.Equal(t, 1, s.Count())
}

func TestProductSet_RemoveAndClear(t *testing.T) {
	s := NewFavorites(context.Background(), Options{})
	s.Add(product("p1", 1))
	s.Add(product("p2", 1))
	s.Add(product("p3", 1))

	s.Remove("p2")
	s.Remove("missing")
	snapshot := s.Snapshot()
	require.Len(t, snapshot.Items, 2)
	assert.Equal(t, "p1", snapshot.Items[0].ID)
	assert.Equal(t, "p3", snapshot.Items[1].ID)

	s.Clear()
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.Snapshot().Items)
}

func TestProductSet_CountMatchesItems(t *testing.T) {
	s := NewComparison(context.Background(), Options{})
	rng := rand.New(rand.NewPCG(7, 11))
	ids := []string{"a", "b", "c", "d", "e"}

	for range 300 {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(4) {
		case 0, 1:
			s.Toggle(product(id, 1))
		case 2:
			s.Add(product(id, 1))
		case 3:
			s.Remove(id)
		}
		snapshot := s.Snapshot()
		assert.Equal(t, len(snapshot.Items), snapshot.Count)
	}
}

func TestProductSet_PersistsPerStoreSlot(t *testing.T) {
	ctx := context.Background()
	opts, slots := newTestOptions()

	fav := NewFavorites(ctx, opts)
	cmp := NewComparison(ctx, opts)
	fav.Toggle(product("f1", 1))
	cmp.Toggle(product("c1", 1))
	cmp.Toggle(product("c2", 1))

	_, ok, err := slots.ReadSlot(ctx, persist.KeyFavorites)
	require.NoError(t, err)
	assert.True(t, ok)

	restoredFav := NewFavorites(ctx, opts)
	restoredCmp := NewComparison(ctx, opts)
	assert.Equal(t, 1, restoredFav.Count())
	assert.True(t, restoredFav.Contains("f1"))
	assert.Equal(t, 2, restoredCmp.Count())
	assert.False(t, restoredCmp.Contains("f1"))
}

func TestProductSet_RehydrationDropsDuplicates(t *testing.T) {
	ctx := context.Background()
	opts, slots := newTestOptions()
	raw := `{"state":{"items":[{"id":"p1","name":"first"},{"id":"p1","name":"second"},{"name":"no id"}],"count":99},"version":1}`
	require.NoError(t, slots.WriteSlot(ctx, persist.KeyFavorites, raw))

	s := NewFavorites(ctx, opts)

	snapshot := s.Snapshot()
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, "first", snapshot.Items[0].Name)
	assert.Equal(t, 1, snapshot.Count, "count is recomputed, never trusted from storage")
}

func TestProductSet_ConcurrentToggles(t *testing.T) {
	s := NewFavorites(context.Background(), Options{})
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle(product("p", 1))
			_ = s.Contains("p")
		}()
	}
	wg.Wait()

	// 50 toggles of one product leave it absent.
	assert.False(t, s.Contains("p"))
	assert.Equal(t, 0, s.Count())
}

func TestRegistry_RestoresAllStores(t *testing.T) {
	ctx := context.Background()
	opts, _ := newTestOptions()

	r := NewRegistry(ctx, opts)
	r.Cart.AddItem(product("p1", 10), 2)
	r.Favorites.Toggle(product("p2", 1))
	r.Comparison.Toggle(product("p3", 1))
	r.Close()

	restored := NewRegistry(ctx, opts)
	defer restored.Close()
	assert.Equal(t, 2, restored.Cart.TotalItems())
	assert.True(t, restored.Favorites.Contains("p2"))
	assert.True(t, restored.Comparison.Contains("p3"))
}
