package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenaroyale/arenaserver/internal/model"
)

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()

	p, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := model.NewPlayer("p1", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Username)

	// Mutating the returned copy must not leak into the store.
	got.Stats.Trophies = 9999
	again, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 0, again.Stats.Trophies)
}

func TestMemoryStoreFindByUsernameCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := model.NewPlayer("p1", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.FindByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "p1", got.ID)

	missing, err := s.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Update(context.Background(), "nope", func(p *model.Player) error {
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := model.NewPlayer("p1", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, p))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "p1", func(p *model.Player) error {
				p.Stats.Trophies += 10
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, workers*10, got.Stats.Trophies)
}

func TestMemoryStoreByRank(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, row := range []struct {
		id       string
		trophies int
		guest    bool
	}{
		{"p1", 100, false},
		{"p2", 300, false},
		{"p3", 200, false},
		{"p4", 999, true},
	} {
		p, err := model.NewPlayer(row.id, "u"+row.id)
		require.NoError(t, err)
		p.Stats.Trophies = row.trophies
		p.IsGuest = row.guest
		require.NoError(t, s.Save(ctx, p))
	}

	// guests never rank

	top, err := s.ByRank(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "p2", top[0].ID)
	require.Equal(t, "p3", top[1].ID)
}
