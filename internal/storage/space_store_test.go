package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

func setupTestStorage(t *testing.T) *SpaceStore {
	t.Helper()
	store, err := NewSpaceStore(t.TempDir(), nil)
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { store.Close() })
	return store
}

// buildSpace строит пространство с полом, лампой и блоком из сетки
func buildSpace(t *testing.T) (*space.Space, *block.Universe, *block.Cache) {
	t.Helper()
	u := block.NewUniverse()
	cache := block.NewCache(u, block.Options{})

	stone := block.FromColor(vec.NewRgba(0.5, 0.5, 0.5, 1))
	def, err := u.Define("stone", stone)
	require.NoError(t, err)
	grid, err := u.NewGrid(vec.ForBlock(2), block.Air)
	require.NoError(t, err)
	require.NoError(t, u.SetGridBlock(grid, vec.Zero3, block.NewIndirect(def)))

	s, err := space.New(vec.ForBlock(4), cache, space.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.Fill(vec.MustAab(vec.Zero3, vec.NewVec3(4, 1, 4)), block.NewIndirect(def)))
	lamp := block.NewAtom(block.Atom{
		Attributes: block.Attributes{DisplayName: "lamp"},
		Color:      vec.Transparent,
		Emission:   vec.NewRgb(1, 0.5, 0),
		Collision:  block.CollisionNone,
	})
	_, err = s.Set(vec.NewVec3(1, 2, 1), lamp)
	require.NoError(t, err)
	small := block.NewRecur(block.DefaultAttributes, grid, vec.Zero3, block.R2).
		Rotate(vec.AllRotations()[5]).
		WithMove(block.Move{Direction: vec.NZ, Distance: 32, Velocity: -4})
	_, err = s.Set(vec.NewVec3(2, 1, 2), small.WithQuote(true))
	require.NoError(t, err)
	s.Drain(context.Background(), space.UnboundedBudget)
	return s, u, cache
}

func TestEncodeDecodeBlock(t *testing.T) {
	blocks := []block.Block{
		block.Air,
		block.FromColor(vec.NewRgba(1, 0, 0, 1)),
		block.NewIndirect(7),
		block.NewRecur(block.Attributes{DisplayName: "x", Animation: block.AnimationReplacement}, 3, vec.NewVec3(-1, 2, 3), block.R8).
			Rotate(vec.AllRotations()[17]).
			WithQuote(false),
	}
	for _, b := range blocks {
		got, err := DecodeBlock(EncodeBlock(b))
		require.NoError(t, err)
		assert.Equal(t, b.Normalize(), got)
		assert.Equal(t, b.ID(), got.ID())
	}

	_, err := DecodeBlock(BlockV1{Type: "PlasmaV1"})
	assert.Error(t, err)
	_, err = DecodeBlock(BlockV1{Type: typeAirV1, Rotation: 200})
	assert.Error(t, err)
	_, err = DecodeBlock(BlockV1{Type: typeAtomV1})
	assert.Error(t, err, "атом без цвета")
}

func TestEncodeDecodeSpace(t *testing.T) {
	s, _, _ := buildSpace(t)
	snap := s.Snapshot()

	data, err := EncodeSpace(snap)
	require.NoError(t, err)
	got, err := DecodeSpace(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	snap.Light = nil
	data, err = EncodeSpace(snap)
	require.NoError(t, err)
	got, err = DecodeSpace(data)
	require.NoError(t, err)
	assert.Nil(t, got.Light)
}

func TestDecodeSpace_Corrupted(t *testing.T) {
	s, _, _ := buildSpace(t)
	data, err := EncodeSpace(s.Snapshot())
	require.NoError(t, err)

	_, err = DecodeSpace([]byte(`{"type":"UniverseV1"}`))
	assert.Error(t, err)
	_, err = DecodeSpace([]byte(`not json`))
	assert.Error(t, err)

	doc := SpaceV1{}
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.Checksum++
	broken, err := json.Marshal(doc)
	require.NoError(t, err)
	_, err = DecodeSpace(broken)
	assert.ErrorContains(t, err, "контрольная сумма")
}

func TestSpaceStore_SaveLoad(t *testing.T) {
	store := setupTestStorage(t)
	s, u, cache := buildSpace(t)

	require.NoError(t, store.SaveUniverse(u))
	require.NoError(t, store.SaveSpace(s))

	loaded, err := store.LoadSpace(context.Background(), s.ID(), cache, space.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), loaded.Snapshot())
	assert.Zero(t, loaded.QueueLen(), "свет загружается без пересчёта")

	// Новая арена и кэш: блоки вычисляются заново из сохранённых определений
	u2 := block.NewUniverse()
	require.NoError(t, store.LoadUniverse(u2))
	assert.Equal(t, u.Export(), u2.Export())
	cache2 := block.NewCache(u2, block.Options{})
	fresh, err := store.LoadSpace(context.Background(), s.ID(), cache2, space.DefaultOptions())
	require.NoError(t, err)
	ev, err := fresh.GetEvaluated(vec.Zero3)
	require.NoError(t, err)
	assert.True(t, ev.IsOpaque())
}

func TestSpaceStore_ListAndDelete(t *testing.T) {
	store := setupTestStorage(t)
	s, _, _ := buildSpace(t)
	other, _, _ := buildSpace(t)
	require.NoError(t, store.SaveSpace(s))
	require.NoError(t, store.SaveSpace(other))

	ids, err := store.ListSpaces()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{s.ID(), other.ID()}, ids)

	require.NoError(t, store.DeleteSpace(s.ID()))
	assert.ErrorIs(t, store.DeleteSpace(s.ID()), ErrNotFound)
	_, err = store.LoadSnapshot(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = store.ListSpaces()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other.ID()}, ids)
}

func TestSpaceStore_Closed(t *testing.T) {
	store := setupTestStorage(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "повторное закрытие безопасно")

	_, err := store.ListSpaces()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.LoadSnapshot(uuid.New())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.LoadUniverse(block.NewUniverse()), ErrClosed)
}
