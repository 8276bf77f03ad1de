package physics

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-core/internal/raycast"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

var stone = block.FromColor(vec.NewRgba(0.5, 0.5, 0.5, 1))

func newWorld(t *testing.T) *space.Space {
	t.Helper()
	cache := block.NewCache(block.NewUniverse(), block.Options{})
	s, err := space.New(vec.ForBlock(8), cache, space.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.Fill(vec.MustAab(vec.Zero3, vec.NewVec3(8, 1, 8)), stone))
	return s
}

func TestBoxCollider_Bounds(t *testing.T) {
	c := NewBoxCollider(2, 3, 1)
	assert.Equal(t, vec.MustAab(vec.NewVec3(4, 4, 5), vec.NewVec3(2, 3, 1)), c.Bounds(vec.NewVec3(5, 5, 5)))
	assert.True(t, c.IsPointInside(vec.NewVec3(5, 5, 5), vec.NewVec3(4, 6, 5)))
	assert.False(t, c.IsPointInside(vec.NewVec3(5, 5, 5), vec.NewVec3(6, 5, 5)))

	assert.Equal(t, vec.Splat3(1), NewBoxCollider(0, -1, 0).Size)
}

func TestCheckBoxCollision(t *testing.T) {
	a := NewBoxCollider(2, 2, 2)
	b := NewBoxCollider(1, 1, 1)
	assert.True(t, CheckBoxCollision(vec.Zero3, a, vec.Zero3, b))
	assert.True(t, CheckBoxCollision(vec.Zero3, a, vec.NewVec3(-1, -1, -1), b))
	assert.False(t, CheckBoxCollision(vec.Zero3, a, vec.NewVec3(1, 0, 0), b))
}

func TestCanMoveToPosition(t *testing.T) {
	world := newWorld(t)
	player := NewBoxCollider(1, 2, 1)

	assert.True(t, CanMoveToPosition(vec.NewVec3(3, 2, 3), player, world))
	assert.False(t, CanMoveToPosition(vec.NewVec3(3, 1, 3), player, world), "ноги в полу")
	assert.False(t, CanMoveToPosition(vec.NewVec3(3, 8, 3), player, world), "голова вне пространства")

	_, err := world.Set(vec.NewVec3(3, 2, 3), stone)
	require.NoError(t, err)
	assert.False(t, CanMoveToPosition(vec.NewVec3(3, 2, 3), player, world))
}

func TestFirstHit(t *testing.T) {
	world := newWorld(t)

	down := raycast.NewRay(mgl64.Vec3{2.5, 6.5, 2.5}, mgl64.Vec3{0, -1, 0})
	step, ok, err := FirstHit(world, down, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec.NewVec3(2, 0, 2), step.Cube)
	assert.Equal(t, vec.PY, step.Face)
	assert.InDelta(t, 5.5, step.T, 1e-9)

	_, ok, err = FirstHit(world, down, 3)
	require.NoError(t, err)
	assert.False(t, ok, "пол дальше предельной дистанции")

	up := raycast.NewRay(mgl64.Vec3{2.5, 6.5, 2.5}, mgl64.Vec3{0, 1, 0})
	_, ok, err = FirstHit(world, up, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = FirstHit(world, raycast.NewRay(mgl64.Vec3{}, mgl64.Vec3{}), 0)
	assert.ErrorIs(t, err, raycast.ErrInvalidRay)
}

func TestFirstHit_EdgeBetweenBlocks(t *testing.T) {
	world := newWorld(t)
	for _, c := range []vec.Vec3{vec.NewVec3(3, 2, 2), vec.NewVec3(2, 3, 2)} {
		_, err := world.Set(c, stone)
		require.NoError(t, err)
	}

	diagonal := raycast.NewRay(mgl64.Vec3{2.5, 2.5, 2.5}, mgl64.Vec3{1, 1, 0})
	step, ok, err := FirstHit(world, diagonal, 0)
	require.NoError(t, err)
	require.True(t, ok, "луч не проходит через общее ребро двух блоков")
	assert.Equal(t, vec.NewVec3(3, 2, 2), step.Cube)
	assert.Equal(t, vec.NX, step.Face)
	assert.InDelta(t, 0.5, step.T, 1e-9)
}
