package raycast

import (
	"math"
	"math/rand"
	"testing"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, rc *Raycaster, limit int) []Step {
	t.Helper()
	var out []Step
	for s := range rc.All() {
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func TestRaycast_AxisAligned(t *testing.T) {
	tests := []struct {
		name   string
		origin mgl64.Vec3
		dir    mgl64.Vec3
		cubes  []vec.Vec3
		face   vec.Face
	}{
		{
			name:   "вдоль +X",
			origin: mgl64.Vec3{0.5, 0.5, 0.5},
			dir:    mgl64.Vec3{1, 0, 0},
			cubes:  []vec.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}},
			face:   vec.NX,
		},
		{
			name:   "вдоль -Y",
			origin: mgl64.Vec3{0.5, 0.5, 0.5},
			dir:    mgl64.Vec3{0, -1, 0},
			cubes:  []vec.Vec3{{Y: 0}, {Y: -1}, {Y: -2}, {Y: -3}},
			face:   vec.PY,
		},
		{
			name:   "вдоль +Z с большим модулем направления",
			origin: mgl64.Vec3{0.5, 0.5, 0.5},
			dir:    mgl64.Vec3{0, 0, 1000},
			cubes:  []vec.Vec3{{Z: 0}, {Z: 1}, {Z: 2}, {Z: 3}},
			face:   vec.NZ,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := NewRaycaster(tt.origin, tt.dir)
			require.NoError(t, err)

			steps := collect(t, rc, len(tt.cubes))
			require.Len(t, steps, len(tt.cubes))
			assert.Equal(t, vec.Within, steps[0].Face, "начальный куб без грани")
			assert.Equal(t, 0.0, steps[0].T)
			for i, s := range steps {
				assert.Equal(t, tt.cubes[i], s.Cube, "шаг %d", i)
				if i > 0 {
					assert.Equal(t, tt.face, s.Face, "шаг %d", i)
					assert.Greater(t, s.T, steps[i-1].T)
				}
			}
		})
	}
}

func TestRaycast_ParameterAtFaces(t *testing.T) {
	rc, err := NewRaycaster(mgl64.Vec3{0.25, 0, 0}, mgl64.Vec3{0.5, 0, 0})
	require.NoError(t, err)

	steps := collect(t, rc, 3)
	require.Len(t, steps, 3)
	assert.InDelta(t, 1.5, steps[1].T, 1e-12)
	assert.InDelta(t, 3.5, steps[2].T, 1e-12)
	assert.Equal(t, vec.NewVec3(0, 0, 0), steps[1].CubeBehind())
}

func TestRaycast_OriginOnBoundary(t *testing.T) {
	rc, err := NewRaycaster(mgl64.Vec3{2, 0.5, 0.5}, mgl64.Vec3{-1, 0, 0})
	require.NoError(t, err)

	steps := collect(t, rc, 2)
	assert.Equal(t, vec.NewVec3(1, 0, 0), steps[0].Cube, "граница принадлежит кубу по ходу луча")
	assert.Equal(t, vec.NewVec3(0, 0, 0), steps[1].Cube)
	assert.InDelta(t, 1.0, steps[1].T, 1e-12)
}

func TestRaycast_MonotonicAndFaceAdjacent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		origin := mgl64.Vec3{rng.Float64()*20 - 10, rng.Float64()*20 - 10, rng.Float64()*20 - 10}
		dir := mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		// Часть лучей с нулевыми компонентами
		if n%5 == 0 {
			dir[n%3] = 0
		}
		rc, err := NewRaycaster(origin, dir)
		require.NoError(t, err)

		steps := collect(t, rc, 60)
		require.Len(t, steps, 60)
		for i := 1; i < len(steps); i++ {
			prev, cur := steps[i-1], steps[i]
			assert.GreaterOrEqual(t, cur.T, prev.T, "параметр не убывает")
			// Соседние кубы имеют общую грань, через которую вошёл луч
			assert.Equal(t, 1, cur.Cube.ManhattanTo(prev.Cube))
			assert.Equal(t, prev.Cube, cur.CubeBehind())
			assert.NotEqual(t, vec.Within, cur.Face)
		}
	}
}

func TestRaycast_DiagonalTie(t *testing.T) {
	rc, err := NewRaycaster(mgl64.Vec3{0.5, 0.5, 0.5}, mgl64.Vec3{1, 1, 0})
	require.NoError(t, err)

	steps := collect(t, rc, 5)
	require.Len(t, steps, 5)
	want := []Step{
		{Cube: vec.NewVec3(0, 0, 0), Face: vec.Within, T: 0},
		{Cube: vec.NewVec3(1, 0, 0), Face: vec.NX, T: 0.5},
		{Cube: vec.NewVec3(1, 1, 0), Face: vec.NY, T: 0.5},
		{Cube: vec.NewVec3(2, 1, 0), Face: vec.NX, T: 1.5},
		{Cube: vec.NewVec3(2, 2, 0), Face: vec.NY, T: 1.5},
	}
	assert.Equal(t, want, steps, "через ребро оси пересекаются по одной")
}

func TestRaycast_InvalidRay(t *testing.T) {
	_, err := NewRaycaster(mgl64.Vec3{}, mgl64.Vec3{})
	assert.ErrorIs(t, err, ErrInvalidRay)

	_, err = NewRaycaster(mgl64.Vec3{}, mgl64.Vec3{math.NaN(), 1, 0})
	assert.ErrorIs(t, err, ErrInvalidRay)

	_, err = NewRay(mgl64.Vec3{math.Inf(1), 0, 0}, mgl64.Vec3{1, 0, 0}).Cast()
	assert.ErrorIs(t, err, ErrInvalidRay)
}

func TestRaycast_Within(t *testing.T) {
	bounds := vec.MustAab(vec.Zero3, vec.Splat3(4))

	t.Run("начало снаружи", func(t *testing.T) {
		rc, err := NewRaycaster(mgl64.Vec3{-5.5, 1.5, 1.5}, mgl64.Vec3{1, 0, 0})
		require.NoError(t, err)

		steps := collect(t, rc.Within(bounds), 100)
		require.Len(t, steps, 4)
		assert.Equal(t, vec.NewVec3(0, 1, 1), steps[0].Cube)
		assert.Equal(t, vec.NX, steps[0].Face)
		assert.Equal(t, vec.NewVec3(3, 1, 1), steps[3].Cube)
	})

	t.Run("промах", func(t *testing.T) {
		rc, err := NewRaycaster(mgl64.Vec3{-5.5, 10.5, 1.5}, mgl64.Vec3{1, 0.01, 0})
		require.NoError(t, err)
		assert.Empty(t, collect(t, rc.Within(bounds), 10000))
	})

	t.Run("изнутри наружу", func(t *testing.T) {
		rc, err := NewRaycaster(mgl64.Vec3{1.5, 1.5, 1.5}, mgl64.Vec3{0, 1, 0})
		require.NoError(t, err)
		steps := collect(t, rc.Within(bounds), 100)
		require.Len(t, steps, 3)
		assert.Equal(t, vec.Within, steps[0].Face)
	})
}

func TestRaycast_MaxDistance(t *testing.T) {
	seq, err := Cast(NewRay(mgl64.Vec3{0.5, 0.5, 0.5}, mgl64.Vec3{0, 0, 2}), 2)
	require.NoError(t, err)

	var cubes []vec.Vec3
	for s := range seq {
		cubes = append(cubes, s.Cube)
	}
	// Границы z=1,2,3,4 пересекаются при t=0.25, 0.75, 1.25, 1.75
	assert.Len(t, cubes, 5)
}

func TestRaycast_Restartable(t *testing.T) {
	ray := NewRay(mgl64.Vec3{0.1, 0.2, 0.3}, mgl64.Vec3{0.3, -0.7, 0.2})
	a, err := ray.Cast()
	require.NoError(t, err)
	b, err := ray.Cast()
	require.NoError(t, err)

	assert.Equal(t, collect(t, a, 20), collect(t, b, 20), "обходы одного луча независимы")
}
