package block

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = FromColor(vec.NewRgba(1, 0, 0, 1))
	blue  = FromColor(vec.NewRgba(0, 0, 1, 1))
	green = FromColor(vec.NewRgba(0, 1, 0, 1))
)

// newTestGrid создаёт сетку size^3 из пустоты с одним блоком в (0,0,0)
func newTestGrid(t *testing.T, u *Universe, size int, corner Block) GridID {
	t.Helper()
	id, err := u.NewGrid(vec.ForBlock(size), Air)
	require.NoError(t, err)
	require.NoError(t, u.SetGridBlock(id, vec.Zero3, corner))
	return id
}

func TestEvaluate_Atom(t *testing.T) {
	c := NewCache(NewUniverse(), Options{})

	ev, err := c.Evaluate(red)
	require.NoError(t, err)
	assert.Equal(t, R1, ev.Resolution)
	assert.Equal(t, OpacityOpaque, ev.Opacity)
	assert.True(t, ev.IsOpaque())
	assert.True(t, ev.Visible)
	assert.Equal(t, vec.SingleCube(vec.Zero3), ev.Bounds)
	for _, f := range vec.Faces6 {
		assert.True(t, ev.OpaqueFaces.Get(f), "грань %v", f)
	}

	air, err := c.Evaluate(Air)
	require.NoError(t, err)
	assert.Equal(t, OpacityInvisible, air.Opacity)
	assert.True(t, air.Bounds.IsEmpty())
	assert.False(t, air.HasCollision())

	glass, err := c.Evaluate(FromColor(vec.NewRgba(1, 1, 1, 0.5)))
	require.NoError(t, err)
	assert.Equal(t, OpacitySelective, glass.Opacity)
}

func TestEvaluate_Recur(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})
	g := newTestGrid(t, u, 2, red)

	ev, err := c.Evaluate(NewRecur(DefaultAttributes, g, vec.Zero3, R2))
	require.NoError(t, err)

	assert.Equal(t, R2, ev.Resolution)
	require.Len(t, ev.Voxels, 8)
	assert.Equal(t, OpacityPartial, ev.Opacity)
	assert.True(t, ev.AnyOpaque)
	assert.Equal(t, vec.SingleCube(vec.Zero3), ev.Bounds)
	assert.InDelta(t, 1.0, float64(ev.Color.R), 1e-6)
	assert.InDelta(t, 1.0/8, float64(ev.Color.A), 1e-6, "альфа усредняется по площади")
	for _, f := range vec.Faces6 {
		assert.False(t, ev.OpaqueFaces.Get(f))
	}

	v, ok := ev.Voxel(vec.Zero3)
	require.True(t, ok)
	assert.True(t, v.Opaque)
	_, ok = ev.Voxel(vec.Splat3(2))
	assert.False(t, ok)
}

func TestEvaluate_OpacityIsOrOfSubvoxels(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})

	inner := NewRecur(DefaultAttributes, newTestGrid(t, u, 2, red), vec.Zero3, R2)
	outerGrid, err := u.NewGrid(vec.ForBlock(2), inner)
	require.NoError(t, err)

	ev, err := c.Evaluate(NewRecur(DefaultAttributes, outerGrid, vec.Zero3, R2))
	require.NoError(t, err)
	assert.Equal(t, OpacityOpaque, ev.Opacity, "каждый подвоксель содержит непрозрачную часть")
	assert.InDelta(t, 1.0/8, float64(ev.Color.A), 1e-6)
}

func TestEvaluate_Rotation(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})
	b := NewRecur(DefaultAttributes, newTestGrid(t, u, 2, red), vec.Zero3, R2)

	ev, err := c.Evaluate(b.Rotate(vec.Clockwise))
	require.NoError(t, err)

	v, _ := ev.Voxel(vec.NewVec3(1, 0, 0))
	assert.True(t, v.Opaque, "поворот по часовой переносит (0,0,0) в (1,0,0)")
	v, _ = ev.Voxel(vec.Zero3)
	assert.True(t, v.IsEmpty())
	assert.Equal(t, vec.SingleCube(vec.NewVec3(1, 0, 0)), ev.Bounds)

	base, err := c.Evaluate(b)
	require.NoError(t, err)
	assert.Equal(t, base.Color, ev.Color, "агрегаты не зависят от поворота")

	back, err := c.Evaluate(b.Rotate(vec.Clockwise).Rotate(vec.Counterclockwise))
	require.NoError(t, err)
	assert.Same(t, base, back, "обратный поворот даёт тот же ключ")
}

func TestCache_SecondEvaluationIsCached(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})
	b := NewRecur(DefaultAttributes, newTestGrid(t, u, 4, red), vec.Zero3, R4)

	first, err := c.Evaluate(b)
	require.NoError(t, err)
	before := c.Stats()

	second, err := c.Evaluate(b)
	require.NoError(t, err)
	after := c.Stats()

	assert.Same(t, first, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, before.Evaluations, after.Evaluations, "повторный вызов не должен вычислять вложенные блоки")
	assert.Equal(t, before.Hits+1, after.Hits)
}

func TestCache_CascadingInvalidation(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})

	g1 := newTestGrid(t, u, 2, red)
	inner := NewRecur(DefaultAttributes, g1, vec.Zero3, R2)
	g2, err := u.NewGrid(vec.ForBlock(2), inner)
	require.NoError(t, err)
	outer := NewRecur(DefaultAttributes, g2, vec.Zero3, R2)

	before, err := c.Evaluate(outer)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(before.Color.R), 1e-6)

	unrelated, err := c.Evaluate(green)
	require.NoError(t, err)

	// Изменение самой глубокой сетки должно дойти до внешнего блока
	require.NoError(t, u.SetGridBlock(g1, vec.Zero3, blue))
	assert.GreaterOrEqual(t, c.Stats().Invalidations, uint64(2))

	after, err := c.Evaluate(outer)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.InDelta(t, 0.0, float64(after.Color.R), 1e-6)
	assert.InDelta(t, 1.0, float64(after.Color.B), 1e-6)

	stillCached, err := c.Evaluate(green)
	require.NoError(t, err)
	assert.Same(t, unrelated, stillCached, "несвязанные записи не должны удаляться")
}

func TestCache_RedefineInvalidatesIndirect(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})

	def, err := u.Define("lamp", red)
	require.NoError(t, err)
	g, err := u.NewGrid(vec.ForBlock(1), NewIndirect(def))
	require.NoError(t, err)
	b := NewRecur(DefaultAttributes, g, vec.Zero3, R1)

	ev, err := c.Evaluate(b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(ev.Color.R), 1e-6)

	require.NoError(t, u.Redefine(def, blue))
	ev, err = c.Evaluate(b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(ev.Color.B), 1e-6)

	assert.ErrorIs(t, u.Redefine(DefID(999), blue), ErrUnknownDefinition)
}

func TestCache_NestedErrorInvalidatedByDeepEdit(t *testing.T) {
	t.Run("цикл разорван правкой сетки", func(t *testing.T) {
		u := NewUniverse()
		c := NewCache(u, Options{})
		def, err := u.Define("loop", Air)
		require.NoError(t, err)
		g, err := u.NewGrid(vec.ForBlock(1), NewIndirect(def))
		require.NoError(t, err)
		require.NoError(t, u.Redefine(def, NewRecur(DefaultAttributes, g, vec.Zero3, R1)))

		loop := NewIndirect(def)
		_, err = c.Evaluate(loop)
		require.ErrorIs(t, err, ErrRecursionLimit)

		require.NoError(t, u.SetGridBlock(g, vec.Zero3, red))
		ev, err := c.Evaluate(loop)
		require.NoError(t, err, "ошибка не должна пережить правку сетки внутри цепочки")
		assert.True(t, ev.IsOpaque())
	})

	t.Run("определение появилось позже", func(t *testing.T) {
		u := NewUniverse()
		c := NewCache(u, Options{})
		g, err := u.NewGrid(vec.ForBlock(1), NewIndirect(DefID(1)))
		require.NoError(t, err)
		outer := NewRecur(DefaultAttributes, g, vec.Zero3, R1)

		_, err = c.Evaluate(outer)
		require.ErrorIs(t, err, ErrUnknownDefinition)

		def, err := u.Define("later", red)
		require.NoError(t, err)
		require.Equal(t, DefID(1), def)

		ev, err := c.Evaluate(outer)
		require.NoError(t, err)
		assert.Equal(t, red.Primitive.(Atom).Color, ev.Color)
	})
}

func TestEvaluate_CycleRejected(t *testing.T) {
	t.Run("сетка содержит саму себя", func(t *testing.T) {
		u := NewUniverse()
		c := NewCache(u, Options{})
		g, err := u.NewGrid(vec.ForBlock(1), Air)
		require.NoError(t, err)
		self := NewRecur(DefaultAttributes, g, vec.Zero3, R1)
		require.NoError(t, u.SetGridBlock(g, vec.Zero3, self))

		_, err = c.Evaluate(self)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRecursionLimit)

		var evalErr *EvalError
		require.True(t, errors.As(err, &evalErr))
		assert.Equal(t, evalErr.Block.ID(), evalErr.ID)

		// Ошибка закэширована и не пересчитывается
		before := c.Stats().Evaluations
		_, err = c.Evaluate(self)
		assert.ErrorIs(t, err, ErrRecursionLimit)
		assert.Equal(t, before, c.Stats().Evaluations)
	})

	t.Run("определение ссылается само на себя", func(t *testing.T) {
		u := NewUniverse()
		c := NewCache(u, Options{})
		def, err := u.Define("loop", Air)
		require.NoError(t, err)
		require.NoError(t, u.Redefine(def, NewIndirect(def)))

		_, err = c.Evaluate(NewIndirect(def))
		assert.ErrorIs(t, err, ErrRecursionLimit)

		// Разрыв цикла снимает закэшированную ошибку
		require.NoError(t, u.Redefine(def, red))
		ev, err := c.Evaluate(NewIndirect(def))
		require.NoError(t, err)
		assert.True(t, ev.IsOpaque())
	})
}

func TestEvaluate_DepthLimit(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{MaxDepth: 3})

	ids := make([]DefID, 5)
	var err error
	ids[0], err = u.Define("d0", red)
	require.NoError(t, err)
	for i := 1; i < len(ids); i++ {
		ids[i], err = u.Define("", NewIndirect(ids[i-1]))
		require.NoError(t, err)
	}

	_, err = c.Evaluate(NewIndirect(ids[2]))
	require.NoError(t, err, "три уровня укладываются в лимит")

	_, err = c.Evaluate(NewIndirect(ids[3]))
	assert.ErrorIs(t, err, ErrRecursionLimit)

	// Закэшированный вложенный результат не обходит лимит
	_, err = c.Evaluate(NewIndirect(ids[4]))
	assert.ErrorIs(t, err, ErrRecursionLimit)
}

func TestEvaluate_Malformed(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{})
	g := newTestGrid(t, u, 2, red)

	tests := []struct {
		name  string
		block Block
		want  error
	}{
		{"разрешение не степень двойки", NewRecur(DefaultAttributes, g, vec.Zero3, Resolution(3)), ErrMalformedGeometry},
		{"нулевое разрешение", NewRecur(DefaultAttributes, g, vec.Zero3, Resolution(0)), ErrMalformedGeometry},
		{"фрагмент за пределами сетки", NewRecur(DefaultAttributes, g, vec.NewVec3(1, 0, 0), R2), ErrMalformedGeometry},
		{"NaN в цвете", FromColor(vec.NewRgba(float32(math.NaN()), 0, 0, 1)), ErrMalformedGeometry},
		{"неизвестная сетка", NewRecur(DefaultAttributes, GridID(77), vec.Zero3, R1), ErrUnknownDefinition},
		{"неизвестное определение", NewIndirect(DefID(77)), ErrUnknownDefinition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Evaluate(tt.block)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEvaluate_MoveAndQuote(t *testing.T) {
	c := NewCache(NewUniverse(), Options{})

	moved := red.WithMove(Move{Direction: vec.PX, Distance: 128})
	ev, err := c.Evaluate(moved)
	require.NoError(t, err)
	assert.Equal(t, R16, ev.Resolution)
	assert.Equal(t, OpacityPartial, ev.Opacity)
	assert.Equal(t, vec.MustAab(vec.NewVec3(8, 0, 0), vec.NewVec3(8, 16, 16)), ev.Bounds)
	assert.False(t, ev.Animated)

	moving := red.WithMove(Move{Direction: vec.PX, Distance: 0, Velocity: 64})
	ev, err = c.Evaluate(moving)
	require.NoError(t, err)
	assert.True(t, ev.Animated)

	quoted, err := c.Evaluate(moving.WithQuote(false))
	require.NoError(t, err)
	assert.False(t, quoted.Animated, "Quote подавляет анимацию")

	lamp := NewAtom(Atom{Attributes: DefaultAttributes, Color: vec.NewRgba(1, 1, 1, 0.2), Emission: vec.NewRgb(1, 0.5, 0)})
	lit, err := c.Evaluate(lamp)
	require.NoError(t, err)
	assert.Equal(t, vec.NewRgb(1, 0.5, 0), lit.Emission)

	dark, err := c.Evaluate(lamp.WithQuote(true))
	require.NoError(t, err)
	assert.True(t, dark.Emission.IsZero())
}

func TestBlock_Step(t *testing.T) {
	b := red.WithMove(Move{Direction: vec.PX, Distance: 0, Velocity: 64})
	next, changed := b.Step(R16)
	require.True(t, changed)
	assert.Equal(t, uint16(64), next.Modifiers.Move.Distance)

	gone, changed := red.WithMove(Move{Direction: vec.PX, Distance: 256, Velocity: 1}).Step(R16)
	require.True(t, changed)
	assert.Equal(t, Air, gone)

	done, changed := red.WithMove(Move{Direction: vec.PX, Distance: 0, Velocity: -4}).Step(R16)
	require.True(t, changed)
	assert.Equal(t, red, done)

	_, changed = red.Step(R16)
	assert.False(t, changed)

	out, in := PairedMove(vec.PY, 64, 8)
	assert.Equal(t, vec.NY, in.Direction)
	assert.Equal(t, uint16(192), in.Distance)
	assert.Equal(t, int16(-8), in.Velocity)
	assert.Equal(t, uint16(64), out.Distance)
}

func TestBlock_Identity(t *testing.T) {
	assert.Equal(t, FromColor(vec.NewRgba(1, 0, 0, 1)).ID(), red.ID())
	assert.NotEqual(t, red.ID(), blue.ID())
	assert.NotEqual(t, red.ID(), red.Rotate(vec.Clockwise).ID())
	assert.Equal(t, Air, Block{}.Normalize())
	assert.True(t, Block{}.IsAir())

	k := red.Rotate(vec.Clockwise).Key()
	assert.Equal(t, vec.Clockwise, k.Rotation)
	assert.Equal(t, vec.Identity, k.Block.Modifiers.Rotation)
	assert.Equal(t, red.Rotate(vec.Clockwise), k.ToBlock())
}

func TestCache_EvaluateManyConcurrent(t *testing.T) {
	u := NewUniverse()
	c := NewCache(u, Options{Workers: 8})

	var blocks []Block
	for i := 0; i < 100; i++ {
		blocks = append(blocks, FromColor(vec.NewRgba(float32(i%10)/10, 0, 0, 1)).Rotate(vec.GridRotation(i%4)))
	}

	results, errs := c.EvaluateMany(context.Background(), blocks)
	require.Len(t, results, len(blocks))
	for i := range blocks {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			if blocks[i] == blocks[j] {
				assert.Same(t, results[i], results[j], "одинаковые ключи делят один результат")
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, errs = c.EvaluateMany(ctx, blocks[:3])
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestUniverse_ExportImport(t *testing.T) {
	u := NewUniverse()
	def, err := u.Define("stone", red)
	require.NoError(t, err)
	g := newTestGrid(t, u, 2, NewIndirect(def))

	data := u.Export()
	require.Len(t, data.Defs, 1)
	require.Len(t, data.Grids, 1)

	restored := NewUniverse()
	require.NoError(t, restored.Import(data))
	got, ok := restored.Definition(def)
	require.True(t, ok)
	assert.Equal(t, "stone", got.Name)
	b, err := restored.GridBlock(g, vec.Zero3)
	require.NoError(t, err)
	assert.Equal(t, NewIndirect(def), b)

	id, ok := restored.Lookup("stone")
	assert.True(t, ok)
	assert.Equal(t, def, id)

	next, err := restored.Define("other", blue)
	require.NoError(t, err)
	assert.Greater(t, next, def, "новые идентификаторы не пересекаются с импортированными")

	assert.Error(t, restored.Import(data), "импорт в непустую арену запрещён")
	_, err = u.Define("stone", blue)
	assert.Error(t, err)
}
