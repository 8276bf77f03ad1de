package vec

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidAab возвращается при попытке создать некорректный параллелепипед
var ErrInvalidAab = errors.New("vec: invalid box")

// Aab целочисленный выровненный по осям параллелепипед.
// Lower включительно, Upper исключительно: куб c принадлежит Aab,
// если Lower <= c < Upper покомпонентно.
type Aab struct {
	Lower Vec3
	Upper Vec3
}

// NewAab создаёт параллелепипед по нижнему углу и размеру
func NewAab(lower, size Vec3) (Aab, error) {
	if size.X < 0 || size.Y < 0 || size.Z < 0 {
		return Aab{}, fmt.Errorf("%w: negative size %v", ErrInvalidAab, size)
	}
	return Aab{Lower: lower, Upper: lower.Add(size)}, nil
}

// MustAab как NewAab, но паникует при ошибке. Для констант и тестов.
func MustAab(lower, size Vec3) Aab {
	a, err := NewAab(lower, size)
	if err != nil {
		panic(err)
	}
	return a
}

// AabFromCorners создаёт параллелепипед по двум углам (Upper исключительно)
func AabFromCorners(lower, upper Vec3) (Aab, error) {
	return NewAab(lower, upper.Sub(lower))
}

// ForBlock возвращает параллелепипед [0, resolution)^3 внутри блока
func ForBlock(resolution int) Aab {
	return Aab{Upper: Splat3(resolution)}
}

// SingleCube возвращает параллелепипед из одного куба
func SingleCube(cube Vec3) Aab {
	return Aab{Lower: cube, Upper: cube.Add(Splat3(1))}
}

// Size возвращает размеры по осям
func (a Aab) Size() Vec3 {
	return a.Upper.Sub(a.Lower)
}

// Volume возвращает количество кубов
func (a Aab) Volume() int {
	s := a.Size()
	if s.X <= 0 || s.Y <= 0 || s.Z <= 0 {
		return 0
	}
	return s.X * s.Y * s.Z
}

// IsEmpty проверяет, что параллелепипед не содержит кубов
func (a Aab) IsEmpty() bool {
	return a.Volume() == 0
}

// Contains проверяет принадлежность куба
func (a Aab) Contains(c Vec3) bool {
	return c.X >= a.Lower.X && c.X < a.Upper.X &&
		c.Y >= a.Lower.Y && c.Y < a.Upper.Y &&
		c.Z >= a.Lower.Z && c.Z < a.Upper.Z
}

// ContainsAab проверяет, что other полностью лежит внутри
func (a Aab) ContainsAab(other Aab) bool {
	if other.IsEmpty() {
		return true
	}
	return other.Lower.X >= a.Lower.X && other.Upper.X <= a.Upper.X &&
		other.Lower.Y >= a.Lower.Y && other.Upper.Y <= a.Upper.Y &&
		other.Lower.Z >= a.Lower.Z && other.Upper.Z <= a.Upper.Z
}

// Index возвращает линейный индекс куба в плотном массиве (X старшая ось, Z младшая).
// Куб должен принадлежать параллелепипеду.
func (a Aab) Index(c Vec3) int {
	s := a.Size()
	return ((c.X-a.Lower.X)*s.Y+(c.Y-a.Lower.Y))*s.Z + (c.Z - a.Lower.Z)
}

// CubeAt обратное преобразование к Index
func (a Aab) CubeAt(index int) Vec3 {
	s := a.Size()
	z := index % s.Z
	index /= s.Z
	y := index % s.Y
	x := index / s.Y
	return Vec3{X: x + a.Lower.X, Y: y + a.Lower.Y, Z: z + a.Lower.Z}
}

// Translate сдвигает параллелепипед
func (a Aab) Translate(offset Vec3) Aab {
	return Aab{Lower: a.Lower.Add(offset), Upper: a.Upper.Add(offset)}
}

// Intersection возвращает пересечение; ok=false, если оно пусто
func (a Aab) Intersection(other Aab) (Aab, bool) {
	r := Aab{
		Lower: Vec3{X: max(a.Lower.X, other.Lower.X), Y: max(a.Lower.Y, other.Lower.Y), Z: max(a.Lower.Z, other.Lower.Z)},
		Upper: Vec3{X: min(a.Upper.X, other.Upper.X), Y: min(a.Upper.Y, other.Upper.Y), Z: min(a.Upper.Z, other.Upper.Z)},
	}
	if r.IsEmpty() {
		return Aab{}, false
	}
	return r, true
}

// Union возвращает наименьший параллелепипед, содержащий оба
func (a Aab) Union(other Aab) Aab {
	if a.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return a
	}
	return Aab{
		Lower: Vec3{X: min(a.Lower.X, other.Lower.X), Y: min(a.Lower.Y, other.Lower.Y), Z: min(a.Lower.Z, other.Lower.Z)},
		Upper: Vec3{X: max(a.Upper.X, other.Upper.X), Y: max(a.Upper.Y, other.Upper.Y), Z: max(a.Upper.Z, other.Upper.Z)},
	}
}

// Expand расширяет параллелепипед, чтобы он включал куб
func (a Aab) Expand(c Vec3) Aab {
	return a.Union(SingleCube(c))
}

// Cubes перебирает все кубы в порядке Index
func (a Aab) Cubes() iter.Seq[Vec3] {
	return func(yield func(Vec3) bool) {
		for x := a.Lower.X; x < a.Upper.X; x++ {
			for y := a.Lower.Y; y < a.Upper.Y; y++ {
				for z := a.Lower.Z; z < a.Upper.Z; z++ {
					if !yield(Vec3{X: x, Y: y, Z: z}) {
						return
					}
				}
			}
		}
	}
}

// String возвращает строковое представление
func (a Aab) String() string {
	return fmt.Sprintf("[%v..%v)", a.Lower, a.Upper)
}
