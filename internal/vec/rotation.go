package vec

import "fmt"

// GridRotation поворот или отражение куба, не выводящие за целочисленную сетку.
// Всего 48 элементов: 6 перестановок осей × 8 комбинаций знаков.
//
// Значение кодируется как perm*8 + signs, где perm номер перестановки осей
// (XYZ, XZY, YXZ, YZX, ZXY, ZYX), а биты signs (4, 2, 1) отрицают первую,
// вторую и третью ось базиса соответственно. Нулевое значение соответствует тождественному повороту.
type GridRotation uint8

// RotationCount количество элементов группы симметрий куба
const RotationCount = 48

const (
	// Identity тождественный поворот (RXYZ)
	Identity GridRotation = 0
	// Clockwise поворот по часовой стрелке вокруг Y (RZYx)
	Clockwise GridRotation = 5*8 + 1
	// Counterclockwise поворот против часовой стрелки вокруг Y (RzYX)
	Counterclockwise GridRotation = 5*8 + 4
)

var axisPermutations = [6][3]int{
	{0, 1, 2},
	{0, 2, 1},
	{1, 0, 2},
	{1, 2, 0},
	{2, 0, 1},
	{2, 1, 0},
}

var rotationByBasis = func() map[[3]Face]GridRotation {
	m := make(map[[3]Face]GridRotation, RotationCount)
	for i := 0; i < RotationCount; i++ {
		r := GridRotation(i)
		m[r.Basis()] = r
	}
	return m
}()

// AllRotations возвращает все 48 поворотов
func AllRotations() []GridRotation {
	out := make([]GridRotation, RotationCount)
	for i := range out {
		out[i] = GridRotation(i)
	}
	return out
}

// IsValid проверяет, что значение является элементом группы
func (r GridRotation) IsValid() bool {
	return r < RotationCount
}

// Basis возвращает образы PX, PY, PZ при повороте
func (r GridRotation) Basis() [3]Face {
	perm := axisPermutations[int(r)/8]
	signs := int(r) % 8
	var b [3]Face
	for i := 0; i < 3; i++ {
		negated := signs&(4>>i) != 0
		b[i] = FaceFor(perm[i], !negated)
	}
	return b
}

// RotationFromBasis находит поворот по образам PX, PY, PZ.
// ok=false, если грани не взаимно перпендикулярны.
func RotationFromBasis(basis [3]Face) (GridRotation, bool) {
	r, ok := rotationByBasis[basis]
	return r, ok
}

// TransformFace поворачивает грань
func (r GridRotation) TransformFace(f Face) Face {
	if f == Within {
		return Within
	}
	image := r.Basis()[f.Axis()]
	if f.IsPositive() {
		return image
	}
	return image.Opposite()
}

// TransformVector поворачивает вектор вокруг начала координат
func (r GridRotation) TransformVector(v Vec3) Vec3 {
	b := r.Basis()
	return b[0].Normal().Mul(v.X).
		Add(b[1].Normal().Mul(v.Y)).
		Add(b[2].Normal().Mul(v.Z))
}

// TransformCube поворачивает куб внутри области [0, size)^3 так, что область
// переходит сама в себя.
func (r GridRotation) TransformCube(c Vec3, size int) Vec3 {
	// Удвоенные координаты центра куба относительно центра области
	d := Vec3{X: 2*c.X + 1 - size, Y: 2*c.Y + 1 - size, Z: 2*c.Z + 1 - size}
	d = r.TransformVector(d)
	return Vec3{X: (d.X + size - 1) / 2, Y: (d.Y + size - 1) / 2, Z: (d.Z + size - 1) / 2}
}

// Compose возвращает поворот, эквивалентный применению сначала other, затем r
func (r GridRotation) Compose(other GridRotation) GridRotation {
	ob := other.Basis()
	var b [3]Face
	for i := range b {
		b[i] = r.TransformFace(ob[i])
	}
	result, _ := RotationFromBasis(b)
	return result
}

// Inverse возвращает обратный поворот
func (r GridRotation) Inverse() GridRotation {
	b := r.Basis()
	var inv [3]Face
	for i, f := range b {
		inv[f.Axis()] = FaceFor(i, f.IsPositive())
	}
	result, _ := RotationFromBasis(inv)
	return result
}

// IsReflection проверяет, меняет ли преобразование ориентацию (det = -1)
func (r GridRotation) IsReflection() bool {
	perm := axisPermutations[int(r)/8]
	parityOdd := perm == [3]int{0, 2, 1} || perm == [3]int{1, 0, 2} || perm == [3]int{2, 1, 0}
	signs := int(r) % 8
	negations := (signs>>2)&1 + (signs>>1)&1 + signs&1
	return parityOdd != (negations%2 == 1)
}

// String возвращает имя в нотации R<образ X><образ Y><образ Z>, строчная буква означает отрицание
func (r GridRotation) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("GridRotation(%d)", uint8(r))
	}
	name := []byte{'R'}
	for _, f := range r.Basis() {
		letter := byte('X' + f.Axis())
		if !f.IsPositive() {
			letter += 'a' - 'A'
		}
		name = append(name, letter)
	}
	return string(name)
}
