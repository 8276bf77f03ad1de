// Package raycast перечисляет кубы целочисленной сетки, через которые проходит луч.
//
// Обход инкрементальный (Amanatides–Woo): для каждой оси хранится номер следующей
// пересекаемой границы, и параметр пересечения считается заново от начала луча,
// а не накапливается. За шаг пересекается ровно одна граница, поэтому соседние
// кубы обхода всегда имеют общую грань. Поэтому ошибки округления не копятся, и ни один куб
// не пропускается и не повторяется при любой длине направляющего вектора.
package raycast

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidRay возвращается для луча с нулевым или неконечным направлением
var ErrInvalidRay = errors.New("raycast: invalid ray")

// Ray луч в координатах сетки: точки Origin + t*Direction при t >= 0
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// NewRay создаёт луч
func NewRay(origin, direction mgl64.Vec3) Ray {
	return Ray{Origin: origin, Direction: direction}
}

// At возвращает точку луча для параметра t
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Validate проверяет, что по лучу можно двигаться
func (r Ray) Validate() error {
	for i := 0; i < 3; i++ {
		if math.IsNaN(r.Origin[i]) || math.IsInf(r.Origin[i], 0) {
			return fmt.Errorf("%w: origin %v is not finite", ErrInvalidRay, r.Origin)
		}
		if math.IsNaN(r.Direction[i]) || math.IsInf(r.Direction[i], 0) {
			return fmt.Errorf("%w: direction %v is not finite", ErrInvalidRay, r.Direction)
		}
	}
	if r.Direction[0] == 0 && r.Direction[1] == 0 && r.Direction[2] == 0 {
		return fmt.Errorf("%w: zero direction", ErrInvalidRay)
	}
	return nil
}

// Cast создаёт новый обход луча
func (r Ray) Cast() (*Raycaster, error) {
	return NewRaycaster(r.Origin, r.Direction)
}

// Step один шаг обхода: куб, в который вошёл луч
type Step struct {
	// Cube куб, в который вошёл луч
	Cube vec.Vec3
	// Face грань Cube, через которую луч вошёл; Within для куба, содержащего начало луча
	Face vec.Face
	// T параметр луча в точке пересечения грани (0 для начального куба)
	T float64
}

// CubeBehind возвращает куб, из которого луч пришёл в Cube.
// Для начального шага совпадает с Cube.
func (s Step) CubeBehind() vec.Vec3 {
	return s.Cube.Add(s.Face.Normal())
}

// Raycaster ленивый обход кубов вдоль луча. Каждый вызов Ray.Cast или
// NewRaycaster даёт независимый обход; сам Raycaster не потокобезопасен.
type Raycaster struct {
	ray Ray

	cube     vec.Vec3
	step     [3]int
	boundary [3]int
	tNext    [3]float64

	maxT   float64
	bounds *vec.Aab

	started bool
	done    bool
}

// NewRaycaster создаёт обход луча из origin в направлении direction
func NewRaycaster(origin, direction mgl64.Vec3) (*Raycaster, error) {
	ray := Ray{Origin: origin, Direction: direction}
	if err := ray.Validate(); err != nil {
		return nil, err
	}

	rc := &Raycaster{ray: ray, maxT: math.Inf(1)}
	cube := [3]int{}
	for i := 0; i < 3; i++ {
		o, d := origin[i], direction[i]
		switch {
		case d > 0:
			cube[i] = int(math.Floor(o))
			rc.step[i] = 1
			rc.boundary[i] = cube[i] + 1
		case d < 0:
			// Начало на целой границе при отрицательном направлении лежит
			// в кубе с меньшей координатой
			cube[i] = int(math.Ceil(o)) - 1
			rc.step[i] = -1
			rc.boundary[i] = cube[i]
		default:
			cube[i] = int(math.Floor(o))
		}
		rc.tNext[i] = rc.boundaryT(i)
	}
	rc.cube = vec.NewVec3(cube[0], cube[1], cube[2])
	return rc, nil
}

// Within ограничивает обход параллелепипедом: шаги снаружи пропускаются,
// обход завершается, когда луч покидает его.
func (rc *Raycaster) Within(bounds vec.Aab) *Raycaster {
	rc.bounds = &bounds
	return rc
}

// MaxDistance ограничивает обход параметром луча t
func (rc *Raycaster) MaxDistance(t float64) *Raycaster {
	rc.maxT = t
	return rc
}

// Ray возвращает исходный луч
func (rc *Raycaster) Ray() Ray {
	return rc.ray
}

// Next возвращает следующий шаг; ok=false, когда обход закончен
func (rc *Raycaster) Next() (Step, bool) {
	for !rc.done {
		s := rc.advance()
		if s.T > rc.maxT {
			rc.done = true
			break
		}
		if rc.bounds == nil {
			return s, true
		}
		if rc.bounds.Contains(s.Cube) {
			return s, true
		}
		if rc.leftBounds() {
			rc.done = true
		}
	}
	return Step{}, false
}

// All возвращает оставшиеся шаги как итератор
func (rc *Raycaster) All() iter.Seq[Step] {
	return func(yield func(Step) bool) {
		for {
			s, ok := rc.Next()
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// advance делает один шаг без учёта ограничений
func (rc *Raycaster) advance() Step {
	if !rc.started {
		rc.started = true
		return Step{Cube: rc.cube, Face: vec.Within, T: 0}
	}

	// При совпадении параметров оси продвигаются по одной, начиная с
	// меньшей; T у таких шагов одинаковый
	axis := 0
	for i := 1; i < 3; i++ {
		if rc.tNext[i] < rc.tNext[axis] {
			axis = i
		}
	}
	t := rc.tNext[axis]
	rc.cube = rc.cube.With(axis, rc.cube.Get(axis)+rc.step[axis])
	rc.boundary[axis] += rc.step[axis]
	rc.tNext[axis] = rc.boundaryT(axis)
	return Step{Cube: rc.cube, Face: vec.FaceFor(axis, rc.step[axis] < 0), T: t}
}

func (rc *Raycaster) boundaryT(axis int) float64 {
	if rc.step[axis] == 0 {
		return math.Inf(1)
	}
	return (float64(rc.boundary[axis]) - rc.ray.Origin[axis]) / rc.ray.Direction[axis]
}

// leftBounds проверяет, что текущий куб снаружи и луч удаляется от параллелепипеда
// хотя бы по одной оси
func (rc *Raycaster) leftBounds() bool {
	b := rc.bounds
	for i := 0; i < 3; i++ {
		c := rc.cube.Get(i)
		if c < b.Lower.Get(i) && rc.step[i] <= 0 {
			return true
		}
		if c >= b.Upper.Get(i) && rc.step[i] >= 0 {
			return true
		}
	}
	return b.IsEmpty()
}

// Cast перебирает шаги луча до выхода за maxT.
// Ошибка возвращается сразу, если луч вырожден.
func Cast(ray Ray, maxT float64) (iter.Seq[Step], error) {
	rc, err := ray.Cast()
	if err != nil {
		return nil, err
	}
	return rc.MaxDistance(maxT).All(), nil
}
