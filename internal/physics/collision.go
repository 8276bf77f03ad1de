// Package physics отвечает на вопросы о занятости пространства: помещается
// ли коллайдер в ячейки и где луч впервые упирается в непроходимый блок.
package physics

import (
	"github.com/annel0/voxel-core/internal/raycast"
	"github.com/annel0/voxel-core/internal/vec"
)

// OccupancyReader источник сведений о непроходимых ячейках.
// Реализуется space.Space.
type OccupancyReader interface {
	Bounds() vec.Aab
	Collision(cube vec.Vec3) bool
}

// BoxCollider представляет прямоугольный коллайдер, измеряемый в блоках
type BoxCollider struct {
	Size vec.Vec3
}

// NewBoxCollider создаёт новый коллайдер с указанными размерами
func NewBoxCollider(width, height, depth int) *BoxCollider {
	return &BoxCollider{Size: vec.NewVec3(max(width, 1), max(height, 1), max(depth, 1))}
}

// Bounds возвращает ячейки, занятые коллайдером с центром в pos.
// Для чётных размеров центр смещён к нижнему углу.
func (bc *BoxCollider) Bounds(pos vec.Vec3) vec.Aab {
	half := vec.NewVec3(bc.Size.X/2, bc.Size.Y/2, bc.Size.Z/2)
	return vec.MustAab(pos.Sub(half), bc.Size)
}

// IsPointInside проверяет, находится ли ячейка внутри коллайдера
func (bc *BoxCollider) IsPointInside(colliderPos, point vec.Vec3) bool {
	return bc.Bounds(colliderPos).Contains(point)
}

// CheckBoxCollision проверяет пересечение двух коллайдеров
func CheckBoxCollision(pos1 vec.Vec3, collider1 *BoxCollider, pos2 vec.Vec3, collider2 *BoxCollider) bool {
	_, ok := collider1.Bounds(pos1).Intersection(collider2.Bounds(pos2))
	return ok
}

// CanMoveToPosition проверяет, может ли коллайдер занять позицию newPos.
// Ячейки вне границ пространства считаются непроходимыми.
func CanMoveToPosition(newPos vec.Vec3, collider *BoxCollider, world OccupancyReader) bool {
	box := collider.Bounds(newPos)
	if !world.Bounds().ContainsAab(box) {
		return false
	}
	for c := range box.Cubes() {
		if world.Collision(c) {
			return false
		}
	}
	return true
}

// FirstHit возвращает первый шаг луча, вошедший в непроходимую ячейку.
// maxDistance <= 0 снимает ограничение длины.
func FirstHit(world OccupancyReader, ray raycast.Ray, maxDistance float64) (raycast.Step, bool, error) {
	rc, err := ray.Cast()
	if err != nil {
		return raycast.Step{}, false, err
	}
	rc.Within(world.Bounds())
	if maxDistance > 0 {
		rc.MaxDistance(maxDistance)
	}
	for step := range rc.All() {
		if world.Collision(step.Cube) {
			return step, true, nil
		}
	}
	return raycast.Step{}, false, nil
}
