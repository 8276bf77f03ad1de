package block

import (
	"github.com/annel0/voxel-core/internal/vec"
)

// Opacity агрегированная категория прозрачности блока
type Opacity uint8

const (
	// OpacityInvisible полностью прозрачен
	OpacityInvisible Opacity = iota
	// OpacityPartial состоит из непрозрачных и полностью прозрачных вокселей
	OpacityPartial
	// OpacitySelective содержит полупрозрачные воксели
	OpacitySelective
	// OpacityOpaque все воксели непрозрачны
	OpacityOpaque
)

func (o Opacity) String() string {
	switch o {
	case OpacityInvisible:
		return "Invisible"
	case OpacityPartial:
		return "Partial"
	case OpacitySelective:
		return "Selective"
	case OpacityOpaque:
		return "Opaque"
	default:
		return "Opacity(?)"
	}
}

// Evoxel вычисленный подвоксель блока
type Evoxel struct {
	Color      vec.Rgba
	Emission   vec.Rgb
	Collision  Collision
	Selectable bool
	// Opaque задерживает свет. Для вокселя, полученного из вложенного блока,
	// истинно, если непрозрачен хотя бы один его подвоксель.
	Opaque bool
}

// AirVoxel подвоксель пустоты
var AirVoxel = Evoxel{Collision: CollisionNone}

// IsEmpty проверяет, что воксель ничем не отличается от пустоты
func (v Evoxel) IsEmpty() bool {
	return !v.Opaque && v.Color.A <= 0 && v.Emission.IsZero() && v.Collision == CollisionNone
}

// EvaluatedBlock неизменяемый результат вычисления блока. Экземпляры
// разделяются всеми ячейками, ссылающимися на один и тот же блок, и не
// должны изменяться после создания.
type EvaluatedBlock struct {
	Attributes Attributes
	// Color усреднённый по площади цвет (с учётом альфы)
	Color vec.Rgba
	// Emission среднее излучение подвокселей
	Emission   vec.Rgb
	Resolution Resolution
	// Voxels подвоксели в порядке vec.ForBlock(Resolution).Index
	Voxels  []Evoxel
	Opacity Opacity
	// Bounds непустые подвоксели; пуст, если таких нет
	Bounds vec.Aab
	// OpaqueFaces грани, полностью закрытые непрозрачными подвокселями
	OpaqueFaces vec.FaceMap[bool]
	AnyOpaque   bool
	Visible     bool
	// Animated блок изменится сам на следующем тике (см. Block.Step)
	Animated bool
}

// IsOpaque проверяет, что блок целиком задерживает свет
func (e *EvaluatedBlock) IsOpaque() bool {
	return e.Opacity == OpacityOpaque
}

// Voxel возвращает подвоксель по координате внутри блока
func (e *EvaluatedBlock) Voxel(c vec.Vec3) (Evoxel, bool) {
	bounds := vec.ForBlock(int(e.Resolution))
	if !bounds.Contains(c) {
		return Evoxel{}, false
	}
	return e.Voxels[bounds.Index(c)], true
}

// HasCollision проверяет, есть ли у блока хотя бы один непроходимый подвоксель
func (e *EvaluatedBlock) HasCollision() bool {
	for _, v := range e.Voxels {
		if v.Collision == CollisionHard {
			return true
		}
	}
	return false
}

// AsVoxel сворачивает блок в один подвоксель родительского блока
func (e *EvaluatedBlock) AsVoxel() Evoxel {
	collision := CollisionNone
	if e.HasCollision() {
		collision = CollisionHard
	}
	return Evoxel{
		Color:      e.Color,
		Emission:   e.Emission,
		Collision:  collision,
		Selectable: e.Attributes.Selectable,
		Opaque:     e.AnyOpaque,
	}
}

// atomVoxel подвоксель атома
func atomVoxel(a Atom) Evoxel {
	color := a.Color.Clamp()
	return Evoxel{
		Color:      color,
		Emission:   a.Emission.Clamp(0, maxEmission),
		Collision:  a.Collision,
		Selectable: a.Attributes.Selectable,
		Opaque:     color.IsOpaque(),
	}
}

// maxEmission верхняя граница излучения одного вокселя
const maxEmission = 64

// fromVoxels строит агрегаты по массиву подвокселей
func fromVoxels(attrs Attributes, res Resolution, voxels []Evoxel) *EvaluatedBlock {
	ev := &EvaluatedBlock{
		Attributes: attrs,
		Resolution: res,
		Voxels:     voxels,
	}

	n := float32(len(voxels))
	var colorSum vec.Rgb
	var alphaSum float32
	var emissionSum vec.Rgb
	allOpaque := true
	anySelective := false
	anyVisible := false
	first := true
	blockBounds := vec.ForBlock(int(res))

	for i, v := range voxels {
		colorSum = colorSum.Add(v.Color.ToRgb().Scale(v.Color.A))
		alphaSum += v.Color.A
		emissionSum = emissionSum.Add(v.Emission)

		if v.Opaque {
			ev.AnyOpaque = true
		} else {
			allOpaque = false
			if v.Color.A > 0 {
				anySelective = true
			}
		}
		if v.Opaque || v.Color.A > 0 {
			anyVisible = true
		}
		if !v.IsEmpty() {
			c := blockBounds.CubeAt(i)
			if first {
				ev.Bounds = vec.SingleCube(c)
				first = false
			} else {
				ev.Bounds = ev.Bounds.Expand(c)
			}
		}
	}

	if alphaSum > 0 {
		ev.Color = colorSum.Scale(1 / alphaSum).WithAlpha(alphaSum / n)
	}
	ev.Emission = emissionSum.Scale(1 / n)
	ev.Visible = anyVisible

	switch {
	case allOpaque:
		ev.Opacity = OpacityOpaque
	case !anyVisible:
		ev.Opacity = OpacityInvisible
	case anySelective:
		ev.Opacity = OpacitySelective
	default:
		ev.Opacity = OpacityPartial
	}

	for _, f := range vec.Faces6 {
		ev.OpaqueFaces.Set(f, faceOpaque(blockBounds, voxels, f))
	}
	return ev
}

// faceOpaque проверяет, что слой подвокселей у грани f полностью непрозрачен
func faceOpaque(bounds vec.Aab, voxels []Evoxel, f vec.Face) bool {
	axis := f.Axis()
	layer := bounds.Lower.Get(axis)
	if f.IsPositive() {
		layer = bounds.Upper.Get(axis) - 1
	}
	for c := range bounds.Cubes() {
		if c.Get(axis) != layer {
			continue
		}
		if !voxels[bounds.Index(c)].Opaque {
			return false
		}
	}
	return true
}

// evaluateAir результат для пустого блока
func evaluateAir() *EvaluatedBlock {
	ev := fromVoxels(Attributes{}, R1, []Evoxel{AirVoxel})
	return ev
}

// evaluateAtom результат для атома
func evaluateAtom(a Atom) *EvaluatedBlock {
	return fromVoxels(a.Attributes, R1, []Evoxel{atomVoxel(a)})
}

// placeholderColor цвет блока, который не удалось вычислить
var placeholderColor = vec.NewRgba(1, 0, 1, 1)

// Placeholder результат, подставляемый в пространство вместо блока с
// ошибкой вычисления: непрозрачный и непроходимый.
func Placeholder(err error) *EvaluatedBlock {
	name := "invalid block"
	if err != nil {
		name = err.Error()
	}
	return evaluateAtom(Atom{
		Attributes: Attributes{DisplayName: name},
		Color:      placeholderColor,
		Collision:  CollisionHard,
	})
}
