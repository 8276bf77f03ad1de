package block

import (
	"github.com/annel0/voxel-core/internal/vec"
)

// moveResolution разрешение, до которого дробится атом при смещении
const moveResolution = R16

// applyRotation поворачивает подвоксели. Агрегаты не зависят от поворота,
// кроме граней и границ, поэтому пересчитываются целиком.
func applyRotation(in *EvaluatedBlock, r vec.GridRotation) *EvaluatedBlock {
	if r == vec.Identity || in.Resolution == R1 {
		out := *in
		return &out
	}
	size := int(in.Resolution)
	bounds := vec.ForBlock(size)
	voxels := make([]Evoxel, len(in.Voxels))
	for c := range bounds.Cubes() {
		voxels[bounds.Index(r.TransformCube(c, size))] = in.Voxels[bounds.Index(c)]
	}
	out := fromVoxels(in.Attributes, in.Resolution, voxels)
	out.Animated = in.Animated
	return out
}

// applyMove смещает подвоксели на m.Distance/256 блока в направлении m.Direction.
// Вытесненные за пределы куба подвоксели обрезаются.
func applyMove(in *EvaluatedBlock, m Move) *EvaluatedBlock {
	res := in.Resolution
	voxels := in.Voxels
	if res == R1 {
		res = moveResolution
		voxels = make([]Evoxel, vec.ForBlock(int(res)).Volume())
		for i := range voxels {
			voxels[i] = in.Voxels[0]
		}
	}

	size := int(res)
	shift := int(m.Distance) * size / 256
	attrs := in.Attributes
	if shift >= size {
		out := fromVoxels(attrs, R1, []Evoxel{AirVoxel})
		return out
	}

	translation := m.Direction.Normal().Mul(shift)
	bounds := vec.ForBlock(size)
	displaced := make([]Evoxel, len(voxels))
	for c := range bounds.Cubes() {
		src := c.Sub(translation)
		if bounds.Contains(src) {
			displaced[bounds.Index(c)] = voxels[bounds.Index(src)]
		} else {
			displaced[bounds.Index(c)] = AirVoxel
		}
	}
	return fromVoxels(attrs, res, displaced)
}

// applyQuote гасит анимацию и, при ambient, собственное излучение
func applyQuote(in *EvaluatedBlock, q Quote) *EvaluatedBlock {
	if !q.Ambient {
		out := *in
		out.Animated = false
		return &out
	}
	voxels := make([]Evoxel, len(in.Voxels))
	for i, v := range in.Voxels {
		v.Emission = vec.RgbZero
		voxels[i] = v
	}
	return fromVoxels(in.Attributes, in.Resolution, voxels)
}
