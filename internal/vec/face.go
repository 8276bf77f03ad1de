package vec

import "strings"

// Face обозначает грань куба или её отсутствие (Within).
// Within используется для начального куба луча, в котором находится его начало.
type Face uint8

const (
	Within Face = iota
	NX
	NY
	NZ
	PX
	PY
	PZ
)

// Faces6 все шесть граней куба в фиксированном порядке
var Faces6 = [6]Face{NX, NY, NZ, PX, PY, PZ}

// FaceFor возвращает грань для оси и направления
func FaceFor(axis int, positive bool) Face {
	if positive {
		return PX + Face(axis)
	}
	return NX + Face(axis)
}

// Axis возвращает номер оси грани (0=X, 1=Y, 2=Z). Для Within возвращает -1.
func (f Face) Axis() int {
	switch f {
	case NX, PX:
		return 0
	case NY, PY:
		return 1
	case NZ, PZ:
		return 2
	default:
		return -1
	}
}

// IsPositive проверяет, направлена ли грань в положительную сторону оси
func (f Face) IsPositive() bool {
	return f == PX || f == PY || f == PZ
}

// Opposite возвращает противоположную грань
func (f Face) Opposite() Face {
	switch f {
	case NX:
		return PX
	case NY:
		return PY
	case NZ:
		return PZ
	case PX:
		return NX
	case PY:
		return NY
	case PZ:
		return NZ
	default:
		return Within
	}
}

// Normal возвращает единичный вектор нормали грани
func (f Face) Normal() Vec3 {
	switch f {
	case NX:
		return Vec3{X: -1}
	case NY:
		return Vec3{Y: -1}
	case NZ:
		return Vec3{Z: -1}
	case PX:
		return Vec3{X: 1}
	case PY:
		return Vec3{Y: 1}
	case PZ:
		return Vec3{Z: 1}
	default:
		return Vec3{}
	}
}

// Index возвращает индекс грани в Faces6 (0..5); для Within возвращает -1
func (f Face) Index() int {
	if f == Within || f > PZ {
		return -1
	}
	return int(f) - 1
}

// String возвращает строковое представление
func (f Face) String() string {
	switch f {
	case Within:
		return "Within"
	case NX:
		return "NX"
	case NY:
		return "NY"
	case NZ:
		return "NZ"
	case PX:
		return "PX"
	case PY:
		return "PY"
	case PZ:
		return "PZ"
	default:
		return "Face(?)"
	}
}

// ParseFace разбирает имя грани ("PY", "nx", ...)
func ParseFace(s string) (Face, bool) {
	for _, f := range Faces6 {
		if strings.EqualFold(f.String(), s) {
			return f, true
		}
	}
	return Within, false
}

// FaceMap хранит значение для каждой из шести граней
type FaceMap[T any] [6]T

// Get возвращает значение для грани
func (m FaceMap[T]) Get(f Face) T {
	return m[f.Index()]
}

// Set устанавливает значение для грани
func (m *FaceMap[T]) Set(f Face, v T) {
	m[f.Index()] = v
}
