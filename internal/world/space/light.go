package space

import (
	"fmt"
	"math"

	"github.com/annel0/voxel-core/internal/vec"
)

// lightScale число шагов квантования на единицу яркости
const lightScale = 64

// MaxLight наибольшее представимое значение канала
const MaxLight = float32(math.MaxUint8) / lightScale

// LightStatus происхождение значения света ячейки
type LightStatus uint8

const (
	// LightUninitialized ячейка ещё ни разу не вычислялась
	LightUninitialized LightStatus = iota
	// LightNoRays ячейка прозрачна, но ни один луч не дал вклада
	LightNoRays
	// LightOpaque ячейка занята непрозрачным блоком и не хранит свет
	LightOpaque
	// LightVisible значение вычислено
	LightVisible
)

func (s LightStatus) String() string {
	switch s {
	case LightUninitialized:
		return "Uninitialized"
	case LightNoRays:
		return "NoRays"
	case LightOpaque:
		return "Opaque"
	case LightVisible:
		return "Visible"
	default:
		return fmt.Sprintf("LightStatus(%d)", s)
	}
}

// PackedLight свет ячейки в фиксированной точке 1/64
type PackedLight struct {
	R, G, B uint8
	Status  LightStatus
	// Sky ячейка видит небо напрямую
	Sky bool
}

// Blocked значение непрозрачной ячейки
var Blocked = PackedLight{Status: LightOpaque}

// UninitializedLight начальное значение ячейки
var UninitializedLight = PackedLight{Status: LightUninitialized}

// PackLight квантует цвет; каналы округляются вниз и насыщаются на MaxLight
func PackLight(c vec.Rgb, sky bool) PackedLight {
	status := LightVisible
	if c.IsZero() {
		status = LightNoRays
	}
	return PackedLight{
		R:      quantize(c.R),
		G:      quantize(c.G),
		B:      quantize(c.B),
		Status: status,
		Sky:    sky,
	}
}

func quantize(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	q := math.Floor(float64(v) * lightScale)
	if q >= math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(q)
}

// Value возвращает цвет света
func (p PackedLight) Value() vec.Rgb {
	return vec.NewRgb(float32(p.R)/lightScale, float32(p.G)/lightScale, float32(p.B)/lightScale)
}

// IsBlocked проверяет, что ячейка непрозрачна
func (p PackedLight) IsBlocked() bool {
	return p.Status == LightOpaque
}

// contributes проверяет, может ли ячейка передавать свет соседям
func (p PackedLight) contributes() bool {
	return p.Status == LightVisible || p.Status == LightNoRays
}

func (p PackedLight) String() string {
	if p.Status != LightVisible {
		return p.Status.String()
	}
	sky := ""
	if p.Sky {
		sky = " sky"
	}
	return fmt.Sprintf("light(%d,%d,%d%s)", p.R, p.G, p.B, sky)
}

// differs сравнивает значения с допуском eps по каждому каналу
func (p PackedLight) differs(other PackedLight, eps float32) bool {
	return p.Status != other.Status || p.propagates(other, eps)
}

// propagates проверяет изменение, видимое соседним ячейкам. Для соседей
// непрозрачная и неинициализированная ячейки равносильны нулевому свету.
func (p PackedLight) propagates(other PackedLight, eps float32) bool {
	if p.Sky != other.Sky {
		return true
	}
	a, b := p.Value(), other.Value()
	return abs32(a.R-b.R) > eps || abs32(a.G-b.G) > eps || abs32(a.B-b.B) > eps
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// LightState этап пересчёта света ячейки
type LightState uint8

const (
	LightUnknown LightState = iota
	LightQueued
	LightComputing
	LightSettled
)

func (s LightState) String() string {
	switch s {
	case LightUnknown:
		return "Unknown"
	case LightQueued:
		return "Queued"
	case LightComputing:
		return "Computing"
	case LightSettled:
		return "Settled"
	default:
		return fmt.Sprintf("LightState(%d)", s)
	}
}
