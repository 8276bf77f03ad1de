package space

import (
	"fmt"
	"math"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/vec"
)

// MaxPaletteCapacity предел палитры: индексы хранятся в uint16
const MaxPaletteCapacity = math.MaxUint16

// Compaction политика удаления неиспользуемых записей палитры
type Compaction uint8

const (
	// CompactImmediate освобождает запись, как только её счётчик падает до нуля
	CompactImmediate Compaction = iota
	// CompactDeferred оставляет записи до явного CompactPalette
	CompactDeferred
)

func (c Compaction) String() string {
	if c == CompactDeferred {
		return "deferred"
	}
	return "immediate"
}

// ParseCompaction разбирает имя политики
func ParseCompaction(s string) (Compaction, error) {
	switch s {
	case "", "immediate":
		return CompactImmediate, nil
	case "deferred":
		return CompactDeferred, nil
	default:
		return 0, fmt.Errorf("неизвестная политика компактации %q", s)
	}
}

// LightPhysics параметры распространения света
type LightPhysics struct {
	SkyEnabled bool
	SkyColor   vec.Rgb
	// SkyDirection грань, со стороны которой находится небо
	SkyDirection vec.Face
	// Falloff множитель на каждый шаг распространения, 0 < Falloff <= 1
	Falloff float32
	// Decrement вычитается из каждого канала на каждом шаге
	Decrement float32
	// Epsilon изменения не больше этого значения не распространяются
	Epsilon float32
	// MaxProbeDistance длина луча к небу; 0 без ограничения
	MaxProbeDistance float64
}

// DefaultLightPhysics параметры по умолчанию
func DefaultLightPhysics() LightPhysics {
	return LightPhysics{
		SkyEnabled:   true,
		SkyColor:     vec.NewRgb(1, 1, 1),
		SkyDirection: vec.PY,
		Falloff:      0.8,
		Epsilon:      1.0 / 256,
	}
}

// Validate проверяет, что свет гарантированно затухает
func (p LightPhysics) Validate() error {
	if !(p.Falloff > 0 && p.Falloff <= 1) {
		return fmt.Errorf("falloff %v вне (0, 1]", p.Falloff)
	}
	if p.Decrement < 0 || math.IsNaN(float64(p.Decrement)) {
		return fmt.Errorf("decrement %v отрицателен", p.Decrement)
	}
	if p.Falloff == 1 && p.Decrement == 0 {
		return fmt.Errorf("свет не затухает: falloff = 1 и decrement = 0")
	}
	if p.Epsilon < 0 || math.IsNaN(float64(p.Epsilon)) {
		return fmt.Errorf("epsilon %v отрицателен", p.Epsilon)
	}
	if p.SkyDirection == vec.Within || p.SkyDirection > vec.PZ {
		return fmt.Errorf("недопустимое направление неба %v", p.SkyDirection)
	}
	if !p.SkyColor.IsFinite() || p.SkyColor.R < 0 || p.SkyColor.G < 0 || p.SkyColor.B < 0 {
		return fmt.Errorf("недопустимый цвет неба %v", p.SkyColor)
	}
	if p.MaxProbeDistance < 0 {
		return fmt.Errorf("max probe distance %v отрицательна", p.MaxProbeDistance)
	}
	return nil
}

// Options параметры пространства
type Options struct {
	// PaletteCapacity максимальное число различных блоков; 0 означает MaxPaletteCapacity
	PaletteCapacity int
	Compaction      Compaction
	Light           LightPhysics
	Metrics         *metrics.Metrics
	Logger          *logging.Logger
}

// DefaultOptions параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		PaletteCapacity: MaxPaletteCapacity,
		Compaction:      CompactImmediate,
		Light:           DefaultLightPhysics(),
	}
}

func (o *Options) normalize() error {
	if o.PaletteCapacity == 0 {
		o.PaletteCapacity = MaxPaletteCapacity
	}
	if o.PaletteCapacity < 1 || o.PaletteCapacity > MaxPaletteCapacity {
		return fmt.Errorf("palette capacity %d вне [1, %d]", o.PaletteCapacity, MaxPaletteCapacity)
	}
	if err := o.Light.Validate(); err != nil {
		return fmt.Errorf("параметры света: %w", err)
	}
	return nil
}
