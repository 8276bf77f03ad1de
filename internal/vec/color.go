package vec

import "math"

// Rgb линейный цвет без прозрачности; также используется для интенсивности света
type Rgb struct {
	R float32
	G float32
	B float32
}

// Rgba линейный цвет с прозрачностью (A=1 полностью непрозрачен)
type Rgba struct {
	R float32
	G float32
	B float32
	A float32
}

var (
	// RgbZero отсутствие света
	RgbZero = Rgb{}
	// RgbOne единичный белый свет
	RgbOne = Rgb{R: 1, G: 1, B: 1}
	// Transparent полностью прозрачный цвет
	Transparent = Rgba{}
	// White непрозрачный белый
	White = Rgba{R: 1, G: 1, B: 1, A: 1}
	// Black непрозрачный черный
	Black = Rgba{A: 1}
)

// NewRgb создаёт цвет
func NewRgb(r, g, b float32) Rgb {
	return Rgb{R: r, G: g, B: b}
}

// NewRgba создаёт цвет с прозрачностью
func NewRgba(r, g, b, a float32) Rgba {
	return Rgba{R: r, G: g, B: b, A: a}
}

// Add складывает цвета покомпонентно
func (c Rgb) Add(o Rgb) Rgb {
	return Rgb{R: c.R + o.R, G: c.G + o.G, B: c.B + o.B}
}

// Scale умножает цвет на скаляр
func (c Rgb) Scale(k float32) Rgb {
	return Rgb{R: c.R * k, G: c.G * k, B: c.B * k}
}

// Mul умножает цвета покомпонентно
func (c Rgb) Mul(o Rgb) Rgb {
	return Rgb{R: c.R * o.R, G: c.G * o.G, B: c.B * o.B}
}

// Max возвращает покомпонентный максимум
func (c Rgb) Max(o Rgb) Rgb {
	return Rgb{R: max(c.R, o.R), G: max(c.G, o.G), B: max(c.B, o.B)}
}

// Clamp ограничивает компоненты отрезком [lo, hi]
func (c Rgb) Clamp(lo, hi float32) Rgb {
	return Rgb{R: clamp32(c.R, lo, hi), G: clamp32(c.G, lo, hi), B: clamp32(c.B, lo, hi)}
}

// MaxComponent возвращает наибольшую компоненту
func (c Rgb) MaxComponent() float32 {
	return max(c.R, c.G, c.B)
}

// IsZero проверяет отсутствие света
func (c Rgb) IsZero() bool {
	return c.R == 0 && c.G == 0 && c.B == 0
}

// IsFinite проверяет, что компоненты конечны и не NaN
func (c Rgb) IsFinite() bool {
	return finite32(c.R) && finite32(c.G) && finite32(c.B)
}

// WithAlpha добавляет альфа-канал
func (c Rgb) WithAlpha(a float32) Rgba {
	return Rgba{R: c.R, G: c.G, B: c.B, A: a}
}

// ToRgb отбрасывает альфа-канал
func (c Rgba) ToRgb() Rgb {
	return Rgb{R: c.R, G: c.G, B: c.B}
}

// IsOpaque проверяет полную непрозрачность
func (c Rgba) IsOpaque() bool {
	return c.A >= 1
}

// IsInvisible проверяет полную прозрачность
func (c Rgba) IsInvisible() bool {
	return c.A <= 0
}

// IsFinite проверяет, что компоненты конечны и не NaN
func (c Rgba) IsFinite() bool {
	return finite32(c.R) && finite32(c.G) && finite32(c.B) && finite32(c.A)
}

// Clamp приводит компоненты к допустимому диапазону: цвет неотрицателен, альфа в [0, 1]
func (c Rgba) Clamp() Rgba {
	return Rgba{
		R: max(c.R, 0),
		G: max(c.G, 0),
		B: max(c.B, 0),
		A: clamp32(c.A, 0, 1),
	}
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
