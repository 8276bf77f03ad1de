package block

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/cespare/xxhash/v2"
)

// Resolution количество подвокселей по каждой оси рекурсивного блока.
// Допустимы степени двойки от 1 до 128.
type Resolution uint8

const (
	R1   Resolution = 1
	R2   Resolution = 2
	R4   Resolution = 4
	R8   Resolution = 8
	R16  Resolution = 16
	R32  Resolution = 32
	R64  Resolution = 64
	R128 Resolution = 128
)

// IsValid проверяет, что разрешение является степенью двойки в допустимом диапазоне
func (r Resolution) IsValid() bool {
	return r != 0 && r&(r-1) == 0
}

// Collision класс столкновений вокселя
type Collision uint8

const (
	// CollisionHard воксель непроходим
	CollisionHard Collision = iota
	// CollisionNone воксель проходим
	CollisionNone
)

// AnimationHint подсказка рендереру о том, насколько часто блок будет меняться
type AnimationHint uint8

const (
	AnimationNone AnimationHint = iota
	// AnimationRedefinition определение блока будет часто меняться
	AnimationRedefinition
	// AnimationReplacement блок будет часто заменяться другим
	AnimationReplacement
)

// Attributes свойства блока, не влияющие на форму
type Attributes struct {
	DisplayName string
	Selectable  bool
	Animation   AnimationHint
}

// DefaultAttributes атрибуты по умолчанию
var DefaultAttributes = Attributes{Selectable: true}

// Primitive основа блока. Набор вариантов закрыт:
// AirPrimitive, Atom, Recur и Indirect.
type Primitive interface {
	isPrimitive()
}

// AirPrimitive пустота: невидима, проходима, не задерживает свет
type AirPrimitive struct{}

// Atom блок одного цвета
type Atom struct {
	Attributes Attributes
	Color      vec.Rgba
	// Emission собственное излучение блока
	Emission  vec.Rgb
	Collision Collision
}

// Recur блок, заданный фрагментом сетки Grid в Universe: кубы
// [Offset, Offset+Resolution)^3 сетки становятся подвокселями блока.
type Recur struct {
	Attributes Attributes
	Grid       GridID
	Offset     vec.Vec3
	Resolution Resolution
}

// Indirect ссылка на именованное изменяемое определение в Universe
type Indirect struct {
	Def DefID
}

func (AirPrimitive) isPrimitive() {}
func (Atom) isPrimitive()         {}
func (Recur) isPrimitive()        {}
func (Indirect) isPrimitive()     {}

// Quote подавляет активное поведение блока
type Quote struct {
	Enabled bool
	// Ambient дополнительно гасит собственное излучение
	Ambient bool
}

// Move смещение блока за пределы его куба; основа анимации перемещения
type Move struct {
	// Direction направление смещения; Within означает отсутствие смещения
	Direction vec.Face
	// Distance смещение в 1/256 размера блока
	Distance uint16
	// Velocity изменение Distance за один тик
	Velocity int16
}

// IsZero проверяет отсутствие смещения
func (m Move) IsZero() bool {
	return m.Direction == vec.Within
}

// Modifiers преобразования, применяемые к примитиву в порядке:
// поворот, смещение, Quote.
type Modifiers struct {
	Rotation vec.GridRotation
	Move     Move
	Quote    Quote
}

// Block значение блока: примитив и модификаторы. Сравнимо через ==
// и пригодно как ключ map.
type Block struct {
	Primitive Primitive
	Modifiers Modifiers
}

// Air пустой блок
var Air = Block{Primitive: AirPrimitive{}}

// FromColor создаёт непрозрачный (при A=1) блок заданного цвета
func FromColor(c vec.Rgba) Block {
	return Block{Primitive: Atom{Attributes: DefaultAttributes, Color: c, Collision: CollisionHard}}
}

// NewAtom создаёт блок из описания атома
func NewAtom(a Atom) Block {
	return Block{Primitive: a}
}

// NewRecur создаёт рекурсивный блок
func NewRecur(attrs Attributes, grid GridID, offset vec.Vec3, res Resolution) Block {
	return Block{Primitive: Recur{Attributes: attrs, Grid: grid, Offset: offset, Resolution: res}}
}

// NewIndirect создаёт блок-ссылку на определение
func NewIndirect(def DefID) Block {
	return Block{Primitive: Indirect{Def: def}}
}

// Normalize заменяет отсутствующий примитив на AirPrimitive
func (b Block) Normalize() Block {
	if b.Primitive == nil {
		b.Primitive = AirPrimitive{}
	}
	if b.Modifiers.Rotation >= vec.RotationCount {
		b.Modifiers.Rotation = vec.Identity
	}
	return b
}

// IsAir проверяет, что блок пустой и без модификаторов
func (b Block) IsAir() bool {
	return b.Normalize() == Air
}

// Rotate возвращает блок, дополнительно повёрнутый на r
func (b Block) Rotate(r vec.GridRotation) Block {
	b = b.Normalize()
	b.Modifiers.Rotation = r.Compose(b.Modifiers.Rotation)
	return b
}

// WithQuote возвращает блок с модификатором Quote
func (b Block) WithQuote(ambient bool) Block {
	b = b.Normalize()
	b.Modifiers.Quote = Quote{Enabled: true, Ambient: ambient}
	return b
}

// WithMove возвращает блок со смещением
func (b Block) WithMove(m Move) Block {
	b = b.Normalize()
	b.Modifiers.Move = m
	return b
}

// Unmodified возвращает примитив без модификаторов
func (b Block) Unmodified() Block {
	return Block{Primitive: b.Normalize().Primitive}
}

// PairedMove создаёт пару смещений: первое для уходящего блока,
// второе для пустоты, в которую он входит.
func PairedMove(direction vec.Face, distance uint16, velocity int16) (Move, Move) {
	return Move{Direction: direction, Distance: distance, Velocity: velocity},
		Move{Direction: direction.Opposite(), Distance: 256 - distance, Velocity: -velocity}
}

// Key ключ кэша вычислений: блок без поворота и сам поворот
type Key struct {
	Block    Block
	Rotation vec.GridRotation
}

// Key возвращает ключ кэша для блока
func (b Block) Key() Key {
	b = b.Normalize()
	r := b.Modifiers.Rotation
	b.Modifiers.Rotation = vec.Identity
	return Key{Block: b, Rotation: r}
}

// ToBlock восстанавливает блок из ключа
func (k Key) ToBlock() Block {
	b := k.Block
	b.Modifiers.Rotation = k.Rotation
	return b
}

// ID возвращает содержательный идентификатор блока: одинаковые блоки
// имеют одинаковый ID независимо от места и времени создания.
func (b Block) ID() uint64 {
	return xxhash.Sum64(b.AppendIdentity(nil))
}

// AppendIdentity дописывает каноническое двоичное представление блока
func (b Block) AppendIdentity(buf []byte) []byte {
	b = b.Normalize()
	switch p := b.Primitive.(type) {
	case AirPrimitive:
		buf = append(buf, 'A')
	case Atom:
		buf = append(buf, 'T')
		buf = appendAttributes(buf, p.Attributes)
		buf = appendFloats(buf, p.Color.R, p.Color.G, p.Color.B, p.Color.A)
		buf = appendFloats(buf, p.Emission.R, p.Emission.G, p.Emission.B)
		buf = append(buf, byte(p.Collision))
	case Recur:
		buf = append(buf, 'R')
		buf = appendAttributes(buf, p.Attributes)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Grid))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p.Offset.X)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p.Offset.Y)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(p.Offset.Z)))
		buf = append(buf, byte(p.Resolution))
	case Indirect:
		buf = append(buf, 'I')
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Def))
	}
	m := b.Modifiers
	buf = append(buf, byte(m.Rotation), byte(m.Move.Direction))
	buf = binary.LittleEndian.AppendUint16(buf, m.Move.Distance)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.Move.Velocity))
	buf = append(buf, boolByte(m.Quote.Enabled), boolByte(m.Quote.Ambient))
	return buf
}

// String возвращает краткое описание блока для логов
func (b Block) String() string {
	b = b.Normalize()
	var s string
	switch p := b.Primitive.(type) {
	case AirPrimitive:
		s = "Air"
	case Atom:
		if p.Attributes.DisplayName != "" {
			s = fmt.Sprintf("Atom(%q)", p.Attributes.DisplayName)
		} else {
			s = fmt.Sprintf("Atom(%.2f,%.2f,%.2f,%.2f)", p.Color.R, p.Color.G, p.Color.B, p.Color.A)
		}
	case Recur:
		s = fmt.Sprintf("Recur(grid=%d, offset=%v, res=%d)", p.Grid, p.Offset, p.Resolution)
	case Indirect:
		s = fmt.Sprintf("Indirect(%d)", p.Def)
	}
	if m := b.Modifiers; m.Rotation != vec.Identity {
		s += "." + m.Rotation.String()
	}
	if m := b.Modifiers.Move; !m.IsZero() {
		s += fmt.Sprintf(".Move(%v,%d,%d)", m.Direction, m.Distance, m.Velocity)
	}
	if b.Modifiers.Quote.Enabled {
		s += ".Quote"
	}
	return s
}

// Step продвигает анимацию смещения на один тик; res задаёт эффективное
// разрешение вычисленного блока. Возвращает новый блок и признак изменения.
func (b Block) Step(res Resolution) (Block, bool) {
	b = b.Normalize()
	m := b.Modifiers.Move
	if m.IsZero() {
		return b, false
	}
	if res == 0 {
		res = R16
	}

	shift := int(m.Distance) * int(res) / 256
	switch {
	case shift >= int(res) && m.Velocity >= 0:
		// Смещён за пределы видимости и не вернётся
		return Air, true
	case shift == 0 && m.Velocity == 0, m.Distance == 0 && m.Velocity < 0:
		// Смещение закончено
		b.Modifiers.Move = Move{}
		return b, true
	case m.Velocity != 0:
		d := int(m.Distance) + int(m.Velocity)
		b.Modifiers.Move.Distance = uint16(min(max(d, 0), math.MaxUint16))
		return b, true
	default:
		return b, false
	}
}

func appendAttributes(buf []byte, a Attributes) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.DisplayName)))
	buf = append(buf, a.DisplayName...)
	return append(buf, boolByte(a.Selectable), byte(a.Animation))
}

func appendFloats(buf []byte, vs ...float32) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
