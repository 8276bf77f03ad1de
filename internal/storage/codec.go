package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

// Имена типов в поле "type" сериализованных объектов
const (
	typeSpaceV1    = "SpaceV1"
	typeUniverseV1 = "UniverseV1"
	typeAirV1      = "AirV1"
	typeAtomV1     = "AtomV1"
	typeRecurV1    = "RecurV1"
	typeIndirectV1 = "IndirectV1"
)

// lightRecordSize байт на значение света: R, G, B, статус, небо
const lightRecordSize = 5

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// AabV1 целочисленный параллелепипед
type AabV1 struct {
	Lower [3]int `json:"lower"`
	Size  [3]int `json:"size"`
}

// AttributesV1 атрибуты блока
type AttributesV1 struct {
	DisplayName string `json:"display_name,omitempty"`
	Selectable  bool   `json:"selectable"`
	Animation   uint8  `json:"animation,omitempty"`
}

// MoveV1 модификатор смещения
type MoveV1 struct {
	Direction string `json:"direction"`
	Distance  uint16 `json:"distance"`
	Velocity  int16  `json:"velocity"`
}

// QuoteV1 модификатор Quote
type QuoteV1 struct {
	Ambient bool `json:"ambient"`
}

// BlockV1 блок. Поля примитива заполняются в зависимости от Type.
type BlockV1 struct {
	Type       string        `json:"type"`
	Attributes *AttributesV1 `json:"attributes,omitempty"`
	Color      *[4]float32   `json:"color,omitempty"`
	Emission   *[3]float32   `json:"emission,omitempty"`
	Collision  string        `json:"collision,omitempty"`
	Grid       uint32        `json:"grid,omitempty"`
	Offset     *[3]int       `json:"offset,omitempty"`
	Resolution uint8         `json:"resolution,omitempty"`
	Def        uint32        `json:"def,omitempty"`

	Rotation uint8    `json:"rotation,omitempty"`
	Move     *MoveV1  `json:"move,omitempty"`
	Quote    *QuoteV1 `json:"quote,omitempty"`
}

// SpaceV1 снимок пространства. Contents и Light сжаты zstd; Contents
// хранит индексы палитры как little-endian uint16.
type SpaceV1 struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Bounds   AabV1     `json:"bounds"`
	Palette  []BlockV1 `json:"palette"`
	Contents []byte    `json:"contents"`
	Light    []byte    `json:"light,omitempty"`
	// Checksum xxhash несжатых Contents и Light
	Checksum uint64 `json:"checksum"`
}

// DefV1 именованное определение
type DefV1 struct {
	ID    uint32  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Block BlockV1 `json:"block"`
}

// GridV1 сетка подвокселей в виде палитры и сжатых индексов
type GridV1 struct {
	ID       uint32    `json:"id"`
	Bounds   AabV1     `json:"bounds"`
	Palette  []BlockV1 `json:"palette"`
	Contents []byte    `json:"contents"`
}

// UniverseV1 содержимое арены определений
type UniverseV1 struct {
	Type  string   `json:"type"`
	Defs  []DefV1  `json:"defs"`
	Grids []GridV1 `json:"grids"`
}

func encodeAab(a vec.Aab) AabV1 {
	s := a.Size()
	return AabV1{Lower: [3]int{a.Lower.X, a.Lower.Y, a.Lower.Z}, Size: [3]int{s.X, s.Y, s.Z}}
}

func decodeAab(a AabV1) (vec.Aab, error) {
	return vec.NewAab(vec.NewVec3(a.Lower[0], a.Lower[1], a.Lower[2]), vec.NewVec3(a.Size[0], a.Size[1], a.Size[2]))
}

func encodeAttributes(a block.Attributes) *AttributesV1 {
	return &AttributesV1{DisplayName: a.DisplayName, Selectable: a.Selectable, Animation: uint8(a.Animation)}
}

func decodeAttributes(a *AttributesV1) block.Attributes {
	if a == nil {
		return block.DefaultAttributes
	}
	return block.Attributes{DisplayName: a.DisplayName, Selectable: a.Selectable, Animation: block.AnimationHint(a.Animation)}
}

func encodeCollision(c block.Collision) string {
	if c == block.CollisionNone {
		return "none"
	}
	return "hard"
}

func decodeCollision(s string) (block.Collision, error) {
	switch s {
	case "", "hard":
		return block.CollisionHard, nil
	case "none":
		return block.CollisionNone, nil
	default:
		return 0, fmt.Errorf("неизвестный класс столкновений %q", s)
	}
}

// EncodeBlock переводит блок в схему BlockV1
func EncodeBlock(b block.Block) BlockV1 {
	b = b.Normalize()
	var out BlockV1
	switch p := b.Primitive.(type) {
	case block.AirPrimitive:
		out.Type = typeAirV1
	case block.Atom:
		out.Type = typeAtomV1
		out.Attributes = encodeAttributes(p.Attributes)
		out.Color = &[4]float32{p.Color.R, p.Color.G, p.Color.B, p.Color.A}
		if !p.Emission.IsZero() {
			out.Emission = &[3]float32{p.Emission.R, p.Emission.G, p.Emission.B}
		}
		out.Collision = encodeCollision(p.Collision)
	case block.Recur:
		out.Type = typeRecurV1
		out.Attributes = encodeAttributes(p.Attributes)
		out.Grid = uint32(p.Grid)
		out.Offset = &[3]int{p.Offset.X, p.Offset.Y, p.Offset.Z}
		out.Resolution = uint8(p.Resolution)
	case block.Indirect:
		out.Type = typeIndirectV1
		out.Def = uint32(p.Def)
	}

	m := b.Modifiers
	out.Rotation = uint8(m.Rotation)
	if !m.Move.IsZero() {
		out.Move = &MoveV1{Direction: m.Move.Direction.String(), Distance: m.Move.Distance, Velocity: m.Move.Velocity}
	}
	if m.Quote.Enabled {
		out.Quote = &QuoteV1{Ambient: m.Quote.Ambient}
	}
	return out
}

// DecodeBlock восстанавливает блок из схемы BlockV1
func DecodeBlock(in BlockV1) (block.Block, error) {
	var b block.Block
	switch in.Type {
	case typeAirV1:
		b = block.Air
	case typeAtomV1:
		if in.Color == nil {
			return block.Air, fmt.Errorf("%s без цвета", typeAtomV1)
		}
		collision, err := decodeCollision(in.Collision)
		if err != nil {
			return block.Air, err
		}
		a := block.Atom{
			Attributes: decodeAttributes(in.Attributes),
			Color:      vec.NewRgba(in.Color[0], in.Color[1], in.Color[2], in.Color[3]),
			Collision:  collision,
		}
		if in.Emission != nil {
			a.Emission = vec.NewRgb(in.Emission[0], in.Emission[1], in.Emission[2])
		}
		b = block.NewAtom(a)
	case typeRecurV1:
		var offset vec.Vec3
		if in.Offset != nil {
			offset = vec.NewVec3(in.Offset[0], in.Offset[1], in.Offset[2])
		}
		b = block.NewRecur(decodeAttributes(in.Attributes), block.GridID(in.Grid), offset, block.Resolution(in.Resolution))
	case typeIndirectV1:
		b = block.NewIndirect(block.DefID(in.Def))
	default:
		return block.Air, fmt.Errorf("неизвестный тип блока %q", in.Type)
	}

	r := vec.GridRotation(in.Rotation)
	if !r.IsValid() {
		return block.Air, fmt.Errorf("недопустимый поворот %d", in.Rotation)
	}
	b.Modifiers.Rotation = r
	if in.Move != nil {
		dir, ok := vec.ParseFace(in.Move.Direction)
		if !ok {
			return block.Air, fmt.Errorf("недопустимое направление смещения %q", in.Move.Direction)
		}
		b.Modifiers.Move = block.Move{Direction: dir, Distance: in.Move.Distance, Velocity: in.Move.Velocity}
	}
	if in.Quote != nil {
		b.Modifiers.Quote = block.Quote{Enabled: true, Ambient: in.Quote.Ambient}
	}
	return b, nil
}

func encodePalette(blocks []block.Block) []BlockV1 {
	out := make([]BlockV1, len(blocks))
	for i, b := range blocks {
		out[i] = EncodeBlock(b)
	}
	return out
}

func decodePalette(in []BlockV1) ([]block.Block, error) {
	out := make([]block.Block, len(in))
	for i, b := range in {
		var err error
		if out[i], err = DecodeBlock(b); err != nil {
			return nil, fmt.Errorf("palette[%d]: %w", i, err)
		}
	}
	return out, nil
}

func packIndices(indices []uint16) []byte {
	raw := make([]byte, 0, 2*len(indices))
	for _, v := range indices {
		raw = binary.LittleEndian.AppendUint16(raw, v)
	}
	return raw
}

func unpackIndices(raw []byte, volume int) ([]uint16, error) {
	if len(raw) != 2*volume {
		return nil, fmt.Errorf("%d байт индексов при объёме %d", len(raw), volume)
	}
	out := make([]uint16, volume)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}

func packLight(light []space.PackedLight) []byte {
	raw := make([]byte, 0, lightRecordSize*len(light))
	for _, l := range light {
		sky := byte(0)
		if l.Sky {
			sky = 1
		}
		raw = append(raw, l.R, l.G, l.B, byte(l.Status), sky)
	}
	return raw
}

func unpackLight(raw []byte, volume int) ([]space.PackedLight, error) {
	if len(raw) != lightRecordSize*volume {
		return nil, fmt.Errorf("%d байт света при объёме %d", len(raw), volume)
	}
	out := make([]space.PackedLight, volume)
	for i := range out {
		r := raw[lightRecordSize*i:]
		if r[3] > byte(space.LightVisible) {
			return nil, fmt.Errorf("light[%d]: недопустимый статус %d", i, r[3])
		}
		out[i] = space.PackedLight{R: r[0], G: r[1], B: r[2], Status: space.LightStatus(r[3]), Sky: r[4] != 0}
	}
	return out, nil
}

func checksum(parts ...[]byte) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.Write(p)
	}
	return d.Sum64()
}

// EncodeSpace сериализует снимок пространства
func EncodeSpace(snap space.Snapshot) ([]byte, error) {
	contents := packIndices(snap.Contents)
	var light []byte
	if snap.Light != nil {
		light = packLight(snap.Light)
	}
	doc := SpaceV1{
		Type:     typeSpaceV1,
		ID:       snap.ID.String(),
		Bounds:   encodeAab(snap.Bounds),
		Palette:  encodePalette(snap.Palette),
		Contents: encoder.EncodeAll(contents, nil),
		Checksum: checksum(contents, light),
	}
	if light != nil {
		doc.Light = encoder.EncodeAll(light, nil)
	}
	return json.Marshal(doc)
}

// DecodeSpace восстанавливает снимок пространства и проверяет его
func DecodeSpace(data []byte) (space.Snapshot, error) {
	var doc SpaceV1
	if err := json.Unmarshal(data, &doc); err != nil {
		return space.Snapshot{}, fmt.Errorf("ошибка десериализации пространства: %w", err)
	}
	if doc.Type != typeSpaceV1 {
		return space.Snapshot{}, fmt.Errorf("ожидался %s, получен %q", typeSpaceV1, doc.Type)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return space.Snapshot{}, fmt.Errorf("id пространства: %w", err)
	}
	bounds, err := decodeAab(doc.Bounds)
	if err != nil {
		return space.Snapshot{}, err
	}
	palette, err := decodePalette(doc.Palette)
	if err != nil {
		return space.Snapshot{}, err
	}

	rawContents, err := decoder.DecodeAll(doc.Contents, nil)
	if err != nil {
		return space.Snapshot{}, fmt.Errorf("распаковка contents: %w", err)
	}
	var rawLight []byte
	if doc.Light != nil {
		if rawLight, err = decoder.DecodeAll(doc.Light, nil); err != nil {
			return space.Snapshot{}, fmt.Errorf("распаковка light: %w", err)
		}
	}
	if sum := checksum(rawContents, rawLight); sum != doc.Checksum {
		return space.Snapshot{}, fmt.Errorf("контрольная сумма %x не совпадает с %x", sum, doc.Checksum)
	}

	volume := bounds.Volume()
	snap := space.Snapshot{ID: id, Bounds: bounds, Palette: palette}
	if snap.Contents, err = unpackIndices(rawContents, volume); err != nil {
		return space.Snapshot{}, err
	}
	if rawLight != nil {
		if snap.Light, err = unpackLight(rawLight, volume); err != nil {
			return space.Snapshot{}, err
		}
	}
	if err := snap.Validate(); err != nil {
		return space.Snapshot{}, err
	}
	return snap, nil
}

// EncodeUniverse сериализует арену определений. Блоки сеток хранятся
// палитрой и индексами, как в пространстве.
func EncodeUniverse(data block.UniverseData) ([]byte, error) {
	doc := UniverseV1{Type: typeUniverseV1}
	for _, d := range data.Defs {
		doc.Defs = append(doc.Defs, DefV1{ID: uint32(d.ID), Name: d.Name, Block: EncodeBlock(d.Block)})
	}
	for _, g := range data.Grids {
		var palette []block.Block
		index := make(map[block.Block]uint16)
		contents := make([]uint16, len(g.Blocks))
		for i, b := range g.Blocks {
			pi, ok := index[b]
			if !ok {
				if len(palette) == math.MaxUint16 {
					return nil, fmt.Errorf("grid#%d: больше %d различных блоков", g.ID, math.MaxUint16)
				}
				pi = uint16(len(palette))
				index[b] = pi
				palette = append(palette, b)
			}
			contents[i] = pi
		}
		doc.Grids = append(doc.Grids, GridV1{
			ID:       uint32(g.ID),
			Bounds:   encodeAab(g.Bounds),
			Palette:  encodePalette(palette),
			Contents: encoder.EncodeAll(packIndices(contents), nil),
		})
	}
	return json.Marshal(doc)
}

// DecodeUniverse восстанавливает содержимое арены
func DecodeUniverse(raw []byte) (block.UniverseData, error) {
	var doc UniverseV1
	if err := json.Unmarshal(raw, &doc); err != nil {
		return block.UniverseData{}, fmt.Errorf("ошибка десериализации арены: %w", err)
	}
	if doc.Type != typeUniverseV1 {
		return block.UniverseData{}, fmt.Errorf("ожидался %s, получен %q", typeUniverseV1, doc.Type)
	}

	var data block.UniverseData
	for _, d := range doc.Defs {
		b, err := DecodeBlock(d.Block)
		if err != nil {
			return block.UniverseData{}, fmt.Errorf("def#%d: %w", d.ID, err)
		}
		data.Defs = append(data.Defs, block.DefData{ID: block.DefID(d.ID), Name: d.Name, Block: b})
	}
	for _, g := range doc.Grids {
		bounds, err := decodeAab(g.Bounds)
		if err != nil {
			return block.UniverseData{}, fmt.Errorf("grid#%d: %w", g.ID, err)
		}
		palette, err := decodePalette(g.Palette)
		if err != nil {
			return block.UniverseData{}, fmt.Errorf("grid#%d: %w", g.ID, err)
		}
		rawContents, err := decoder.DecodeAll(g.Contents, nil)
		if err != nil {
			return block.UniverseData{}, fmt.Errorf("grid#%d: распаковка: %w", g.ID, err)
		}
		indices, err := unpackIndices(rawContents, bounds.Volume())
		if err != nil {
			return block.UniverseData{}, fmt.Errorf("grid#%d: %w", g.ID, err)
		}
		blocks := make([]block.Block, len(indices))
		for i, pi := range indices {
			if int(pi) >= len(palette) {
				return block.UniverseData{}, fmt.Errorf("grid#%d: индекс %d вне палитры", g.ID, pi)
			}
			blocks[i] = palette[pi]
		}
		data.Grids = append(data.Grids, block.GridData{ID: block.GridID(g.ID), Bounds: bounds, Blocks: blocks})
	}
	return data, nil
}
