package space

import (
	"fmt"

	"github.com/annel0/voxel-core/internal/world/block"
)

// PaletteEntry запись палитры, видимая снаружи
type PaletteEntry struct {
	Index uint16
	Block block.Block
	Count int
}

type paletteEntry struct {
	block     block.Block
	count     int
	live      bool
	evaluated *block.EvaluatedBlock
	err       error
}

// palette таблица различных блоков пространства. Индексы стабильны до
// компактации; при немедленной политике освобождённые слоты переиспользуются.
type palette struct {
	entries  []paletteEntry
	index    map[block.Block]uint16
	free     []uint16
	capacity int
	policy   Compaction
	live     int
}

func newPalette(capacity int, policy Compaction) *palette {
	return &palette{
		index:    make(map[block.Block]uint16),
		capacity: capacity,
		policy:   policy,
	}
}

func (p *palette) lookup(b block.Block) (uint16, bool) {
	i, ok := p.index[b]
	return i, ok
}

// canInsert проверяет, хватит ли места для нового блока
func (p *palette) canInsert() bool {
	return len(p.free) > 0 || len(p.entries) < p.capacity
}

// insert добавляет блок с нулевым счётчиком. Блок не должен присутствовать.
func (p *palette) insert(b block.Block, ev *block.EvaluatedBlock, err error) (uint16, error) {
	e := paletteEntry{block: b, live: true, evaluated: ev, err: err}
	var i uint16
	switch {
	case len(p.free) > 0:
		i = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.entries[i] = e
	case len(p.entries) < p.capacity:
		i = uint16(len(p.entries))
		p.entries = append(p.entries, e)
	default:
		return 0, fmt.Errorf("%w: %d distinct blocks", ErrPaletteOverflow, p.capacity)
	}
	p.index[b] = i
	p.live++
	return i, nil
}

// replace заменяет блок в слоте i, не меняя счётчик
func (p *palette) replace(i uint16, b block.Block, ev *block.EvaluatedBlock, err error) {
	e := &p.entries[i]
	delete(p.index, e.block)
	e.block, e.evaluated, e.err = b, ev, err
	p.index[b] = i
}

func (p *palette) increment(i uint16) {
	p.entries[i].count++
}

// decrement уменьшает счётчик и при немедленной политике освобождает слот.
// Возвращает true, если слот освобождён.
func (p *palette) decrement(i uint16) bool {
	e := &p.entries[i]
	e.count--
	if e.count > 0 || p.policy != CompactImmediate {
		return false
	}
	p.release(i)
	return true
}

func (p *palette) release(i uint16) {
	e := &p.entries[i]
	delete(p.index, e.block)
	*e = paletteEntry{}
	p.free = append(p.free, i)
	p.live--
}

func (p *palette) entry(i uint16) *paletteEntry {
	return &p.entries[i]
}

// compact удаляет неиспользуемые и свободные слоты. Возвращает таблицу
// перенумерации старый→новый индекс и число удалённых записей.
func (p *palette) compact() ([]uint16, int) {
	remap := make([]uint16, len(p.entries))
	kept := p.entries[:0:0]
	removed := 0
	for i, e := range p.entries {
		if !e.live {
			continue
		}
		if e.count == 0 {
			removed++
			continue
		}
		remap[i] = uint16(len(kept))
		kept = append(kept, e)
	}
	p.entries = kept
	p.free = nil
	p.live = len(kept)
	p.index = make(map[block.Block]uint16, len(kept))
	for i, e := range kept {
		p.index[e.block] = uint16(i)
	}
	return remap, removed
}

// needsCompaction проверяет, что в палитре есть дыры или пустые записи
func (p *palette) needsCompaction() bool {
	if len(p.free) > 0 {
		return true
	}
	for _, e := range p.entries {
		if e.live && e.count == 0 {
			return true
		}
	}
	return false
}

func (p *palette) snapshot() []PaletteEntry {
	out := make([]PaletteEntry, 0, p.live)
	for i, e := range p.entries {
		if e.live {
			out = append(out, PaletteEntry{Index: uint16(i), Block: e.block, Count: e.count})
		}
	}
	return out
}
