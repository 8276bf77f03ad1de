package space

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// Snapshot полное состояние пространства для сохранения. Contents и Light
// идут в порядке vec.Aab.Index.
type Snapshot struct {
	ID       uuid.UUID
	Bounds   vec.Aab
	Palette  []block.Block
	Contents []uint16
	// Light может быть nil; тогда освещение вычисляется заново
	Light []PackedLight
}

// Snapshot возвращает копию состояния с плотной палитрой без пустых
// записей. Само пространство не изменяется.
func (s *Space) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remap := make([]uint16, len(s.palette.entries))
	var blocks []block.Block
	for i, e := range s.palette.entries {
		if e.live && e.count > 0 {
			remap[i] = uint16(len(blocks))
			blocks = append(blocks, e.block)
		}
	}
	contents := make([]uint16, len(s.contents))
	for i, pi := range s.contents {
		contents[i] = remap[pi]
	}
	return Snapshot{
		ID:       s.id,
		Bounds:   s.bounds,
		Palette:  blocks,
		Contents: contents,
		Light:    append([]PackedLight(nil), s.light...),
	}
}

// Validate проверяет согласованность снимка
func (snap *Snapshot) Validate() error {
	if snap.Bounds.IsEmpty() {
		return fmt.Errorf("пустые границы %v", snap.Bounds)
	}
	volume := snap.Bounds.Volume()
	if len(snap.Contents) != volume {
		return fmt.Errorf("contents: %d ячеек при объёме %d", len(snap.Contents), volume)
	}
	if snap.Light != nil && len(snap.Light) != volume {
		return fmt.Errorf("light: %d значений при объёме %d", len(snap.Light), volume)
	}
	if len(snap.Palette) == 0 || len(snap.Palette) > MaxPaletteCapacity {
		return fmt.Errorf("palette: недопустимый размер %d", len(snap.Palette))
	}
	seen := make(map[block.Block]int, len(snap.Palette))
	for i, b := range snap.Palette {
		b = b.Normalize()
		if j, dup := seen[b]; dup {
			return fmt.Errorf("palette: блок %v повторяется в позициях %d и %d", b, j, i)
		}
		seen[b] = i
	}
	for i, pi := range snap.Contents {
		if int(pi) >= len(snap.Palette) {
			return fmt.Errorf("contents[%d]: индекс %d вне палитры из %d", i, pi, len(snap.Palette))
		}
	}
	return nil
}

// FromSnapshot восстанавливает пространство без пересчёта освещения.
// Ячейки с неинициализированным светом ставятся в очередь; если снимок
// не содержит света, в очередь ставятся все ячейки.
func FromSnapshot(ctx context.Context, snap Snapshot, cache *block.Cache, opts Options) (*Space, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("снимок пространства: %w", err)
	}
	if len(snap.Palette) > opts.PaletteCapacity {
		return nil, fmt.Errorf("%w: снимок содержит %d блоков при ёмкости %d",
			ErrPaletteOverflow, len(snap.Palette), opts.PaletteCapacity)
	}

	id := snap.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	s := newSpace(id, snap.Bounds, cache, opts)

	blocks := make([]block.Block, len(snap.Palette))
	for i, b := range snap.Palette {
		blocks[i] = b.Normalize()
	}
	s.evalEpoch = cache.Epoch()
	results, errs := cache.EvaluateMany(ctx, blocks)
	for i, b := range blocks {
		ev, err := results[i], errs[i]
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err != nil {
			s.logger.Warn("блок %v из снимка не вычислен: %v", b, err)
			ev = block.Placeholder(err)
		}
		if _, insErr := s.palette.insert(b, ev, err); insErr != nil {
			return nil, insErr
		}
	}

	copy(s.contents, snap.Contents)
	for _, pi := range s.contents {
		s.palette.increment(pi)
	}
	if opts.Compaction == CompactImmediate {
		for i := range s.palette.entries {
			if s.palette.entries[i].count == 0 {
				s.palette.release(uint16(i))
			}
		}
	}

	if snap.Light == nil {
		s.requeueAllLocked()
		return s, nil
	}
	copy(s.light, snap.Light)
	for i, l := range s.light {
		if l.Status == LightUninitialized {
			s.queue.push(i, priorityBulk)
		} else {
			s.queue.state[i] = LightSettled
		}
	}
	return s, nil
}
