// Package space реализует ограниченную трёхмерную сетку блоков с палитрой,
// плотным массивом индексов и инкрементальным освещением.
//
// Space изменяется только через Set (и производные от него Fill и
// StepAnimations). Set, CompactPalette и Drain взаимно исключают друг
// друга; чтение допускается параллельно, пока нет записи.
package space

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// Space пространство блоков
type Space struct {
	id     uuid.UUID
	bounds vec.Aab
	cache  *block.Cache
	opts   Options

	metrics *metrics.Metrics
	logger  *logging.Logger

	mu       sync.RWMutex
	palette  *palette
	contents []uint16
	light    []PackedLight
	queue    *lightQueue
	// evalEpoch эпоха кэша, при которой вычислялась палитра
	evalEpoch uint64

	changes *changeTracker

	lightUpdates uint64
	lightChanges uint64
}

// Cell ячейка при обходе пространства
type Cell struct {
	Cube      vec.Vec3
	Block     block.Block
	Evaluated *block.EvaluatedBlock
	Light     PackedLight
}

// Stats счётчики пространства
type Stats struct {
	// LightUpdates пересчитанные ячейки за всё время
	LightUpdates uint64
	// LightChanges пересчёты, изменившие значение
	LightChanges uint64
	QueueLen     int
	PaletteLen   int
}

// New создаёт пространство, заполненное воздухом. Все ячейки ставятся в
// очередь первичного освещения.
func New(bounds vec.Aab, cache *block.Cache, opts Options) (*Space, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if bounds.IsEmpty() {
		return nil, fmt.Errorf("пустые границы пространства %v", bounds)
	}

	s := newSpace(uuid.New(), bounds, cache, opts)
	airEv, airErr := cache.Evaluate(block.Air)
	if airErr != nil {
		airEv = block.Placeholder(airErr)
	}
	i, err := s.palette.insert(block.Air, airEv, airErr)
	if err != nil {
		return nil, err
	}
	s.palette.entry(i).count = len(s.contents)
	s.evalEpoch = cache.Epoch()
	s.requeueAllLocked()

	s.logger.Debug("создано пространство %s %v", s.id, bounds)
	return s, nil
}

func newSpace(id uuid.UUID, bounds vec.Aab, cache *block.Cache, opts Options) *Space {
	volume := bounds.Volume()
	s := &Space{
		id:       id,
		bounds:   bounds,
		cache:    cache,
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		palette:  newPalette(opts.PaletteCapacity, opts.Compaction),
		contents: make([]uint16, volume),
		light:    make([]PackedLight, volume),
		queue:    newLightQueue(volume),
		changes:  newChangeTracker(),
	}
	for i := range s.light {
		s.light[i] = UninitializedLight
	}
	return s
}

// ID идентификатор пространства
func (s *Space) ID() uuid.UUID {
	return s.id
}

// Bounds границы пространства
func (s *Space) Bounds() vec.Aab {
	return s.bounds
}

// Cache кэш вычисления блоков, которым пользуется пространство
func (s *Space) Cache() *block.Cache {
	return s.cache
}

// LightPhysics параметры освещения
func (s *Space) LightPhysics() LightPhysics {
	return s.opts.Light
}

func (s *Space) checkBounds(cube vec.Vec3) error {
	if !s.bounds.Contains(cube) {
		return &OutOfBoundsError{Cube: cube, Bounds: s.bounds}
	}
	return nil
}

// Get возвращает блок ячейки
func (s *Space) Get(cube vec.Vec3) (block.Block, error) {
	if err := s.checkBounds(cube); err != nil {
		return block.Air, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.palette.entry(s.contents[s.bounds.Index(cube)]).block, nil
}

// GetEvaluated возвращает вычисленный блок ячейки. Если блок не удалось
// вычислить, возвращается заглушка и ошибка вычисления.
func (s *Space) GetEvaluated(cube vec.Vec3) (*block.EvaluatedBlock, error) {
	if err := s.checkBounds(cube); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.palette.entry(s.contents[s.bounds.Index(cube)])
	return e.evaluated, e.err
}

// Collision проверяет, есть ли в ячейке непроходимые подвоксели.
// Ячейки вне границ непроходимы не считаются.
func (s *Space) Collision(cube vec.Vec3) bool {
	if !s.bounds.Contains(cube) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.palette.entry(s.contents[s.bounds.Index(cube)]).evaluated.HasCollision()
}

// Set помещает блок в ячейку и возвращает прежний. При ошибке пространство
// не изменяется.
func (s *Space) Set(cube vec.Vec3, b block.Block) (block.Block, error) {
	return s.SetContext(context.Background(), cube, b)
}

// SetContext как Set; вычисление нового блока записывается в трассу ctx
func (s *Space) SetContext(ctx context.Context, cube vec.Vec3, b block.Block) (block.Block, error) {
	if err := s.checkBounds(cube); err != nil {
		return block.Air, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, cube, b.Normalize())
}

func (s *Space) setLocked(ctx context.Context, cube vec.Vec3, b block.Block) (block.Block, error) {
	idx := s.bounds.Index(cube)
	oldIndex := s.contents[idx]
	old := s.palette.entry(oldIndex)
	prev := old.block
	if prev == b {
		return prev, nil
	}

	newIndex, found := s.palette.lookup(b)
	switch {
	case found:
		s.palette.increment(newIndex)
		s.contents[idx] = newIndex
		s.palette.decrement(oldIndex)
	case old.count == 1 && s.opts.Compaction == CompactImmediate:
		// Единственное вхождение прежнего блока: слот переиспользуется
		// на месте, поэтому заполненная палитра не переполняется
		ev, err := s.evaluate(ctx, b)
		s.palette.replace(oldIndex, b, ev, err)
	default:
		if !s.palette.canInsert() {
			return prev, fmt.Errorf("%w: %d distinct blocks, compact the palette first", ErrPaletteOverflow, s.palette.capacity)
		}
		ev, err := s.evaluate(ctx, b)
		newIndex, insErr := s.palette.insert(b, ev, err)
		if insErr != nil {
			return prev, insErr
		}
		s.palette.increment(newIndex)
		s.contents[idx] = newIndex
		s.palette.decrement(oldIndex)
	}

	s.enqueueWithNeighbors(cube, idx)
	s.changes.recordBlock(cube)
	s.metrics.SpaceEdit()
	return prev, nil
}

// enqueueWithNeighbors ставит ячейку и её соседей по граням в очередь правок
func (s *Space) enqueueWithNeighbors(cube vec.Vec3, idx int) {
	s.queue.push(idx, priorityEdit)
	for _, f := range vec.Faces6 {
		n := cube.Add(f.Normal())
		if s.bounds.Contains(n) {
			s.queue.push(s.bounds.Index(n), priorityEdit)
		}
	}
}

// evaluate вычисляет блок для палитры. Ошибка не прерывает правку: ячейка
// получает заглушку, ошибка запоминается в записи палитры.
func (s *Space) evaluate(ctx context.Context, b block.Block) (*block.EvaluatedBlock, error) {
	ev, err := s.cache.EvaluateContext(ctx, b)
	if err != nil {
		s.logger.Warn("блок %v не вычислен: %v", b, err)
		return block.Placeholder(err), err
	}
	return ev, nil
}

// Fill заполняет область одним блоком. Каждая ячейка изменяется через
// Set; область целиком проверяется до первой записи.
func (s *Space) Fill(region vec.Aab, b block.Block) error {
	if !s.bounds.ContainsAab(region) {
		return &OutOfBoundsError{Cube: region.Lower, Bounds: s.bounds}
	}
	b = b.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()
	for c := range region.Cubes() {
		if _, err := s.setLocked(ctx, c, b); err != nil {
			return err
		}
	}
	return nil
}

// LightAt возвращает сохранённый свет ячейки без пересчёта. Вне границ
// возвращается свет неба, если оно включено.
func (s *Space) LightAt(cube vec.Vec3) PackedLight {
	if !s.bounds.Contains(cube) {
		if s.opts.Light.SkyEnabled {
			return PackLight(s.opts.Light.SkyColor.Clamp(0, MaxLight), true)
		}
		return PackedLight{Status: LightNoRays}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.light[s.bounds.Index(cube)]
}

// LightState возвращает этап пересчёта света ячейки
func (s *Space) LightState(cube vec.Vec3) (LightState, error) {
	if err := s.checkBounds(cube); err != nil {
		return LightUnknown, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.state[s.bounds.Index(cube)], nil
}

// QueueLen число ячеек, ожидающих пересчёта света
func (s *Space) QueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.len()
}

// PaletteLen число записей палитры
func (s *Space) PaletteLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.palette.live
}

// Palette возвращает копию палитры в порядке индексов
func (s *Space) Palette() []PaletteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.palette.snapshot()
}

// CompactPalette удаляет записи без вхождений и перенумеровывает индексы.
// Сохранённые снаружи индексы палитры становятся недействительными;
// подписчики получают ChangeSet.PaletteRemapped.
func (s *Space) CompactPalette() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.palette.needsCompaction() {
		return 0
	}
	remap, removed := s.palette.compact()
	for i, old := range s.contents {
		s.contents[i] = remap[old]
	}
	s.changes.recordRemap()
	s.metrics.PaletteCompacted()
	s.logger.Debug("пространство %s: палитра сжата, удалено %d, осталось %d", s.id, removed, s.palette.live)
	return removed
}

// ForEach обходит ячейки в порядке индексов, пока fn возвращает true.
// Во время обхода пространство заблокировано на чтение; fn не должна
// изменять пространство.
func (s *Space) ForEach(fn func(Cell) bool) {
	s.ForEachIn(s.bounds, fn)
}

// ForEachIn как ForEach, но только по пересечению region с границами
func (s *Space) ForEachIn(region vec.Aab, fn func(Cell) bool) {
	region, ok := region.Intersection(s.bounds)
	if !ok {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range region.Cubes() {
		idx := s.bounds.Index(c)
		e := s.palette.entry(s.contents[idx])
		if !fn(Cell{Cube: c, Block: e.block, Evaluated: e.evaluated, Light: s.light[idx]}) {
			return
		}
	}
}

// Subscribe регистрирует получателя изменений (например, построитель
// мешей). Изменения до подписки не сообщаются.
func (s *Space) Subscribe(id string) {
	s.changes.subscribe(id)
}

// Unsubscribe удаляет получателя изменений
func (s *Space) Unsubscribe(id string) {
	s.changes.unsubscribe(id)
}

// TakeChanges возвращает ячейки, изменённые с прошлого вызова для id
func (s *Space) TakeChanges(id string) (ChangeSet, bool) {
	return s.changes.take(id)
}

// RefreshBlocks перевычисляет палитру, если кэш блоков был инвалидирован
// после последнего вычисления. Ячейки с изменившимися блоками и их соседи
// ставятся в очередь освещения. Возвращает число изменившихся записей палитры.
func (s *Space) RefreshBlocks(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Space) refreshLocked(ctx context.Context) int {
	epoch := s.cache.Epoch()
	if epoch == s.evalEpoch {
		return 0
	}

	var indices []uint16
	var blocks []block.Block
	for i, e := range s.palette.entries {
		if e.live {
			indices = append(indices, uint16(i))
			blocks = append(blocks, e.block)
		}
	}
	results, errs := s.cache.EvaluateMany(ctx, blocks)
	if ctx.Err() != nil {
		return 0
	}

	changed := make(map[uint16]bool)
	for k, i := range indices {
		e := s.palette.entry(i)
		ev, err := results[k], errs[k]
		if err != nil {
			if e.err != nil {
				ev = e.evaluated
			} else {
				ev = block.Placeholder(err)
				s.logger.Warn("блок %v больше не вычисляется: %v", e.block, err)
			}
		}
		if ev != e.evaluated {
			changed[i] = true
		}
		e.evaluated, e.err = ev, err
	}
	s.evalEpoch = epoch
	if len(changed) == 0 {
		return 0
	}

	for idx, pi := range s.contents {
		if !changed[pi] {
			continue
		}
		c := s.bounds.CubeAt(idx)
		s.enqueueWithNeighbors(c, idx)
		s.changes.recordBlock(c)
	}
	s.logger.Debug("пространство %s: перевычислено %d блоков палитры", s.id, len(changed))
	return len(changed)
}

// StepAnimations продвигает анимации смещения на один тик. Возвращает
// число изменённых ячеек.
func (s *Space) StepAnimations(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[uint16]block.Block)
	for i, e := range s.palette.entries {
		if !e.live || e.count == 0 || !e.evaluated.Animated {
			continue
		}
		if nb, ok := e.block.Step(e.evaluated.Resolution); ok {
			next[uint16(i)] = nb
		}
	}
	if len(next) == 0 {
		return 0, nil
	}

	var cubes []vec.Vec3
	var targets []block.Block
	for idx, pi := range s.contents {
		if nb, ok := next[pi]; ok {
			cubes = append(cubes, s.bounds.CubeAt(idx))
			targets = append(targets, nb)
		}
	}
	for k, c := range cubes {
		if _, err := s.setLocked(ctx, c, targets[k]); err != nil {
			return k, err
		}
	}
	return len(cubes), nil
}

// RequeueAllLight ставит все ячейки в очередь пересчёта света
func (s *Space) RequeueAllLight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeueAllLocked()
}

func (s *Space) requeueAllLocked() {
	for i := range s.contents {
		s.queue.push(i, priorityBulk)
	}
}

// Stats возвращает счётчики пространства
func (s *Space) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		LightUpdates: s.lightUpdates,
		LightChanges: s.lightChanges,
		QueueLen:     s.queue.len(),
		PaletteLen:   s.palette.live,
	}
}

// MetricsSnapshot показатели для экспортёра метрик
func (s *Space) MetricsSnapshot() metrics.SpaceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return metrics.SpaceStats{
		Space:      s.id.String(),
		QueueLen:   s.queue.len(),
		PaletteLen: s.palette.live,
	}
}
