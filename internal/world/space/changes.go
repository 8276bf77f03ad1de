package space

import (
	"sort"
	"sync"

	"github.com/annel0/voxel-core/internal/vec"
)

// ChangeSet изменения пространства с момента предыдущего TakeChanges подписчика
type ChangeSet struct {
	// Blocks ячейки, у которых сменился блок или его вычисленный вид
	Blocks []vec.Vec3
	// Light ячейки, у которых изменился свет
	Light []vec.Vec3
	// PaletteRemapped индексы палитры были перенумерованы; сохранённые
	// снаружи индексы недействительны
	PaletteRemapped bool
	Version         uint64
}

// IsEmpty проверяет отсутствие изменений
func (c ChangeSet) IsEmpty() bool {
	return len(c.Blocks) == 0 && len(c.Light) == 0 && !c.PaletteRemapped
}

type cellVersions struct {
	block uint64
	light uint64
}

type subscriberInfo struct {
	id       string
	lastSent uint64
}

// changeTracker накапливает версии изменённых ячеек для подписчиков.
// Без подписчиков изменения не запоминаются.
type changeTracker struct {
	mu          sync.Mutex
	version     uint64
	cells       map[vec.Vec3]*cellVersions
	remapped    uint64
	subscribers map[string]*subscriberInfo
}

func newChangeTracker() *changeTracker {
	return &changeTracker{
		cells:       make(map[vec.Vec3]*cellVersions),
		subscribers: make(map[string]*subscriberInfo),
	}
}

func (t *changeTracker) subscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[id] = &subscriberInfo{id: id, lastSent: t.version}
}

func (t *changeTracker) unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, id)
	t.cleanupLocked()
}

func (t *changeTracker) cell(cube vec.Vec3) *cellVersions {
	c, ok := t.cells[cube]
	if !ok {
		c = &cellVersions{}
		t.cells[cube] = c
	}
	return c
}

func (t *changeTracker) recordBlock(cube vec.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) == 0 {
		return
	}
	t.version++
	t.cell(cube).block = t.version
}

func (t *changeTracker) recordLight(cube vec.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) == 0 {
		return
	}
	t.version++
	t.cell(cube).light = t.version
}

func (t *changeTracker) recordRemap() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subscribers) == 0 {
		return
	}
	t.version++
	t.remapped = t.version
}

// take возвращает изменения, новые для подписчика id
func (t *changeTracker) take(id string) (ChangeSet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subscribers[id]
	if !ok {
		return ChangeSet{}, false
	}
	cs := ChangeSet{
		PaletteRemapped: t.remapped > sub.lastSent,
		Version:         t.version,
	}
	for cube, v := range t.cells {
		if v.block > sub.lastSent {
			cs.Blocks = append(cs.Blocks, cube)
		}
		if v.light > sub.lastSent {
			cs.Light = append(cs.Light, cube)
		}
	}
	sortCubes(cs.Blocks)
	sortCubes(cs.Light)

	sub.lastSent = t.version
	t.cleanupLocked()
	return cs, true
}

// cleanupLocked удаляет записи, уже полученные всеми подписчиками
func (t *changeTracker) cleanupLocked() {
	if len(t.subscribers) == 0 {
		clear(t.cells)
		return
	}
	oldest := t.version
	for _, sub := range t.subscribers {
		oldest = min(oldest, sub.lastSent)
	}
	for cube, v := range t.cells {
		if max(v.block, v.light) <= oldest {
			delete(t.cells, cube)
		}
	}
}

func sortCubes(cubes []vec.Vec3) {
	sort.Slice(cubes, func(i, j int) bool {
		a, b := cubes[i], cubes[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
