package block

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-core/internal/vec"
)

// DefID идентификатор именованного определения блока
type DefID uint32

// GridID идентификатор сетки подвокселей
type GridID uint32

// RefKind вид объекта Universe
type RefKind uint8

const (
	RefDef RefKind = iota + 1
	RefGrid
)

// Ref ссылка на изменяемый объект Universe. Вычисления записывают, от каких
// Ref они зависят; изменение объекта инвалидирует зависимые вычисления.
type Ref struct {
	Kind RefKind
	ID   uint32
}

// DefRef ссылка на определение
func DefRef(id DefID) Ref { return Ref{Kind: RefDef, ID: uint32(id)} }

// GridRef ссылка на сетку
func GridRef(id GridID) Ref { return Ref{Kind: RefGrid, ID: uint32(id)} }

func (r Ref) String() string {
	switch r.Kind {
	case RefDef:
		return fmt.Sprintf("def#%d", r.ID)
	case RefGrid:
		return fmt.Sprintf("grid#%d", r.ID)
	default:
		return fmt.Sprintf("ref(%d)#%d", r.Kind, r.ID)
	}
}

// BlockDef именованное определение блока
type BlockDef struct {
	Name  string
	Block Block
}

type grid struct {
	bounds vec.Aab
	blocks []Block
}

// Universe арена определений и сеток, на которые ссылаются Indirect и Recur.
// Объекты адресуются стабильными идентификаторами; любое изменение
// синхронно сообщается подписчикам (кэшу вычислений).
type Universe struct {
	mu       sync.RWMutex
	defs     map[DefID]*BlockDef
	byName   map[string]DefID
	grids    map[GridID]*grid
	nextDef  DefID
	nextGrid GridID

	listenersMu sync.RWMutex
	listeners   []func(Ref)
}

// NewUniverse создаёт пустую арену
func NewUniverse() *Universe {
	return &Universe{
		defs:     make(map[DefID]*BlockDef),
		byName:   make(map[string]DefID),
		grids:    make(map[GridID]*grid),
		nextDef:  1,
		nextGrid: 1,
	}
}

// Subscribe регистрирует обработчик изменений. Обработчик вызывается
// после снятия блокировок Universe.
func (u *Universe) Subscribe(fn func(Ref)) {
	u.listenersMu.Lock()
	u.listeners = append(u.listeners, fn)
	u.listenersMu.Unlock()
}

func (u *Universe) notify(ref Ref) {
	u.listenersMu.RLock()
	listeners := append([]func(Ref){}, u.listeners...)
	u.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ref)
	}
}

// Define добавляет именованное определение. Пустое имя допустимо; непустые
// имена уникальны.
func (u *Universe) Define(name string, b Block) (DefID, error) {
	u.mu.Lock()
	if name != "" {
		if _, exists := u.byName[name]; exists {
			u.mu.Unlock()
			return 0, fmt.Errorf("определение %q уже существует", name)
		}
	}
	id := u.nextDef
	u.nextDef++
	u.defs[id] = &BlockDef{Name: name, Block: b.Normalize()}
	if name != "" {
		u.byName[name] = id
	}
	u.mu.Unlock()

	// Ранее закэшированные ошибки ссылок на этот идентификатор устаревают
	u.notify(DefRef(id))
	return id, nil
}

// Redefine заменяет блок определения и инвалидирует все зависимые вычисления
func (u *Universe) Redefine(id DefID, b Block) error {
	u.mu.Lock()
	def, ok := u.defs[id]
	if !ok {
		u.mu.Unlock()
		return fmt.Errorf("%w: def#%d", ErrUnknownDefinition, id)
	}
	b = b.Normalize()
	changed := def.Block != b
	def.Block = b
	u.mu.Unlock()

	if changed {
		u.notify(DefRef(id))
	}
	return nil
}

// Definition возвращает определение
func (u *Universe) Definition(id DefID) (BlockDef, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	def, ok := u.defs[id]
	if !ok {
		return BlockDef{}, false
	}
	return *def, true
}

// Lookup находит определение по имени
func (u *Universe) Lookup(name string) (DefID, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	id, ok := u.byName[name]
	return id, ok
}

// NewGrid создаёт сетку с заданными границами, заполненную fill
func (u *Universe) NewGrid(bounds vec.Aab, fill Block) (GridID, error) {
	if bounds.IsEmpty() {
		return 0, fmt.Errorf("%w: empty grid bounds %v", ErrMalformedGeometry, bounds)
	}
	g := &grid{bounds: bounds, blocks: make([]Block, bounds.Volume())}
	fill = fill.Normalize()
	for i := range g.blocks {
		g.blocks[i] = fill
	}

	u.mu.Lock()
	id := u.nextGrid
	u.nextGrid++
	u.grids[id] = g
	u.mu.Unlock()

	u.notify(GridRef(id))
	return id, nil
}

// GridBounds возвращает границы сетки
func (u *Universe) GridBounds(id GridID) (vec.Aab, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	g, ok := u.grids[id]
	if !ok {
		return vec.Aab{}, false
	}
	return g.bounds, true
}

// GridBlock возвращает блок сетки
func (u *Universe) GridBlock(id GridID, cube vec.Vec3) (Block, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	g, ok := u.grids[id]
	if !ok {
		return Air, fmt.Errorf("%w: grid#%d", ErrUnknownDefinition, id)
	}
	if !g.bounds.Contains(cube) {
		return Air, fmt.Errorf("%w: cube %v outside grid#%d %v", ErrMalformedGeometry, cube, id, g.bounds)
	}
	return g.blocks[g.bounds.Index(cube)], nil
}

// SetGridBlock изменяет блок сетки и инвалидирует зависимые вычисления
func (u *Universe) SetGridBlock(id GridID, cube vec.Vec3, b Block) error {
	return u.FillGrid(id, vec.SingleCube(cube), b)
}

// FillGrid заполняет область сетки одним блоком
func (u *Universe) FillGrid(id GridID, region vec.Aab, b Block) error {
	b = b.Normalize()

	u.mu.Lock()
	g, ok := u.grids[id]
	if !ok {
		u.mu.Unlock()
		return fmt.Errorf("%w: grid#%d", ErrUnknownDefinition, id)
	}
	if !g.bounds.ContainsAab(region) {
		u.mu.Unlock()
		return fmt.Errorf("%w: region %v outside grid#%d %v", ErrMalformedGeometry, region, id, g.bounds)
	}
	changed := false
	for c := range region.Cubes() {
		i := g.bounds.Index(c)
		if g.blocks[i] != b {
			g.blocks[i] = b
			changed = true
		}
	}
	u.mu.Unlock()

	if changed {
		u.notify(GridRef(id))
	}
	return nil
}

// readGridRegion копирует блоки области сетки под одной блокировкой
func (u *Universe) readGridRegion(id GridID, region vec.Aab) ([]Block, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	g, ok := u.grids[id]
	if !ok {
		return nil, fmt.Errorf("%w: grid#%d", ErrUnknownDefinition, id)
	}
	if !g.bounds.ContainsAab(region) {
		return nil, fmt.Errorf("%w: region %v outside grid#%d %v", ErrMalformedGeometry, region, id, g.bounds)
	}
	out := make([]Block, 0, region.Volume())
	for c := range region.Cubes() {
		out = append(out, g.blocks[g.bounds.Index(c)])
	}
	return out, nil
}

// DefData определение для сохранения
type DefData struct {
	ID    DefID
	Name  string
	Block Block
}

// GridData сетка для сохранения; Blocks в порядке Aab.Index
type GridData struct {
	ID     GridID
	Bounds vec.Aab
	Blocks []Block
}

// UniverseData полное содержимое Universe
type UniverseData struct {
	Defs  []DefData
	Grids []GridData
}

// Export возвращает копию содержимого, упорядоченную по идентификаторам
func (u *Universe) Export() UniverseData {
	u.mu.RLock()
	defer u.mu.RUnlock()

	var data UniverseData
	for id, def := range u.defs {
		data.Defs = append(data.Defs, DefData{ID: id, Name: def.Name, Block: def.Block})
	}
	for id, g := range u.grids {
		data.Grids = append(data.Grids, GridData{ID: id, Bounds: g.bounds, Blocks: append([]Block(nil), g.blocks...)})
	}
	sort.Slice(data.Defs, func(i, j int) bool { return data.Defs[i].ID < data.Defs[j].ID })
	sort.Slice(data.Grids, func(i, j int) bool { return data.Grids[i].ID < data.Grids[j].ID })
	return data
}

// Import загружает содержимое в пустую арену с сохранением идентификаторов
func (u *Universe) Import(data UniverseData) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.defs) != 0 || len(u.grids) != 0 {
		return fmt.Errorf("импорт возможен только в пустую арену")
	}

	defs := make(map[DefID]*BlockDef, len(data.Defs))
	byName := make(map[string]DefID)
	var nextDef DefID = 1
	for _, d := range data.Defs {
		if d.ID == 0 {
			return fmt.Errorf("%w: zero def id", ErrMalformedGeometry)
		}
		if _, dup := defs[d.ID]; dup {
			return fmt.Errorf("%w: duplicate def#%d", ErrMalformedGeometry, d.ID)
		}
		defs[d.ID] = &BlockDef{Name: d.Name, Block: d.Block.Normalize()}
		if d.Name != "" {
			byName[d.Name] = d.ID
		}
		nextDef = max(nextDef, d.ID+1)
	}

	grids := make(map[GridID]*grid, len(data.Grids))
	var nextGrid GridID = 1
	for _, g := range data.Grids {
		if g.ID == 0 {
			return fmt.Errorf("%w: zero grid id", ErrMalformedGeometry)
		}
		if _, dup := grids[g.ID]; dup {
			return fmt.Errorf("%w: duplicate grid#%d", ErrMalformedGeometry, g.ID)
		}
		if g.Bounds.IsEmpty() || len(g.Blocks) != g.Bounds.Volume() {
			return fmt.Errorf("%w: grid#%d has %d blocks for bounds %v", ErrMalformedGeometry, g.ID, len(g.Blocks), g.Bounds)
		}
		blocks := make([]Block, len(g.Blocks))
		for i, b := range g.Blocks {
			blocks[i] = b.Normalize()
		}
		grids[g.ID] = &grid{bounds: g.Bounds, blocks: blocks}
		nextGrid = max(nextGrid, g.ID+1)
	}

	u.defs, u.byName, u.grids = defs, byName, grids
	u.nextDef, u.nextGrid = nextDef, nextGrid
	return nil
}
