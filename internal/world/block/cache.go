package block

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/vec"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth лимит вложенности Recur/Indirect по умолчанию
const DefaultMaxDepth = 8

// Options параметры кэша вычислений
type Options struct {
	// MaxDepth лимит вложенности; 0 означает DefaultMaxDepth
	MaxDepth int
	// Workers размер пула для EvaluateMany; 0 означает число CPU
	Workers int
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Stats счётчики кэша
type Stats struct {
	Hits   uint64
	Misses uint64
	// Evaluations фактически выполненные вычисления (включая вложенные)
	Evaluations uint64
	// Invalidations удалённые каскадной инвалидацией записи
	Invalidations uint64
	Entries       int
}

// depNode вершина графа зависимостей: объект Universe или другой ключ кэша
type depNode struct {
	ref   Ref
	key   Key
	isKey bool
}

func refNode(r Ref) depNode { return depNode{ref: r} }
func keyNode(k Key) depNode { return depNode{key: k, isKey: true} }

type entry struct {
	value *EvaluatedBlock
	err   error
	// needDepth сколько уровней вложенности потребовало вычисление
	needDepth int
	deps      []depNode
}

// Cache кэш вычисленных блоков с каскадной инвалидацией.
//
// Каждая запись помнит, от каких ключей и объектов Universe она зависит.
// Изменение объекта удаляет все записи, транзитивно от него зависящие,
// обходом обратных зависимостей; остальной кэш сохраняется.
type Cache struct {
	universe *Universe
	maxDepth int
	workers  int
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu         sync.RWMutex
	entries    map[Key]*entry
	dependents map[depNode]map[Key]struct{}
	epoch      uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	evaluations   atomic.Uint64
	invalidations atomic.Uint64
}

// NewCache создаёт кэш и подписывает его на изменения universe
func NewCache(universe *Universe, opts Options) *Cache {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	c := &Cache{
		universe:   universe,
		maxDepth:   opts.MaxDepth,
		workers:    opts.Workers,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		entries:    make(map[Key]*entry),
		dependents: make(map[depNode]map[Key]struct{}),
	}
	universe.Subscribe(func(ref Ref) { c.Invalidate(ref) })
	return c
}

// Universe возвращает арену определений
func (c *Cache) Universe() *Universe {
	return c.universe
}

// MaxDepth возвращает лимит вложенности
func (c *Cache) MaxDepth() int {
	return c.maxDepth
}

// Epoch возвращает счётчик инвалидаций. Изменение значения означает, что
// ранее полученные результаты могли устареть.
func (c *Cache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Stats возвращает счётчики
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evaluations:   c.evaluations.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       n,
	}
}

// Evaluate вычисляет блок или возвращает результат из кэша.
// Ошибки возвращаются как *EvalError и сравнимы через errors.Is с
// ErrRecursionLimit, ErrMalformedGeometry и ErrUnknownDefinition.
func (c *Cache) Evaluate(b Block) (*EvaluatedBlock, error) {
	return c.EvaluateContext(context.Background(), b)
}

// EvaluateContext как Evaluate; промах кэша записывается в трассу ctx
func (c *Cache) EvaluateContext(ctx context.Context, b Block) (*EvaluatedBlock, error) {
	key := b.Key()
	if _, ok := c.peek(key); !ok {
		var span trace.Span
		_, span = observability.Tracer().Start(ctx, "block.Evaluate",
			trace.WithAttributes(attribute.String("block", key.ToBlock().String())))
		defer span.End()
	}

	call := &evalCall{cache: c, epoch: c.Epoch(), visiting: make(map[Key]bool)}
	ev, _, err := call.get(key, c.maxDepth, true, nil)
	if err != nil {
		evalErr := newEvalError(key.ToBlock(), err)
		return nil, evalErr
	}
	return ev, nil
}

// EvaluateMany вычисляет блоки параллельно на пуле из Options.Workers
// горутин. Независимые ключи считаются одновременно; повторное вычисление
// одного ключа разными горутинами допустимо, в кэше остаётся первый результат.
func (c *Cache) EvaluateMany(ctx context.Context, blocks []Block) ([]*EvaluatedBlock, []error) {
	results := make([]*EvaluatedBlock, len(blocks))
	errs := make([]error, len(blocks))
	if len(blocks) == 0 {
		return results, errs
	}

	pool := pond.NewPool(min(c.workers, len(blocks)))
	defer pool.StopAndWait()

	var wg sync.WaitGroup
	for i, b := range blocks {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = c.EvaluateContext(ctx, b)
		})
	}
	wg.Wait()
	return results, errs
}

// Invalidate удаляет все записи, транзитивно зависящие от ref, и
// возвращает их количество
func (c *Cache) Invalidate(ref Ref) int {
	c.mu.Lock()
	removed := c.cascadeLocked(refNode(ref))
	c.epoch++
	c.mu.Unlock()

	c.invalidations.Add(uint64(removed))
	c.metrics.CacheInvalidated(removed)
	if removed > 0 {
		c.logger.Debug("инвалидация %v: удалено %d записей", ref, removed)
	}
	return removed
}

// Clear очищает кэш целиком
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[Key]*entry)
	c.dependents = make(map[depNode]map[Key]struct{})
	c.epoch++
	c.mu.Unlock()
	c.invalidations.Add(uint64(n))
}

// cascadeLocked обходит обратные зависимости в ширину начиная с node
func (c *Cache) cascadeLocked(start depNode) int {
	removed := 0
	queue := []depNode{start}
	visited := map[depNode]bool{start: true}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		keys := c.dependents[node]
		delete(c.dependents, node)
		for key := range keys {
			if e, ok := c.entries[key]; ok {
				c.removeEntryLocked(key, e)
				removed++
			}
			next := keyNode(key)
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return removed
}

func (c *Cache) removeEntryLocked(key Key, e *entry) {
	delete(c.entries, key)
	for _, d := range e.deps {
		if set, ok := c.dependents[d]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.dependents, d)
			}
		}
	}
}

func (c *Cache) peek(key Key) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// store сохраняет запись, если с начала вычисления не было инвалидаций.
// Если запись уже есть, побеждает первая.
func (c *Cache) store(key Key, e *entry, epoch uint64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	if c.epoch != epoch {
		return e
	}
	c.entries[key] = e
	for _, d := range e.deps {
		set, ok := c.dependents[d]
		if !ok {
			set = make(map[Key]struct{})
			c.dependents[d] = set
		}
		set[key] = struct{}{}
	}
	return e
}

// evalCall состояние одного внешнего вызова Evaluate
type evalCall struct {
	cache    *Cache
	epoch    uint64
	visiting map[Key]bool
}

// get возвращает значение и требуемую глубину для key при остатке budget.
// Вложенная ошибка не сохраняется, поэтому её зависимости добавляются в
// parentDeps: запись верхнего уровня должна инвалидироваться их изменением.
func (ec *evalCall) get(key Key, budget int, top bool, parentDeps *[]depNode) (*EvaluatedBlock, int, error) {
	c := ec.cache
	if e, ok := c.peek(key); ok {
		c.hits.Add(1)
		c.metrics.CacheHit()
		if e.err != nil {
			return nil, 0, e.err
		}
		if e.needDepth > budget {
			return nil, 0, recursionLimit(key, budget)
		}
		return e.value, e.needDepth, nil
	}
	c.misses.Add(1)
	c.metrics.CacheMiss()

	if ec.visiting[key] {
		return nil, 0, newEvalError(key.ToBlock(), fmt.Errorf("%w: cycle through %v", ErrRecursionLimit, key.ToBlock()))
	}
	ec.visiting[key] = true
	defer delete(ec.visiting, key)

	var deps []depNode
	value, need, err := ec.compute(key, budget, &deps)
	c.evaluations.Add(1)
	c.metrics.CacheEvaluation()

	if err != nil {
		err = newEvalError(key.ToBlock(), err)
		c.metrics.EvalError(errorKind(err))
		// Ошибка на верхнем уровне получена при полном лимите глубины и
		// сохраняется до инвалидации; вложенные зависят от остатка лимита.
		if top {
			c.store(key, &entry{err: err, deps: deps}, ec.epoch)
			c.logger.Warn("блок %v не вычислен: %v", key.ToBlock(), err)
		} else if parentDeps != nil {
			*parentDeps = append(*parentDeps, deps...)
		}
		return nil, 0, err
	}

	stored := c.store(key, &entry{value: value, needDepth: need, deps: deps}, ec.epoch)
	if stored.err != nil {
		return nil, 0, stored.err
	}
	if stored.needDepth > budget {
		return nil, 0, recursionLimit(key, budget)
	}
	return stored.value, stored.needDepth, nil
}

// compute вычисляет ключ, снимая внешний слой модификаторов за раз:
// Quote, затем смещение, затем поворот, затем примитив.
func (ec *evalCall) compute(key Key, budget int, deps *[]depNode) (*EvaluatedBlock, int, error) {
	b := key.Block

	if key.Rotation != vec.Identity {
		inner := Key{Block: b}
		*deps = append(*deps, keyNode(inner))
		v, need, err := ec.get(inner, budget, false, deps)
		if err != nil {
			return nil, 0, err
		}
		return applyRotation(v, key.Rotation), need, nil
	}

	if q := b.Modifiers.Quote; q.Enabled {
		inner := b
		inner.Modifiers.Quote = Quote{}
		innerKey := inner.Key()
		*deps = append(*deps, keyNode(innerKey))
		v, need, err := ec.get(innerKey, budget, false, deps)
		if err != nil {
			return nil, 0, err
		}
		return applyQuote(v, q), need, nil
	}

	if m := b.Modifiers.Move; !m.IsZero() {
		inner := b
		inner.Modifiers.Move = Move{}
		innerKey := inner.Key()
		*deps = append(*deps, keyNode(innerKey))
		v, need, err := ec.get(innerKey, budget, false, deps)
		if err != nil {
			return nil, 0, err
		}
		out := applyMove(v, m)
		_, out.Animated = b.Step(out.Resolution)
		return out, need, nil
	}

	switch p := b.Primitive.(type) {
	case nil, AirPrimitive:
		return evaluateAir(), 0, nil

	case Atom:
		if !p.Color.IsFinite() || !p.Emission.IsFinite() {
			return nil, 0, fmt.Errorf("%w: non-finite color or emission", ErrMalformedGeometry)
		}
		ev := evaluateAtom(p)
		ev.Animated = p.Attributes.Animation != AnimationNone
		return ev, 0, nil

	case Indirect:
		ref := DefRef(p.Def)
		*deps = append(*deps, refNode(ref))
		if budget <= 0 {
			return nil, 0, recursionLimit(key, budget)
		}
		def, ok := ec.cache.universe.Definition(p.Def)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %v", ErrUnknownDefinition, ref)
		}
		innerKey := def.Block.Key()
		*deps = append(*deps, keyNode(innerKey))
		v, need, err := ec.get(innerKey, budget-1, false, deps)
		if err != nil {
			return nil, 0, err
		}
		return v, need + 1, nil

	case Recur:
		ref := GridRef(p.Grid)
		*deps = append(*deps, refNode(ref))
		if !p.Resolution.IsValid() {
			return nil, 0, fmt.Errorf("%w: resolution %d is not a power of two in 1..128", ErrMalformedGeometry, p.Resolution)
		}
		if budget <= 0 {
			return nil, 0, recursionLimit(key, budget)
		}
		size := int(p.Resolution)
		region := vec.ForBlock(size).Translate(p.Offset)
		blocks, err := ec.cache.universe.readGridRegion(p.Grid, region)
		if err != nil {
			return nil, 0, err
		}

		voxels := make([]Evoxel, len(blocks))
		distinct := make(map[Key]Evoxel)
		maxNeed := 0
		for i, sb := range blocks {
			k := sb.Key()
			if v, ok := distinct[k]; ok {
				voxels[i] = v
				continue
			}
			*deps = append(*deps, keyNode(k))
			sub, need, err := ec.get(k, budget-1, false, deps)
			if err != nil {
				return nil, 0, err
			}
			maxNeed = max(maxNeed, need)
			v := sub.AsVoxel()
			distinct[k] = v
			voxels[i] = v
		}
		return fromVoxels(p.Attributes, p.Resolution, voxels), maxNeed + 1, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown primitive %T", ErrMalformedGeometry, p)
	}
}

func recursionLimit(key Key, budget int) error {
	return fmt.Errorf("%w: %v needs more than %d remaining levels", ErrRecursionLimit, key.ToBlock(), budget)
}
