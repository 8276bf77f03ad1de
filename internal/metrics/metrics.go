// Package metrics содержит Prometheus-метрики кэша вычисления блоков,
// пространств и движка освещения.
//
// Все методы Metrics допускают nil-получатель: ядро вызывает их безусловно,
// а хост решает, нужны ли метрики вообще.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cubes"

// Metrics набор коллекторов ядра
type Metrics struct {
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheEvaluations   prometheus.Counter
	cacheInvalidations prometheus.Counter
	evalErrors         *prometheus.CounterVec

	spaceEdits         prometheus.Counter
	paletteCompactions prometheus.Counter

	lightUpdates  prometheus.Counter
	lightChanges  prometheus.Counter
	drainDuration prometheus.Histogram

	queueLength *prometheus.GaugeVec
	paletteSize *prometheus.GaugeVec
}

// New создаёт метрики и регистрирует их в reg. При reg == nil метрики
// создаются, но не регистрируются (удобно в тестах).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_cache",
			Name:      "hits_total",
			Help:      "Запросы вычисления блока, обслуженные из кэша.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_cache",
			Name:      "misses_total",
			Help:      "Запросы вычисления блока, не найденные в кэше.",
		}),
		cacheEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_cache",
			Name:      "evaluations_total",
			Help:      "Фактически выполненные вычисления блоков.",
		}),
		cacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_cache",
			Name:      "invalidated_entries_total",
			Help:      "Записи кэша, удалённые каскадной инвалидацией.",
		}),
		evalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "block_cache",
			Name:      "errors_total",
			Help:      "Ошибки вычисления блоков по видам.",
		}, []string{"kind"}),
		spaceEdits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "edits_total",
			Help:      "Успешные изменения ячеек пространства.",
		}),
		paletteCompactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "palette_compactions_total",
			Help:      "Сжатия палитры, изменившие индексы.",
		}),
		lightUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "light",
			Name:      "cell_updates_total",
			Help:      "Пересчитанные ячейки освещения.",
		}),
		lightChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "light",
			Name:      "cell_changes_total",
			Help:      "Пересчёты, изменившие значение освещения.",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "light",
			Name:      "drain_duration_seconds",
			Help:      "Длительность одного вызова Drain.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "light",
			Name:      "queue_length",
			Help:      "Ячейки в очереди пересчёта освещения.",
		}, []string{"space"}),
		paletteSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "palette_size",
			Help:      "Количество записей палитры пространства.",
		}, []string{"space"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheHits, m.cacheMisses, m.cacheEvaluations, m.cacheInvalidations, m.evalErrors,
			m.spaceEdits, m.paletteCompactions,
			m.lightUpdates, m.lightChanges, m.drainDuration,
			m.queueLength, m.paletteSize,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheEvaluation() {
	if m != nil {
		m.cacheEvaluations.Inc()
	}
}

// CacheInvalidated учитывает n удалённых записей
func (m *Metrics) CacheInvalidated(n int) {
	if m != nil && n > 0 {
		m.cacheInvalidations.Add(float64(n))
	}
}

// EvalError учитывает ошибку вычисления вида kind
func (m *Metrics) EvalError(kind string) {
	if m != nil {
		m.evalErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SpaceEdit() {
	if m != nil {
		m.spaceEdits.Inc()
	}
}

func (m *Metrics) PaletteCompacted() {
	if m != nil {
		m.paletteCompactions.Inc()
	}
}

// LightDrained учитывает один вызов Drain
func (m *Metrics) LightDrained(updated, changed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lightUpdates.Add(float64(updated))
	m.lightChanges.Add(float64(changed))
	m.drainDuration.Observe(elapsed.Seconds())
}

// SetSpaceGauges обновляет показатели пространства
func (m *Metrics) SetSpaceGauges(space string, queueLen, paletteLen int) {
	if m == nil {
		return
	}
	m.queueLength.WithLabelValues(space).Set(float64(queueLen))
	m.paletteSize.WithLabelValues(space).Set(float64(paletteLen))
}

// ForgetSpace удаляет показатели пространства
func (m *Metrics) ForgetSpace(space string) {
	if m == nil {
		return
	}
	m.queueLength.DeleteLabelValues(space)
	m.paletteSize.DeleteLabelValues(space)
}
