package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SpaceStats показатели пространства для периодического экспорта
type SpaceStats struct {
	Space      string
	QueueLen   int
	PaletteLen int
}

// SpaceStatsProvider источник показателей пространства
type SpaceStatsProvider interface {
	MetricsSnapshot() SpaceStats
}

// Exporter управляет HTTP-эндпоинтом Prometheus и периодически обновляет Gauge.
// Пространства опрашиваются через SpaceStatsProvider, без блокировок на
// горячем пути.
type Exporter struct {
	metrics  *Metrics
	gatherer prometheus.Gatherer
	interval time.Duration

	mu      sync.Mutex
	sources map[string]SpaceStatsProvider

	quit chan struct{}
	done chan struct{}
	srv  *http.Server
}

// NewExporter создаёт экспортер, но не запускает HTTP-сервер и опрос
func NewExporter(m *Metrics, gatherer prometheus.Gatherer, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Exporter{
		metrics:  m,
		gatherer: gatherer,
		interval: interval,
		sources:  make(map[string]SpaceStatsProvider),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Track добавляет пространство в опрос
func (e *Exporter) Track(p SpaceStatsProvider) {
	s := p.MetricsSnapshot()
	e.mu.Lock()
	e.sources[s.Space] = p
	e.mu.Unlock()
}

// Untrack удаляет пространство из опроса
func (e *Exporter) Untrack(space string) {
	e.mu.Lock()
	delete(e.sources, space)
	e.mu.Unlock()
	e.metrics.ForgetSpace(space)
}

// Handler возвращает HTTP-обработчик /metrics
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий: HTTP-сервер и опрос стартуют в отдельных горутинах.
func (e *Exporter) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.srv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := e.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	go e.loop()
}

// Poll один раз обновляет показатели всех пространств
func (e *Exporter) Poll() {
	e.mu.Lock()
	sources := make([]SpaceStatsProvider, 0, len(e.sources))
	for _, p := range e.sources {
		sources = append(sources, p)
	}
	e.mu.Unlock()

	for _, p := range sources {
		s := p.MetricsSnapshot()
		e.metrics.SetSpaceGauges(s.Space, s.QueueLen, s.PaletteLen)
	}
}

// Stop останавливает опрос и HTTP-сервер
func (e *Exporter) Stop() {
	select {
	case <-e.quit:
		return
	default:
	}
	close(e.quit)
	if e.srv != nil {
		<-e.done
		_ = e.srv.Close()
	}
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-ticker.C:
			e.Poll()
		case <-e.quit:
			return
		}
	}
}
