package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/voxel-core/internal/config"
	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/storage"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $CUBES_CONFIG)")
	ticks := flag.Int("ticks", 0, "число тиков до остановки, 0 означает работу до сигнала")
	tickInterval := flag.Duration("tick", 50*time.Millisecond, "длительность тика")
	loadID := flag.String("load", "", "идентификатор сохранённого пространства")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("cubes"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logging.Warn("⚠️ %v, используется %s", err, level)
	}
	manager := logging.GetLoggerManager()
	manager.EnableFileOutput(cfg.Logging.File)
	logging.GetSpaceLogger()
	logging.GetBlockLogger()
	logging.GetStorageLogger()
	manager.SetAllLevels(level)
	logging.Default().SetLevel(level)
	defer manager.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *ticks, *tickInterval, *loadID); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Хост остановлен")
}

func run(ctx context.Context, cfg *config.Config, ticks int, tickInterval time.Duration, loadID string) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.TelemetryOptions())
		if err != nil {
			return fmt.Errorf("инициализация телеметрии: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logging.Warn("Ошибка остановки телеметрии: %v", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	universe := block.NewUniverse()
	cache := block.NewCache(universe, cfg.BlockOptions(m, logging.GetBlockLogger()))
	spaceOpts, err := cfg.SpaceOptions(m, logging.GetSpaceLogger())
	if err != nil {
		return err
	}

	var store *storage.SpaceStore
	if cfg.Storage.DataPath != "" {
		store, err = storage.NewSpaceStore(cfg.Storage.DataPath, logging.GetStorageLogger())
		if err != nil {
			return err
		}
		defer store.Close()
	}

	s, err := openSpace(ctx, cfg, store, universe, cache, spaceOpts, loadID)
	if err != nil {
		return err
	}
	logging.Info("🧊 Пространство %s %v, палитра %d, в очереди света %d",
		s.ID(), s.Bounds(), s.PaletteLen(), s.QueueLen())

	if cfg.Metrics.Enabled {
		exporter := metrics.NewExporter(m, registry, time.Duration(cfg.Metrics.PollSeconds)*time.Second)
		exporter.Track(s)
		exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Metrics.GetMetricsPort()))
		defer exporter.Stop()
	}

	loop(ctx, s, cfg.Lighting.DrainBudget, ticks, tickInterval)

	if store != nil {
		if err := store.SaveUniverse(universe); err != nil {
			return err
		}
		if err := store.SaveSpace(s); err != nil {
			return err
		}
		logging.Info("💾 Пространство %s сохранено в %s", s.ID(), store.Path())
	}
	return nil
}

// openSpace загружает сохранённое пространство или строит демонстрационное
func openSpace(ctx context.Context, cfg *config.Config, store *storage.SpaceStore, universe *block.Universe,
	cache *block.Cache, opts space.Options, loadID string) (*space.Space, error) {
	if loadID != "" {
		if store == nil {
			return nil, errors.New("для -load нужен storage.data_path")
		}
		id, err := uuid.Parse(loadID)
		if err != nil {
			return nil, fmt.Errorf("некорректный идентификатор %q: %w", loadID, err)
		}
		if err := store.LoadUniverse(universe); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return store.LoadSpace(ctx, id, cache, opts)
	}

	bounds, err := cfg.Bounds()
	if err != nil {
		return nil, err
	}
	s, err := space.New(bounds, cache, opts)
	if err != nil {
		return nil, err
	}
	if err := buildDemo(s, universe); err != nil {
		return nil, fmt.Errorf("построение сцены: %w", err)
	}
	return s, nil
}

// buildDemo строит пол, стену из составных кирпичей, лампу и движущийся блок
func buildDemo(s *space.Space, universe *block.Universe) error {
	b := s.Bounds()
	size := b.Size()

	stone := block.FromColor(vec.NewRgba(0.45, 0.45, 0.5, 1))
	mortar := block.FromColor(vec.NewRgba(0.8, 0.8, 0.75, 1))
	clay := block.FromColor(vec.NewRgba(0.7, 0.25, 0.2, 1))

	grid, err := universe.NewGrid(vec.ForBlock(4), clay)
	if err != nil {
		return err
	}
	if err := universe.FillGrid(grid, vec.MustAab(vec.NewVec3(0, 3, 0), vec.NewVec3(4, 1, 4)), mortar); err != nil {
		return err
	}
	brickDef, err := universe.Define("brick", block.NewRecur(block.Attributes{DisplayName: "brick", Selectable: true}, grid, vec.Zero3, block.R4))
	if err != nil {
		return err
	}
	brick := block.NewIndirect(brickDef)

	if err := s.Fill(vec.MustAab(b.Lower, vec.NewVec3(size.X, 1, size.Z)), stone); err != nil {
		return err
	}
	if wallHeight := min(max(size.Y/3, 1), size.Y-1); wallHeight > 0 {
		wall := vec.MustAab(b.Lower.Add(vec.NewVec3(size.X/2, 1, 0)), vec.NewVec3(1, wallHeight, size.Z))
		if err := s.Fill(wall, brick.Rotate(vec.Clockwise)); err != nil {
			return err
		}
	}

	lamp := block.NewAtom(block.Atom{
		Attributes: block.Attributes{DisplayName: "lamp"},
		Color:      vec.NewRgba(1, 0.9, 0.6, 0.2),
		Emission:   vec.NewRgb(2, 1.8, 1.2),
		Collision:  block.CollisionNone,
	})
	if c := b.Lower.Add(vec.NewVec3(size.X/4, 1, size.Z/2)); b.Contains(c) {
		if _, err := s.Set(c, lamp); err != nil {
			return err
		}
	}
	if c := b.Lower.Add(vec.NewVec3(3*size.X/4, 1, size.Z/2)); b.Contains(c) {
		slider := stone.WithMove(block.Move{Direction: vec.PY, Velocity: 8})
		if _, err := s.Set(c, slider); err != nil {
			return err
		}
	}
	return nil
}

// loop выполняет тики: анимации и порция пересчёта света
func loop(ctx context.Context, s *space.Space, budget, ticks int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 1; ticks == 0 || tick <= ticks; tick++ {
		select {
		case <-ctx.Done():
			logging.Info("📡 Получен сигнал завершения")
			return
		case <-ticker.C:
		}

		if _, err := s.StepAnimations(ctx); err != nil {
			logging.Warn("Ошибка анимации: %v", err)
		}
		remaining := s.Drain(ctx, budget)
		if remaining > 0 || tick%100 == 0 {
			logging.Debug("тик %d: в очереди света %d", tick, remaining)
		}
	}
	stats := s.Stats()
	logging.Info("✅ Тики завершены: пересчитано %d ячеек, изменено %d", stats.LightUpdates, stats.LightChanges)
}
