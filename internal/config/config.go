package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/metrics"
	"github.com/annel0/voxel-core/internal/observability"
	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

// EnvConfigPath переменная окружения с путём к файлу конфигурации
const EnvConfigPath = "CUBES_CONFIG"

// Config корневая структура конфигурации приложения.
type Config struct {
	Space     SpaceConfig     `yaml:"space"`
	Lighting  LightingConfig  `yaml:"lighting"`
	Block     BlockConfig     `yaml:"block"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SpaceConfig struct {
	// Size размеры пространства демо-хоста
	Size            [3]int `yaml:"size"`
	PaletteCapacity int    `yaml:"palette_capacity"`
	// Compaction "immediate" или "deferred"
	Compaction string `yaml:"compaction"`
}

type LightingConfig struct {
	SkyEnabled       bool       `yaml:"sky_enabled"`
	SkyColor         [3]float32 `yaml:"sky_color"`
	SkyDirection     string     `yaml:"sky_direction"`
	Falloff          float32    `yaml:"falloff"`
	Decrement        float32    `yaml:"decrement"`
	Epsilon          float32    `yaml:"epsilon"`
	MaxProbeDistance float64    `yaml:"max_probe_distance"`
	// DrainBudget ячеек на один тик; отрицательное значение снимает ограничение
	DrainBudget int `yaml:"drain_budget"`
}

type BlockConfig struct {
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
	EvalWorkers       int `yaml:"eval_workers"`
}

type StorageConfig struct {
	// DataPath каталог BadgerDB; пустой отключает хранение
	DataPath string `yaml:"data_path"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	// PollSeconds период опроса показателей пространств
	PollSeconds int `yaml:"poll_seconds"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  bool   `yaml:"file"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	light := space.DefaultLightPhysics()
	return &Config{
		Space: SpaceConfig{
			Size:            [3]int{32, 32, 32},
			PaletteCapacity: space.MaxPaletteCapacity,
			Compaction:      space.CompactImmediate.String(),
		},
		Lighting: LightingConfig{
			SkyEnabled:   light.SkyEnabled,
			SkyColor:     [3]float32{light.SkyColor.R, light.SkyColor.G, light.SkyColor.B},
			SkyDirection: light.SkyDirection.String(),
			Falloff:      light.Falloff,
			Decrement:    light.Decrement,
			Epsilon:      light.Epsilon,
			DrainBudget:  4096,
		},
		Block: BlockConfig{
			MaxRecursionDepth: block.DefaultMaxDepth,
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			PollSeconds: 5,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cubes",
			Insecure:    true,
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (m *MetricsConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(m.Port, "CUBES_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берёт путь из CUBES_CONFIG; если и он не задан,
// возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	var errs []error
	for i, n := range c.Space.Size {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("space.size[%d] = %d должно быть положительным", i, n))
		}
	}
	if _, err := c.SpaceOptions(nil, nil); err != nil {
		errs = append(errs, err)
	}
	if c.Block.MaxRecursionDepth < 0 {
		errs = append(errs, fmt.Errorf("block.max_recursion_depth = %d отрицательно", c.Block.MaxRecursionDepth))
	}
	if c.Block.EvalWorkers < 0 {
		errs = append(errs, fmt.Errorf("block.eval_workers = %d отрицательно", c.Block.EvalWorkers))
	}
	if c.Metrics.PollSeconds < 0 {
		errs = append(errs, fmt.Errorf("metrics.poll_seconds = %d отрицательно", c.Metrics.PollSeconds))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio = %v вне [0, 1]", r))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Bounds границы пространства демо-хоста с началом в нуле
func (c *Config) Bounds() (vec.Aab, error) {
	s := c.Space.Size
	return vec.NewAab(vec.Zero3, vec.NewVec3(s[0], s[1], s[2]))
}

// LightPhysics параметры освещения
func (c *Config) LightPhysics() (space.LightPhysics, error) {
	l := c.Lighting
	dir, ok := vec.ParseFace(l.SkyDirection)
	if !ok {
		return space.LightPhysics{}, fmt.Errorf("lighting.sky_direction: неизвестная грань %q", l.SkyDirection)
	}
	p := space.LightPhysics{
		SkyEnabled:       l.SkyEnabled,
		SkyColor:         vec.NewRgb(l.SkyColor[0], l.SkyColor[1], l.SkyColor[2]),
		SkyDirection:     dir,
		Falloff:          l.Falloff,
		Decrement:        l.Decrement,
		Epsilon:          l.Epsilon,
		MaxProbeDistance: l.MaxProbeDistance,
	}
	if err := p.Validate(); err != nil {
		return space.LightPhysics{}, fmt.Errorf("lighting: %w", err)
	}
	return p, nil
}

// SpaceOptions собирает параметры пространства
func (c *Config) SpaceOptions(m *metrics.Metrics, logger *logging.Logger) (space.Options, error) {
	compaction, err := space.ParseCompaction(c.Space.Compaction)
	if err != nil {
		return space.Options{}, fmt.Errorf("space.compaction: %w", err)
	}
	if n := c.Space.PaletteCapacity; n < 0 || n > space.MaxPaletteCapacity {
		return space.Options{}, fmt.Errorf("space.palette_capacity = %d вне [0, %d]", n, space.MaxPaletteCapacity)
	}
	light, err := c.LightPhysics()
	if err != nil {
		return space.Options{}, err
	}
	return space.Options{
		PaletteCapacity: c.Space.PaletteCapacity,
		Compaction:      compaction,
		Light:           light,
		Metrics:         m,
		Logger:          logger,
	}, nil
}

// BlockOptions собирает параметры кэша вычисления блоков
func (c *Config) BlockOptions(m *metrics.Metrics, logger *logging.Logger) block.Options {
	return block.Options{
		MaxDepth: c.Block.MaxRecursionDepth,
		Workers:  c.Block.EvalWorkers,
		Metrics:  m,
		Logger:   logger,
	}
}

// TelemetryOptions параметры OpenTelemetry
func (c *Config) TelemetryOptions() observability.Options {
	return observability.Options{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}
