// Package config loads the engine's tunables from YAML.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Readback ReadbackConfig `yaml:"readback"`
}

// EngineConfig configures the frame driver.
type EngineConfig struct {
	// TickRate is the number of frames per second the driver runs.
	TickRate float64 `yaml:"tick_rate"`
	// Profiling enables periodic frame statistics logging.
	Profiling bool `yaml:"profiling"`
	// ProfileInterval is how often the profiler logs.
	ProfileInterval time.Duration `yaml:"profile_interval"`
}

// ReadbackConfig configures the geometry readback processor.
type ReadbackConfig struct {
	// Workers is the maximum number of background conversion workers.
	Workers int `yaml:"workers"`
	// QueueSize is the worker pool's task queue capacity.
	QueueSize int `yaml:"queue_size"`
	// IdleTimeout is how long an idle worker lives before exiting.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// VertexChunk is the number of render vertices converted per parallel chunk.
	VertexChunk int `yaml:"vertex_chunk"`
	// MaxParallelism bounds the goroutines used by a single conversion.
	MaxParallelism int `yaml:"max_parallelism"`
}

// Default returns the configuration used when no file is supplied.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	workers := max(runtime.NumCPU()-1, 1)
	return Config{
		Engine: EngineConfig{
			TickRate:        60,
			ProfileInterval: time.Second,
		},
		Readback: ReadbackConfig{
			Workers:        workers,
			QueueSize:      256,
			IdleTimeout:    time.Second,
			VertexChunk:    1024,
			MaxParallelism: workers,
		},
	}
}

// Load reads a YAML file and overlays it on Default. Zero values in the file keep the default.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the merged configuration
//   - error: an error if the file cannot be read or parsed
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document and overlays it on Default.
//
// Parameters:
//   - data: the YAML bytes
//
// Returns:
//   - Config: the merged configuration
//   - error: an error if the document is malformed or holds negative values
func Parse(data []byte) (Config, error) {
	var raw Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse: %w", err)
	}
	if err := raw.validate(); err != nil {
		return Config{}, err
	}

	def := Default()
	cfg := Config{
		Engine: EngineConfig{
			TickRate:        common.Coalesce(raw.Engine.TickRate, def.Engine.TickRate),
			Profiling:       raw.Engine.Profiling,
			ProfileInterval: common.Coalesce(raw.Engine.ProfileInterval, def.Engine.ProfileInterval),
		},
		Readback: ReadbackConfig{
			Workers:        common.Coalesce(raw.Readback.Workers, def.Readback.Workers),
			QueueSize:      common.Coalesce(raw.Readback.QueueSize, def.Readback.QueueSize),
			IdleTimeout:    common.Coalesce(raw.Readback.IdleTimeout, def.Readback.IdleTimeout),
			VertexChunk:    common.Coalesce(raw.Readback.VertexChunk, def.Readback.VertexChunk),
			MaxParallelism: common.Coalesce(raw.Readback.MaxParallelism, raw.Readback.Workers, def.Readback.MaxParallelism),
		},
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Engine.TickRate < 0:
		return fmt.Errorf("config: engine.tick_rate must not be negative")
	case c.Readback.Workers < 0:
		return fmt.Errorf("config: readback.workers must not be negative")
	case c.Readback.QueueSize < 0:
		return fmt.Errorf("config: readback.queue_size must not be negative")
	case c.Readback.VertexChunk < 0:
		return fmt.Errorf("config: readback.vertex_chunk must not be negative")
	case c.Readback.MaxParallelism < 0:
		return fmt.Errorf("config: readback.max_parallelism must not be negative")
	}
	return nil
}
