package engine

import (
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/config"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig applies a loaded configuration. Options after it override individual settings.
//
// Parameters:
//   - cfg: the configuration
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg config.Config) EngineBuilderOption {
	return func(e *engine) {
		e.cfg = cfg
		e.engineTickRate = tickDuration(cfg.Engine.TickRate)
		e.profilingEnabled = cfg.Engine.Profiling
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in frames per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		e.engineTickRate = tickDuration(fps)
	}
}

// WithRecordingContext sets the recording context every manager dispatches into.
// Defaults to a host-memory context; pass buffer_pool.NewWGPURecordingContext for GPU buffers.
//
// Parameters:
//   - ctx: the recording context
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRecordingContext(ctx buffer_pool.RecordingContext) EngineBuilderOption {
	return func(e *engine) {
		e.recording = ctx
	}
}

// WithProcessor sets a pre-built readback processor instead of building one from the configuration.
//
// Parameters:
//   - p: the processor
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProcessor(p readback.Processor) EngineBuilderOption {
	return func(e *engine) {
		e.processor = p
	}
}

// WithLogger overrides the engine's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(l *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.log = l
	}
}
