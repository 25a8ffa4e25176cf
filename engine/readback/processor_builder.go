package readback

import (
	"time"

	"go.uber.org/zap"
)

// ProcessorBuilderOption is a functional option for configuring a Processor during construction.
type ProcessorBuilderOption func(*processor)

// WithTaskRunner is an option builder that sets the runner conversion tasks are submitted to.
// When omitted, a worker pool runner is created from WithWorkers.
//
// Parameters:
//   - runner: the task runner
//
// Returns:
//   - ProcessorBuilderOption: a function that applies the runner option to a processor
func WithTaskRunner(runner TaskRunner) ProcessorBuilderOption {
	return func(p *processor) {
		p.runner = runner
	}
}

// WithWorkers is an option builder that configures the default worker pool runner.
//
// Parameters:
//   - workers: the maximum number of conversion workers
//   - queueSize: the worker pool queue capacity
//   - idleTimeout: how long idle workers live
//
// Returns:
//   - ProcessorBuilderOption: a function that applies the worker option to a processor
func WithWorkers(workers, queueSize int, idleTimeout time.Duration) ProcessorBuilderOption {
	return func(p *processor) {
		p.workers = workers
		p.queueSize = queueSize
		p.idleTimeout = idleTimeout
	}
}

// WithConversion is an option builder that sets how a single conversion is parallelized.
//
// Parameters:
//   - vertexChunk: render vertices per parallel chunk (values <= 0 mean 1)
//   - maxParallelism: maximum goroutines per conversion (values <= 0 mean unbounded)
//
// Returns:
//   - ProcessorBuilderOption: a function that applies the conversion option to a processor
func WithConversion(vertexChunk, maxParallelism int) ProcessorBuilderOption {
	return func(p *processor) {
		p.conv = converter{chunk: vertexChunk, parallelism: maxParallelism}
	}
}

// WithLogger is an option builder that overrides the processor's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - ProcessorBuilderOption: a function that applies the logger option to a processor
func WithLogger(l *zap.Logger) ProcessorBuilderOption {
	return func(p *processor) {
		p.log = l
	}
}
