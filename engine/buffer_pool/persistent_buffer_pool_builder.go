package buffer_pool

import (
	"go.uber.org/zap"
)

// PoolBuilderOption is a functional option for configuring a Pool during construction.
type PoolBuilderOption func(*pool)

// WithLabel is an option builder that sets a debug label attached to the pool's log output.
//
// Parameters:
//   - label: the debug label, typically the owning mesh name
//
// Returns:
//   - PoolBuilderOption: a function that applies the label option to a pool
func WithLabel(label string) PoolBuilderOption {
	return func(p *pool) {
		p.label = label
	}
}

// WithLogger is an option builder that overrides the pool's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - PoolBuilderOption: a function that applies the logger option to a pool
func WithLogger(l *zap.Logger) PoolBuilderOption {
	return func(p *pool) {
		p.log = l
	}
}
