package deformer

import (
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"go.uber.org/zap"
)

// ManagerBuilderOption is a functional option for configuring a Manager during construction.
type ManagerBuilderOption func(*manager)

// WithPool is an option builder that supplies the persistent buffer pool instead of creating one.
//
// Parameters:
//   - pool: the buffer pool
//
// Returns:
//   - ManagerBuilderOption: a function that applies the pool option to a manager
func WithPool(pool buffer_pool.Pool) ManagerBuilderOption {
	return func(m *manager) {
		m.pool = pool
	}
}

// WithLogger is an option builder that overrides the manager's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - ManagerBuilderOption: a function that applies the logger option to a manager
func WithLogger(l *zap.Logger) ManagerBuilderOption {
	return func(m *manager) {
		m.log = l
	}
}
