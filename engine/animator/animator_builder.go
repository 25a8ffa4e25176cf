package animator

import (
	"github.com/Carmen-Shannon/oxy-deformer/common"
	"go.uber.org/zap"
)

// AnimatorBuilderOption is a functional option for configuring an Animator during construction.
type AnimatorBuilderOption func(*animator)

// WithName is an option builder that sets the asset name. The name also prefixes the animator's
// implicit pool resources, so distinct animators on one mesh need distinct names.
//
// Parameters:
//   - name: the asset name
//
// Returns:
//   - AnimatorBuilderOption: a function that applies the name option to an animator
func WithName(name string) AnimatorBuilderOption {
	return func(a *animator) {
		a.name = name
	}
}

// WithOutputs is an option builder that sets which output buffers the animator writes.
// Tangents and colors are passed through from the mesh description.
//
// Parameters:
//   - kinds: the output buffer kinds
//
// Returns:
//   - AnimatorBuilderOption: a function that applies the outputs option to an animator
func WithOutputs(kinds common.BufferKind) AnimatorBuilderOption {
	return func(a *animator) {
		a.outputs = kinds & common.BufferAll
	}
}

// WithTransform is an option builder that sets the initial transform.
//
// Parameters:
//   - t: the initial transform
//
// Returns:
//   - AnimatorBuilderOption: a function that applies the transform option to an animator
func WithTransform(t Transform) AnimatorBuilderOption {
	return func(a *animator) {
		a.transform = t
	}
}

// WithLogger is an option builder that overrides the animator's logger.
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - AnimatorBuilderOption: a function that applies the logger option to an animator
func WithLogger(l *zap.Logger) AnimatorBuilderOption {
	return func(a *animator) {
		a.log = l
	}
}
