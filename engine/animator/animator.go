// Package animator provides a host-evaluated deformer that transforms a mesh's render vertices
// each frame and writes the results into the scheduler's persistent output buffers.
package animator

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/deformer"
	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"go.uber.org/zap"
)

// Transform is the per-frame affine offset applied to every vertex position: p*Scale + Translation.
type Transform struct {
	Translation [3]float32
	Scale       [3]float32
}

// IdentityTransform leaves positions unchanged.
var IdentityTransform = Transform{Scale: [3]float32{1, 1, 1}}

// Apply returns p transformed.
func (t Transform) Apply(p [3]float32) [3]float32 {
	return [3]float32{
		p[0]*t.Scale[0] + t.Translation[0],
		p[1]*t.Scale[1] + t.Translation[1],
		p[2]*t.Scale[2] + t.Translation[2],
	}
}

// animator is the implementation of the Animator interface.
type animator struct {
	mu *sync.Mutex

	name      string
	outputs   common.BufferKind
	transform Transform
	log       *zap.Logger
}

// Animator is a deformer asset whose graphs offset and scale vertex positions.
//
// The transform is shared by every graph created from the asset and may be changed from the tick
// callback between frames; each graph samples it once per EnqueueWork.
type Animator interface {
	deformer.DeformerAsset

	// Transform returns the current transform.
	//
	// Returns:
	//   - Transform: the transform applied on the next frame
	Transform() Transform

	// SetTransform sets the transform applied from the next frame on.
	//
	// Parameters:
	//   - t: the new transform
	SetTransform(t Transform)

	// Outputs returns the output buffer kinds the animator's graphs write.
	//
	// Returns:
	//   - common.BufferKind: the written kinds
	Outputs() common.BufferKind
}

var _ Animator = &animator{}

// NewAnimator creates an Animator with the provided options. By default it writes positions only
// and applies the identity transform.
//
// Parameters:
//   - options: a variadic list of options to configure the animator
//
// Returns:
//   - Animator: the new animator
func NewAnimator(options ...AnimatorBuilderOption) Animator {
	a := &animator{
		mu:        &sync.Mutex{},
		name:      "animator",
		outputs:   common.BufferPosition,
		transform: IdentityTransform,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Named("animator")
	}
	return a
}

func (a *animator) Name() string {
	return a.name
}

func (a *animator) CreateComputeGraph(target *mesh.Mesh, pool buffer_pool.Pool) deformer.ComputeGraph {
	return newGraph(a, target, pool)
}

func (a *animator) Transform() Transform {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transform
}

func (a *animator) SetTransform(t Transform) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transform = t
}

func (a *animator) Outputs() common.BufferKind {
	return a.outputs
}
