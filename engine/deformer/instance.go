package deformer

import (
	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"github.com/google/uuid"
)

// InstanceID is the globally unique identifier of a producer-created deformer instance.
type InstanceID = uuid.UUID

// NewInstanceID returns a new random InstanceID.
func NewInstanceID() InstanceID {
	return uuid.New()
}

// instance is the implementation of the Instance interface.
type instance struct {
	id        InstanceID
	isDefault bool
	asset     DeformerAsset
	graph     ComputeGraph
	allocated bool

	sortPriorityOffset        int
	outputBuffersFromPrevious common.BufferKind

	// readbacks are requests routed to this instance for the next dispatch.
	readbacks []*readback.Request
}

// Instance is one schedulable unit of per-frame GPU work bound to a mesh.
// The scheduler owns every instance; callers only observe them.
type Instance interface {
	// ID returns the instance identifier, or uuid.Nil for the default instance.
	//
	// Returns:
	//   - InstanceID: the identifier
	ID() InstanceID

	// IsDefault reports whether this is the scheduler's default instance.
	//
	// Returns:
	//   - bool: true for the default instance
	IsDefault() bool

	// Asset returns the template the instance was created from.
	//
	// Returns:
	//   - DeformerAsset: the template asset
	Asset() DeformerAsset

	// Graph returns the instance's compute graph.
	//
	// Returns:
	//   - ComputeGraph: the compute graph
	Graph() ComputeGraph

	// Allocated reports whether the instance's resources are ready.
	//
	// Returns:
	//   - bool: true once allocated
	Allocated() bool

	// SortPriorityOffset returns the submission offset assigned at the last dispatch.
	//
	// Returns:
	//   - int: the offset
	SortPriorityOffset() int

	// OutputBuffersFromPreviousInstances returns the output buffers that were valid before the last dispatch.
	//
	// Returns:
	//   - common.BufferKind: the valid kinds
	OutputBuffersFromPreviousInstances() common.BufferKind

	// OutputBuffers returns the output buffer kinds this instance may write.
	//
	// Returns:
	//   - common.BufferKind: the written kinds
	OutputBuffers() common.BufferKind
}

var _ Instance = &instance{}

// newInstance creates an unallocated instance with the provided options.
func newInstance(options ...InstanceBuilderOption) *instance {
	inst := &instance{}
	for _, opt := range options {
		opt(inst)
	}
	return inst
}

func (i *instance) ID() InstanceID {
	return i.id
}

func (i *instance) IsDefault() bool {
	return i.isDefault
}

func (i *instance) Asset() DeformerAsset {
	return i.asset
}

func (i *instance) Graph() ComputeGraph {
	return i.graph
}

func (i *instance) Allocated() bool {
	return i.allocated
}

func (i *instance) SortPriorityOffset() int {
	return i.sortPriorityOffset
}

func (i *instance) OutputBuffersFromPreviousInstances() common.BufferKind {
	return i.outputBuffersFromPrevious
}

func (i *instance) OutputBuffers() common.BufferKind {
	if i.graph == nil {
		return common.BufferNone
	}
	return i.graph.GetOutputBuffers()
}

func (i *instance) allocate() error {
	if i.allocated {
		return nil
	}
	if i.graph != nil {
		if err := i.graph.AllocateResources(); err != nil {
			return err
		}
	}
	i.allocated = true
	return nil
}

// release frees the graph's resources and fails any requests still routed to the instance.
func (i *instance) release() {
	readback.ReleaseAll(i.readbacks)
	i.readbacks = nil
	if !i.allocated {
		return
	}
	if i.graph != nil {
		i.graph.ReleaseResources()
	}
	i.allocated = false
}

func (i *instance) takeReadbacks() []*readback.Request {
	r := i.readbacks
	i.readbacks = nil
	return r
}
