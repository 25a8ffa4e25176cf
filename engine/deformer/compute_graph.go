package deformer

import (
	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
)

// ComputeGraph is the compiled GPU work of one deformer instance. The scheduler treats it as opaque.
type ComputeGraph interface {
	// AllocateResources creates the graph's GPU resources.
	//
	// Returns:
	//   - error: an error if allocation failed; the scheduler retries next frame
	AllocateResources() error

	// ReleaseResources frees the graph's GPU resources.
	ReleaseResources()

	// EnqueueWork records this frame's dispatches.
	//
	// If desc.Readbacks is non-empty the graph takes ownership of those requests: it must attach
	// them to a readback.GeometryReadback enqueued on desc.Processor, or release them.
	//
	// Parameters:
	//   - desc: the frame's work descriptor
	//
	// Returns:
	//   - int: the number of compute graph submissions queued
	EnqueueWork(desc WorkDescriptor) int

	// GetOutputBuffers returns the output buffer kinds this graph may write.
	//
	// Returns:
	//   - common.BufferKind: the written kinds
	GetOutputBuffers() common.BufferKind
}

// DeformerAsset is the template a deformer instance is created from.
type DeformerAsset interface {
	// Name returns the asset identifier.
	//
	// Returns:
	//   - string: the asset name
	Name() string

	// CreateComputeGraph instantiates the asset's compute graph for a target mesh.
	//
	// Parameters:
	//   - target: the mesh the graph deforms
	//   - pool: the scheduler's persistent buffer pool
	//
	// Returns:
	//   - ComputeGraph: the new graph
	CreateComputeGraph(target *mesh.Mesh, pool buffer_pool.Pool) ComputeGraph
}

// WorkDescriptor is everything a compute graph needs to record one frame of work.
type WorkDescriptor struct {
	// Frame describes the frame being dispatched.
	Frame common.FrameDescriptor

	// InstanceID identifies the instance being dispatched; the zero value for the default instance.
	InstanceID InstanceID

	// Default is true when the default instance is being dispatched.
	Default bool

	// SortPriorityOffset is the number of submissions queued by earlier instances this frame.
	// Graphs add it to their own submission indices to keep a total order across instances.
	SortPriorityOffset int

	// OutputBuffersFromPreviousInstances are the output buffers already valid before this instance runs.
	OutputBuffersFromPreviousInstances common.BufferKind

	// Mesh is the target mesh.
	Mesh *mesh.Mesh

	// Pool is the scheduler's persistent buffer pool.
	Pool buffer_pool.Pool

	// Context is the frame's recording context.
	Context buffer_pool.RecordingContext

	// Readbacks are geometry readback requests routed to this instance.
	Readbacks []*readback.Request

	// Processor receives the readbacks this instance produces.
	Processor readback.Processor
}
