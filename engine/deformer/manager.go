// Package deformer schedules the deformer instances that run against a single mesh each frame.
package deformer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateInstance is reported when an identifier is registered twice.
	ErrDuplicateInstance = errors.New("deformer: instance already registered")

	// ErrUnknownInstance is reported when an enqueued identifier is not registered.
	ErrUnknownInstance = errors.New("deformer: unknown instance")

	// ErrInvalidPhase is reported when an identifier is enqueued into an unknown phase.
	ErrInvalidPhase = errors.New("deformer: invalid execution phase")
)

// ProducerHandle identifies an external entity that creates deformer instances.
type ProducerHandle uint64

// ExecutionEntry is one dispatched instance in a frame's total order.
type ExecutionEntry struct {
	ID                                 InstanceID
	Default                            bool
	SortPriorityOffset                 int
	OutputBuffersFromPreviousInstances common.BufferKind
	Readbacks                          int
}

// manager is the implementation of the Manager interface.
type manager struct {
	target    *mesh.Mesh
	pool      buffer_pool.Pool
	processor readback.Processor
	log       *zap.Logger

	defaultInstance *instance

	// instances, pending and producers are mutated only from the owning thread.
	instances map[InstanceID]*instance
	pending   []InstanceID
	producers map[ProducerHandle][]InstanceID

	queue *executionQueue

	readbackMu *sync.Mutex
	readbacks  []*readback.Request
	// resourcesAllocated is true between AllocateResources and ReleaseResources. Guarded by readbackMu.
	resourcesAllocated bool

	lastOrder []ExecutionEntry
}

// Manager schedules the default deformer instance of a mesh together with any number of
// producer-created instances.
//
// Threading: RegisterProducerInstance, OnProducerDestroyed, RunFrame, AllocateResources and
// ReleaseResources must be called from the single thread that owns the mesh. EnqueueForExecution
// and RequestGeometryReadback may be called from any goroutine.
type Manager interface {
	// Mesh returns the target mesh.
	//
	// Returns:
	//   - *mesh.Mesh: the target mesh
	Mesh() *mesh.Mesh

	// Pool returns the persistent buffer pool shared by this mesh's instances.
	//
	// Returns:
	//   - buffer_pool.Pool: the pool
	Pool() buffer_pool.Pool

	// DefaultInstance returns the default instance.
	//
	// Returns:
	//   - Instance: the default instance
	DefaultInstance() Instance

	// RegisterProducerInstance creates an instance of asset bound to the target mesh and queues it
	// for allocation at the next frame. Registering an identifier twice is ignored.
	//
	// Parameters:
	//   - producer: the entity that owns the instance's lifetime
	//   - id: the instance identifier
	//   - asset: the template to instantiate
	RegisterProducerInstance(producer ProducerHandle, id InstanceID, asset DeformerAsset)

	// LookupInstance returns a registered producer instance.
	//
	// Parameters:
	//   - id: the instance identifier
	//
	// Returns:
	//   - Instance: the instance, or nil
	//   - bool: true if found
	LookupInstance(id InstanceID) (Instance, bool)

	// EnqueueForExecution schedules an instance for the current frame. Enqueueing the same
	// identifier twice into the same (phase, group) keeps only the later occurrence.
	// Safe for concurrent use.
	//
	// Parameters:
	//   - id: the instance identifier
	//   - phase: the phase relative to the default instance
	//   - group: the sub-order within the phase, ascending
	EnqueueForExecution(id InstanceID, phase Phase, group int)

	// RunFrame allocates pending instances, computes the frame's total order, routes pending
	// readback requests to its last instance, dispatches every instance and clears the queue.
	//
	// Parameters:
	//   - frame: the frame being dispatched
	//   - ctx: the frame's recording context
	RunFrame(frame common.FrameDescriptor, ctx buffer_pool.RecordingContext)

	// AllocateResources allocates the default instance and every producer instance.
	//
	// Returns:
	//   - error: the joined allocation errors; failed instances are retried on the next frame
	AllocateResources() error

	// ReleaseResources releases every instance and the buffer pool, and fails pending readback requests.
	ReleaseResources()

	// OnProducerDestroyed releases and removes every instance the producer created.
	//
	// Parameters:
	//   - producer: the destroyed producer
	OnProducerDestroyed(producer ProducerHandle)

	// RequestGeometryReadback asks for the geometry of the next completed pass. Accepted requests
	// receive exactly one terminal callback.
	//
	// Parameters:
	//   - req: the request
	//
	// Returns:
	//   - bool: true if accepted; false while resources are released
	RequestGeometryReadback(req *readback.Request) bool

	// AddProducerDeformer is the producer-facing alias of RegisterProducerInstance.
	//
	// Parameters:
	//   - producer: the entity that owns the instance's lifetime
	//   - id: the instance identifier
	//   - asset: the template to instantiate
	AddProducerDeformer(producer ProducerHandle, id InstanceID, asset DeformerAsset)

	// EnqueueProducerDeformer is the producer-facing alias of EnqueueForExecution.
	//
	// Parameters:
	//   - id: the instance identifier
	//   - phase: the phase relative to the default instance
	//   - group: the sub-order within the phase
	EnqueueProducerDeformer(id InstanceID, phase Phase, group int)

	// GetDeformerInstance is the producer-facing alias of LookupInstance.
	//
	// Parameters:
	//   - id: the instance identifier
	//
	// Returns:
	//   - Instance: the instance, or nil
	GetDeformerInstance(id InstanceID) Instance

	// ExecutionOrder returns the total order dispatched by the last RunFrame.
	//
	// Returns:
	//   - []ExecutionEntry: the dispatched instances in order
	ExecutionOrder() []ExecutionEntry

	// Destroy releases resources and removes every producer instance.
	Destroy()
}

var _ Manager = &manager{}

// NewManager creates a Manager for target whose default instance is created from defaultAsset.
// The processor is the process-wide readback processor shared by every mesh.
//
// Parameters:
//   - target: the mesh to deform
//   - defaultAsset: the template of the default instance; may be nil for a no-op default
//   - processor: the readback processor
//   - options: a variadic list of options to configure the manager
//
// Returns:
//   - Manager: the new manager
func NewManager(target *mesh.Mesh, defaultAsset DeformerAsset, processor readback.Processor, options ...ManagerBuilderOption) Manager {
	m := &manager{
		target:     target,
		processor:  processor,
		instances:  make(map[InstanceID]*instance),
		producers:  make(map[ProducerHandle][]InstanceID),
		queue:      newExecutionQueue(),
		readbackMu: &sync.Mutex{},
	}
	for _, opt := range options {
		opt(m)
	}
	name := ""
	if target != nil {
		name = target.Name()
	}
	if m.log == nil {
		m.log = logger.Named("deformer")
	}
	m.log = m.log.With(zap.String("mesh", name))
	if m.pool == nil {
		m.pool = buffer_pool.NewPool(buffer_pool.WithLabel(name))
	}

	var graph ComputeGraph
	if defaultAsset != nil {
		graph = defaultAsset.CreateComputeGraph(target, m.pool)
	}
	m.defaultInstance = newInstance(withDefault(), withGraph(defaultAsset, graph))
	return m
}

func (m *manager) Mesh() *mesh.Mesh {
	return m.target
}

func (m *manager) Pool() buffer_pool.Pool {
	return m.pool
}

func (m *manager) DefaultInstance() Instance {
	return m.defaultInstance
}

func (m *manager) RegisterProducerInstance(producer ProducerHandle, id InstanceID, asset DeformerAsset) {
	if _, exists := m.instances[id]; exists || id == uuid.Nil {
		m.softFailure("duplicate_registration", ErrDuplicateInstance, zap.Stringer("instance", id))
		return
	}

	var graph ComputeGraph
	if asset != nil {
		graph = asset.CreateComputeGraph(m.target, m.pool)
	}
	m.instances[id] = newInstance(withID(id), withGraph(asset, graph))
	m.pending = append(m.pending, id)
	m.producers[producer] = append(m.producers[producer], id)

	m.log.Debug("registered producer instance",
		zap.Uint64("producer", uint64(producer)),
		zap.Stringer("instance", id),
	)
}

func (m *manager) LookupInstance(id InstanceID) (Instance, bool) {
	inst, ok := m.instances[id]
	if !ok {
		return nil, false
	}
	return inst, true
}

func (m *manager) EnqueueForExecution(id InstanceID, phase Phase, group int) {
	if !phase.valid() {
		m.softFailure("invalid_phase", ErrInvalidPhase, zap.Stringer("instance", id), zap.Stringer("phase", phase))
		return
	}
	if m.queue.enqueue(id, phase, group) {
		profiler.ConsistencyFailures.WithLabelValues("duplicate_enqueue").Inc()
	}
}

func (m *manager) RunFrame(frame common.FrameDescriptor, ctx buffer_pool.RecordingContext) {
	m.allocatePending()

	order := m.resolveOrder(m.queue.take())

	// Each instance sees the output buffers written by every instance before it.
	var valid common.BufferKind
	for _, inst := range order {
		inst.outputBuffersFromPrevious = valid
		valid |= inst.OutputBuffers()
	}

	if len(order) > 0 {
		if pending := m.takeReadbacks(); len(pending) > 0 {
			last := order[len(order)-1]
			last.readbacks = append(last.readbacks, pending...)
		}
	}

	entries := make([]ExecutionEntry, 0, len(order))
	submissions := 0
	for _, inst := range order {
		inst.sortPriorityOffset = submissions
		requests := inst.takeReadbacks()
		entries = append(entries, ExecutionEntry{
			ID:                                 inst.id,
			Default:                            inst.isDefault,
			SortPriorityOffset:                 submissions,
			OutputBuffersFromPreviousInstances: inst.outputBuffersFromPrevious,
			Readbacks:                          len(requests),
		})
		if inst.graph == nil {
			readback.ReleaseAll(requests)
			continue
		}
		submissions += inst.graph.EnqueueWork(WorkDescriptor{
			Frame:                              frame,
			InstanceID:                         inst.id,
			Default:                            inst.isDefault,
			SortPriorityOffset:                 inst.sortPriorityOffset,
			OutputBuffersFromPreviousInstances: inst.outputBuffersFromPrevious,
			Mesh:                               m.target,
			Pool:                               m.pool,
			Context:                            ctx,
			Readbacks:                          requests,
			Processor:                          m.processor,
		})
	}
	m.lastOrder = entries

	meshName := m.meshName()
	profiler.FramesRun.WithLabelValues(meshName).Inc()
	profiler.InstancesDispatched.WithLabelValues(meshName).Add(float64(len(order)))
	m.log.Debug("dispatched frame",
		zap.Uint64("frame", frame.Number),
		zap.Int("instances", len(order)),
		zap.Int("submissions", submissions),
	)
}

// allocatePending allocates every instance registered since the last frame. Instances that fail
// stay pending and are retried next frame. Nothing is allocated while resources are released.
func (m *manager) allocatePending() {
	if len(m.pending) == 0 || !m.resourcesAllocated {
		return
	}
	var retry []InstanceID
	for _, id := range m.pending {
		inst, ok := m.instances[id]
		if !ok {
			continue
		}
		if err := inst.allocate(); err != nil {
			m.log.Warn("failed to allocate instance", zap.Stringer("instance", id), zap.Error(err))
			retry = append(retry, id)
		}
	}
	m.pending = retry
}

// resolveOrder builds the frame's total order from the queued slots.
func (m *manager) resolveOrder(s slots) []*instance {
	var order []*instance
	for _, phase := range phases {
		if phase == PhaseOverrideDefault {
			winner := m.defaultInstance
			if id, ok := s.override(); ok {
				if inst := m.dispatchable(id); inst != nil {
					winner = inst
				}
			}
			if winner.allocated {
				order = append(order, winner)
			}
			continue
		}
		for _, id := range s.flatten(phase) {
			if inst := m.dispatchable(id); inst != nil {
				order = append(order, inst)
			}
		}
	}
	return order
}

// dispatchable returns the allocated instance for id, or nil after recording why it was skipped.
func (m *manager) dispatchable(id InstanceID) *instance {
	inst, ok := m.instances[id]
	if !ok {
		m.softFailure("unknown_instance", ErrUnknownInstance, zap.Stringer("instance", id))
		return nil
	}
	if !inst.allocated {
		m.log.Debug("skipping unallocated instance", zap.Stringer("instance", id))
		return nil
	}
	return inst
}

func (m *manager) AllocateResources() error {
	var errs []error
	if err := m.defaultInstance.allocate(); err != nil {
		errs = append(errs, fmt.Errorf("default instance: %w", err))
	}

	var retry []InstanceID
	for id, inst := range m.instances {
		if err := inst.allocate(); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", id, err))
			retry = append(retry, id)
		}
	}
	m.pending = retry

	m.readbackMu.Lock()
	m.resourcesAllocated = true
	m.readbackMu.Unlock()

	m.log.Info("allocated deformer resources", zap.Int("instances", len(m.instances)+1))
	return errors.Join(errs...)
}

func (m *manager) ReleaseResources() {
	m.readbackMu.Lock()
	m.resourcesAllocated = false
	pending := m.readbacks
	m.readbacks = nil
	m.readbackMu.Unlock()
	readback.ReleaseAll(pending)

	// AllocateResources rebuilds pending; until then released instances stay released.
	m.defaultInstance.release()
	m.pending = nil
	for _, inst := range m.instances {
		inst.release()
	}
	m.pool.Release()

	m.log.Info("released deformer resources", zap.Int("instances", len(m.instances)+1))
}

func (m *manager) OnProducerDestroyed(producer ProducerHandle) {
	ids, ok := m.producers[producer]
	if !ok {
		return
	}
	for _, id := range ids {
		if inst, ok := m.instances[id]; ok {
			inst.release()
			delete(m.instances, id)
		}
	}
	m.pending = removeAll(m.pending, ids)
	delete(m.producers, producer)

	m.log.Info("producer destroyed",
		zap.Uint64("producer", uint64(producer)),
		zap.Int("instances", len(ids)),
	)
}

func (m *manager) RequestGeometryReadback(req *readback.Request) bool {
	if req == nil {
		return false
	}
	m.readbackMu.Lock()
	defer m.readbackMu.Unlock()

	if !m.resourcesAllocated {
		return false
	}
	m.readbacks = append(m.readbacks, req)
	return true
}

func (m *manager) AddProducerDeformer(producer ProducerHandle, id InstanceID, asset DeformerAsset) {
	m.RegisterProducerInstance(producer, id, asset)
}

func (m *manager) EnqueueProducerDeformer(id InstanceID, phase Phase, group int) {
	m.EnqueueForExecution(id, phase, group)
}

func (m *manager) GetDeformerInstance(id InstanceID) Instance {
	inst, _ := m.LookupInstance(id)
	return inst
}

func (m *manager) ExecutionOrder() []ExecutionEntry {
	return append([]ExecutionEntry(nil), m.lastOrder...)
}

func (m *manager) Destroy() {
	m.ReleaseResources()
	for producer := range m.producers {
		m.OnProducerDestroyed(producer)
	}
	m.pending = nil
	m.queue.take()
}

func (m *manager) takeReadbacks() []*readback.Request {
	m.readbackMu.Lock()
	defer m.readbackMu.Unlock()
	r := m.readbacks
	m.readbacks = nil
	return r
}

func (m *manager) meshName() string {
	if m.target == nil {
		return ""
	}
	return m.target.Name()
}

// softFailure records an absorbed consistency failure.
func (m *manager) softFailure(kind string, err error, fields ...zap.Field) {
	profiler.ConsistencyFailures.WithLabelValues(kind).Inc()
	m.log.Warn("ignored inconsistent deformer request", append(fields, zap.Error(err))...)
}

func removeAll(ids, remove []InstanceID) []InstanceID {
	out := ids[:0]
	for _, id := range ids {
		if !containsID(remove, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []InstanceID, id InstanceID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
