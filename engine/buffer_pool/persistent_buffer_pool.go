// Package buffer_pool caches deformer output buffers that must survive from one frame to the next.
package buffer_pool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"github.com/Carmen-Shannon/oxy-deformer/engine/profiler"
	"go.uber.org/zap"
)

var (
	// ErrDescriptorMismatch is reported when a request's stride or element counts differ from
	// the buffers cached under the same key.
	ErrDescriptorMismatch = errors.New("buffer_pool: descriptor mismatch")

	// ErrEmptyRequest is reported when a request asks for zero buffers.
	ErrEmptyRequest = errors.New("buffer_pool: no element counts requested")
)

const (
	namespaceNamed    = "named"
	namespaceImplicit = "implicit"
)

// Key identifies a persistent buffer set.
type Key struct {
	// Name is the resource name.
	Name string
	// LOD is the level of detail the buffers belong to.
	LOD int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@lod%d", k.Name, k.LOD)
}

// Descriptor describes one buffer in a persistent set.
type Descriptor struct {
	// Stride is the element size in bytes.
	Stride uint32
	// Count is the number of elements.
	Count uint32
}

// entry is one cached buffer set.
type entry struct {
	descriptors []Descriptor
	handles     []BufferHandle
}

func (e *entry) matches(stride uint32, counts []uint32) bool {
	if len(e.descriptors) != len(counts) {
		return false
	}
	for i, d := range e.descriptors {
		if d.Stride != stride || d.Count != counts[i] {
			return false
		}
	}
	return true
}

// pool is the implementation of the Pool interface.
type pool struct {
	mu    *sync.Mutex
	label string
	log   *zap.Logger

	named    map[Key]*entry
	implicit map[Key]*entry
}

// Pool is a per-owner cache of frame-surviving buffer sets keyed by resource name and LOD.
//
// The first request for a key allocates one buffer per requested element count. Later requests
// must describe the same shape: a match re-registers the cached buffers with the caller's
// recording context, a mismatch fails closed and leaves the cache untouched. Named resources and
// the implicit resources created on behalf of the running deformer live in separate namespaces
// with identical rules.
type Pool interface {
	// GetOrAllocate returns the named buffer set for key, allocating it on first use.
	// An empty result means the request did not match the cached shape (or allocation failed)
	// and the caller should skip writing this frame.
	//
	// Parameters:
	//   - ctx: the recording context for the current frame
	//   - key: the resource name and LOD
	//   - stride: the element size in bytes of every buffer in the set
	//   - counts: the element count of each buffer in the set
	//
	// Returns:
	//   - []BufferHandle: the buffers, or nil on mismatch or failure
	//   - bool: true if the buffers were allocated by this call
	GetOrAllocate(ctx RecordingContext, key Key, stride uint32, counts []uint32) ([]BufferHandle, bool)

	// GetOrAllocateImplicit behaves like GetOrAllocate against the implicit namespace.
	//
	// Parameters:
	//   - ctx: the recording context for the current frame
	//   - key: the resource name and LOD
	//   - stride: the element size in bytes of every buffer in the set
	//   - counts: the element count of each buffer in the set
	//
	// Returns:
	//   - []BufferHandle: the buffers, or nil on mismatch or failure
	//   - bool: true if the buffers were allocated by this call
	GetOrAllocateImplicit(ctx RecordingContext, key Key, stride uint32, counts []uint32) ([]BufferHandle, bool)

	// Descriptors returns a copy of the cached descriptors for a named key.
	//
	// Parameters:
	//   - key: the resource name and LOD
	//
	// Returns:
	//   - []Descriptor: the descriptors
	//   - bool: true if an entry exists
	Descriptors(key Key) ([]Descriptor, bool)

	// Len returns the number of cached buffer sets across both namespaces.
	//
	// Returns:
	//   - int: the entry count
	Len() int

	// Release drops every cached entry and releases its buffers. Outstanding handles become
	// invalid; the backend frees them once in-flight work retires, so no wait is required.
	Release()
}

var _ Pool = &pool{}

// NewPool creates an empty Pool with the provided options.
//
// Parameters:
//   - options: a variadic list of options to configure the pool
//
// Returns:
//   - Pool: the new pool
func NewPool(options ...PoolBuilderOption) Pool {
	p := &pool{
		mu:       &sync.Mutex{},
		named:    make(map[Key]*entry),
		implicit: make(map[Key]*entry),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("buffer_pool")
	}
	if p.label != "" {
		p.log = p.log.With(zap.String("pool", p.label))
	}
	return p
}

func (p *pool) GetOrAllocate(ctx RecordingContext, key Key, stride uint32, counts []uint32) ([]BufferHandle, bool) {
	return p.getOrAllocate(p.named, namespaceNamed, ctx, key, stride, counts)
}

func (p *pool) GetOrAllocateImplicit(ctx RecordingContext, key Key, stride uint32, counts []uint32) ([]BufferHandle, bool) {
	return p.getOrAllocate(p.implicit, namespaceImplicit, ctx, key, stride, counts)
}

func (p *pool) getOrAllocate(entries map[Key]*entry, namespace string, ctx RecordingContext, key Key, stride uint32, counts []uint32) ([]BufferHandle, bool) {
	if len(counts) == 0 {
		p.log.Debug("empty buffer request", zap.Stringer("key", key), zap.Error(ErrEmptyRequest))
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := entries[key]; ok {
		if !e.matches(stride, counts) {
			profiler.BufferPoolRequests.WithLabelValues(namespace, "mismatch").Inc()
			p.log.Warn("persistent buffer request does not match cached buffers",
				zap.Stringer("key", key),
				zap.String("namespace", namespace),
				zap.Uint32("stride", stride),
				zap.Uint32s("counts", counts),
				zap.Error(ErrDescriptorMismatch),
			)
			return nil, false
		}

		handles := make([]BufferHandle, len(e.handles))
		for i, h := range e.handles {
			handles[i] = ctx.RegisterExisting(h)
		}
		e.handles = handles
		profiler.BufferPoolRequests.WithLabelValues(namespace, "reuse").Inc()
		return slices.Clone(handles), false
	}

	e := &entry{
		descriptors: make([]Descriptor, len(counts)),
		handles:     make([]BufferHandle, 0, len(counts)),
	}
	for i, count := range counts {
		h, err := ctx.CreateBuffer(fmt.Sprintf("%s[%d]", key, i), stride, count)
		if err != nil {
			for _, created := range e.handles {
				created.Release()
			}
			profiler.BufferPoolRequests.WithLabelValues(namespace, "error").Inc()
			p.log.Warn("persistent buffer allocation failed", zap.Stringer("key", key), zap.Error(err))
			return nil, false
		}
		e.descriptors[i] = Descriptor{Stride: stride, Count: count}
		e.handles = append(e.handles, h)
	}
	entries[key] = e

	profiler.BufferPoolRequests.WithLabelValues(namespace, "allocate").Inc()
	p.log.Debug("allocated persistent buffers",
		zap.Stringer("key", key),
		zap.String("namespace", namespace),
		zap.Int("buffers", len(counts)),
	)
	return slices.Clone(e.handles), true
}

func (p *pool) Descriptors(key Key) ([]Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.named[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.descriptors), true
}

func (p *pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.named) + len(p.implicit)
}

func (p *pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entries := range []map[Key]*entry{p.named, p.implicit} {
		for k, e := range entries {
			for _, h := range e.handles {
				h.Release()
			}
			delete(entries, k)
		}
	}
}
