package animator

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/deformer"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// ErrNoGeometry is returned when a graph is allocated against a mesh without LODs.
var ErrNoGeometry = errors.New("animator: mesh has no geometry")

// Output buffer names shared by every deformer on a mesh.
const (
	PositionBufferName = "DeformedPositions"
	TangentBufferName  = "DeformedTangents"
	ColorBufferName    = "DeformedColors"
)

// transformStride is the byte size of a Transform in the implicit uniform buffer.
const transformStride = 24

// gpuRecorder is implemented by recording contexts that can copy device buffers back to the host.
// buffer_pool.WGPURecordingContext satisfies it.
type gpuRecorder interface {
	Device() *wgpu.Device
	Encoder() (*wgpu.CommandEncoder, error)
	OnSubmitted(fn func(err error))
}

// graph is the animator's ComputeGraph.
type graph struct {
	asset  *animator
	target *mesh.Mesh
	pool   buffer_pool.Pool

	// lods is nil until AllocateResources.
	lods []vertexStreams
}

var _ deformer.ComputeGraph = &graph{}

func newGraph(asset *animator, target *mesh.Mesh, pool buffer_pool.Pool) *graph {
	return &graph{asset: asset, target: target, pool: pool}
}

func (g *graph) AllocateResources() error {
	if g.target == nil || g.target.LODCount() == 0 {
		return ErrNoGeometry
	}
	lods := make([]vertexStreams, g.target.LODCount())
	for lod := range lods {
		desc, err := g.target.CloneDescription(lod)
		if err != nil {
			return fmt.Errorf("lod %d: %w", lod, err)
		}
		vm, err := g.target.VertexMap(lod)
		if err != nil {
			return fmt.Errorf("lod %d: %w", lod, err)
		}
		lods[lod] = buildStreams(desc, vm)
	}
	g.lods = lods
	return nil
}

func (g *graph) ReleaseResources() {
	g.lods = nil
}

func (g *graph) GetOutputBuffers() common.BufferKind {
	return g.asset.outputs
}

func (g *graph) EnqueueWork(desc deformer.WorkDescriptor) int {
	lod := desc.Frame.LOD
	if g.lods == nil || lod < 0 || lod >= len(g.lods) {
		g.asset.log.Warn("no geometry for frame",
			zap.String("asset", g.asset.name),
			zap.Int("lod", lod),
		)
		readback.ReleaseAll(desc.Readbacks)
		return 0
	}
	streams := g.lods[lod]
	transform := g.asset.Transform()

	outputs := make(map[common.BufferKind][]byte, 3)
	if g.asset.outputs.Has(common.BufferPosition) {
		outputs[common.BufferPosition] = common.SliceToBytes(streams.transformed(transform))
	}
	if g.asset.outputs.Has(common.BufferTangent) {
		outputs[common.BufferTangent] = common.SliceToBytes(streams.tangents)
	}
	if g.asset.outputs.Has(common.BufferColor) {
		outputs[common.BufferColor] = common.SliceToBytes(streams.colors)
	}

	var uploaded map[common.BufferKind]buffer_pool.BufferHandle
	if desc.Context != nil {
		uploaded = g.upload(desc, lod, len(streams.positions), transform, outputs)
	}
	g.readback(desc, lod, outputs, uploaded)
	return len(uploaded)
}

// upload writes this frame's outputs into the pool's persistent buffers and returns the handles
// that were written.
func (g *graph) upload(desc deformer.WorkDescriptor, lod, vertices int, transform Transform, outputs map[common.BufferKind][]byte) map[common.BufferKind]buffer_pool.BufferHandle {
	uniform, _ := g.pool.GetOrAllocateImplicit(desc.Context, buffer_pool.Key{Name: g.asset.name + "/Transform", LOD: lod}, transformStride, []uint32{1})
	if len(uniform) == 1 {
		if err := desc.Context.Upload(uniform[0], common.SliceToBytes([]Transform{transform})); err != nil {
			g.asset.log.Warn("failed to upload transform", zap.Error(err))
		}
	}

	uploaded := make(map[common.BufferKind]buffer_pool.BufferHandle, len(outputs))
	for _, kind := range []common.BufferKind{common.BufferPosition, common.BufferTangent, common.BufferColor} {
		data, ok := outputs[kind]
		if !ok {
			continue
		}
		key := buffer_pool.Key{Name: bufferName(kind), LOD: lod}
		handles, _ := g.pool.GetOrAllocate(desc.Context, key, uint32(kind.VertexSize()), []uint32{uint32(vertices)})
		if len(handles) != 1 {
			continue
		}
		if err := desc.Context.Upload(handles[0], data); err != nil {
			g.asset.log.Warn("failed to upload output buffer", zap.Stringer("buffer", key), zap.Error(err))
			continue
		}
		uploaded[kind] = handles[0]
	}
	return uploaded
}

// readback hands routed requests to the processor. Outputs held in WebGPU buffers are copied back
// from the device after the frame is submitted; every other output is completed from this frame's
// host data.
func (g *graph) readback(desc deformer.WorkDescriptor, lod int, outputs map[common.BufferKind][]byte, uploaded map[common.BufferKind]buffer_pool.BufferHandle) {
	if len(desc.Readbacks) == 0 {
		return
	}
	if desc.Processor == nil || len(outputs) == 0 {
		readback.ReleaseAll(desc.Readbacks)
		return
	}

	recorder, _ := desc.Context.(gpuRecorder)
	copies := make([]*readback.BufferCopy, 0, len(outputs))
	host := make([]*readback.BufferCopy, 0, len(outputs))
	var device []*readback.WGPUBufferCopy
	for kind := range outputs {
		if c := g.recordDeviceCopy(recorder, kind, uploaded[kind]); c != nil {
			device = append(device, c)
			copies = append(copies, c.Copy())
			continue
		}
		c := readback.NewBufferCopy(kind)
		host = append(host, c)
		copies = append(copies, c)
	}
	desc.Processor.Enqueue(readback.NewGeometryReadback(desc.Frame.Number, lod, desc.Mesh, desc.Readbacks, copies...))

	for _, c := range host {
		c.Complete(append([]byte(nil), outputs[c.Kind()]...))
	}
	if len(device) > 0 {
		recorder.OnSubmitted(func(err error) {
			for _, c := range device {
				if err != nil {
					c.Cancel()
					continue
				}
				if mapErr := c.Map(); mapErr != nil {
					g.asset.log.Warn("failed to map readback buffer", zap.Error(mapErr))
				}
			}
		})
	}
}

// recordDeviceCopy records a copy of handle on the frame encoder, or returns nil when handle is
// not a WebGPU buffer or the copy could not be recorded.
func (g *graph) recordDeviceCopy(recorder gpuRecorder, kind common.BufferKind, handle buffer_pool.BufferHandle) *readback.WGPUBufferCopy {
	if recorder == nil || handle == nil {
		return nil
	}
	src := buffer_pool.WGPUBuffer(handle)
	if src == nil {
		return nil
	}
	encoder, err := recorder.Encoder()
	if err != nil {
		g.asset.log.Warn("no frame encoder for readback", zap.Error(err))
		return nil
	}
	c, err := readback.RecordWGPUBufferCopy(recorder.Device(), encoder, kind, src, uint64(handle.Stride())*uint64(handle.Count()))
	if err != nil {
		g.asset.log.Warn("failed to record readback copy", zap.Stringer("buffer", kind), zap.Error(err))
		return nil
	}
	return c
}

func bufferName(kind common.BufferKind) string {
	switch kind {
	case common.BufferTangent:
		return TangentBufferName
	case common.BufferColor:
		return ColorBufferName
	}
	return PositionBufferName
}
