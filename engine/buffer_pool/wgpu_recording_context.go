package buffer_pool

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuBuffer is a BufferHandle wrapping a WebGPU buffer.
type wgpuBuffer struct {
	label  string
	stride uint32
	count  uint32
	buffer *wgpu.Buffer
}

var _ BufferHandle = &wgpuBuffer{}

func (b *wgpuBuffer) Label() string {
	return b.label
}

func (b *wgpuBuffer) Stride() uint32 {
	return b.stride
}

func (b *wgpuBuffer) Count() uint32 {
	return b.count
}

// Release drops our reference. wgpu keeps the buffer alive until submitted work using it retires.
func (b *wgpuBuffer) Release() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

// WGPUBuffer returns the underlying WebGPU buffer of a handle created by a WebGPU recording
// context, or nil for handles from other backends.
//
// Parameters:
//   - handle: the buffer handle
//
// Returns:
//   - *wgpu.Buffer: the WebGPU buffer or nil
func WGPUBuffer(handle BufferHandle) *wgpu.Buffer {
	if b, ok := handle.(*wgpuBuffer); ok {
		return b.buffer
	}
	return nil
}

// wgpuRecordingContext is the WebGPU implementation of RecordingContext.
type wgpuRecordingContext struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue
	usage  wgpu.BufferUsage

	// frame holds the handles referenced by work recorded this frame.
	frame []BufferHandle

	// encoder is created on first use and finished by Submit.
	encoder   *wgpu.CommandEncoder
	submitted []func(error)
}

// WGPURecordingContext is a RecordingContext that allocates WebGPU storage buffers.
type WGPURecordingContext interface {
	RecordingContext

	// BeginFrame forgets the handles referenced by the previous frame.
	BeginFrame()

	// FrameBuffers returns the handles referenced since the last BeginFrame.
	//
	// Returns:
	//   - []BufferHandle: the referenced handles
	FrameBuffers() []BufferHandle

	// Device returns the device buffers are allocated on.
	Device() *wgpu.Device

	// Encoder returns the command encoder for the current frame, creating it on first use.
	//
	// Returns:
	//   - *wgpu.CommandEncoder: the frame encoder
	//   - error: an error if the encoder could not be created
	Encoder() (*wgpu.CommandEncoder, error)

	// OnSubmitted registers fn to run once the current frame encoder has been submitted.
	// fn receives the submission error, nil on success.
	//
	// Parameters:
	//   - fn: the callback, typically starting a staging buffer map
	OnSubmitted(fn func(err error))

	// Submit finishes and submits the frame encoder, runs the OnSubmitted callbacks and polls the
	// device so completed maps deliver their data. Without recorded work it only polls.
	//
	// Returns:
	//   - error: an error if the encoder could not be finished
	Submit() error
}

var _ WGPURecordingContext = &wgpuRecordingContext{}

// NewWGPURecordingContext creates a recording context allocating storage buffers on device.
// Buffers are created with Storage, CopySrc and CopyDst usage so deformer outputs can be read back.
//
// Parameters:
//   - device: the WebGPU device
//   - queue: the device queue used for uploads
//
// Returns:
//   - WGPURecordingContext: the new context
func NewWGPURecordingContext(device *wgpu.Device, queue *wgpu.Queue) WGPURecordingContext {
	return &wgpuRecordingContext{
		mu:     &sync.Mutex{},
		device: device,
		queue:  queue,
		usage:  wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	}
}

func (c *wgpuRecordingContext) CreateBuffer(label string, stride, count uint32) (BufferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             uint64(stride) * uint64(count),
		Usage:            c.usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("buffer_pool: failed to create buffer %q: %w", label, err)
	}
	handle := &wgpuBuffer{label: label, stride: stride, count: count, buffer: buf}
	c.frame = append(c.frame, handle)
	return handle, nil
}

func (c *wgpuRecordingContext) RegisterExisting(handle BufferHandle) BufferHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = append(c.frame, handle)
	return handle
}

func (c *wgpuRecordingContext) Upload(handle BufferHandle, data []byte) error {
	buf, ok := handle.(*wgpuBuffer)
	if !ok || buf.buffer == nil {
		return fmt.Errorf("buffer_pool: %T is not a live WebGPU buffer", handle)
	}
	if size := uint64(buf.stride) * uint64(buf.count); uint64(len(data)) > size {
		return fmt.Errorf("buffer_pool: upload of %d bytes exceeds buffer %q size %d", len(data), buf.label, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue.WriteBuffer(buf.buffer, 0, data)
	return nil
}

func (c *wgpuRecordingContext) BeginFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = c.frame[:0]
}

func (c *wgpuRecordingContext) FrameBuffers() []BufferHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BufferHandle(nil), c.frame...)
}

func (c *wgpuRecordingContext) Device() *wgpu.Device {
	return c.device
}

func (c *wgpuRecordingContext) Encoder() (*wgpu.CommandEncoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		return c.encoder, nil
	}
	encoder, err := c.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "deformer frame"})
	if err != nil {
		return nil, fmt.Errorf("buffer_pool: failed to create command encoder: %w", err)
	}
	c.encoder = encoder
	return encoder, nil
}

func (c *wgpuRecordingContext) OnSubmitted(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, fn)
}

func (c *wgpuRecordingContext) Submit() error {
	c.mu.Lock()
	encoder := c.encoder
	callbacks := c.submitted
	c.encoder = nil
	c.submitted = nil
	c.mu.Unlock()

	err := c.submit(encoder)
	// Callbacks always run so their readbacks complete, empty on failure, rather than hang.
	for _, fn := range callbacks {
		fn(err)
	}
	c.device.Poll(false, nil)
	return err
}

func (c *wgpuRecordingContext) submit(encoder *wgpu.CommandEncoder) error {
	if encoder == nil {
		return nil
	}
	defer encoder.Release()

	cmd, err := encoder.Finish(&wgpu.CommandBufferDescriptor{Label: "deformer frame"})
	if err != nil {
		return fmt.Errorf("buffer_pool: failed to finish command encoder: %w", err)
	}
	defer cmd.Release()

	c.mu.Lock()
	c.queue.Submit(cmd)
	c.mu.Unlock()
	return nil
}
