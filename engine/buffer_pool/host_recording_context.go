package buffer_pool

import (
	"fmt"
	"sync"
)

// HostBuffer is a BufferHandle backed by host memory.
type HostBuffer struct {
	label    string
	stride   uint32
	count    uint32
	data     []byte
	released bool
}

var _ BufferHandle = &HostBuffer{}

func (b *HostBuffer) Label() string {
	return b.label
}

func (b *HostBuffer) Stride() uint32 {
	return b.stride
}

func (b *HostBuffer) Count() uint32 {
	return b.count
}

func (b *HostBuffer) Release() {
	b.released = true
	b.data = nil
}

// Bytes returns the buffer contents.
func (b *HostBuffer) Bytes() []byte {
	return b.data
}

// Released reports whether Release has been called.
func (b *HostBuffer) Released() bool {
	return b.released
}

// HostRecordingContext is a RecordingContext that allocates buffers in host memory.
// It backs headless runs and tests, and records how the pool used it.
type HostRecordingContext struct {
	mu         sync.Mutex
	created    int
	registered int
	frame      []BufferHandle
}

var _ RecordingContext = &HostRecordingContext{}

// NewHostRecordingContext creates an empty host-memory recording context.
//
// Returns:
//   - *HostRecordingContext: the new context
func NewHostRecordingContext() *HostRecordingContext {
	return &HostRecordingContext{}
}

func (c *HostRecordingContext) CreateBuffer(label string, stride, count uint32) (BufferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.created++
	buf := &HostBuffer{
		label:  label,
		stride: stride,
		count:  count,
		data:   make([]byte, int(stride)*int(count)),
	}
	c.frame = append(c.frame, buf)
	return buf, nil
}

func (c *HostRecordingContext) RegisterExisting(handle BufferHandle) BufferHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registered++
	c.frame = append(c.frame, handle)
	return handle
}

func (c *HostRecordingContext) Upload(handle BufferHandle, data []byte) error {
	buf, ok := handle.(*HostBuffer)
	if !ok {
		return fmt.Errorf("buffer_pool: %T is not a host buffer", handle)
	}
	if buf.released {
		return fmt.Errorf("buffer_pool: upload to released buffer %q", buf.label)
	}
	if len(data) > len(buf.data) {
		return fmt.Errorf("buffer_pool: upload of %d bytes exceeds buffer %q size %d", len(data), buf.label, len(buf.data))
	}
	copy(buf.data, data)
	return nil
}

// BeginFrame forgets the buffers referenced by the previous frame.
func (c *HostRecordingContext) BeginFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = c.frame[:0]
}

// Created returns how many buffers have been allocated.
func (c *HostRecordingContext) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Registered returns how many existing buffers have been re-registered.
func (c *HostRecordingContext) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// FrameBuffers returns the buffers referenced since the last BeginFrame.
func (c *HostRecordingContext) FrameBuffers() []BufferHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BufferHandle(nil), c.frame...)
}
