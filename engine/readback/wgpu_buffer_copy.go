package readback

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// WGPUBufferCopy reads a deformer output buffer back through a MapRead staging buffer.
//
// Usage pattern:
//  1. RecordWGPUBufferCopy records the GPU-side copy on the frame's command encoder
//  2. The caller finishes the encoder and submits it to the queue
//  3. The caller calls Map, which starts the asynchronous map, or Cancel if submission failed
//  4. The device is polled as usual; the map callback completes the BufferCopy, which wakes the Processor
type WGPUBufferCopy struct {
	copy    *BufferCopy
	staging *wgpu.Buffer
	size    uint64
}

// RecordWGPUBufferCopy records a copy of size bytes from src into a new staging buffer.
//
// Parameters:
//   - device: the WebGPU device
//   - encoder: the command encoder of the current frame
//   - kind: the buffer kind being copied
//   - src: the source buffer, created with CopySrc usage
//   - size: the number of bytes to copy
//
// Returns:
//   - *WGPUBufferCopy: the pending copy
//   - error: an error if the staging buffer could not be created
func RecordWGPUBufferCopy(device *wgpu.Device, encoder *wgpu.CommandEncoder, kind common.BufferKind, src *wgpu.Buffer, size uint64) (*WGPUBufferCopy, error) {
	if src == nil {
		return nil, fmt.Errorf("readback: nil source buffer for %s", kind)
	}
	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "readback " + kind.String(),
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("readback: failed to create staging buffer: %w", err)
	}
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)

	return &WGPUBufferCopy{
		copy:    NewBufferCopy(kind),
		staging: staging,
		size:    size,
	}, nil
}

// Copy returns the BufferCopy to attach to a GeometryReadback.
func (c *WGPUBufferCopy) Copy() *BufferCopy {
	return c.copy
}

// Map starts the asynchronous map of the staging buffer. Call only after the encoder holding the
// copy has been submitted. A failed map completes the copy with no data.
//
// Returns:
//   - error: an error if the map request was rejected; the copy is completed empty in that case
func (c *WGPUBufferCopy) Map() error {
	err := c.staging.MapAsync(wgpu.MapModeRead, 0, c.size, func(status wgpu.BufferMapAsyncStatus) {
		defer c.staging.Release()
		if status != wgpu.BufferMapAsyncStatusSuccess {
			c.copy.Complete(nil)
			return
		}
		mapped := c.staging.GetMappedRange(0, uint(c.size))
		data := make([]byte, len(mapped))
		copy(data, mapped)
		c.staging.Unmap()
		c.copy.Complete(data)
	})
	if err != nil {
		c.staging.Release()
		c.copy.Complete(nil)
		return fmt.Errorf("readback: failed to map staging buffer: %w", err)
	}
	return nil
}

// Cancel releases the staging buffer and completes the copy with no data. Use it when the encoder
// holding the copy was never submitted.
func (c *WGPUBufferCopy) Cancel() {
	c.staging.Release()
	c.copy.Complete(nil)
}
