package readback

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-deformer/common"
)

// BufferCopy is one asynchronous GPU-to-CPU copy of a deformer output buffer.
// The owner of the GPU completion callback calls Complete exactly once; later calls are ignored.
type BufferCopy struct {
	kind  common.BufferKind
	data  []byte
	ready atomic.Bool
	once  sync.Once

	// notify is installed by the processor when the owning readback is enqueued.
	notify atomic.Pointer[func()]
}

// NewBufferCopy creates a pending copy for a single buffer kind.
//
// Parameters:
//   - kind: one of common.BufferPosition, common.BufferTangent, common.BufferColor
//
// Returns:
//   - *BufferCopy: the pending copy
func NewBufferCopy(kind common.BufferKind) *BufferCopy {
	return &BufferCopy{kind: kind}
}

// Kind returns the buffer kind being copied.
func (c *BufferCopy) Kind() common.BufferKind {
	return c.kind
}

// Complete stores the copied bytes, marks the copy ready and wakes the processor.
// A nil or empty slice marks the copy as arrived without usable data.
//
// Parameters:
//   - data: the copied bytes; ownership passes to the copy
func (c *BufferCopy) Complete(data []byte) {
	c.once.Do(func() {
		c.data = data
		c.ready.Store(true)
		if fn := c.notify.Load(); fn != nil {
			(*fn)()
		}
	})
}

// Ready reports whether Complete has been called.
func (c *BufferCopy) Ready() bool {
	return c.ready.Load()
}

// Data returns the copied bytes, or nil before Complete.
func (c *BufferCopy) Data() []byte {
	if !c.ready.Load() {
		return nil
	}
	return c.data
}

// VertexCount returns the number of whole vertices in the copied data.
func (c *BufferCopy) VertexCount() int {
	size := c.kind.VertexSize()
	if size == 0 {
		return 0
	}
	return len(c.Data()) / size
}

func (c *BufferCopy) bind(fn func()) {
	c.notify.Store(&fn)
}
