package buffer_pool

// BufferHandle is a GPU buffer owned by a RecordingContext.
type BufferHandle interface {
	// Label returns the debug label the buffer was created with.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Stride returns the size in bytes of one element.
	//
	// Returns:
	//   - uint32: the element stride
	Stride() uint32

	// Count returns the number of elements the buffer holds.
	//
	// Returns:
	//   - uint32: the element count
	Count() uint32

	// Release frees the buffer. The backend defers the actual free until in-flight GPU
	// work referencing the buffer has completed.
	Release()
}

// RecordingContext is the per-frame buffer allocator that deformers record their GPU work against.
//
// Usage pattern:
//  1. The frame driver begins a frame on the context
//  2. Deformers request persistent buffers from a Pool, which calls CreateBuffer on first use
//     and RegisterExisting on every later frame
//  3. Deformers upload data with Upload and reference the handles in their dispatches
type RecordingContext interface {
	// CreateBuffer allocates a new buffer of count elements of stride bytes.
	//
	// Parameters:
	//   - label: a debug label
	//   - stride: the element size in bytes
	//   - count: the number of elements
	//
	// Returns:
	//   - BufferHandle: the new buffer
	//   - error: an error if the backend could not allocate the buffer
	CreateBuffer(label string, stride, count uint32) (BufferHandle, error)

	// RegisterExisting makes a buffer created in an earlier frame usable by work recorded in
	// the current frame and returns the handle to use.
	//
	// Parameters:
	//   - handle: the previously created buffer
	//
	// Returns:
	//   - BufferHandle: the handle valid for the current frame
	RegisterExisting(handle BufferHandle) BufferHandle

	// Upload writes bytes to the start of a buffer.
	//
	// Parameters:
	//   - handle: the destination buffer
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: an error if the data does not fit or the handle belongs to another backend
	Upload(handle BufferHandle, data []byte) error
}
