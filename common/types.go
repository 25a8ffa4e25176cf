// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"strings"
)

// BufferKind is a bitmask of the mesh output buffers a deformer can write.
type BufferKind uint32

const (
	// BufferPosition is the deformed vertex position stream.
	BufferPosition BufferKind = 1 << iota
	// BufferTangent is the deformed tangent frame stream (TangentX + TangentZ).
	BufferTangent
	// BufferColor is the deformed vertex color stream.
	BufferColor

	// BufferNone is the empty mask.
	BufferNone BufferKind = 0
	// BufferAll contains every output buffer kind.
	BufferAll = BufferPosition | BufferTangent | BufferColor
)

// Per-vertex byte sizes of the output buffers as they are laid out on the GPU.
const (
	// PositionVertexSize is 3 x float32.
	PositionVertexSize = 12
	// TangentVertexSize is TangentX and TangentZ, each 4 x snorm16. TangentZ.w holds the binormal sign.
	TangentVertexSize = 16
	// ColorVertexSize is 4 x unorm8 (RGBA).
	ColorVertexSize = 4
)

// Has reports whether every kind in other is set in k.
//
// Parameters:
//   - other: the kinds to test for
//
// Returns:
//   - bool: true if all bits of other are set
func (k BufferKind) Has(other BufferKind) bool {
	return k&other == other
}

// VertexSize returns the per-vertex byte size of a single buffer kind, or 0 for masks
// holding zero or several kinds.
func (k BufferKind) VertexSize() int {
	switch k {
	case BufferPosition:
		return PositionVertexSize
	case BufferTangent:
		return TangentVertexSize
	case BufferColor:
		return ColorVertexSize
	}
	return 0
}

func (k BufferKind) String() string {
	if k == BufferNone {
		return "none"
	}
	var parts []string
	if k.Has(BufferPosition) {
		parts = append(parts, "position")
	}
	if k.Has(BufferTangent) {
		parts = append(parts, "tangent")
	}
	if k.Has(BufferColor) {
		parts = append(parts, "color")
	}
	return strings.Join(parts, "|")
}

// FrameDescriptor describes the frame being dispatched.
type FrameDescriptor struct {
	// Number is the monotonically increasing frame counter.
	Number uint64

	// LOD is the level of detail the target mesh renders at this frame.
	LOD int

	// DeltaTime is the elapsed time since the previous frame in seconds.
	DeltaTime float32
}
