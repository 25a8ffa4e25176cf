package readback

import (
	"weak"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
)

// GeometryReadback aggregates the buffer copies of one deformer pass together with the
// requests waiting on their conversion.
type GeometryReadback struct {
	frame uint64
	lod   int
	mesh  weak.Pointer[mesh.Mesh]

	position *BufferCopy
	tangent  *BufferCopy
	color    *BufferCopy

	requests []*Request
}

// NewGeometryReadback creates a readback of up to three buffer copies. Copies are slotted by
// their kind; a later copy of the same kind replaces an earlier one.
//
// Parameters:
//   - frame: the frame the copies were recorded in
//   - lod: the LOD the deformer ran at
//   - target: the mesh the geometry belongs to, held weakly
//   - requests: the requests to complete once conversion succeeds
//   - copies: the buffer copies
//
// Returns:
//   - *GeometryReadback: the readback
func NewGeometryReadback(frame uint64, lod int, target *mesh.Mesh, requests []*Request, copies ...*BufferCopy) *GeometryReadback {
	g := &GeometryReadback{
		frame:    frame,
		lod:      lod,
		requests: requests,
	}
	if target != nil {
		g.mesh = target.Weak()
	}
	for _, c := range copies {
		if c == nil {
			continue
		}
		switch c.Kind() {
		case common.BufferPosition:
			g.position = c
		case common.BufferTangent:
			g.tangent = c
		case common.BufferColor:
			g.color = c
		}
	}
	return g
}

// Frame returns the frame the readback was recorded in.
func (g *GeometryReadback) Frame() uint64 {
	return g.frame
}

// LOD returns the level of detail the readback was recorded at.
func (g *GeometryReadback) LOD() int {
	return g.lod
}

// Requests returns the requests waiting on this readback.
func (g *GeometryReadback) Requests() []*Request {
	return g.requests
}

// Required returns the buffer kinds that must arrive before conversion.
func (g *GeometryReadback) Required() common.BufferKind {
	var k common.BufferKind
	for _, c := range g.copies() {
		k |= c.Kind()
	}
	return k
}

// Ready reports whether every required copy has arrived.
func (g *GeometryReadback) Ready() bool {
	for _, c := range g.copies() {
		if !c.Ready() {
			return false
		}
	}
	return true
}

// Release fails every waiting request.
func (g *GeometryReadback) Release() {
	ReleaseAll(g.requests)
}

func (g *GeometryReadback) copies() []*BufferCopy {
	out := make([]*BufferCopy, 0, 3)
	for _, c := range []*BufferCopy{g.position, g.tangent, g.color} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (g *GeometryReadback) bind(fn func()) {
	for _, c := range g.copies() {
		c.bind(fn)
	}
}
