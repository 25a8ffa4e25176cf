// Package mesh holds the read-only mesh assets that deformers run against and that geometry
// readbacks are converted back into.
package mesh

import (
	"fmt"
	"weak"
)

// Mesh is a deformable mesh asset with one or more levels of detail.
// A Mesh is immutable after construction; readers receive clones of its descriptions.
type Mesh struct {
	name string
	lods []LODData
}

// NewMesh creates a new Mesh with the specified options applied.
//
// Parameters:
//   - options: a variadic list of MeshBuilderOption functions to configure the Mesh
//
// Returns:
//   - *Mesh: a new Mesh configured with the provided options
func NewMesh(options ...MeshBuilderOption) *Mesh {
	m := &Mesh{}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Name retrieves the mesh identifier.
//
// Returns:
//   - string: the mesh name
func (m *Mesh) Name() string {
	return m.name
}

// LODCount returns the number of levels of detail.
//
// Returns:
//   - int: the LOD count
func (m *Mesh) LODCount() int {
	return len(m.lods)
}

// CloneDescription returns a deep copy of the description for the given LOD.
//
// Parameters:
//   - lod: the level of detail
//
// Returns:
//   - *Description: the cloned description
//   - error: an error if lod is out of range or has no description
func (m *Mesh) CloneDescription(lod int) (*Description, error) {
	if lod < 0 || lod >= len(m.lods) {
		return nil, fmt.Errorf("mesh %q: lod %d out of range [0, %d)", m.name, lod, len(m.lods))
	}
	if m.lods[lod].Description == nil {
		return nil, fmt.Errorf("mesh %q: lod %d has no description", m.name, lod)
	}
	return m.lods[lod].Description.Clone(), nil
}

// VertexMap returns the render-to-description mapping for the given LOD.
//
// Parameters:
//   - lod: the level of detail
//
// Returns:
//   - VertexMap: the mapping
//   - error: an error if lod is out of range
func (m *Mesh) VertexMap(lod int) (VertexMap, error) {
	if lod < 0 || lod >= len(m.lods) {
		return VertexMap{}, fmt.Errorf("mesh %q: lod %d out of range [0, %d)", m.name, lod, len(m.lods))
	}
	return m.lods[lod].VertexMap, nil
}

// Weak returns a weak reference to this mesh. Holders of the reference do not keep the mesh alive.
//
// Returns:
//   - weak.Pointer[Mesh]: the weak reference
func (m *Mesh) Weak() weak.Pointer[Mesh] {
	return weak.Make(m)
}
