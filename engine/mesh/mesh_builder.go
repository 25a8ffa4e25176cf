package mesh

// MeshBuilderOption is a functional option for configuring a Mesh via NewMesh.
type MeshBuilderOption func(*Mesh)

// WithName is an option builder that sets the name of the Mesh.
//
// Parameters:
//   - name: the mesh identifier
//
// Returns:
//   - MeshBuilderOption: a function that applies the name option to a mesh
func WithName(name string) MeshBuilderOption {
	return func(m *Mesh) {
		m.name = name
	}
}

// WithLOD is an option builder that appends a level of detail to the Mesh.
// LODs are indexed in the order they are added.
//
// Parameters:
//   - desc: the mesh description for this LOD
//   - vertexMap: the render vertex mapping for this LOD
//
// Returns:
//   - MeshBuilderOption: a function that appends the LOD to a mesh
func WithLOD(desc *Description, vertexMap VertexMap) MeshBuilderOption {
	return func(m *Mesh) {
		m.lods = append(m.lods, LODData{Description: desc, VertexMap: vertexMap})
	}
}
