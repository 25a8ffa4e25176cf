package mesh

// --- Mesh Description Types ---

// Description is the editable, CPU-side description of one mesh LOD.
// Positions are stored per imported vertex; shading attributes are stored per vertex instance
// (a corner of a polygon referencing an imported vertex), so a single imported vertex may be
// shared by several render vertices along UV or normal seams.
type Description struct {
	// VertexPositions holds one position per imported vertex.
	VertexPositions [][3]float32

	// InstanceNormals holds one normal per vertex instance.
	InstanceNormals [][3]float32

	// InstanceTangents holds one tangent per vertex instance.
	InstanceTangents [][3]float32

	// InstanceBinormalSigns holds the bitangent handedness (+1 or -1) per vertex instance.
	InstanceBinormalSigns []float32

	// InstanceColors holds one linear RGBA color per vertex instance.
	InstanceColors [][4]float32
}

// VertexCount returns the number of imported vertices.
func (d *Description) VertexCount() int {
	return len(d.VertexPositions)
}

// InstanceCount returns the number of vertex instances.
func (d *Description) InstanceCount() int {
	return len(d.InstanceNormals)
}

// Clone returns a deep copy of the description.
//
// Returns:
//   - *Description: the copy, or nil if d is nil
func (d *Description) Clone() *Description {
	if d == nil {
		return nil
	}
	return &Description{
		VertexPositions:       append([][3]float32(nil), d.VertexPositions...),
		InstanceNormals:       append([][3]float32(nil), d.InstanceNormals...),
		InstanceTangents:      append([][3]float32(nil), d.InstanceTangents...),
		InstanceBinormalSigns: append([]float32(nil), d.InstanceBinormalSigns...),
		InstanceColors:        append([][4]float32(nil), d.InstanceColors...),
	}
}

// --- Vertex Mapping Types ---

// VertexMap maps render vertices (the GPU vertex stream order) back to the mesh description.
type VertexMap struct {
	// RenderToImported maps each render vertex to its imported vertex index.
	RenderToImported []int32

	// RenderToInstance maps each render vertex to its vertex instance index.
	RenderToInstance []int32
}

// RenderVertexCount returns the number of render vertices covered by the map.
func (m VertexMap) RenderVertexCount() int {
	return len(m.RenderToImported)
}

// LODData bundles the description and vertex map for one level of detail.
type LODData struct {
	Description *Description
	VertexMap   VertexMap
}
