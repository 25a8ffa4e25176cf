package animator

import (
	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
)

// vertexStreams holds one LOD's render-vertex data in output buffer layout.
type vertexStreams struct {
	positions [][3]float32
	tangents  [][8]int16
	colors    [][4]uint8
}

// buildStreams expands a description onto render vertices through the vertex map.
// Render vertices without a source entry, or without a vertex instance, keep zero values.
func buildStreams(desc *mesh.Description, vm mesh.VertexMap) vertexStreams {
	n := vm.RenderVertexCount()
	s := vertexStreams{
		positions: make([][3]float32, n),
		tangents:  make([][8]int16, n),
		colors:    make([][4]uint8, n),
	}
	for v := range n {
		if imported := vm.RenderToImported[v]; imported >= 0 && int(imported) < len(desc.VertexPositions) {
			s.positions[v] = desc.VertexPositions[imported]
		}

		if v >= len(vm.RenderToInstance) {
			continue
		}
		instance := int(vm.RenderToInstance[v])
		if instance < 0 {
			continue
		}
		if instance < len(desc.InstanceTangents) && instance < len(desc.InstanceNormals) {
			t, nrm := desc.InstanceTangents[instance], desc.InstanceNormals[instance]
			sign := int16(32767)
			if instance < len(desc.InstanceBinormalSigns) && desc.InstanceBinormalSigns[instance] < 0 {
				sign = -32767
			}
			s.tangents[v] = [8]int16{
				common.FloatToSnorm(t[0]), common.FloatToSnorm(t[1]), common.FloatToSnorm(t[2]), 0,
				common.FloatToSnorm(nrm[0]), common.FloatToSnorm(nrm[1]), common.FloatToSnorm(nrm[2]), sign,
			}
		}
		if instance < len(desc.InstanceColors) {
			c := desc.InstanceColors[instance]
			s.colors[v] = [4]uint8{
				common.FloatToUnorm(c[0]), common.FloatToUnorm(c[1]), common.FloatToUnorm(c[2]), common.FloatToUnorm(c[3]),
			}
		}
	}
	return s
}

// transformed returns the positions with t applied.
func (s vertexStreams) transformed(t Transform) [][3]float32 {
	out := make([][3]float32, len(s.positions))
	for i, p := range s.positions {
		out[i] = t.Apply(p)
	}
	return out
}
