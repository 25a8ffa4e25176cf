package readback

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoVertexCount is reported when no copied buffer holds a whole vertex.
	ErrNoVertexCount = errors.New("readback: no buffer yields a usable vertex count")

	// ErrVertexCountMismatch is reported when copied buffers disagree on the vertex count, or
	// the count disagrees with the mesh LOD.
	ErrVertexCountMismatch = errors.New("readback: vertex count mismatch")

	// ErrMeshCollected is reported when the target mesh no longer exists.
	ErrMeshCollected = errors.New("readback: target mesh no longer exists")
)

// converter turns copied render-vertex streams into a mesh description and flat arrays.
type converter struct {
	// chunk is the number of render vertices each parallel task handles.
	chunk int
	// parallelism bounds the goroutines used by one conversion.
	parallelism int
}

// vertexCount derives the vertex count shared by every non-empty copy.
func vertexCount(g *GeometryReadback) (int, error) {
	count := 0
	for _, c := range g.copies() {
		n := c.VertexCount()
		if n == 0 {
			continue
		}
		if count != 0 && n != count {
			return 0, fmt.Errorf("%w: %s has %d vertices, expected %d", ErrVertexCountMismatch, c.Kind(), n, count)
		}
		count = n
	}
	if count == 0 {
		return 0, ErrNoVertexCount
	}
	return count, nil
}

// streams holds the decoded render-vertex data of one readback.
type streams struct {
	positions [][3]float32
	tangents  [][8]int16
	colors    [][4]uint8
}

func decode(g *GeometryReadback, count int) streams {
	var s streams
	if g.position != nil && g.position.VertexCount() == count {
		s.positions = common.BytesToSlice[[3]float32](g.position.Data()[:count*common.PositionVertexSize])
	}
	if g.tangent != nil && g.tangent.VertexCount() == count {
		s.tangents = common.BytesToSlice[[8]int16](g.tangent.Data()[:count*common.TangentVertexSize])
	}
	if g.color != nil && g.color.VertexCount() == count {
		s.colors = common.BytesToSlice[[4]uint8](g.color.Data()[:count*common.ColorVertexSize])
	}
	return s
}

// convert validates a ready readback and splits its render-vertex streams onto a clone of the
// target mesh description.
//
// Parameters:
//   - g: the ready readback
//
// Returns:
//   - *mesh.Description: the updated description clone
//   - GeometryArrays: the same data as flat arrays
//   - error: a validation error; the readback must then be abandoned
func (c converter) convert(g *GeometryReadback) (*mesh.Description, GeometryArrays, error) {
	count, err := vertexCount(g)
	if err != nil {
		return nil, GeometryArrays{}, err
	}

	target := g.mesh.Value()
	if target == nil {
		return nil, GeometryArrays{}, ErrMeshCollected
	}
	desc, err := target.CloneDescription(g.lod)
	if err != nil {
		return nil, GeometryArrays{}, err
	}
	vm, err := target.VertexMap(g.lod)
	if err != nil {
		return nil, GeometryArrays{}, err
	}
	if count != vm.RenderVertexCount() {
		return nil, GeometryArrays{}, fmt.Errorf("%w: readback has %d vertices, lod %d renders %d",
			ErrVertexCountMismatch, count, g.lod, vm.RenderVertexCount())
	}

	s := decode(g, count)
	// Per-instance streams need every render vertex mapped to a vertex instance; positions do not.
	if (s.tangents != nil || s.colors != nil) && len(vm.RenderToInstance) < count {
		return nil, GeometryArrays{}, fmt.Errorf("%w: lod %d maps %d of %d render vertices to instances",
			ErrVertexCountMismatch, g.lod, len(vm.RenderToInstance), count)
	}
	c.prepare(desc, vm, s)
	c.scatter(desc, vm, s, count)

	return desc, arraysFromDescription(desc), nil
}

// prepare grows the description so every index referenced by the vertex map is addressable.
func (c converter) prepare(desc *mesh.Description, vm mesh.VertexMap, s streams) {
	vertices := desc.VertexCount()
	for _, idx := range vm.RenderToImported {
		vertices = max(vertices, int(idx)+1)
	}
	instances := max(desc.InstanceCount(), len(desc.InstanceTangents), len(desc.InstanceColors))
	for _, idx := range vm.RenderToInstance {
		instances = max(instances, int(idx)+1)
	}

	if s.positions != nil {
		desc.VertexPositions = grow(desc.VertexPositions, vertices)
	}
	if s.tangents != nil {
		desc.InstanceNormals = grow(desc.InstanceNormals, instances)
		desc.InstanceTangents = grow(desc.InstanceTangents, instances)
		desc.InstanceBinormalSigns = grow(desc.InstanceBinormalSigns, instances)
	}
	if s.colors != nil {
		desc.InstanceColors = grow(desc.InstanceColors, instances)
	}
}

// scatter writes render-vertex data onto imported vertices and vertex instances in parallel.
// Several render vertices may share an imported vertex; the first writer wins.
func (c converter) scatter(desc *mesh.Description, vm mesh.VertexMap, s streams, count int) {
	writtenVertices := make([]atomic.Int32, len(desc.VertexPositions))
	writtenInstances := make([]atomic.Int32, max(len(desc.InstanceNormals), len(desc.InstanceColors)))

	chunk := max(c.chunk, 1)
	var eg errgroup.Group
	if c.parallelism > 0 {
		eg.SetLimit(c.parallelism)
	}
	for start := 0; start < count; start += chunk {
		end := min(start+chunk, count)
		eg.Go(func() error {
			for v := start; v < end; v++ {
				if s.positions != nil {
					imported := vm.RenderToImported[v]
					if imported >= 0 && writtenVertices[imported].Add(1) == 1 {
						desc.VertexPositions[imported] = s.positions[v]
					}
				}

				if s.tangents == nil && s.colors == nil {
					continue
				}
				instance := vm.RenderToInstance[v]
				if instance < 0 || writtenInstances[instance].Add(1) != 1 {
					continue
				}
				if s.tangents != nil {
					t := s.tangents[v]
					desc.InstanceTangents[instance] = [3]float32{common.SnormToFloat(t[0]), common.SnormToFloat(t[1]), common.SnormToFloat(t[2])}
					desc.InstanceNormals[instance] = [3]float32{common.SnormToFloat(t[4]), common.SnormToFloat(t[5]), common.SnormToFloat(t[6])}
					sign := float32(1)
					if t[7] < 0 {
						sign = -1
					}
					desc.InstanceBinormalSigns[instance] = sign
				}
				if s.colors != nil {
					col := s.colors[v]
					desc.InstanceColors[instance] = [4]float32{common.UnormToFloat(col[0]), common.UnormToFloat(col[1]), common.UnormToFloat(col[2]), common.UnormToFloat(col[3])}
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func arraysFromDescription(desc *mesh.Description) GeometryArrays {
	return GeometryArrays{
		Positions:     desc.VertexPositions,
		Normals:       desc.InstanceNormals,
		Tangents:      desc.InstanceTangents,
		BinormalSigns: desc.InstanceBinormalSigns,
		Colors:        desc.InstanceColors,
	}
}

func grow[T any](s []T, n int) []T {
	if len(s) >= n {
		return s
	}
	return append(s, make([]T, n-len(s))...)
}
