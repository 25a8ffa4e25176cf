package readback

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner queues tasks until the test runs them.
type recordingRunner struct {
	mu    sync.Mutex
	tasks []Task
}

func (r *recordingRunner) Submit(task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *recordingRunner) submitted() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}

func (r *recordingRunner) runAll() {
	for _, t := range r.submitted() {
		t.Do()
	}
}

// identityMesh has n imported vertices, each used by exactly one render vertex.
func identityMesh(n int) *mesh.Mesh {
	vm := mesh.VertexMap{
		RenderToImported: make([]int32, n),
		RenderToInstance: make([]int32, n),
	}
	for i := range n {
		vm.RenderToImported[i] = int32(i)
		vm.RenderToInstance[i] = int32(i)
	}
	return mesh.NewMesh(
		mesh.WithName("identity"),
		mesh.WithLOD(&mesh.Description{
			VertexPositions: make([][3]float32, n),
			InstanceNormals: make([][3]float32, n),
		}, vm),
	)
}

func positionBytes(positions ...[3]float32) []byte {
	return append([]byte(nil), common.SliceToBytes(positions)...)
}

func TestRequestReleaseFiresFailureOnce(t *testing.T) {
	var descCalls, arrayCalls int
	var gotDesc *mesh.Description
	var gotArrays GeometryArrays
	r := NewRequest(
		WithDescriptionCallback(func(d *mesh.Description) { descCalls++; gotDesc = d }),
		WithArraysCallback(func(a GeometryArrays) { arrayCalls++; gotArrays = a }),
	)

	assert.True(t, r.Release())
	assert.False(t, r.Release())
	assert.False(t, r.Complete(&mesh.Description{}, GeometryArrays{Positions: [][3]float32{{1, 2, 3}}}))

	assert.Equal(t, 1, descCalls)
	assert.Equal(t, 1, arrayCalls)
	assert.Nil(t, gotDesc)
	assert.True(t, gotArrays.Empty())
	assert.True(t, r.Handled())
}

func TestRequestCompleteSuppressesFailure(t *testing.T) {
	var calls int
	r := NewRequest(WithArraysCallback(func(a GeometryArrays) {
		calls++
		assert.False(t, a.Empty())
	}))

	assert.True(t, r.Complete(nil, GeometryArrays{Positions: [][3]float32{{1, 2, 3}}}))
	assert.False(t, r.Release())
	assert.Equal(t, 1, calls)
}

func TestRequestWithoutCallbacks(t *testing.T) {
	r := NewRequest()
	assert.True(t, r.Release())
}

func TestGeometryReadbackReadiness(t *testing.T) {
	pos := NewBufferCopy(common.BufferPosition)
	col := NewBufferCopy(common.BufferColor)
	rb := NewGeometryReadback(1, 0, identityMesh(1), nil, pos, nil, col)

	assert.Equal(t, common.BufferPosition|common.BufferColor, rb.Required())
	assert.False(t, rb.Ready())
	pos.Complete(positionBytes([3]float32{1, 1, 1}))
	assert.False(t, rb.Ready())
	col.Complete([]byte{1, 2, 3, 4})
	assert.True(t, rb.Ready())

	pos.Complete(nil)
	assert.Equal(t, 1, pos.VertexCount())
}

func TestProcessorFIFOStrictness(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))
	m := identityMesh(1)

	var order []uint64
	var mu sync.Mutex
	record := func(frame uint64) *Request {
		return NewRequest(WithArraysCallback(func(a GeometryArrays) {
			mu.Lock()
			defer mu.Unlock()
			if !a.Empty() {
				order = append(order, frame)
			}
		}))
	}

	c1 := NewBufferCopy(common.BufferPosition)
	c2 := NewBufferCopy(common.BufferPosition)
	r1 := NewGeometryReadback(10, 0, m, []*Request{record(10)}, c1)
	r2 := NewGeometryReadback(11, 0, m, []*Request{record(11)}, c2)
	p.Enqueue(r1)
	p.Enqueue(r2)

	c2.Complete(positionBytes([3]float32{2, 2, 2}))
	assert.Empty(t, runner.submitted(), "ready R2 must wait behind unready R1")
	assert.Equal(t, 2, p.Pending())

	p.ProcessCompleted()
	assert.Empty(t, runner.submitted())

	c1.Complete(positionBytes([3]float32{1, 1, 1}))
	tasks := runner.submitted()
	require.Len(t, tasks, 2)
	assert.Equal(t, uint64(10), tasks[0].Frame)
	assert.Equal(t, uint64(11), tasks[1].Frame)
	assert.Less(t, tasks[0].ID, tasks[1].ID)
	assert.Zero(t, p.Pending())

	runner.runAll()
	p.Wait()
	assert.Equal(t, []uint64{10, 11}, order)
	runtime.KeepAlive(m)
}

func TestProcessorChainsConversions(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))
	m := identityMesh(1)

	var mu sync.Mutex
	var order []uint64
	for frame := uint64(1); frame <= 4; frame++ {
		c := NewBufferCopy(common.BufferPosition)
		req := NewRequest(WithArraysCallback(func(GeometryArrays) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, frame)
		}))
		p.Enqueue(NewGeometryReadback(frame, 0, m, []*Request{req}, c))
		c.Complete(positionBytes([3]float32{1, 2, 3}))
	}

	// Start the tasks in reverse; the chain must still deliver in FIFO order.
	tasks := runner.submitted()
	require.Len(t, tasks, 4)
	var wg sync.WaitGroup
	for i := len(tasks) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			task.Do()
		}(tasks[i])
	}
	wg.Wait()
	p.Wait()

	assert.Equal(t, []uint64{1, 2, 3, 4}, order)
	runtime.KeepAlive(m)
}

func TestProcessorEnqueueAlreadyComplete(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	c := NewBufferCopy(common.BufferPosition)
	c.Complete(positionBytes([3]float32{1, 2, 3}))
	p.Enqueue(NewGeometryReadback(1, 0, identityMesh(1), nil, c))

	assert.Len(t, runner.submitted(), 1)
}

func TestVertexDedupFirstWriterWins(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner), WithConversion(1, 4))

	// Render vertices 0 and 1 share imported vertex 0.
	m := mesh.NewMesh(mesh.WithLOD(&mesh.Description{
		VertexPositions: make([][3]float32, 2),
		InstanceNormals: make([][3]float32, 3),
	}, mesh.VertexMap{
		RenderToImported: []int32{0, 0, 1},
		RenderToInstance: []int32{0, 1, 2},
	}))

	var got *mesh.Description
	req := NewRequest(WithDescriptionCallback(func(d *mesh.Description) { got = d }))
	c := NewBufferCopy(common.BufferPosition)
	p.Enqueue(NewGeometryReadback(1, 0, m, []*Request{req}, c))
	c.Complete(positionBytes([3]float32{1, 1, 1}, [3]float32{2, 2, 2}, [3]float32{3, 3, 3}))

	runner.runAll()
	p.Wait()

	require.NotNil(t, got)
	require.Len(t, got.VertexPositions, 2)
	assert.Contains(t, [][3]float32{{1, 1, 1}, {2, 2, 2}}, got.VertexPositions[0])
	assert.Equal(t, [3]float32{3, 3, 3}, got.VertexPositions[1])
	runtime.KeepAlive(m)
}

func TestVertexDedupCountsOneWrite(t *testing.T) {
	desc := &mesh.Description{VertexPositions: make([][3]float32, 1)}
	vm := mesh.VertexMap{RenderToImported: []int32{0, 0, 0, 0}, RenderToInstance: []int32{0, 1, 2, 3}}
	s := streams{positions: [][3]float32{{1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}}

	// Sequential chunks make the first writer deterministic.
	converter{chunk: 4, parallelism: 1}.scatter(desc, vm, s, 4)
	assert.Equal(t, [3]float32{1, 0, 0}, desc.VertexPositions[0])
}

func TestConvertTangentsAndColors(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))
	m := identityMesh(1)

	var got GeometryArrays
	req := NewRequest(WithArraysCallback(func(a GeometryArrays) { got = a }))
	tan := NewBufferCopy(common.BufferTangent)
	col := NewBufferCopy(common.BufferColor)
	p.Enqueue(NewGeometryReadback(1, 0, m, []*Request{req}, tan, col))

	tangent := [][8]int16{{32767, 0, 0, 0, 0, 0, 32767, -32767}}
	tan.Complete(append([]byte(nil), common.SliceToBytes(tangent)...))
	col.Complete([]byte{255, 0, 255, 0})

	runner.runAll()
	p.Wait()

	require.Len(t, got.Tangents, 1)
	assert.Equal(t, [3]float32{1, 0, 0}, got.Tangents[0])
	assert.Equal(t, [3]float32{0, 0, 1}, got.Normals[0])
	assert.Equal(t, float32(-1), got.BinormalSigns[0])
	assert.Equal(t, [4]float32{1, 0, 1, 0}, got.Colors[0])
	runtime.KeepAlive(m)
}

func TestAbandonedReadbackFailsRequests(t *testing.T) {
	tests := []struct {
		name   string
		copies func() []*BufferCopy
		fill   func(copies []*BufferCopy)
	}{
		{
			name:   "no usable vertex count",
			copies: func() []*BufferCopy { return []*BufferCopy{NewBufferCopy(common.BufferPosition)} },
			fill:   func(c []*BufferCopy) { c[0].Complete([]byte{1, 2, 3}) },
		},
		{
			name: "buffers disagree",
			copies: func() []*BufferCopy {
				return []*BufferCopy{NewBufferCopy(common.BufferPosition), NewBufferCopy(common.BufferColor)}
			},
			fill: func(c []*BufferCopy) {
				c[0].Complete(positionBytes([3]float32{}, [3]float32{}))
				c[1].Complete([]byte{1, 2, 3, 4})
			},
		},
		{
			name:   "count differs from lod",
			copies: func() []*BufferCopy { return []*BufferCopy{NewBufferCopy(common.BufferPosition)} },
			fill:   func(c []*BufferCopy) { c[0].Complete(positionBytes([3]float32{}, [3]float32{}, [3]float32{})) },
		},
		{
			name:   "no copies",
			copies: func() []*BufferCopy { return nil },
			fill:   func([]*BufferCopy) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{}
			p := NewProcessor(WithTaskRunner(runner))

			var failures int
			req := NewRequest(WithDescriptionCallback(func(d *mesh.Description) {
				assert.Nil(t, d)
				failures++
			}))
			copies := tt.copies()
			p.Enqueue(NewGeometryReadback(1, 0, identityMesh(1), []*Request{req}, copies...))
			tt.fill(copies)

			runner.runAll()
			p.Wait()
			assert.Equal(t, 1, failures)
		})
	}
}

func TestAbandonedOnLODOutOfRange(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	var failed bool
	req := NewRequest(WithArraysCallback(func(a GeometryArrays) { failed = a.Empty() }))
	c := NewBufferCopy(common.BufferPosition)
	p.Enqueue(NewGeometryReadback(1, 3, identityMesh(1), []*Request{req}, c))
	c.Complete(positionBytes([3]float32{}))

	runner.runAll()
	p.Wait()
	assert.True(t, failed)
}

func TestHandledRequestsAreSkipped(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	var calls int
	req := NewRequest(WithArraysCallback(func(GeometryArrays) { calls++ }))
	req.Release()

	c := NewBufferCopy(common.BufferPosition)
	p.Enqueue(NewGeometryReadback(1, 0, identityMesh(1), []*Request{req}, c))
	c.Complete(positionBytes([3]float32{}))
	runner.runAll()
	p.Wait()

	assert.Equal(t, 1, calls)
}

func TestMultipleRequestsReceiveIndependentData(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	var a, b *mesh.Description
	reqA := NewRequest(WithDescriptionCallback(func(d *mesh.Description) { a = d }))
	reqB := NewRequest(WithDescriptionCallback(func(d *mesh.Description) { b = d }))
	m := identityMesh(1)
	c := NewBufferCopy(common.BufferPosition)
	p.Enqueue(NewGeometryReadback(1, 0, m, []*Request{reqA, reqB}, c))
	c.Complete(positionBytes([3]float32{5, 5, 5}))
	runner.runAll()
	p.Wait()

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.VertexPositions, b.VertexPositions)
	a.VertexPositions[0] = [3]float32{}
	assert.Equal(t, [3]float32{5, 5, 5}, b.VertexPositions[0])
	runtime.KeepAlive(m)
}

func TestShutdownReleasesQueued(t *testing.T) {
	runner := &recordingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	var failures int
	fail := func(a GeometryArrays) {
		if a.Empty() {
			failures++
		}
	}
	p.Enqueue(NewGeometryReadback(1, 0, identityMesh(1),
		[]*Request{NewRequest(WithArraysCallback(fail))}, NewBufferCopy(common.BufferPosition)))
	p.Shutdown()
	assert.Equal(t, 1, failures)
	assert.Zero(t, p.Pending())

	p.Enqueue(NewGeometryReadback(2, 0, identityMesh(1),
		[]*Request{NewRequest(WithArraysCallback(fail))}, NewBufferCopy(common.BufferPosition)))
	assert.Equal(t, 2, failures)
	assert.Zero(t, p.Pending())
}

func TestConvertWithoutMesh(t *testing.T) {
	c := NewBufferCopy(common.BufferPosition)
	c.Complete(positionBytes([3]float32{}))
	_, _, err := converter{chunk: 1}.convert(NewGeometryReadback(1, 0, nil, nil, c))
	assert.ErrorIs(t, err, ErrMeshCollected)
}

func TestVertexCount(t *testing.T) {
	pos := NewBufferCopy(common.BufferPosition)
	tan := NewBufferCopy(common.BufferTangent)
	pos.Complete(positionBytes([3]float32{}, [3]float32{}))
	tan.Complete(make([]byte, 2*common.TangentVertexSize))

	n, err := vertexCount(NewGeometryReadback(1, 0, nil, nil, pos, tan))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	empty := NewBufferCopy(common.BufferColor)
	empty.Complete(nil)
	n, err = vertexCount(NewGeometryReadback(1, 0, nil, nil, pos, empty))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = vertexCount(NewGeometryReadback(1, 0, nil, nil, empty))
	assert.ErrorIs(t, err, ErrNoVertexCount)
}

// positionOnlyMesh has two imported vertices and no vertex instance mapping.
func positionOnlyMesh() *mesh.Mesh {
	return mesh.NewMesh(
		mesh.WithName("positions"),
		mesh.WithLOD(&mesh.Description{
			VertexPositions: make([][3]float32, 2),
		}, mesh.VertexMap{RenderToImported: []int32{0, 1}}),
	)
}

func TestConvertPositionsWithoutInstanceMap(t *testing.T) {
	m := positionOnlyMesh()
	pos := NewBufferCopy(common.BufferPosition)
	pos.Complete(positionBytes([3]float32{1, 2, 3}, [3]float32{4, 5, 6}))

	desc, arrays, err := converter{chunk: 1}.convert(NewGeometryReadback(1, 0, m, nil, pos))
	require.NoError(t, err)
	assert.Equal(t, [][3]float32{{1, 2, 3}, {4, 5, 6}}, desc.VertexPositions)
	assert.Equal(t, desc.VertexPositions, arrays.Positions)
	runtime.KeepAlive(m)
}

func TestConvertInstanceStreamsRequireInstanceMap(t *testing.T) {
	m := positionOnlyMesh()
	pos := NewBufferCopy(common.BufferPosition)
	col := NewBufferCopy(common.BufferColor)
	pos.Complete(positionBytes([3]float32{}, [3]float32{}))
	col.Complete(make([]byte, 2*common.ColorVertexSize))

	_, _, err := converter{chunk: 1}.convert(NewGeometryReadback(1, 0, m, nil, pos, col))
	assert.ErrorIs(t, err, ErrVertexCountMismatch)
	runtime.KeepAlive(m)
}

// stoppingRunner runs tasks inline and counts Stop calls.
type stoppingRunner struct {
	stops int
}

func (r *stoppingRunner) Submit(task Task) {
	task.Do()
}

func (r *stoppingRunner) Stop() {
	r.stops++
}

func TestShutdownStopsRunnerOnce(t *testing.T) {
	runner := &stoppingRunner{}
	p := NewProcessor(WithTaskRunner(runner))

	p.Shutdown()
	p.Shutdown()
	assert.Equal(t, 1, runner.stops)
}

func TestWorkerPoolProcessorConvertsAndStops(t *testing.T) {
	p := NewProcessor(WithWorkers(2, 8, time.Second))
	m := identityMesh(1)

	var got GeometryArrays
	pos := NewBufferCopy(common.BufferPosition)
	p.Enqueue(NewGeometryReadback(1, 0, m, []*Request{NewRequest(WithArraysCallback(func(a GeometryArrays) { got = a }))}, pos))
	pos.Complete(positionBytes([3]float32{7, 8, 9}))

	p.Wait()
	runtime.KeepAlive(m)
	assert.Equal(t, [][3]float32{{7, 8, 9}}, got.Positions)

	p.Shutdown()
	_, ok := p.(*processor).runner.(stopper)
	assert.True(t, ok)
}
