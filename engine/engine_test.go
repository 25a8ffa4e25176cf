package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/animator"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/config"
	"github.com/Carmen-Shannon/oxy-deformer/engine/deformer"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inlineRunner struct{}

func (inlineRunner) Submit(task readback.Task) {
	task.Do()
}

func triangle(name string) *mesh.Mesh {
	return mesh.NewMesh(
		mesh.WithName(name),
		mesh.WithLOD(&mesh.Description{
			VertexPositions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		}, mesh.VertexMap{
			RenderToImported: []int32{0, 1, 2},
			RenderToInstance: []int32{0, 1, 2},
		}),
	)
}

func newTestEngine(options ...EngineBuilderOption) Engine {
	opts := append([]EngineBuilderOption{
		WithProcessor(readback.NewProcessor(readback.WithTaskRunner(inlineRunner{}))),
	}, options...)
	return NewEngine(opts...)
}

func TestAddMesh(t *testing.T) {
	e := newTestEngine()
	defer e.Quit()

	m, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)
	assert.Same(t, m, e.Manager("A"))
	assert.True(t, m.DefaultInstance().Allocated())

	dup, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	assert.Nil(t, dup)
	assert.ErrorIs(t, err, ErrMeshExists)

	_, err = e.AddMesh(mesh.NewMesh(mesh.WithName("Empty")), animator.NewAnimator())
	assert.ErrorIs(t, err, animator.ErrNoGeometry)
	assert.NotNil(t, e.Manager("Empty"))

	assert.Len(t, e.Managers(), 2)
	e.RemoveMesh("Empty")
	assert.Nil(t, e.Manager("Empty"))
}

func TestStepRunsCallbackThenManagers(t *testing.T) {
	e := newTestEngine()
	defer e.Quit()

	a := triangle("A")
	lift := animator.NewAnimator(animator.WithName("lift"))
	mgr, err := e.AddMesh(a, animator.NewAnimator())
	require.NoError(t, err)
	id := deformer.NewInstanceID()

	var frames []common.FrameDescriptor
	e.SetTickCallback(func(frame common.FrameDescriptor) {
		frames = append(frames, frame)
		if frame.Number == 1 {
			mgr.RegisterProducerInstance(1, id, lift)
			return
		}
		mgr.EnqueueForExecution(id, deformer.PhaseBeforeDefault, 0)
	})

	e.SetLOD(0)
	first := e.Step()
	assert.Equal(t, uint64(1), first.Number)
	assert.Len(t, mgr.ExecutionOrder(), 1)

	second := e.Step()
	assert.Equal(t, uint64(2), second.Number)
	order := mgr.ExecutionOrder()
	require.Len(t, order, 2)
	assert.Equal(t, id, order[0].ID)
	assert.True(t, order[1].Default)
	require.Len(t, frames, 2)
}

func TestStepReadback(t *testing.T) {
	e := newTestEngine()
	defer e.Quit()

	a := triangle("A")
	mgr, err := e.AddMesh(a, animator.NewAnimator(animator.WithTransform(animator.Transform{
		Translation: [3]float32{1, 0, 0},
		Scale:       [3]float32{1, 1, 1},
	})))
	require.NoError(t, err)

	var got *mesh.Description
	require.True(t, mgr.RequestGeometryReadback(readback.NewRequest(readback.WithDescriptionCallback(func(d *mesh.Description) {
		got = d
	}))))
	e.Step()
	e.Processor().Wait()

	require.NotNil(t, got)
	assert.Equal(t, [][3]float32{{1, 0, 0}, {2, 0, 0}, {1, 1, 0}}, got.VertexPositions)
	assert.Equal(t, "A", a.Name())
}

func TestStepUsesRecordingContext(t *testing.T) {
	ctx := buffer_pool.NewHostRecordingContext()
	e := newTestEngine(WithRecordingContext(ctx))
	defer e.Quit()

	_, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)
	_, err = e.AddMesh(triangle("B"), animator.NewAnimator())
	require.NoError(t, err)

	e.Step()
	assert.Equal(t, 4, ctx.Created(), "position and transform buffers per mesh")
	e.Step()
	assert.Equal(t, 4, ctx.Created())
	assert.Len(t, ctx.FrameBuffers(), 4)
}

func TestQuitFailsPendingReadbacks(t *testing.T) {
	e := newTestEngine()
	mgr, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)

	failed := false
	require.True(t, mgr.RequestGeometryReadback(readback.NewRequest(readback.WithDescriptionCallback(func(d *mesh.Description) {
		failed = d == nil
	}))))

	e.Quit()
	e.Quit()
	assert.True(t, failed)
	assert.Empty(t, e.Managers())
}

func TestRunStopsOnContext(t *testing.T) {
	e := newTestEngine(WithTickRate(1000))
	_, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)

	ticked := make(chan struct{}, 1)
	e.SetTickCallback(func(frame common.FrameDescriptor) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never ticked")
	}
	e.SetTickRate(500)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Empty(t, e.Managers())
}

func TestQuitFromTickCallback(t *testing.T) {
	e := newTestEngine(WithTickRate(1000))
	e.SetTickCallback(func(frame common.FrameDescriptor) {
		e.Quit()
	})

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.TickRate = 30
	cfg.Engine.Profiling = true
	e := newTestEngine(WithConfig(cfg))
	defer e.Quit()

	assert.Equal(t, 30.0, e.Config().Engine.TickRate)
	assert.Equal(t, time.Second/30, e.(*engine).engineTickRate)
	assert.True(t, e.(*engine).profilingEnabled)
}

// submittingContext counts frame submissions on top of host buffers.
type submittingContext struct {
	*buffer_pool.HostRecordingContext
	submits int
	err     error
}

func (c *submittingContext) Submit() error {
	c.submits++
	return c.err
}

func TestStepSubmitsFrame(t *testing.T) {
	ctx := &submittingContext{HostRecordingContext: buffer_pool.NewHostRecordingContext()}
	e := newTestEngine(WithRecordingContext(ctx))
	defer e.Quit()

	_, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)

	e.Step()
	e.Step()
	assert.Equal(t, 2, ctx.submits)
}

func TestStepSurvivesFailedSubmit(t *testing.T) {
	ctx := &submittingContext{HostRecordingContext: buffer_pool.NewHostRecordingContext(), err: errors.New("device lost")}
	e := newTestEngine(WithRecordingContext(ctx))
	defer e.Quit()

	mgr, err := e.AddMesh(triangle("A"), animator.NewAnimator())
	require.NoError(t, err)

	var got *mesh.Description
	req := readback.NewRequest(readback.WithDescriptionCallback(func(d *mesh.Description) { got = d }))
	require.True(t, mgr.RequestGeometryReadback(req))
	frame := e.Step()
	e.Processor().Wait()

	assert.Equal(t, uint64(1), frame.Number)
	assert.Equal(t, 1, ctx.submits)
	require.NotNil(t, got, "host buffers complete regardless of submission")
	assert.Len(t, got.VertexPositions, 3)
}
