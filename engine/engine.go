// Package engine drives deformer scheduling for every mesh in the process at a fixed tick rate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/common"
	"github.com/Carmen-Shannon/oxy-deformer/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deformer/engine/config"
	"github.com/Carmen-Shannon/oxy-deformer/engine/deformer"
	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"github.com/Carmen-Shannon/oxy-deformer/engine/mesh"
	"github.com/Carmen-Shannon/oxy-deformer/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deformer/engine/readback"
	"go.uber.org/zap"
)

// ErrMeshExists is returned when a mesh name is registered twice.
var ErrMeshExists = errors.New("engine: mesh already registered")

// frameBeginner is implemented by recording contexts that track per-frame buffer references.
type frameBeginner interface {
	BeginFrame()
}

// frameSubmitter is implemented by recording contexts that batch a frame's work for submission.
type frameSubmitter interface {
	Submit() error
}

// engine implements the Engine interface.
// Owns the readback processor and one deformer manager per mesh, and runs the frame loop.
type engine struct {
	cfg config.Config
	log *zap.Logger

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	// mu guards managers, running and lod.
	mu       *sync.Mutex
	running  bool
	managers map[string]deformer.Manager
	lod      int

	quitChannel  chan struct{}
	quitOnce     sync.Once // Ensures quitChannel is only closed once
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	processor readback.Processor
	recording buffer_pool.RecordingContext

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(frame common.FrameDescriptor)

	frameNumber uint64
	lastTick    time.Time
}

// Engine is the main entry point for deformer scheduling.
// It runs every registered mesh's scheduler once per tick and owns the process-wide readback processor.
type Engine interface {
	// Config returns the configuration the engine was built with.
	//
	// Returns:
	//   - config.Config: the configuration
	Config() config.Config

	// Processor returns the process-wide geometry readback processor.
	//
	// Returns:
	//   - readback.Processor: the processor shared by every mesh
	Processor() readback.Processor

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called at the start of each tick, before any mesh is
	// scheduled. Producers register and enqueue deformer instances from here.
	//
	// Parameters:
	//   - callback: function receiving the frame about to be dispatched
	SetTickCallback(callback func(frame common.FrameDescriptor))

	// SetLOD sets the level of detail dispatched from the next frame on.
	//
	// Parameters:
	//   - lod: the level of detail
	SetLOD(lod int)

	// AddMesh creates a deformer manager for target, allocates its resources and registers it under the mesh name.
	//
	// Parameters:
	//   - target: the mesh to deform
	//   - defaultAsset: the template of the mesh's default deformer instance
	//   - options: options forwarded to the manager
	//
	// Returns:
	//   - deformer.Manager: the new manager, or nil if the name is taken
	//   - error: ErrMeshExists, or the manager's allocation error (the manager is still registered)
	AddMesh(target *mesh.Mesh, defaultAsset deformer.DeformerAsset, options ...deformer.ManagerBuilderOption) (deformer.Manager, error)

	// RemoveMesh destroys and removes the manager registered under name.
	//
	// Parameters:
	//   - name: the mesh name
	RemoveMesh(name string)

	// Manager retrieves the manager registered under name.
	// Returns nil if no manager exists for that name.
	//
	// Parameters:
	//   - name: the mesh name
	//
	// Returns:
	//   - deformer.Manager: the manager, or nil if not found
	Manager(name string) deformer.Manager

	// Managers returns a copy of all registered managers keyed by mesh name.
	//
	// Returns:
	//   - map[string]deformer.Manager: a copy of the managers map
	Managers() map[string]deformer.Manager

	// Step runs one frame synchronously: the tick callback, then every manager in ascending mesh name order.
	// A recording context that batches work, such as the WebGPU one, is submitted at the end of the frame.
	//
	// Returns:
	//   - common.FrameDescriptor: the frame that was dispatched
	Step() common.FrameDescriptor

	// Run starts the fixed-rate frame loop and blocks until Quit is called or ctx is done.
	// Every manager is released and the processor is shut down before Run returns.
	//
	// Parameters:
	//   - ctx: cancels the loop
	Run(ctx context.Context)

	// Quit stops the frame loop, releases every manager and shuts the readback processor down.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine with the provided options.
// The readback processor is built from the configuration's readback section unless one is supplied.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		cfg:             config.Default(),
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		mu:              &sync.Mutex{},
		managers:        make(map[string]deformer.Manager),
	}
	e.engineTickRate = tickDuration(e.cfg.Engine.TickRate)

	for _, opt := range options {
		opt(e)
	}

	if e.log == nil {
		e.log = logger.Named("engine")
	}
	if e.processor == nil {
		rc := e.cfg.Readback
		e.processor = readback.NewProcessor(
			readback.WithWorkers(rc.Workers, rc.QueueSize, rc.IdleTimeout),
			readback.WithConversion(rc.VertexChunk, rc.MaxParallelism),
		)
	}
	if e.recording == nil {
		e.recording = buffer_pool.NewHostRecordingContext()
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(e.cfg.Engine.ProfileInterval)
	}
	return e
}

func (e *engine) Config() config.Config {
	return e.cfg
}

func (e *engine) Processor() readback.Processor {
	return e.processor
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	newRate := tickDuration(fps)

	e.mu.Lock()
	running := e.running
	if !running {
		e.engineTickRate = newRate
	}
	e.mu.Unlock()
	if !running {
		return
	}

	// Non-blocking send - if channel is full, replace the pending value
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(frame common.FrameDescriptor)) {
	e.tickCallback = callback
}

func (e *engine) SetLOD(lod int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lod = lod
}

func (e *engine) AddMesh(target *mesh.Mesh, defaultAsset deformer.DeformerAsset, options ...deformer.ManagerBuilderOption) (deformer.Manager, error) {
	name := target.Name()

	e.mu.Lock()
	if _, exists := e.managers[name]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrMeshExists, name)
	}
	m := deformer.NewManager(target, defaultAsset, e.processor, options...)
	e.managers[name] = m
	e.mu.Unlock()

	if err := m.AllocateResources(); err != nil {
		e.log.Warn("mesh resources partially allocated", zap.String("mesh", name), zap.Error(err))
		return m, err
	}
	e.log.Info("mesh added", zap.String("mesh", name))
	return m, nil
}

func (e *engine) RemoveMesh(name string) {
	e.mu.Lock()
	m, ok := e.managers[name]
	delete(e.managers, name)
	e.mu.Unlock()

	if ok {
		m.Destroy()
		e.log.Info("mesh removed", zap.String("mesh", name))
	}
}

func (e *engine) Manager(name string) deformer.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.managers[name]
}

func (e *engine) Managers() map[string]deformer.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[string]deformer.Manager, len(e.managers))
	for k, v := range e.managers {
		cp[k] = v
	}
	return cp
}

func (e *engine) Step() common.FrameDescriptor {
	now := time.Now()
	var dt float32
	if !e.lastTick.IsZero() {
		dt = float32(now.Sub(e.lastTick).Seconds())
	}
	e.lastTick = now

	e.mu.Lock()
	e.frameNumber++
	frame := common.FrameDescriptor{Number: e.frameNumber, LOD: e.lod, DeltaTime: dt}
	e.mu.Unlock()

	if e.tickCallback != nil {
		e.tickCallback(frame)
	}

	// Snapshot after the callback so meshes it adds run this frame.
	e.mu.Lock()
	names := make([]string, 0, len(e.managers))
	for name := range e.managers {
		names = append(names, name)
	}
	slices.Sort(names)
	managers := make([]deformer.Manager, len(names))
	for i, name := range names {
		managers[i] = e.managers[name]
	}
	e.mu.Unlock()

	if fb, ok := e.recording.(frameBeginner); ok {
		fb.BeginFrame()
	}
	for _, m := range managers {
		m.RunFrame(frame, e.recording)
		e.profiler.AddDispatched(len(m.ExecutionOrder()))
	}
	if fs, ok := e.recording.(frameSubmitter); ok {
		if err := fs.Submit(); err != nil {
			e.log.Warn("frame submission failed", zap.Uint64("frame", frame.Number), zap.Error(err))
		}
	}

	if e.profilingEnabled {
		e.profiler.Tick()
	}
	return frame
}

func (e *engine) Run(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.handleEngine(ctx)
	e.wg.Wait()

	e.shutdown()
}

// handleEngine runs the fixed-rate frame loop in its own goroutine, which becomes the owning thread
// of every manager. Listens for dynamic rate changes via tickRateChannel and exits when the quit
// channel is closed or ctx is done.
func (e *engine) handleEngine(ctx context.Context) {
	defer e.wg.Done()
	// Recover from panics inside the frame goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("frame goroutine recovered from panic", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quitChannel:
			return
		case <-ticker.C:
			e.Step()
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// Quit signals the frame loop to stop. A running loop shuts the engine down on its way out;
// otherwise the shutdown happens here. Safe to call multiple times, including from the tick callback.
func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		e.shutdown()
	}
}

// shutdown releases every manager and stops the readback processor, once.
func (e *engine) shutdown() {
	e.shutdownOnce.Do(func() {
		e.mu.Lock()
		e.running = false
		managers := e.managers
		e.managers = make(map[string]deformer.Manager)
		frames := e.frameNumber
		e.mu.Unlock()

		for _, m := range managers {
			m.ReleaseResources()
		}
		e.processor.Shutdown()
		e.log.Info("engine stopped", zap.Uint64("frames", frames))
	})
}

// tickDuration converts a rate in frames per second to a tick period, defaulting to 60Hz.
func tickDuration(fps float64) time.Duration {
	if fps <= 0 {
		fps = 60
	}
	return time.Duration(float64(time.Second) / fps)
}
