package profiler

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"go.uber.org/zap"
)

// Profiler tracks frame rate, deformer dispatch volume and memory statistics.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	log *zap.Logger
	now func() time.Time

	frameCount     int
	dispatched     atomic.Int64
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewProfiler creates a new Profiler logging every interval.
// An interval <= 0 defaults to 1 second.
//
// Parameters:
//   - interval: how often to log statistics
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		log:            logger.Named("profiler"),
		now:            time.Now,
		lastTime:       time.Now(),
		updateInterval: interval,
	}
}

// AddDispatched records deformer instances dispatched during the current frame.
// Safe to call from any goroutine.
//
// Parameters:
//   - n: the number of dispatched instances
func (p *Profiler) AddDispatched(n int) {
	p.dispatched.Add(int64(n))
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, instances dispatched per second, heap usage, allocation rate, GC count/pause times.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()
	dispatchRate := float64(p.dispatched.Swap(0)) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	p.log.Info("frame stats",
		zap.Float64("fps", fps),
		zap.Float64("dispatched_per_sec", dispatchRate),
		zap.Float64("heap_mb", allocMB),
		zap.Float64("alloc_rate_mb", allocRateMB),
		zap.Uint32("gc_count", gcCount),
		zap.Uint64("gc_last_pause_us", lastPauseUs),
		zap.Uint64("gc_max_pause_us", maxPauseUs),
		zap.Float64("sys_mb", sysMB),
	)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
