package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickLogsAfterInterval(t *testing.T) {
	p := NewProfiler(time.Second)
	start := time.Unix(1000, 0)
	current := start
	p.now = func() time.Time { return current }
	p.lastTime = start

	p.AddDispatched(4)
	current = start.Add(500 * time.Millisecond)
	assert.False(t, p.Tick())

	current = start.Add(1500 * time.Millisecond)
	assert.True(t, p.Tick())
	assert.Zero(t, p.dispatched.Load())
	assert.Zero(t, p.frameCount)
}

func TestNewProfilerDefaultsInterval(t *testing.T) {
	p := NewProfiler(0)
	assert.Equal(t, time.Second, p.updateInterval)
}
