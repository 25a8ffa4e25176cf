package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRun counts RunFrame invocations per scheduler.
	FramesRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_frames_total",
			Help: "Frames run by deformer schedulers, by mesh",
		},
		[]string{"mesh"},
	)

	// InstancesDispatched counts deformer instances dispatched.
	InstancesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_instances_dispatched_total",
			Help: "Deformer instances dispatched, by mesh",
		},
		[]string{"mesh"},
	)

	// ConsistencyFailures counts locally absorbed consistency failures.
	ConsistencyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_consistency_failures_total",
			Help: "Absorbed consistency failures by kind",
		},
		[]string{"kind"},
	)

	// BufferPoolRequests counts persistent buffer pool requests by outcome.
	BufferPoolRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_buffer_pool_requests_total",
			Help: "Persistent buffer pool requests by namespace and outcome",
		},
		[]string{"namespace", "outcome"},
	)

	// Readbacks counts geometry readbacks by lifecycle event.
	Readbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_readbacks_total",
			Help: "Geometry readbacks by event (enqueued, converted, abandoned)",
		},
		[]string{"event"},
	)

	// ReadbackRequests counts readback requests by terminal outcome.
	ReadbackRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deformer_readback_requests_total",
			Help: "Readback requests by terminal outcome (completed, failed)",
		},
		[]string{"outcome"},
	)

	// ConversionSeconds tracks readback conversion time.
	ConversionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deformer_readback_conversion_seconds",
			Help:    "Geometry readback conversion time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
