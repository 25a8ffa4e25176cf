// Package readback converts completed GPU geometry readbacks into CPU mesh data, strictly in the
// order the readbacks were enqueued across every mesh in the process.
package readback

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deformer/engine/logger"
	"github.com/Carmen-Shannon/oxy-deformer/engine/profiler"
	"go.uber.org/zap"
)

// processor is the implementation of the Processor interface.
type processor struct {
	// mu guards queue and closed. Producers hold it only to append.
	mu     *sync.Mutex
	queue  []*GeometryReadback
	closed bool

	// consumeMu serializes ProcessCompleted, which may be entered from any completion callback.
	// It also guards tail and nextID.
	consumeMu *sync.Mutex
	tail      chan struct{}
	nextID    int
	inflight  sync.WaitGroup
	stopOnce  sync.Once

	runner TaskRunner
	conv   converter
	log    *zap.Logger

	// Pre-creation config collected from builder options
	workers     int
	queueSize   int
	idleTimeout time.Duration
}

// Processor is the process-wide FIFO of geometry readbacks.
//
// Producers on any goroutine Enqueue readbacks. Whenever a buffer copy completes the processor
// pops ready readbacks off the head of the queue, stopping at the first one that is not ready
// even if later ones are. Each popped readback is converted on a background task chained behind
// the previous conversion, so conversions also finish in FIFO order.
type Processor interface {
	// Enqueue appends a readback. Never blocks on conversion work.
	// After Shutdown, the readback is released immediately and its requests fail.
	//
	// Parameters:
	//   - rb: the readback to append
	Enqueue(rb *GeometryReadback)

	// ProcessCompleted schedules conversion for every ready readback at the head of the queue.
	// Invoked automatically by buffer copy completion; safe to call from any goroutine.
	ProcessCompleted()

	// Pending returns the number of readbacks still waiting for their copies.
	//
	// Returns:
	//   - int: the queue length
	Pending() int

	// Wait blocks until every scheduled conversion has finished.
	Wait()

	// Shutdown stops accepting readbacks, releases every queued readback so its requests fail,
	// waits for scheduled conversions to finish and stops the task runner's workers.
	Shutdown()
}

var _ Processor = &processor{}

// NewProcessor creates a Processor with the provided options. Construct one per process and
// inject it into every deformer scheduler.
//
// Parameters:
//   - options: a variadic list of options to configure the processor
//
// Returns:
//   - Processor: the new processor
func NewProcessor(options ...ProcessorBuilderOption) Processor {
	p := &processor{
		mu:          &sync.Mutex{},
		consumeMu:   &sync.Mutex{},
		conv:        converter{chunk: 1024},
		workers:     1,
		queueSize:   256,
		idleTimeout: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.runner == nil {
		p.runner = NewWorkerPoolRunner(p.workers, p.queueSize, p.idleTimeout)
	}
	if p.log == nil {
		p.log = logger.Named("readback")
	}
	return p
}

func (p *processor) Enqueue(rb *GeometryReadback) {
	if rb == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Debug("processor shut down, releasing readback", zap.Uint64("frame", rb.Frame()))
		rb.Release()
		return
	}
	rb.bind(p.ProcessCompleted)
	p.queue = append(p.queue, rb)
	p.mu.Unlock()

	profiler.Readbacks.WithLabelValues("enqueued").Inc()

	// Copies that completed before bind never notified us.
	if rb.Ready() {
		p.ProcessCompleted()
	}
}

func (p *processor) ProcessCompleted() {
	p.consumeMu.Lock()
	defer p.consumeMu.Unlock()

	for {
		p.mu.Lock()
		if len(p.queue) == 0 || !p.queue[0].Ready() {
			p.mu.Unlock()
			return
		}
		head := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.schedule(head)
	}
}

// schedule submits the conversion of rb behind the previously scheduled conversion.
// Caller holds consumeMu.
func (p *processor) schedule(rb *GeometryReadback) {
	prev := p.tail
	done := make(chan struct{})
	p.tail = done
	id := p.nextID
	p.nextID++

	p.inflight.Add(1)
	p.runner.Submit(Task{
		ID:    id,
		Frame: rb.Frame(),
		Do: func() {
			defer p.inflight.Done()
			defer close(done)
			if prev != nil {
				<-prev
			}
			p.deliver(rb)
		},
	})
}

// deliver converts rb and completes its requests, or abandons it.
func (p *processor) deliver(rb *GeometryReadback) {
	start := time.Now()
	desc, arrays, err := p.conv.convert(rb)
	profiler.ConversionSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		profiler.Readbacks.WithLabelValues("abandoned").Inc()
		p.log.Warn("abandoning geometry readback",
			zap.Uint64("frame", rb.Frame()),
			zap.Int("lod", rb.LOD()),
			zap.Error(err),
		)
		rb.Release()
		return
	}

	profiler.Readbacks.WithLabelValues("converted").Inc()
	requests := rb.Requests()
	for i, r := range requests {
		if r == nil || r.Handled() {
			continue
		}
		// The last live request may keep the original; earlier ones get their own copies.
		if i == len(requests)-1 {
			r.Complete(desc, arrays)
		} else {
			r.Complete(desc.Clone(), arrays.clone())
		}
	}
}

func (p *processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *processor) Wait() {
	p.inflight.Wait()
}

func (p *processor) Shutdown() {
	p.mu.Lock()
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, rb := range queued {
		rb.Release()
	}
	if len(queued) > 0 {
		p.log.Info("released queued readbacks on shutdown", zap.Int("count", len(queued)))
	}
	p.inflight.Wait()

	p.stopOnce.Do(func() {
		if s, ok := p.runner.(stopper); ok {
			s.Stop()
		}
	})
}
