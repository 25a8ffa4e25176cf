package readback

import (
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// Task is one unit of background conversion work.
type Task struct {
	// ID is the submission sequence number, increasing in FIFO order.
	ID int
	// Frame is the frame of the readback being converted.
	Frame uint64
	// Do performs the conversion.
	Do func()
}

// TaskRunner runs conversion tasks off the calling goroutine.
// Implementations must start tasks in submission order; completion order is enforced by the
// processor, which chains every task behind its predecessor.
type TaskRunner interface {
	// Submit queues a task. It must not run the task inline on the caller's goroutine unless
	// the caller is prepared to block for the conversion.
	//
	// Parameters:
	//   - task: the task to run
	Submit(task Task)
}

// stopper is implemented by runners that own goroutines which must be stopped on shutdown.
type stopper interface {
	Stop()
}

// workerPoolRunner adapts a worker.DynamicWorkerPool to TaskRunner.
type workerPoolRunner struct {
	pool worker.DynamicWorkerPool
}

// NewWorkerPoolRunner creates a TaskRunner backed by a bounded set of reusable goroutines.
// Workers persist while there is work and exit after idleTimeout without tasks.
//
// Parameters:
//   - workers: the maximum number of workers
//   - queueSize: the task queue capacity
//   - idleTimeout: how long an idle worker lives
//
// Returns:
//   - TaskRunner: the runner
func NewWorkerPoolRunner(workers, queueSize int, idleTimeout time.Duration) TaskRunner {
	return &workerPoolRunner{
		pool: worker.NewDynamicWorkerPool(max(workers, 1), max(queueSize, 1), idleTimeout),
	}
}

func (r *workerPoolRunner) Submit(task Task) {
	r.pool.SubmitTask(worker.Task{
		ID: task.ID,
		Do: func() (any, error) {
			task.Do()
			return task.Frame, nil
		},
	})
}

// Stop stops the pool's workers. Tasks still queued are not run.
func (r *workerPoolRunner) Stop() {
	r.pool.Stop()
}
