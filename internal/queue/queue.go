package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/imyashkale/spun/internal/logger"
)

// BuildJob is one unit of work admitted to the queue
type BuildJob struct {
	DeploymentID string
	AppName      string
	Run          func(ctx context.Context) error
}

// Result is delivered exactly once per admitted job
type Result struct {
	DeploymentID string
	Err          error
}

type admittedJob struct {
	job    *BuildJob
	result chan Result
}

// BuildQueue runs at most concurrency jobs at once and holds at most backlog
// jobs waiting. Anything beyond that is rejected with ErrQueueFull rather
// than buffered. Waiting jobs start in arrival order; running jobs are never
// preempted.
type BuildQueue struct {
	concurrency int
	backlog     int

	mu      sync.Mutex
	running int
	pending []*admittedJob
	closed  bool
	wg      sync.WaitGroup

	observer func(running, pending int)
}

// NewBuildQueue creates a queue with the given limits
func NewBuildQueue(concurrency, backlog int) *BuildQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	return &BuildQueue{
		concurrency: concurrency,
		backlog:     backlog,
	}
}

// SetObserver registers a callback invoked with the queue occupancy after
// every change. It is called with the queue lock held and must not block.
func (q *BuildQueue) SetObserver(fn func(running, pending int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = fn
}

// Submit admits a job or rejects it immediately. The returned channel
// receives the job's result once it finished.
func (q *BuildQueue) Submit(job *BuildJob) (<-chan Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fields := map[string]interface{}{
		"deployment_id": job.DeploymentID,
		"app":           job.AppName,
	}

	if q.closed {
		logger.WithFields(fields).Warn("Failed to submit job: queue is closed")
		return nil, ErrQueueClosed
	}

	admitted := &admittedJob{job: job, result: make(chan Result, 1)}

	switch {
	case q.running < q.concurrency:
		q.start(admitted)
		logger.WithFields(fields).Info("Build job started immediately")
	case len(q.pending) < q.backlog:
		q.pending = append(q.pending, admitted)
		fields["position"] = len(q.pending)
		logger.WithFields(fields).Info("Build job queued")
	default:
		fields["running"] = q.running
		fields["pending"] = len(q.pending)
		logger.WithFields(fields).Warn("Build job rejected: queue is full")
		return nil, ErrQueueFull
	}

	q.notify()
	return admitted.result, nil
}

// start launches a job; caller holds q.mu
func (q *BuildQueue) start(admitted *admittedJob) {
	q.running++
	q.wg.Add(1)
	go q.run(admitted)
}

func (q *BuildQueue) run(admitted *admittedJob) {
	defer q.wg.Done()

	err := q.execute(admitted.job)
	admitted.result <- Result{DeploymentID: admitted.job.DeploymentID, Err: err}
	close(admitted.result)

	fields := map[string]interface{}{
		"deployment_id": admitted.job.DeploymentID,
		"app":           admitted.job.AppName,
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("Build job failed")
	} else {
		logger.WithFields(fields).Info("Build job completed successfully")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if len(q.pending) > 0 {
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.start(next)
	}
	q.notify()
}

// execute runs the job, turning a panic into an error so the slot is
// always released
func (q *BuildQueue) execute(job *BuildJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build job panicked: %v", r)
		}
	}()
	return job.Run(context.Background())
}

func (q *BuildQueue) notify() {
	if q.observer != nil {
		q.observer(q.running, len(q.pending))
	}
}

// Running returns the number of jobs currently executing
func (q *BuildQueue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of admitted jobs waiting for a slot
func (q *BuildQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops admitting new jobs. Admitted jobs still run to completion.
func (q *BuildQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Wait blocks until every admitted job has finished
func (q *BuildQueue) Wait() {
	q.wg.Wait()
}
