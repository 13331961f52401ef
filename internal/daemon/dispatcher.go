package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/metrics"
	"github.com/petscheit/bankai-sub001/internal/pipeline"
)

const (
	// queueCapacity bounds the dispatch queue; producers block when the
	// pipeline falls behind, which is the intended back-pressure.
	queueCapacity = 32

	defaultWorkerCount = 4
)

// Dispatcher fans job signals out to a fixed worker pool while
// guaranteeing at most one worker holds a given job at a time.
// Duplicate signals for an in-flight job are collapsed, not queued.
type Dispatcher struct {
	exec    *pipeline.Executor
	workers int
	queue   chan *domain.Job
	log     *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(exec *pipeline.Executor, workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	return &Dispatcher{
		exec:     exec,
		workers:  workers,
		queue:    make(chan *domain.Job, queueCapacity),
		log:      slog.Default(),
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; Wait blocks until they finish their current job.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.log.Info("Dispatcher started", "workers", d.workers)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue submits a job signal, blocking when the queue is full. Used
// by producers (scheduler, resume, requeue); back-pressure here slows
// job creation rather than dropping work.
func (d *Dispatcher) Enqueue(ctx context.Context, job *domain.Job) error {
	select {
	case d.queue <- job:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryEnqueue submits without blocking. Workers use it to chain stages;
// a dropped signal is recovered by the periodic requeue sweep, whereas
// a blocking send from a worker could deadlock the pool against a full
// queue.
func (d *Dispatcher) tryEnqueue(job *domain.Job) bool {
	select {
	case d.queue <- job:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		d.log.Debug("Queue full, deferring job to requeue sweep", "job_id", job.ID)
		return false
	}
}

// acquire marks a job in flight. Returns false when another worker
// already holds it.
func (d *Dispatcher) acquire(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.inFlight[id]; held {
		return false
	}
	d.inFlight[id] = struct{}{}
	metrics.JobsInFlight.Set(float64(len(d.inFlight)))
	return true
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
	metrics.JobsInFlight.Set(float64(len(d.inFlight)))
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	log := d.log.With("worker", n)

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			if !d.acquire(job.ID) {
				// Another worker holds this job; its signal is stale.
				log.Debug("Job already in flight, dropping signal", "job_id", job.ID)
				continue
			}

			runnable, err := d.exec.Process(ctx, job)
			d.release(job.ID)
			if err != nil {
				log.Error("Job processing failed", "job_id", job.ID, "error", err)
				continue
			}
			if runnable {
				d.tryEnqueue(job)
			}
		}
	}
}
