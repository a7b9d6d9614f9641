// Package jobs runs fulfillment jobs from a FIFO queue on a fixed pool of
// workers. Each worker runs one job to completion before taking the next.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"github.com/Lllllllleong/labelflow/internal/models"
)

// DefaultKeepFinished is how many finished jobs stay queryable by default. Older
// ones are forgotten, least recently read first.
const DefaultKeepFinished = 1000

var (
	ErrStopped  = errors.New("jobs: queue stopped")
	ErrNotFound = errors.New("jobs: job not found")
)

// Handler runs one job.
type Handler func(ctx context.Context, id string, req models.OrderRequest) (*models.FulfillmentResult, error)

// Observer is told about every status change of a job. It runs on the
// worker's goroutine, outside the queue lock.
type Observer func(ctx context.Context, rec models.JobRecord)

type job struct {
	rec models.JobRecord
	req models.OrderRequest
}

type Queue struct {
	handler   Handler
	workers   int
	observers []Observer

	mu       sync.Mutex
	jobs     map[string]*job
	finished *lru.Cache[string, *job]
	pending  []string
	stopped bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue with the given number of workers. Call Start to run it.
func New(handler Handler, workers int) *Queue {
	finished, _ := lru.New[string, *job](DefaultKeepFinished)
	return &Queue{
		handler:  handler,
		workers:  max(workers, 1),
		jobs:     make(map[string]*job),
		finished: finished,
		wake:     make(chan struct{}, 1),
	}
}

// KeepFinished changes how many finished jobs stay queryable.
func (q *Queue) KeepFinished(n int) {
	q.finished.Resize(max(n, 1))
}

// OnChange registers an observer. Observers run in registration order and
// must be registered before Start.
func (q *Queue) OnChange(o Observer) {
	q.observers = append(q.observers, o)
}

// Start launches the workers. Jobs run under a context derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
	slog.Info("Job queue started.", "workers", q.workers)
}

// Submit enqueues an order and returns its queued record.
func (q *Queue) Submit(req models.OrderRequest) (models.JobRecord, error) {
	rec := models.JobRecord{
		ID:              strings.ToLower(ulid.Make().String()),
		Status:          models.StatusQueued,
		LineCount:       len(req.OrderLines),
		CallbackContext: req.CallbackContext,
		CreatedAt:       time.Now().UTC(),
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return models.JobRecord{}, ErrStopped
	}
	j := &job{rec: rec, req: req}
	q.jobs[rec.ID] = j
	q.mu.Unlock()

	// Observers see QUEUED before any worker can pick the job up.
	q.notify(context.Background(), rec)

	q.mu.Lock()
	if q.stopped {
		j.rec.Status = models.StatusCancelled
		j.rec.FinishedAt = time.Now().UTC()
		cancelled := j.rec
		q.retire(j)
		q.mu.Unlock()
		q.notify(context.Background(), cancelled)
		return models.JobRecord{}, ErrStopped
	}
	q.pending = append(q.pending, rec.ID)
	q.signal()
	q.mu.Unlock()

	slog.Info("Job queued.", "jobId", rec.ID, "lines", rec.LineCount)
	return rec, nil
}

// Get returns a copy of a job's record.
func (q *Queue) Get(id string) (models.JobRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.lookup(id)
	if !ok {
		return models.JobRecord{}, ErrNotFound
	}
	return j.rec, nil
}

// Update applies fn to a job's record, for annotations made after a job
// finished such as the delivery execution ID.
func (q *Queue) Update(id string, fn func(*models.JobRecord)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.lookup(id)
	if !ok {
		return ErrNotFound
	}
	fn(&j.rec)
	return nil
}

// Stop refuses new jobs, cancels the queued ones and waits for running jobs.
// When ctx ends first, running jobs are cancelled and Stop returns ctx's
// error once they have returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	var cancelled []models.JobRecord
	now := time.Now().UTC()
	for _, id := range q.pending {
		j := q.jobs[id]
		j.rec.Status = models.StatusCancelled
		j.rec.FinishedAt = now
		cancelled = append(cancelled, j.rec)
		q.retire(j)
	}
	q.pending = nil
	close(q.wake)
	q.mu.Unlock()

	for _, rec := range cancelled {
		q.notify(ctx, rec)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	cancel := q.cancel
	if cancel == nil {
		cancel = func() {}
	}
	select {
	case <-done:
		cancel()
		slog.Info("Job queue stopped.", "cancelledJobs", len(cancelled))
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		slog.Warn("Job queue stopped before running jobs finished.", "error", ctx.Err())
		return ctx.Err()
	}
}

// lookup finds a live or finished job. The caller holds q.mu.
func (q *Queue) lookup(id string) (*job, bool) {
	if j, ok := q.jobs[id]; ok {
		return j, true
	}
	return q.finished.Get(id)
}

// retire moves a job that reached a terminal status out of the live set.
// The caller holds q.mu.
func (q *Queue) retire(j *job) {
	delete(q.jobs, j.rec.ID)
	q.finished.Add(j.rec.ID, j)
}

// signal wakes one idle worker. The caller holds q.mu.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			j := q.jobs[id]
			j.rec.Status = models.StatusRunning
			j.rec.StartedAt = time.Now().UTC()
			if len(q.pending) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return j, true
		}
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return nil, false
		}
		if _, ok := <-q.wake; !ok {
			return nil, false
		}
	}
}

func (q *Queue) work(n int) {
	defer q.wg.Done()
	for {
		j, ok := q.next()
		if !ok {
			return
		}
		q.mu.Lock()
		running, req := j.rec, j.req
		q.mu.Unlock()
		q.notify(q.ctx, running)

		res, err := q.run(running.ID, req)

		q.mu.Lock()
		j.rec.FinishedAt = time.Now().UTC()
		if err != nil {
			j.rec.Status = models.StatusFailed
			j.rec.ErrorDetails = err.Error()
		} else {
			j.rec.Status = models.StatusDone
			j.rec.Result = res
			j.rec.ArtifactPath = res.ArtifactPath
			j.rec.ShortageText = res.ShortageText
		}
		finished := j.rec
		q.retire(j)
		q.mu.Unlock()

		slog.Info("Job finished.", "jobId", finished.ID, "worker", n, "status", finished.Status,
			"duration", finished.FinishedAt.Sub(finished.StartedAt).String())
		q.notify(q.ctx, finished)
	}
}

func (q *Queue) run(id string, req models.OrderRequest) (res *models.FulfillmentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "jobId", id, "panic", r)
			res, err = nil, fmt.Errorf("job panicked: %v", r)
		}
	}()
	res, err = q.handler(q.ctx, id, req)
	if err == nil && res == nil {
		err = errors.New("handler returned no result")
	}
	return res, err
}

func (q *Queue) notify(ctx context.Context, rec models.JobRecord) {
	for _, o := range q.observers {
		o(context.WithoutCancel(ctx), rec)
	}
}
