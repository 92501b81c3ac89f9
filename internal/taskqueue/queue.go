// Package taskqueue runs fire-and-forget work on a fixed set of goroutines
// behind a bounded queue. Submissions never block; a full queue is reported
// to the caller so it can run the work inline instead.
package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/metrics"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrNotStarted  = errors.New("task queue is not started")
	ErrStopped     = errors.New("task queue is stopped")
	ErrStopTimeout = errors.New("task queue did not drain in time")
)

// Task is a unit of background work. Run receives a context bounded by the
// queue's task timeout, detached from the request that submitted it.
type Task struct {
	Name    string
	ImageID string
	Run     func(ctx context.Context) error
}

// Queue is a bounded background task queue.
type Queue struct {
	workers int
	timeout time.Duration
	tasks   chan Task
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a queue; it accepts tasks only after Start.
func New(cfg config.Background, m *metrics.Metrics) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}

	return &Queue{
		workers: workers,
		timeout: cfg.TaskTimeout,
		tasks:   make(chan Task, size),
		metrics: m,
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}

	q.started = true
}

// Submit enqueues t without blocking.
func (q *Queue) Submit(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return ErrNotStarted
	}
	if q.stopped {
		return ErrStopped
	}

	select {
	case q.tasks <- t:
		q.metrics.TaskSubmitted(len(q.tasks))
		return nil
	default:
		q.metrics.TaskDropped()
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits up to timeout for queued ones to finish.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (q *Queue) work() {
	defer q.wg.Done()

	for t := range q.tasks {
		q.metrics.QueueDepth(len(q.tasks))
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.metrics.TaskFailed()
			zlog.Logger.Error().
				Str("task", t.Name).
				Str("image_id", t.ImageID).
				Interface("panic", r).
				Msg("background task panicked")
		}
	}()

	if err := t.Run(ctx); err != nil {
		q.metrics.TaskFailed()
		zlog.Logger.Error().
			Err(err).
			Str("task", t.Name).
			Str("image_id", t.ImageID).
			Msg("background task failed")
	}
}
