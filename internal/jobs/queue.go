// Package jobs provides the in-process background job queue: named queues
// with registered handlers, a fixed worker pool, deduplication by job id,
// and bounded retry with exponential backoff. Delivery is at-least-once;
// every consumer must be idempotent.
package jobs

import (
	"context"
	"sync"
	"time"

	"auction-house/internal/metrics"
	"auction-house/utils"
)

// Queue names used by the auction house.
const (
	QueueSettlement = "auction-settlement"
	QueueReminder   = "auction-reminder"
	QueueOutbid     = "outbid-notification"
)

// SettlementPayload asks a worker to settle one ended auction.
type SettlementPayload struct {
	AuctionID string
}

// ReminderPayload announces that an auction is about to end. EndsAt is the
// deadline as seen when the job was scheduled; an anti-sniping extension may
// have moved it since.
type ReminderPayload struct {
	AuctionID string
	EndsAt    time.Time
}

// OutbidPayload notifies a displaced high bidder.
type OutbidPayload struct {
	AccountID string
	AuctionID string
	Title     string
	Amount    int64
}

// Handler processes one job payload. A nil return acknowledges the job; an
// error triggers a retry until the attempt budget runs out.
type Handler func(ctx context.Context, payload any) error

// Options control retry and scheduling for a single enqueue.
type Options struct {
	Attempts int           // total attempts; 0 means 1
	Backoff  time.Duration // base delay between attempts, doubled each retry
	Delay    time.Duration // delay before the first attempt
}

type job struct {
	queue    string
	id       string
	payload  any
	attempts int
	backoff  time.Duration
	attempt  int
}

// Queue is an in-process job queue with per-job-id deduplication: while a
// job with the same queue and id is pending or running, further enqueues
// are dropped. After the job finishes the id may be reused.
type Queue struct {
	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]struct{}
	buf      chan *job
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// NewQueue creates a queue buffering up to size jobs.
func NewQueue(size int) *Queue {
	return &Queue{
		handlers: make(map[string]Handler),
		pending:  make(map[string]struct{}),
		buf:      make(chan *job, size),
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a queue name. Call before Start.
func (q *Queue) Register(queue string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queue] = h
}

// Start launches n workers that run until Stop.
func (q *Queue) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.stopCh:
					return
				case j := <-q.buf:
					metrics.QueueDepth.Set(float64(len(q.buf)))
					q.run(ctx, j)
				}
			}
		}()
	}
}

// Stop shuts the workers down. In-flight jobs finish; buffered and delayed
// jobs are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue schedules a job. Returns false when a job with the same queue and
// id is already pending or running, or when the queue is stopped.
func (q *Queue) Enqueue(queue, id string, payload any, opts Options) bool {
	key := queue + "/" + id

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	if _, dup := q.pending[key]; dup {
		q.mu.Unlock()
		return false
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	j := &job{queue: queue, id: id, payload: payload, attempts: attempts, backoff: backoff}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() { q.submit(j) })
		return true
	}
	q.submit(j)
	return true
}

func (q *Queue) submit(j *job) {
	q.mu.Lock()
	if q.stopped {
		delete(q.pending, j.queue+"/"+j.id)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	select {
	case q.buf <- j:
		metrics.QueueDepth.Set(float64(len(q.buf)))
	default:
		q.clear(j)
		utils.Error("job queue full, dropping job", map[string]any{
			"queue": j.queue,
			"job":   j.id,
		})
	}
}

func (q *Queue) clear(j *job) {
	q.mu.Lock()
	delete(q.pending, j.queue+"/"+j.id)
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, j *job) {
	q.mu.Lock()
	h := q.handlers[j.queue]
	q.mu.Unlock()
	if h == nil {
		q.clear(j)
		utils.Error("no handler registered for queue", map[string]any{"queue": j.queue, "job": j.id})
		return
	}

	err := h(ctx, j.payload)
	j.attempt++
	if err == nil {
		q.clear(j)
		utils.Debug("job completed", map[string]any{"queue": j.queue, "job": j.id, "attempt": j.attempt})
		return
	}

	if j.attempt < j.attempts {
		delay := j.backoff << (j.attempt - 1)
		metrics.JobRetriesTotal.Inc()
		utils.Warn("job failed, scheduling retry", map[string]any{
			"queue":   j.queue,
			"job":     j.id,
			"attempt": j.attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		time.AfterFunc(delay, func() { q.submit(j) })
		return
	}

	// Exhausted jobs are reported, never silently dropped.
	metrics.JobFailuresTotal.Inc()
	q.clear(j)
	utils.Error("job failed after exhausting retries", map[string]any{
		"queue":    j.queue,
		"job":      j.id,
		"attempts": j.attempt,
		"error":    err.Error(),
	})
}
