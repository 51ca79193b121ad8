package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// JobStatus is the outcome of an upload job
type JobStatus int32

const (
	JobPending JobStatus = iota
	JobSucceeded
	JobFailedRetriable
	JobFailedFatal
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobSucceeded:
		return "succeeded"
	case JobFailedRetriable:
		return "failed_retriable"
	case JobFailedFatal:
		return "failed_fatal"
	default:
		return "unknown"
	}
}

// Job is an admitted upload. It holds one queue slot until Done.
type Job struct {
	Token     string
	StartedAt time.Time

	mu         sync.Mutex
	providerID string
	status     atomic.Int32
	once       sync.Once
	finish     func(error)
}

// Bind records the provider's identifier for the job, e.g. a load job ID
func (j *Job) Bind(providerID string) {
	j.mu.Lock()
	j.providerID = providerID
	j.mu.Unlock()
}

// ProviderID returns the identifier passed to Bind
func (j *Job) ProviderID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.providerID
}

// Status returns the job outcome, JobPending until Done
func (j *Job) Status() JobStatus {
	return JobStatus(j.status.Load())
}

// Done completes the job and releases its slot. Only the first call counts.
// Retries are exhausted by the time a job is done, so a failure is fatal to
// the batch unless the upload was cut short by cancellation.
func (j *Job) Done(err error) {
	j.once.Do(func() {
		switch {
		case err == nil:
			j.status.Store(int32(JobSucceeded))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			j.status.Store(int32(JobFailedRetriable))
		default:
			j.status.Store(int32(JobFailedFatal))
		}
		if j.finish != nil {
			j.finish(err)
		}
	})
}

// JobQueue bounds the number of upload jobs in flight for one sink.
type JobQueue struct {
	sem   *semaphore.Weighted
	limit int64

	mu   sync.Mutex
	jobs map[*Job]struct{}
	wg   sync.WaitGroup

	logger *zap.Logger
	gauge  prometheus.Gauge
}

// NewJobQueue creates a queue admitting at most limit concurrent jobs.
// gauge may be nil.
func NewJobQueue(limit int, logger *zap.Logger, gauge prometheus.Gauge) *JobQueue {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobQueue{
		sem:    semaphore.NewWeighted(int64(limit)),
		limit:  int64(limit),
		jobs:   make(map[*Job]struct{}),
		logger: logger,
		gauge:  gauge,
	}
}

// Acquire blocks until a slot is free, then registers a job for token.
// onDone, if not nil, runs when the job completes and before its slot is
// released.
func (q *JobQueue) Acquire(ctx context.Context, token string, onDone func(*Job, error)) (*Job, error) {
	if !q.sem.TryAcquire(1) {
		q.logger.Info("throttling: waiting for in-flight upload jobs",
			zap.Int("in_flight", q.InFlight()),
			zap.Int64("limit", q.limit))
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeTimeout, "cancelled while waiting for job admission").
				WithDetail("token", token)
		}
	}

	job := &Job{Token: token, StartedAt: time.Now()}
	job.finish = func(err error) {
		if onDone != nil {
			onDone(job, err)
		}
		q.mu.Lock()
		delete(q.jobs, job)
		q.mu.Unlock()
		if q.gauge != nil {
			q.gauge.Dec()
		}
		q.sem.Release(1)
		q.wg.Done()
	}

	q.mu.Lock()
	q.jobs[job] = struct{}{}
	q.mu.Unlock()
	q.wg.Add(1)
	if q.gauge != nil {
		q.gauge.Inc()
	}
	return job, nil
}

// InFlight returns the number of admitted, unfinished jobs
func (q *JobQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Tokens returns the tokens of the jobs in flight
func (q *JobQueue) Tokens() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	tokens := make([]string, 0, len(q.jobs))
	for job := range q.jobs {
		tokens = append(tokens, job.Token)
	}
	return tokens
}

// Wait blocks until every admitted job is done or ctx ends
func (q *JobQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return nebulaerrors.Wrap(ctx.Err(), nebulaerrors.ErrorTypeTimeout, "timed out waiting for in-flight jobs").
			WithDetail("in_flight", q.InFlight())
	}
}
