package sink

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
)

// Committer uploads a drained batch. Commit must call job.Done exactly once,
// either before returning (synchronous committers) or when a background
// upload finishes (asynchronous committers).
type Committer interface {
	Method() config.Method
	// Async reports whether Commit returns before the upload is confirmed.
	Async() bool
	NewBuffer() Buffer
	Commit(ctx context.Context, batch *Batch, job *Job) error
}

// loadRunner submits a load job and waits for it. Shared by the batch and
// staged committers.
type loadRunner struct {
	submitPolicy retry.Policy
	waitPolicy   retry.Policy
	timeout      time.Duration
	logger       *zap.Logger
}

func (r *loadRunner) run(ctx context.Context, job *Job, submit func(ctx context.Context) (warehouse.LoadJob, error)) error {
	var loadJob warehouse.LoadJob
	err := r.submitPolicy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var err error
		loadJob, err = submit(attemptCtx)
		return err
	})
	if err != nil {
		return err
	}

	job.Bind(loadJob.ID())
	r.logger.Debug("load job submitted",
		zap.String("batch_id", job.Token),
		zap.String("job_id", loadJob.ID()))

	if err := r.waitPolicy.Do(ctx, loadJob.Wait); err != nil {
		logJobError(r.logger, loadJob.ID(), err)
		return err
	}
	return nil
}

// logJobError logs the structured errors reported by a failed load job
func logJobError(logger *zap.Logger, jobID string, err error) {
	var jobErr *warehouse.JobError
	if !errors.As(err, &jobErr) {
		logger.Error("load job did not complete", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	logger.Error("load job failed",
		zap.String("job_id", jobErr.JobID),
		zap.Error(jobErr.Err))
	for i, detail := range jobErr.Details {
		logger.Error("load job error detail",
			zap.Int("error_index", i),
			zap.String("message", detail.Message),
			zap.String("reason", detail.Reason),
			zap.String("location", detail.Location))
	}
}

// loadOptions are the options every load job of a sink uses
func loadOptions(stream string, method config.Method, gzip bool) warehouse.LoadOptions {
	return warehouse.LoadOptions{
		AllowFieldAddition:  true,
		IgnoreUnknownValues: true,
		Gzip:                gzip,
		Labels: map[string]string{
			"bqtarget_method": string(method),
			"bqtarget_stream": labelValue(stream),
		},
	}
}
