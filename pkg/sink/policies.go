package sink

import (
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
)

// policies are the retry policies of one sink
type policies struct {
	provision    retry.Policy
	insert       retry.Policy
	stage        retry.Policy
	submit       retry.Policy
	wait         retry.Policy
	schemaUpdate retry.Policy
}

func newPolicies(timeout, backoff time.Duration, onRetry func(op string) func(int, error)) policies {
	scale := func(p retry.Policy) retry.Policy {
		if backoff > 0 {
			p = p.WithDelay(backoff, 10*backoff)
		}
		return p
	}

	return policies{
		provision: scale(retry.Provision()).WithOnRetry(onRetry("provision")),
		insert: scale(retry.Upload()).
			WithRetryable(retry.IsConnectionOrRejection).
			WithOnRetry(onRetry("insert")),
		stage:  scale(retry.Upload()).WithOnRetry(onRetry("stage")),
		submit: scale(retry.Upload()).WithOnRetry(onRetry("submit")),
		wait: scale(retry.Upload()).
			WithMaxAttempts(0).
			WithDeadline(timeout).
			WithRetryable(isWaitRetryable).
			WithOnRetry(onRetry("wait")),
		schemaUpdate: scale(retry.SchemaUpdate(timeout)).
			WithRetryable(isSchemaUpdateRetryable).
			WithOnRetry(onRetry("schema_update")),
	}
}

// A job that ran and failed is final; only losing track of it is retried.
func isWaitRetryable(err error) bool {
	return !nebulaerrors.IsType(err, nebulaerrors.ErrorTypeJob) && retry.IsConnectionError(err)
}

// A stale metadata version is retried with a fresh read.
func isSchemaUpdateRetryable(err error) bool {
	return nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConflict) || retry.IsConnectionError(err)
}
