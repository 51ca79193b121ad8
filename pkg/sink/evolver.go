package sink

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
)

// Evolver widens the live table to the stream's translated schema.
type Evolver struct {
	wh      warehouse.Warehouse
	desired bigquery.Schema
	policy  retry.Policy
	logger  *zap.Logger
}

// NewEvolver creates an evolver targeting desired
func NewEvolver(wh warehouse.Warehouse, desired bigquery.Schema, policy retry.Policy, logger *zap.Logger) *Evolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evolver{wh: wh, desired: desired, policy: policy, logger: logger}
}

// Apply reads the live schema and, if it differs, submits one schema update.
// Each attempt re-reads the live schema so a concurrent change is picked up.
// It returns the names of the changed columns.
func (e *Evolver) Apply(ctx context.Context) ([]string, error) {
	var changed []string

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		live, err := e.wh.TableSchema(ctx)
		if err != nil {
			return err
		}

		revised, diff := schema.Evolve(live, e.desired)
		changed = diff
		if len(diff) == 0 {
			return nil
		}
		return e.wh.UpdateTableSchema(ctx, revised)
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		e.logger.Info("table schema evolved", zap.Strings("columns", changed))
	}
	return changed, nil
}
