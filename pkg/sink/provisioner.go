package sink

import (
	"context"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
)

// Provisioner makes sure the dataset and table exist before the first
// upload. Existing objects are never altered. Once both exist, Ensure is free.
type Provisioner struct {
	wh     warehouse.Warehouse
	schema bigquery.Schema
	policy retry.Policy
	logger *zap.Logger

	mu           sync.Mutex
	datasetReady bool
	tableReady   bool
}

// NewProvisioner creates a provisioner for the table described by schema
func NewProvisioner(wh warehouse.Warehouse, schema bigquery.Schema, policy retry.Policy, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{wh: wh, schema: schema, policy: policy, logger: logger}
}

// Ensure creates whatever is still missing
func (p *Provisioner) Ensure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tableReady {
		return nil
	}

	err := p.policy.Do(ctx, func(ctx context.Context) error {
		if !p.datasetReady {
			if err := p.wh.CreateDatasetIfAbsent(ctx); err != nil {
				return err
			}
			p.datasetReady = true
		}
		if err := p.wh.CreateTableIfAbsent(ctx, p.schema); err != nil {
			return err
		}
		p.tableReady = true
		return nil
	})
	if err != nil {
		p.logger.Error("failed to provision target", zap.Error(err))
		return err
	}

	p.logger.Debug("target provisioned", zap.Int("columns", len(p.schema)))
	return nil
}

// Ready reports whether the table is known to exist
func (p *Provisioner) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableReady
}
