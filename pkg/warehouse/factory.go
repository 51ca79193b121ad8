package warehouse

import (
	"context"
)

// Destination identifies where a target writes
type Destination struct {
	Project         string
	Dataset         string
	Location        string
	CredentialsPath string
}

// Factory builds the per-stream remote services
type Factory interface {
	Warehouse(ctx context.Context, table string) (Warehouse, error)
	Stager(ctx context.Context) (Stager, error)
}

// GoogleFactory builds BigQuery warehouses and Cloud Storage stagers from
// shared, cached clients.
type GoogleFactory struct {
	dest    Destination
	clients *ClientCache
}

// NewGoogleFactory returns a Factory for dest. A nil clients uses DefaultClients.
func NewGoogleFactory(dest Destination, clients *ClientCache) *GoogleFactory {
	if clients == nil {
		clients = DefaultClients
	}
	return &GoogleFactory{dest: dest, clients: clients}
}

func (f *GoogleFactory) Warehouse(ctx context.Context, table string) (Warehouse, error) {
	client, err := f.clients.BigQuery(ctx, f.dest.Project, f.dest.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return NewBigQuery(client, f.dest.Dataset, table, f.dest.Location), nil
}

func (f *GoogleFactory) Stager(ctx context.Context) (Stager, error) {
	client, err := f.clients.Storage(ctx, f.dest.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return NewGCSStager(client), nil
}
