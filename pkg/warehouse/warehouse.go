// Package warehouse defines the remote services a sink writes to and their
// BigQuery and Cloud Storage implementations.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// Warehouse is one destination table and its dataset.
type Warehouse interface {
	// CreateDatasetIfAbsent creates the dataset. An existing dataset is success.
	CreateDatasetIfAbsent(ctx context.Context) error
	// CreateTableIfAbsent creates the table with schema. An existing table is
	// success and is left unchanged.
	CreateTableIfAbsent(ctx context.Context, schema bigquery.Schema) error
	// TableSchema returns the live table schema.
	TableSchema(ctx context.Context) (bigquery.Schema, error)
	// UpdateTableSchema replaces the table schema, guarded by the metadata
	// version read in the same call.
	UpdateTableSchema(ctx context.Context, schema bigquery.Schema) error
	// InsertRows streams rows into the table. rowIDs is nil or parallel to
	// rows. Rows refused by the service are reported as RowErrors wrapped in
	// an ErrorTypeRowRejection error.
	InsertRows(ctx context.Context, rows []map[string]interface{}, rowIDs []string) error
	// LoadFromBytes submits a load job reading payload.
	LoadFromBytes(ctx context.Context, payload []byte, opts LoadOptions) (LoadJob, error)
	// LoadFromURI submits a load job reading a Cloud Storage object.
	LoadFromURI(ctx context.Context, uri string, opts LoadOptions) (LoadJob, error)
}

// Stager writes objects to Cloud Storage.
type Stager interface {
	WriteObject(ctx context.Context, uri string, payload []byte, attrs ObjectAttrs) error
}

// LoadJob is a submitted load job.
type LoadJob interface {
	ID() string
	// Wait blocks until the job finishes. A job that ran and failed returns an
	// ErrorTypeJob error wrapping a *JobError.
	Wait(ctx context.Context) error
}

// LoadOptions configures a newline-delimited JSON load job.
type LoadOptions struct {
	// AllowFieldAddition lets the job add columns present in the data.
	AllowFieldAddition bool
	// IgnoreUnknownValues drops values that match no column.
	IgnoreUnknownValues bool
	// Gzip marks a Cloud Storage source as gzip-compressed.
	Gzip bool
	// Labels are attached to the job.
	Labels map[string]string
}

// ObjectAttrs are the attributes of a staged object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// RowError is one row refused by a streaming insert.
type RowError struct {
	Index    int
	InsertID string
	Messages []string
}

// RowErrors is the per-row result of a partially failed streaming insert.
type RowErrors []RowError

func (e RowErrors) Error() string {
	if len(e) == 0 {
		return "no rows rejected"
	}
	first := e[0]
	return fmt.Sprintf("%d rows rejected; first at index %d: %s",
		len(e), first.Index, strings.Join(first.Messages, "; "))
}

// JobErrorDetail is one structured error reported by a load job.
type JobErrorDetail struct {
	Reason   string
	Location string
	Message  string
}

// JobError is a load job that was admitted and then failed.
type JobError struct {
	JobID   string
	Err     error
	Details []JobErrorDetail
}

func (e *JobError) Error() string {
	return fmt.Sprintf("load job %s failed: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
