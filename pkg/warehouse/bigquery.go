package warehouse

import (
	"bytes"
	"context"
	"errors"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
)

// BigQuery is a Warehouse backed by one BigQuery table.
type BigQuery struct {
	client   *bigquery.Client
	dataset  *bigquery.Dataset
	table    *bigquery.Table
	location string
}

// NewBigQuery returns a Warehouse for project.dataset.table reachable through client.
func NewBigQuery(client *bigquery.Client, datasetID, tableID, location string) *BigQuery {
	dataset := client.Dataset(datasetID)
	return &BigQuery{
		client:   client,
		dataset:  dataset,
		table:    dataset.Table(tableID),
		location: location,
	}
}

// TableID returns the fully qualified table name
func (b *BigQuery) TableID() string {
	return b.table.ProjectID + "." + b.table.DatasetID + "." + b.table.TableID
}

func (b *BigQuery) CreateDatasetIfAbsent(ctx context.Context) error {
	err := b.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: b.location})
	if err == nil || isAlreadyExists(err) {
		return nil
	}
	return classify(err, "failed to create dataset").
		WithDetail("dataset", b.dataset.DatasetID)
}

func (b *BigQuery) CreateTableIfAbsent(ctx context.Context, schema bigquery.Schema) error {
	err := b.table.Create(ctx, &bigquery.TableMetadata{Schema: schema})
	if err == nil || isAlreadyExists(err) {
		return nil
	}
	return classify(err, "failed to create table").
		WithDetail("table", b.TableID())
}

func (b *BigQuery) TableSchema(ctx context.Context) (bigquery.Schema, error) {
	md, err := b.table.Metadata(ctx)
	if err != nil {
		return nil, classify(err, "failed to read table metadata").
			WithDetail("table", b.TableID())
	}
	return md.Schema, nil
}

func (b *BigQuery) UpdateTableSchema(ctx context.Context, schema bigquery.Schema) error {
	md, err := b.table.Metadata(ctx)
	if err != nil {
		return classify(err, "failed to read table metadata").
			WithDetail("table", b.TableID())
	}

	update := bigquery.TableMetadataToUpdate{Schema: schema}
	if _, err := b.table.Update(ctx, update, md.ETag); err != nil {
		return classify(err, "failed to update table schema").
			WithDetail("table", b.TableID())
	}
	return nil
}

func (b *BigQuery) InsertRows(ctx context.Context, rows []map[string]interface{}, rowIDs []string) error {
	savers := make([]*rowSaver, len(rows))
	for i, row := range rows {
		saver := &rowSaver{row: row}
		if rowIDs != nil {
			saver.insertID = rowIDs[i]
		}
		savers[i] = saver
	}

	err := b.table.Inserter().Put(ctx, savers)
	if err == nil {
		return nil
	}

	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		rowErrs := make(RowErrors, 0, len(multi))
		for _, rie := range multi {
			messages := make([]string, 0, len(rie.Errors))
			for _, e := range rie.Errors {
				messages = append(messages, e.Error())
			}
			rowErrs = append(rowErrs, RowError{Index: rie.RowIndex, InsertID: rie.InsertID, Messages: messages})
		}
		return nebulaerrors.Wrap(rowErrs, nebulaerrors.ErrorTypeRowRejection, "streaming insert rejected rows").
			WithDetail("table", b.TableID()).
			WithDetail("rejected", len(rowErrs))
	}

	return classify(err, "streaming insert failed").
		WithDetail("table", b.TableID()).
		WithDetail("rows", len(rows))
}

func (b *BigQuery) LoadFromBytes(ctx context.Context, payload []byte, opts LoadOptions) (LoadJob, error) {
	source := bigquery.NewReaderSource(bytes.NewReader(payload))
	source.SourceFormat = bigquery.JSON
	source.IgnoreUnknownValues = opts.IgnoreUnknownValues
	return b.runLoad(ctx, b.table.LoaderFrom(source), opts)
}

func (b *BigQuery) LoadFromURI(ctx context.Context, uri string, opts LoadOptions) (LoadJob, error) {
	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = bigquery.JSON
	ref.IgnoreUnknownValues = opts.IgnoreUnknownValues
	if opts.Gzip {
		ref.Compression = bigquery.Gzip
	}
	return b.runLoad(ctx, b.table.LoaderFrom(ref), opts)
}

func (b *BigQuery) runLoad(ctx context.Context, loader *bigquery.Loader, opts LoadOptions) (LoadJob, error) {
	loader.WriteDisposition = bigquery.WriteAppend
	loader.Location = b.location
	loader.Labels = opts.Labels
	if opts.AllowFieldAddition {
		loader.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, classify(err, "failed to submit load job").
			WithDetail("table", b.TableID())
	}
	return &bigQueryJob{job: job}, nil
}

type bigQueryJob struct {
	job *bigquery.Job
}

func (j *bigQueryJob) ID() string {
	return j.job.ID()
}

func (j *bigQueryJob) Wait(ctx context.Context) error {
	status, err := j.job.Wait(ctx)
	if err != nil {
		return classify(err, "failed waiting for load job").
			WithDetail("job_id", j.job.ID())
	}
	if status.Err() == nil {
		return nil
	}

	jobErr := &JobError{JobID: j.job.ID(), Err: status.Err()}
	for _, e := range status.Errors {
		if e == nil {
			continue
		}
		jobErr.Details = append(jobErr.Details, JobErrorDetail{
			Reason:   e.Reason,
			Location: e.Location,
			Message:  e.Message,
		})
	}
	return nebulaerrors.Wrap(jobErr, nebulaerrors.ErrorTypeJob, "load job failed").
		WithDetail("job_id", j.job.ID())
}

// rowSaver adapts a record to bigquery.ValueSaver with an optional insert ID.
type rowSaver struct {
	row      map[string]interface{}
	insertID string
}

func (r *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(r.row))
	for k, v := range r.row {
		out[k] = v
	}
	return out, r.insertID, nil
}
