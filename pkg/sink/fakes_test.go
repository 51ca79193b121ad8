package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/metrics"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWarehouse records every call. Hooks left nil succeed.
type fakeWarehouse struct {
	mu    sync.Mutex
	calls map[string]int

	createDataset func() error
	createTable   func(bigquery.Schema) error
	tableSchema   func() (bigquery.Schema, error)
	updateSchema  func(bigquery.Schema) error
	insertRows    func(rows []map[string]interface{}, ids []string) error
	submit        func() (warehouse.LoadJob, error)

	created  bigquery.Schema
	updated  []bigquery.Schema
	inserted [][]map[string]interface{}
	rowIDs   [][]string
	payloads [][]byte
	uris     []string
	options  []warehouse.LoadOptions
}

func (f *fakeWarehouse) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeWarehouse) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeWarehouse) CreateDatasetIfAbsent(ctx context.Context) error {
	f.record("create_dataset")
	if f.createDataset != nil {
		return f.createDataset()
	}
	return nil
}

func (f *fakeWarehouse) CreateTableIfAbsent(ctx context.Context, s bigquery.Schema) error {
	f.record("create_table")
	if f.createTable != nil {
		if err := f.createTable(s); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.created = s
	f.mu.Unlock()
	return nil
}

func (f *fakeWarehouse) TableSchema(ctx context.Context) (bigquery.Schema, error) {
	f.record("table_schema")
	if f.tableSchema != nil {
		return f.tableSchema()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, nil
}

func (f *fakeWarehouse) UpdateTableSchema(ctx context.Context, s bigquery.Schema) error {
	f.record("update_schema")
	if f.updateSchema != nil {
		if err := f.updateSchema(s); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.updated = append(f.updated, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeWarehouse) InsertRows(ctx context.Context, rows []map[string]interface{}, ids []string) error {
	f.record("insert")
	if f.insertRows != nil {
		if err := f.insertRows(rows, ids); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.inserted = append(f.inserted, rows)
	f.rowIDs = append(f.rowIDs, ids)
	f.mu.Unlock()
	return nil
}

func (f *fakeWarehouse) LoadFromBytes(ctx context.Context, payload []byte, opts warehouse.LoadOptions) (warehouse.LoadJob, error) {
	f.record("load_bytes")
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.options = append(f.options, opts)
	f.mu.Unlock()
	return f.newJob()
}

func (f *fakeWarehouse) LoadFromURI(ctx context.Context, uri string, opts warehouse.LoadOptions) (warehouse.LoadJob, error) {
	f.record("load_uri")
	f.mu.Lock()
	f.uris = append(f.uris, uri)
	f.options = append(f.options, opts)
	f.mu.Unlock()
	return f.newJob()
}

func (f *fakeWarehouse) newJob() (warehouse.LoadJob, error) {
	if f.submit != nil {
		return f.submit()
	}
	return &fakeLoadJob{id: "job-1"}, nil
}

// fakeLoadJob finishes with err, after release is closed when it is set
type fakeLoadJob struct {
	id      string
	err     error
	release chan struct{}
	waits   atomic.Int32
}

func (j *fakeLoadJob) ID() string { return j.id }

func (j *fakeLoadJob) Wait(ctx context.Context) error {
	j.waits.Add(1)
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type stagedObject struct {
	payload []byte
	attrs   warehouse.ObjectAttrs
}

type fakeStager struct {
	mu      sync.Mutex
	objects map[string]stagedObject
	writes  int
	write   func() error
}

func (s *fakeStager) WriteObject(ctx context.Context, uri string, payload []byte, attrs warehouse.ObjectAttrs) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	if s.write != nil {
		if err := s.write(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string]stagedObject)
	}
	s.objects[uri] = stagedObject{payload: append([]byte(nil), payload...), attrs: attrs}
	return nil
}

func (s *fakeStager) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

const usersSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "integer"},
		"Full Name": {"type": ["null", "string"]},
		"tags": {"type": "object", "properties": {}}
	}
}`

func testConfig(method config.Method) *config.TargetConfig {
	cfg := config.Default()
	cfg.Project = "proj"
	cfg.Dataset = "analytics"
	cfg.Method = method
	cfg.Bucket = "staging-bucket"
	cfg.Timeout = config.Duration(5 * time.Second)
	return cfg
}

func newTestSink(t *testing.T, cfg *config.TargetConfig, wh warehouse.Warehouse, stager warehouse.Stager) *Sink {
	t.Helper()
	return newSinkWith(t, Options{
		Config:        cfg,
		KeyProperties: []string{"id"},
		Warehouse:     wh,
		Stager:        stager,
	}, usersSchema)
}

// newSinkWith fills in the stream, schema and test defaults left empty in opts
func newSinkWith(t *testing.T, opts Options, schemaJSON string) *Sink {
	t.Helper()
	props, err := schema.ParseSchema([]byte(schemaJSON))
	require.NoError(t, err)

	opts.Schema = props
	if opts.Stream == "" {
		opts.Stream = "users"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	opts.BackoffBase = time.Millisecond

	s, err := New(opts)
	require.NoError(t, err)
	return s
}
