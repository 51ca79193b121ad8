// Package testutil provides in-memory warehouse doubles and test helpers.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
)

// TestLogger creates a logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext returns a context with a 30-second timeout that is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CompletedJob is a load job that has already succeeded
type CompletedJob string

func (j CompletedJob) ID() string                   { return string(j) }
func (CompletedJob) Wait(ctx context.Context) error { return nil }

// MemoryWarehouse is a table kept in memory. Loads and inserts succeed
// unless Fail is set.
type MemoryWarehouse struct {
	Table string
	// Fail is returned by every load and insert
	Fail error

	mu       sync.Mutex
	schema   bigquery.Schema
	payloads []string
	uris     []string
	rows     []map[string]interface{}
}

func (w *MemoryWarehouse) CreateDatasetIfAbsent(ctx context.Context) error { return nil }

func (w *MemoryWarehouse) CreateTableIfAbsent(ctx context.Context, s bigquery.Schema) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.schema == nil {
		w.schema = s
	}
	return nil
}

func (w *MemoryWarehouse) TableSchema(ctx context.Context) (bigquery.Schema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.schema, nil
}

func (w *MemoryWarehouse) UpdateTableSchema(ctx context.Context, s bigquery.Schema) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.schema = s
	return nil
}

func (w *MemoryWarehouse) InsertRows(ctx context.Context, rows []map[string]interface{}, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return w.Fail
	}
	w.rows = append(w.rows, rows...)
	return nil
}

func (w *MemoryWarehouse) LoadFromBytes(ctx context.Context, payload []byte, opts warehouse.LoadOptions) (warehouse.LoadJob, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return nil, w.Fail
	}
	w.payloads = append(w.payloads, string(payload))
	return CompletedJob("load-" + w.Table), nil
}

func (w *MemoryWarehouse) LoadFromURI(ctx context.Context, uri string, opts warehouse.LoadOptions) (warehouse.LoadJob, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return nil, w.Fail
	}
	w.uris = append(w.uris, uri)
	return CompletedJob("load-" + w.Table), nil
}

// Schema returns the table schema
func (w *MemoryWarehouse) Schema() bigquery.Schema {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.schema
}

// Payloads returns the NDJSON payloads loaded so far
func (w *MemoryWarehouse) Payloads() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.payloads...)
}

// URIs returns the object URIs loaded so far
func (w *MemoryWarehouse) URIs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.uris...)
}

// Rows returns the streamed rows
func (w *MemoryWarehouse) Rows() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]interface{}(nil), w.rows...)
}

// MemoryStager keeps staged objects by URI
type MemoryStager struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *MemoryStager) WriteObject(ctx context.Context, uri string, payload []byte, attrs warehouse.ObjectAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[uri] = append([]byte(nil), payload...)
	return nil
}

// Object returns the payload staged at uri
func (s *MemoryStager) Object(uri string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[uri]
	return data, ok
}

// MemoryFactory hands out one MemoryWarehouse per table and a shared stager.
type MemoryFactory struct {
	// Fail is copied into every warehouse it creates
	Fail error

	mu      sync.Mutex
	tables  map[string]*MemoryWarehouse
	stager  MemoryStager
	stagers int
}

func (f *MemoryFactory) Warehouse(ctx context.Context, table string) (warehouse.Warehouse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables == nil {
		f.tables = make(map[string]*MemoryWarehouse)
	}
	wh, ok := f.tables[table]
	if !ok {
		wh = &MemoryWarehouse{Table: table, Fail: f.Fail}
		f.tables[table] = wh
	}
	return wh, nil
}

func (f *MemoryFactory) Stager(ctx context.Context) (warehouse.Stager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stagers++
	return &f.stager, nil
}

// Table returns the warehouse created for table, or nil
func (f *MemoryFactory) Table(table string) *MemoryWarehouse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table]
}

// StagerCalls returns how many times Stager was called
func (f *MemoryFactory) StagerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stagers
}

// Staged returns the shared stager
func (f *MemoryFactory) Staged() *MemoryStager {
	return &f.stager
}
