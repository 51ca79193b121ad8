package sink

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ajitpratap0/bqtarget/pkg/compression"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rejection() error {
	rows := warehouse.RowErrors{{Index: 0, Messages: []string{"no such field"}}}
	return nebulaerrors.Wrap(rows, nebulaerrors.ErrorTypeRowRejection, "rows rejected")
}

func TestRowIDs(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": 1, "region": "eu"},
		{"id": 2, "region": nil},
	}

	assert.Nil(t, RowIDs(rows, nil))
	assert.Equal(t, []string{"1", "2"}, RowIDs(rows, []string{"id"}))
	assert.Equal(t, []string{"1--eu", "2--<nil>"}, RowIDs(rows, []string{"id", "region"}))
}

func TestStreamingRetriesRejectedRows(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"row rejection", rejection(), 5},
		{"connection reset", io.ErrUnexpectedEOF, 5},
		{"invalid request", nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "bad table"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := &fakeWarehouse{
				insertRows: func([]map[string]interface{}, []string) error { return tt.err },
			}
			s := newTestSink(t, testConfig(config.MethodStreaming), wh, nil)

			require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
			require.NoError(t, s.Drain(context.Background()), "streaming drain returns after hand-off")

			err := s.Close(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, wh.Calls("insert"))
		})
	}
}

func TestStreamingSucceedsAfterTransientRejection(t *testing.T) {
	var attempts atomic.Int32
	wh := &fakeWarehouse{
		insertRows: func([]map[string]interface{}, []string) error {
			if attempts.Add(1) < 3 {
				return rejection()
			}
			return nil
		},
	}
	s := newTestSink(t, testConfig(config.MethodStreaming), wh, nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": i}))
	}
	require.NoError(t, s.Close(context.Background()))

	require.Len(t, wh.inserted, 1)
	assert.Len(t, wh.inserted[0], 3)
	assert.Equal(t, []string{"1", "2", "3"}, wh.rowIDs[0])
}

func TestBatchLoadSubmitsNDJSON(t *testing.T) {
	wh := &fakeWarehouse{}
	s := newTestSink(t, testConfig(config.MethodBatch), wh, nil)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1, "Full Name": "Ada"}))
	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 2}))
	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, wh.payloads, 1)
	assert.Equal(t, "{\"full_name\":\"Ada\",\"id\":1}\n{\"id\":2}\n", string(wh.payloads[0]))

	opts := wh.options[0]
	assert.True(t, opts.AllowFieldAddition)
	assert.False(t, opts.Gzip)
	assert.Equal(t, "batch", opts.Labels["bqtarget_method"])
	assert.Equal(t, "users", opts.Labels["bqtarget_stream"])
	assert.Zero(t, s.InFlight())
}

func TestBatchLoadJobFailureIsNotRetried(t *testing.T) {
	job := &fakeLoadJob{
		id: "job-9",
		err: nebulaerrors.Wrap(&warehouse.JobError{
			JobID:   "job-9",
			Err:     errors.New("invalid value"),
			Details: []warehouse.JobErrorDetail{{Reason: "invalid", Location: "line 1", Message: "bad"}},
		}, nebulaerrors.ErrorTypeJob, "load job failed"),
	}
	wh := &fakeWarehouse{submit: func() (warehouse.LoadJob, error) { return job, nil }}
	s := newTestSink(t, testConfig(config.MethodBatch), wh, nil)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
	err := s.Drain(context.Background())
	require.Error(t, err)

	var jobErr *warehouse.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "job-9", jobErr.JobID)
	assert.Equal(t, int32(1), job.waits.Load())
	assert.Equal(t, 1, wh.Calls("load_bytes"))
	assert.Equal(t, StateIdle, s.State())
}

func TestBatchLoadRetriesSubmission(t *testing.T) {
	var submits atomic.Int32
	wh := &fakeWarehouse{
		submit: func() (warehouse.LoadJob, error) {
			if submits.Add(1) < 3 {
				return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConnection, "reset")
			}
			return &fakeLoadJob{id: "job-3"}, nil
		},
	}
	s := newTestSink(t, testConfig(config.MethodBatch), wh, nil)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 3, wh.Calls("load_bytes"))
}

func TestBatchLoadWaitRetriesLostConnection(t *testing.T) {
	var waits atomic.Int32
	job := &flakyJob{waits: &waits}
	wh := &fakeWarehouse{submit: func() (warehouse.LoadJob, error) { return job, nil }}
	s := newTestSink(t, testConfig(config.MethodBatch), wh, nil)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, int32(3), waits.Load())
}

// flakyJob loses the connection twice before reporting success
type flakyJob struct {
	waits *atomic.Int32
}

func (j *flakyJob) ID() string { return "job-flaky" }

func (j *flakyJob) Wait(ctx context.Context) error {
	if j.waits.Add(1) < 3 {
		return io.ErrUnexpectedEOF
	}
	return nil
}

var stagedPath = regexp.MustCompile(`^gs://staging-bucket/target_bigquery/analytics/users/[0-9a-f-]{36}\.jsonl(\.gz)?$`)

func TestStagedLoadWritesDistinctObjects(t *testing.T) {
	wh := &fakeWarehouse{}
	stager := &fakeStager{}
	s := newTestSink(t, testConfig(config.MethodGCSStage), wh, stager)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": i}))
		require.NoError(t, s.Drain(context.Background()))
	}

	require.Len(t, wh.uris, 3)
	seen := make(map[string]bool)
	for _, uri := range wh.uris {
		assert.Regexp(t, stagedPath, uri)
		assert.False(t, seen[uri], "staging path reused: %s", uri)
		seen[uri] = true

		obj, ok := stager.objects[uri]
		require.True(t, ok, "load references an object that was never written")
		assert.Equal(t, "application/x-ndjson", obj.attrs.ContentType)
		assert.Equal(t, "1", obj.attrs.Metadata["records"])
		assert.True(t, strings.HasSuffix(string(obj.payload), "\n"))
	}
	assert.False(t, wh.options[0].Gzip)
}

func TestStagedLoadGzip(t *testing.T) {
	cfg := testConfig(config.MethodGCSStage)
	cfg.StageCompression = "gzip"
	wh := &fakeWarehouse{}
	stager := &fakeStager{}
	s := newTestSink(t, cfg, wh, stager)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 7}))
	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, wh.uris, 1)
	uri := wh.uris[0]
	assert.True(t, strings.HasSuffix(uri, ".jsonl.gz"))
	assert.True(t, wh.options[0].Gzip)

	obj := stager.objects[uri]
	assert.Equal(t, "application/gzip", obj.attrs.ContentType)

	gz, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Gzip})
	require.NoError(t, err)
	plain, err := gz.Decompress(obj.payload)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":7}\n", string(plain))
}

func TestStagedLoadRetriesUpload(t *testing.T) {
	var writes atomic.Int32
	wh := &fakeWarehouse{}
	stager := &fakeStager{write: func() error {
		if writes.Add(1) < 2 {
			return nebulaerrors.New(nebulaerrors.ErrorTypeConnection, "broken pipe")
		}
		return nil
	}}
	s := newTestSink(t, testConfig(config.MethodGCSStage), wh, stager)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 2, stager.Writes())
	assert.Equal(t, 1, wh.Calls("load_uri"))
}

func TestStagedLoadSkipsLoadWhenUploadFails(t *testing.T) {
	wh := &fakeWarehouse{}
	stager := &fakeStager{write: func() error {
		return nebulaerrors.New(nebulaerrors.ErrorTypePermission, "denied")
	}}
	s := newTestSink(t, testConfig(config.MethodGCSStage), wh, stager)

	require.NoError(t, s.Write(context.Background(), map[string]interface{}{"id": 1}))
	err := s.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypePermission))
	assert.Equal(t, 1, stager.Writes())
	assert.Zero(t, wh.Calls("load_uri"))
}

func TestCommitterMethods(t *testing.T) {
	tests := []struct {
		method config.Method
		async  bool
		buffer Buffer
	}{
		{config.MethodStreaming, true, &RowBuffer{}},
		{config.MethodBatch, false, &NDJSONBuffer{}},
		{config.MethodGCSStage, false, &NDJSONBuffer{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			s := newTestSink(t, testConfig(tt.method), &fakeWarehouse{}, &fakeStager{})
			assert.Equal(t, tt.method, s.committer.Method())
			assert.Equal(t, tt.async, s.committer.Async())
			assert.IsType(t, tt.buffer, s.committer.NewBuffer())
		})
	}
}

func TestLabelValue(t *testing.T) {
	assert.Equal(t, "public_users", labelValue("public-Users"))
	assert.Len(t, labelValue(strings.Repeat("x", 100)), 63)
}

var _ warehouse.Warehouse = (*fakeWarehouse)(nil)
