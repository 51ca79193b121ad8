// Package sink batches the records of one stream and commits each batch to
// BigQuery with the configured upload strategy.
//
// A Sink moves a batch through Idle, Accepting and Draining. Records are
// appended until the size limit (or flush interval) is reached or the caller
// drains. Draining waits for a slot in the sink's job queue, then hands the
// batch to a Committer:
//
//   - streaming: rows are inserted into the live table in the background
//   - batch: the batch is uploaded as one newline-delimited JSON load job
//   - gcs_stage: the batch is written to Cloud Storage and loaded from there
package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/compression"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/logger"
	"github.com/ajitpratap0/bqtarget/pkg/metrics"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/observability"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configure a Sink
type Options struct {
	Config        *config.TargetConfig
	Stream        string
	Schema        *schema.Property
	KeyProperties []string

	Warehouse warehouse.Warehouse
	// Stager is required for the gcs_stage method
	Stager warehouse.Stager

	// Codec encodes load payloads and coerced values. Defaults to json.Default.
	Codec   json.Codec
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// BackoffBase replaces the initial retry delay of every policy (the cap
	// becomes ten times this). Zero keeps the defaults.
	BackoffBase time.Duration
}

// Sink writes one stream to its BigQuery table
type Sink struct {
	cfg     *config.TargetConfig
	stream  string
	method  config.Method
	props   *schema.Property
	codec   json.Codec
	logger  *zap.Logger
	metrics *metrics.Metrics

	translation schema.Translation
	provisioner *Provisioner
	evolver     *Evolver
	queue       *JobQueue
	committer   Committer

	mu      sync.Mutex
	batch   *Batch
	evolved bool
	closed  bool

	errMu    sync.Mutex
	asyncErr error
}

// New translates the stream schema and assembles the sink for cfg.Method
func New(opts Options) (*Sink, error) {
	if opts.Config == nil {
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "sink needs a configuration")
	}
	if opts.Stream == "" {
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "sink needs a stream name")
	}
	if opts.Warehouse == nil {
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "sink needs a warehouse").
			WithDetail("stream", opts.Stream)
	}

	cfg := opts.Config
	s := &Sink{
		cfg:     cfg,
		stream:  opts.Stream,
		method:  cfg.Method,
		props:   opts.Schema,
		codec:   opts.Codec,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if s.codec == nil {
		s.codec = json.Default
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.With(zap.String("stream", s.stream), zap.String("method", string(s.method)))
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	if s.props == nil {
		s.props = &schema.Property{}
	}

	s.translation = schema.Translate(s.props)
	if s.translation.Coerced {
		s.logger.Warn("schema has columns coerced to STRING; their values are stored as JSON text",
			zap.Strings("columns", s.translation.CoercedColumns))
		s.metrics.CoercedStreams.WithLabelValues(s.stream).Set(1)
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	pol := newPolicies(timeout, opts.BackoffBase, s.onRetry)

	s.provisioner = NewProvisioner(opts.Warehouse, s.translation.Schema, pol.provision, s.logger)
	if cfg.EvolveSchema {
		s.evolver = NewEvolver(opts.Warehouse, s.translation.Schema, pol.schemaUpdate, s.logger)
	}
	s.queue = NewJobQueue(cfg.Threads, s.logger, s.metrics.JobsInFlight.WithLabelValues(s.stream))

	committer, err := s.newCommitter(opts, pol, timeout)
	if err != nil {
		return nil, err
	}
	s.committer = committer
	s.batch = newBatch(committer.NewBuffer())

	return s, nil
}

func (s *Sink) newCommitter(opts Options, pol policies, timeout time.Duration) (Committer, error) {
	runner := &loadRunner{
		submitPolicy: pol.submit,
		waitPolicy:   pol.wait,
		timeout:      timeout,
		logger:       s.logger,
	}

	switch s.method {
	case config.MethodStreaming:
		return &streamingCommitter{
			wh:      opts.Warehouse,
			keys:    keyColumns(opts.KeyProperties),
			policy:  pol.insert,
			timeout: timeout,
			logger:  s.logger,
		}, nil

	case config.MethodBatch, "":
		s.method = config.MethodBatch
		return &loadCommitter{
			wh:     opts.Warehouse,
			codec:  s.codec,
			runner: runner,
			opts:   loadOptions(s.stream, config.MethodBatch, false),
		}, nil

	case config.MethodGCSStage:
		if opts.Stager == nil {
			return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "gcs_stage needs a stager").
				WithDetail("stream", s.stream)
		}
		if s.cfg.Bucket == "" {
			return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "bucket is required").
				WithDetail("method", string(s.method))
		}
		alg, err := compression.ParseAlgorithm(s.cfg.StageCompression)
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid stage_compression")
		}
		compressor, err := compression.NewCompressor(&compression.Config{Algorithm: alg})
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid stage_compression")
		}
		return &stagedCommitter{
			wh:          opts.Warehouse,
			stager:      opts.Stager,
			codec:       s.codec,
			compressor:  compressor,
			runner:      runner,
			stagePolicy: pol.stage,
			timeout:     timeout,
			opts:        loadOptions(s.stream, config.MethodGCSStage, alg == compression.Gzip),
			logger:      s.logger,
			bucket:      s.cfg.Bucket,
			prefix:      s.cfg.Prefix(),
			dataset:     s.cfg.Dataset,
			stream:      s.stream,
		}, nil

	default:
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "unknown method").
			WithDetail("method", string(s.method))
	}
}

// Stream returns the stream name
func (s *Sink) Stream() string { return s.stream }

// Method returns the upload strategy in use
func (s *Sink) Method() config.Method { return s.method }

// Translation returns the translated table schema and coercion flag
func (s *Sink) Translation() schema.Translation { return s.translation }

// InFlight returns the number of upload jobs not yet finished
func (s *Sink) InFlight() int { return s.queue.InFlight() }

// State returns the state of the current batch
func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch.State()
}

// StartBatch opens a batch, provisioning the target first if needed. It is a
// no-op while a batch is already open.
func (s *Sink) StartBatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batch.State() != StateIdle {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Sink) startLocked(ctx context.Context) error {
	if s.closed {
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "sink is closed").
			WithDetail("stream", s.stream)
	}
	if err := s.takeAsyncErr(); err != nil {
		return err
	}

	if err := s.provisioner.Ensure(ctx); err != nil {
		return err
	}

	if s.evolver != nil && !s.evolved {
		if _, err := s.evolver.Apply(ctx); err != nil {
			s.logger.Warn("schema evolution failed; will retry on the next batch", zap.Error(err))
		} else {
			s.evolved = true
		}
	}

	s.batch.open()
	s.logger.Debug("batch started", zap.String("batch_id", s.batch.ID))
	return nil
}

// Preprocess prepares a record for upload: coerced values become JSON text
// and keys are renamed to their column names. The record is modified in place.
func (s *Sink) Preprocess(record map[string]interface{}) (map[string]interface{}, error) {
	if s.translation.Coerced {
		var err error
		record, err = schema.Reserialize(record, s.props.Properties, s.codec)
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to encode coerced value").
				WithDetail("stream", s.stream)
		}
	}
	return schema.NormalizeKeys(record), nil
}

// Write appends a record to the current batch, opening one if needed, and
// drains the batch once it is full.
func (s *Sink) Write(ctx context.Context, record map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batch.State() == StateIdle {
		if err := s.startLocked(ctx); err != nil {
			return err
		}
	}

	record, err := s.Preprocess(record)
	if err != nil {
		return err
	}
	if err := s.batch.Append(record); err != nil {
		return err
	}
	s.metrics.Records.WithLabelValues(s.stream, string(s.method)).Inc()

	if s.full() {
		return s.drainLocked(ctx)
	}
	return nil
}

func (s *Sink) full() bool {
	if limit := s.cfg.BatchSizeLimit; limit > 0 && s.batch.Len() >= limit {
		return true
	}
	interval := s.cfg.FlushInterval.Std()
	return interval > 0 && s.batch.Age(time.Now()) >= interval
}

// Drain commits the current batch. An empty batch is closed without any
// remote call.
func (s *Sink) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked(ctx)
}

func (s *Sink) drainLocked(ctx context.Context) error {
	if err := s.takeAsyncErr(); err != nil {
		return err
	}
	if !s.batch.beginDrain() {
		return nil
	}
	defer s.batch.finish()

	batchID := s.batch.ID
	records := s.batch.Len()
	ctx = logger.ContextWithBatch(ctx, batchID)

	ctx, span := observability.StartSpan(ctx, "sink.commit",
		attribute.String("stream", s.stream),
		attribute.String("method", string(s.method)),
		attribute.String("batch_id", batchID),
		attribute.Int("records", records),
	)
	timer := metrics.NewTimer()

	job, err := s.queue.Acquire(ctx, batchID, func(job *Job, err error) {
		s.finishJob(ctx, job, span, timer, records, err)
	})
	if err != nil {
		observability.EndSpan(span, err)
		return err
	}

	if err := s.committer.Commit(ctx, s.batch, job); err != nil {
		job.Done(err)
		return err
	}
	return nil
}

// finishJob runs once per job when its upload completes
func (s *Sink) finishJob(ctx context.Context, job *Job, span trace.Span, timer *metrics.Timer, records int, err error) {
	elapsed := timer.Stop()
	s.metrics.ObserveUpload(s.stream, string(s.method), elapsed, err)
	observability.EndSpan(span, err)

	log := logger.WithContext(ctx, s.logger)
	if job.ProviderID() != "" {
		log = log.With(zap.String("job_id", job.ProviderID()))
	}

	if err != nil {
		log.Error("batch upload failed",
			zap.Int("records", records),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		if s.committer.Async() {
			s.recordAsyncErr(err)
		}
		return
	}

	log.Info("batch committed",
		zap.Int("records", records),
		zap.Duration("duration", elapsed))
}

// Close drains the open batch, waits for in-flight uploads and reports any
// upload failure not yet returned.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// A pending background failure must not keep the open batch from committing.
	pending := s.takeAsyncErr()
	drainErr := s.drainLocked(ctx)
	waitErr := s.queue.Wait(ctx)
	return errors.Join(pending, drainErr, waitErr, s.takeAsyncErr())
}

func (s *Sink) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		s.metrics.Retries.WithLabelValues(s.stream, op).Inc()
		s.logger.Warn("retrying remote operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

// recordAsyncErr keeps the first background upload failure
func (s *Sink) recordAsyncErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.asyncErr == nil {
		s.asyncErr = err
	}
}

func (s *Sink) takeAsyncErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.asyncErr
	s.asyncErr = nil
	return err
}

// keyColumns maps key properties to the record keys left by NormalizeKeys
func keyColumns(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = schema.SafeColumnName(k)
	}
	return names
}

// labelValue fits s into a BigQuery label value
func labelValue(s string) string {
	v := strings.Trim(schema.SafeColumnName(s), "_")
	if len(v) > 63 {
		v = v[:63]
	}
	return v
}
