// Package target routes the records of many streams to their sinks.
//
// A Target owns one sink.Sink per stream. The record source registers each
// stream with its schema, writes records by stream name and drains every sink
// before it acknowledges progress upstream.
//
//	t, err := target.New(cfg, warehouse.NewGoogleFactory(dest, nil))
//	err = t.AddStream(ctx, "users", props, []string{"id"})
//	err = t.Write(ctx, "users", record)
//	err = t.DrainAll(ctx)
//	err = t.Close(ctx)
package target

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/logger"
	"github.com/ajitpratap0/bqtarget/pkg/metrics"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
	"github.com/ajitpratap0/bqtarget/pkg/sink"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option configures a Target.
type Option func(*Target)

// WithLogger sets the logger sinks derive theirs from
func WithLogger(l *zap.Logger) Option {
	return func(t *Target) { t.logger = l }
}

// WithMetrics sets the collectors shared by all sinks
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Target) { t.metrics = m }
}

// WithCodec sets the record codec
func WithCodec(c json.Codec) Option {
	return func(t *Target) { t.codec = c }
}

// WithBackoff overrides the initial retry delay of every sink
func WithBackoff(d time.Duration) Option {
	return func(t *Target) { t.backoff = d }
}

// Target is the registry of stream sinks.
type Target struct {
	cfg     *config.TargetConfig
	factory warehouse.Factory
	logger  *zap.Logger
	metrics *metrics.Metrics
	codec   json.Codec
	backoff time.Duration

	mu     sync.RWMutex
	sinks  map[string]*sink.Sink
	stager warehouse.Stager
	closed bool
}

// New creates an empty target writing through factory
func New(cfg *config.TargetConfig, factory warehouse.Factory, opts ...Option) (*Target, error) {
	if cfg == nil {
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "target needs a configuration")
	}
	if factory == nil {
		return nil, nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "target needs a warehouse factory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Target{
		cfg:     cfg,
		factory: factory,
		codec:   json.Default,
		sinks:   make(map[string]*sink.Sink),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Get()
	}
	if t.metrics == nil {
		t.metrics = metrics.New(nil)
	}
	return t, nil
}

// AddStream registers stream with its schema and key properties. A stream
// that is already registered is closed first, so records written under the
// previous schema are committed before the new sink takes over.
func (t *Target) AddStream(ctx context.Context, stream string, props *schema.Property, keyProperties []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "target is closed")
	}

	log := logger.WithContext(logger.ContextWithStream(ctx, stream), t.logger)

	if previous, ok := t.sinks[stream]; ok {
		delete(t.sinks, stream)
		if err := previous.Close(ctx); err != nil {
			return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeInternal, "failed to close previous sink").
				WithDetail("stream", stream)
		}
		log.Info("schema replaced")
	}

	wh, err := t.factory.Warehouse(ctx, TableName(stream))
	if err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to open warehouse").
			WithDetail("stream", stream)
	}

	var stager warehouse.Stager
	if t.cfg.Method == config.MethodGCSStage {
		if stager, err = t.stagerLocked(ctx); err != nil {
			return err
		}
	}

	s, err := sink.New(sink.Options{
		Config:        t.cfg,
		Stream:        stream,
		Schema:        props,
		KeyProperties: keyProperties,
		Warehouse:     wh,
		Stager:        stager,
		Codec:         t.codec,
		Logger:        t.logger,
		Metrics:       t.metrics,
		BackoffBase:   t.backoff,
	})
	if err != nil {
		return err
	}

	t.sinks[stream] = s
	log.Info("stream registered",
		zap.String("table", TableName(stream)),
		zap.Bool("coerced", s.Translation().Coerced))
	return nil
}

// stagers share one storage client, so one is enough for every stream
func (t *Target) stagerLocked(ctx context.Context) (warehouse.Stager, error) {
	if t.stager != nil {
		return t.stager, nil
	}
	stager, err := t.factory.Stager(ctx)
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to open storage")
	}
	t.stager = stager
	return stager, nil
}

// Sink returns the sink of a registered stream
func (t *Target) Sink(stream string) (*sink.Sink, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sinks[stream]
	return s, ok
}

// Streams returns the registered stream names in sorted order
func (t *Target) Streams() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.sinks))
	for name := range t.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Write hands record to the sink of stream
func (t *Target) Write(ctx context.Context, stream string, record map[string]interface{}) error {
	s, ok := t.Sink(stream)
	if !ok {
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "record for unknown stream").
			WithDetail("stream", stream)
	}
	return s.Write(ctx, record)
}

// DrainAll drains every sink concurrently and returns once all of them have
// handed off their open batch.
func (t *Target) DrainAll(ctx context.Context) error {
	return t.each(ctx, func(ctx context.Context, s *sink.Sink) error {
		return s.Drain(ctx)
	})
}

// Close closes every sink, waiting for their in-flight uploads. Every sink
// is closed even when some fail; the failures are joined.
func (t *Target) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	err := t.each(ctx, func(ctx context.Context, s *sink.Sink) error {
		if err := s.Close(ctx); err != nil {
			t.logger.Error("failed to close stream", zap.String("stream", s.Stream()), zap.Error(err))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
		return nil
	})
	return errors.Join(append(errs, err)...)
}

func (t *Target) each(ctx context.Context, fn func(context.Context, *sink.Sink) error) error {
	t.mu.RLock()
	sinks := make([]*sink.Sink, 0, len(t.sinks))
	for _, s := range t.sinks {
		sinks = append(sinks, s)
	}
	t.mu.RUnlock()

	var g errgroup.Group
	for _, s := range sinks {
		g.Go(func() error { return fn(ctx, s) })
	}
	return g.Wait()
}

// TableName is the table a stream lands in
func TableName(stream string) string {
	return schema.SafeColumnName(stream)
}
