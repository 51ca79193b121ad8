package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqtarget/internal/singer"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/logger"
	"github.com/ajitpratap0/bqtarget/pkg/metrics"
	"github.com/ajitpratap0/bqtarget/pkg/observability"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
	"github.com/ajitpratap0/bqtarget/pkg/target"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
)

// runTarget loads the configuration and pumps messages into a target until
// the input ends.
func runTarget(ctx context.Context, configFile, inputFile string, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(
		zap.String("component", "bqtarget-cli"),
		zap.String("method", string(cfg.Method)),
		zap.String("dataset", cfg.Dataset),
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.EnableMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "bqtarget",
			ServiceVersion: version,
			SamplingRate:   1.0,
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	input := io.Reader(os.Stdin)
	if inputFile != "" {
		f, err := os.Open(inputFile) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}

	factory := warehouse.NewGoogleFactory(warehouse.Destination{
		Project:         cfg.Project,
		Dataset:         cfg.Dataset,
		Location:        cfg.Location,
		CredentialsPath: cfg.CredentialsPath,
	}, warehouse.DefaultClients)
	defer func() { _ = warehouse.DefaultClients.Close() }()

	tg, err := target.New(cfg, factory, target.WithLogger(log), target.WithMetrics(m))
	if err != nil {
		return err
	}

	log.Info("starting target", zap.Int("threads", cfg.Threads), zap.Int("batch_size_limit", cfg.BatchSizeLimit))
	start := time.Now()

	records, pumpErr := pump(ctx, singer.NewReader(input), tg, stdout, log)
	closeErr := tg.Close(context.WithoutCancel(ctx))
	if err := errors.Join(pumpErr, closeErr); err != nil {
		log.Error("target failed", zap.Error(err))
		return err
	}

	log.Info("target completed",
		zap.Int64("records", records),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// pump dispatches each message to the target. A STATE message is echoed
// only after every sink has drained.
func pump(ctx context.Context, r *singer.Reader, tg *target.Target, stdout io.Writer, log *zap.Logger) (int64, error) {
	var records int64

	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, err
		}

		switch msg.Type {
		case singer.TypeSchema:
			props, err := schema.ParseSchema(msg.Schema)
			if err != nil {
				return records, err
			}
			if err := tg.AddStream(ctx, msg.Stream, props, msg.KeyProperties); err != nil {
				return records, err
			}

		case singer.TypeRecord:
			if err := tg.Write(ctx, msg.Stream, msg.Record); err != nil {
				return records, err
			}
			records++

		case singer.TypeState:
			if err := tg.DrainAll(ctx); err != nil {
				return records, err
			}
			if err := emitState(stdout, msg.Value); err != nil {
				return records, err
			}
		}
	}

	if err := tg.DrainAll(ctx); err != nil {
		return records, err
	}
	log.Debug("input exhausted", zap.Int64("records", records))
	return records, nil
}

func emitState(w io.Writer, value []byte) error {
	if len(value) == 0 {
		return nil
	}
	_, err := w.Write(append(append([]byte(nil), value...), '\n'))
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}
