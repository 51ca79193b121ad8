// Package bqtarget lands schema-typed record streams in BigQuery tables with
// at-least-once delivery.
//
// Each stream gets a sink that translates its JSON schema into a table
// schema, batches records and commits every batch with one of three upload
// strategies:
//
//   - streaming: rows are inserted into the live table, deduplicated by
//     their key properties
//   - batch: the batch is submitted as one newline-delimited JSON load job
//   - gcs_stage: the batch is written to Cloud Storage, optionally gzipped,
//     and loaded from there
//
// A per-sink admission queue bounds the upload jobs in flight, and every
// network call runs under a retry policy that only retries transient
// failures.
//
// # Quick Start
//
//	cfg, err := config.Load("target.yaml")
//	factory := warehouse.NewGoogleFactory(warehouse.Destination{
//	    Project: cfg.Project,
//	    Dataset: cfg.Dataset,
//	}, warehouse.DefaultClients)
//
//	t, err := target.New(cfg, factory)
//	err = t.AddStream(ctx, "users", props, []string{"id"})
//	err = t.Write(ctx, "users", record)
//	err = t.Close(ctx)
//
// # Key Packages
//
//	pkg/schema       - JSON schema to BigQuery schema translation and evolution
//	pkg/sink         - Batch lifecycle, admission queue and upload strategies
//	pkg/target       - Stream registry used by the record source
//	pkg/warehouse    - BigQuery and Cloud Storage clients behind small interfaces
//	pkg/retry        - Backoff policies and transient error classification
//	pkg/config       - YAML configuration with environment overrides
//	pkg/nebulaerrors - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus collectors
//
// # Configuration
//
//	project: my-project
//	dataset: raw
//	method: gcs_stage          # streaming | batch | gcs_stage
//	bucket: ${STAGING_BUCKET}
//	threads: 8
//	batch_size_limit: 15000
//	timeout: 600               # seconds, or a duration such as 10m
//
// Environment variables are supported with ${VAR_NAME} syntax, and
// BQTARGET_<FIELD> variables override file values.
package bqtarget
