package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/compression"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
)

// stagedCommitter writes the NDJSON buffer to Cloud Storage and then loads
// the table from that object. Staged objects are kept.
type stagedCommitter struct {
	wh          warehouse.Warehouse
	stager      warehouse.Stager
	codec       json.Codec
	compressor  compression.Compressor
	runner      *loadRunner
	stagePolicy retry.Policy
	timeout     time.Duration
	opts        warehouse.LoadOptions
	logger      *zap.Logger

	bucket  string
	prefix  string
	dataset string
	stream  string
}

func (c *stagedCommitter) Method() config.Method { return config.MethodGCSStage }

func (c *stagedCommitter) Async() bool { return false }

func (c *stagedCommitter) NewBuffer() Buffer { return NewNDJSONBuffer(c.codec) }

// ObjectURI is where the batch with batchID is staged:
// gs://{bucket}/{prefix}/{dataset}/{stream}/{batchID}.jsonl[.gz]
func (c *stagedCommitter) ObjectURI(batchID string) string {
	return warehouse.GCSURI(c.bucket, c.prefix, c.dataset, c.stream,
		batchID+".jsonl"+c.compressor.Extension())
}

func (c *stagedCommitter) Commit(ctx context.Context, batch *Batch, job *Job) error {
	err := c.commit(ctx, batch, job)
	job.Done(err)
	return err
}

func (c *stagedCommitter) commit(ctx context.Context, batch *Batch, job *Job) error {
	buffer, ok := batch.Buffer().(*NDJSONBuffer)
	if !ok {
		return fmt.Errorf("staged commit needs an NDJSON buffer, got %T", batch.Buffer())
	}

	payload, err := c.compressor.Compress(buffer.Bytes())
	if err != nil {
		return err
	}

	uri := c.ObjectURI(batch.ID)
	attrs := warehouse.ObjectAttrs{
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"stream":   c.stream,
			"batch_id": batch.ID,
			"records":  strconv.Itoa(batch.Len()),
		},
	}
	if c.compressor.Algorithm() == compression.Gzip {
		attrs.ContentType = "application/gzip"
	}

	err = c.stagePolicy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.stager.WriteObject(attemptCtx, uri, payload, attrs)
	})
	if err != nil {
		return err
	}

	c.logger.Debug("batch staged",
		zap.String("batch_id", batch.ID),
		zap.String("uri", uri),
		zap.Int("bytes", len(payload)))

	return c.runner.run(ctx, job, func(ctx context.Context) (warehouse.LoadJob, error) {
		return c.wh.LoadFromURI(ctx, uri, c.opts)
	})
}
