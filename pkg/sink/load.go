package sink

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
)

// loadCommitter submits the in-memory NDJSON buffer as one load job and
// waits for it.
type loadCommitter struct {
	wh     warehouse.Warehouse
	codec  json.Codec
	runner *loadRunner
	opts   warehouse.LoadOptions
}

func (c *loadCommitter) Method() config.Method { return config.MethodBatch }

func (c *loadCommitter) Async() bool { return false }

func (c *loadCommitter) NewBuffer() Buffer { return NewNDJSONBuffer(c.codec) }

func (c *loadCommitter) Commit(ctx context.Context, batch *Batch, job *Job) error {
	buffer, ok := batch.Buffer().(*NDJSONBuffer)
	if !ok {
		err := fmt.Errorf("load commit needs an NDJSON buffer, got %T", batch.Buffer())
		job.Done(err)
		return err
	}

	payload := buffer.Bytes()
	err := c.runner.run(ctx, job, func(ctx context.Context) (warehouse.LoadJob, error) {
		return c.wh.LoadFromBytes(ctx, payload, c.opts)
	})
	job.Done(err)
	return err
}
