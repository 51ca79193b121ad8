package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/ajitpratap0/bqtarget/pkg/warehouse"
	"go.uber.org/zap"
)

// rowIDSeparator joins key property values into a row identifier
const rowIDSeparator = "--"

// RowIDs derives a deduplication identifier per row from the key properties.
// It returns nil when there are no key properties.
func RowIDs(rows []map[string]interface{}, keyProperties []string) []string {
	if len(keyProperties) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	parts := make([]string, len(keyProperties))
	for i, row := range rows {
		for k, key := range keyProperties {
			parts[k] = fmt.Sprint(row[key])
		}
		ids[i] = strings.Join(parts, rowIDSeparator)
	}
	return ids
}

// streamingCommitter inserts rows directly into the live table. The insert
// runs in the background; the batch is drained as soon as it is handed off.
type streamingCommitter struct {
	wh      warehouse.Warehouse
	keys    []string
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
}

func (c *streamingCommitter) Method() config.Method { return config.MethodStreaming }

func (c *streamingCommitter) Async() bool { return true }

func (c *streamingCommitter) NewBuffer() Buffer { return &RowBuffer{} }

func (c *streamingCommitter) Commit(ctx context.Context, batch *Batch, job *Job) error {
	buffer, ok := batch.Buffer().(*RowBuffer)
	if !ok {
		err := fmt.Errorf("streaming commit needs a row buffer, got %T", batch.Buffer())
		job.Done(err)
		return err
	}

	rows := buffer.Rows()
	ids := RowIDs(rows, c.keys)

	// The upload outlives Drain, so it must not be cancelled with the caller.
	uploadCtx := context.WithoutCancel(ctx)
	go func() {
		err := c.policy.Do(uploadCtx, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.wh.InsertRows(attemptCtx, rows, ids)
		})
		job.Done(err)
	}()

	c.logger.Debug("streaming insert dispatched",
		zap.String("batch_id", batch.ID),
		zap.Int("rows", len(rows)))
	return nil
}
