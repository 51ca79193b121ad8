package sink

import (
	"bytes"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/google/uuid"
)

// State is the lifecycle state of a batch
type State int32

const (
	// StateIdle means no batch is open
	StateIdle State = iota
	// StateAccepting means records are being appended
	StateAccepting
	// StateDraining means the batch is being committed
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Buffer holds the records of one batch in the form its committer uploads.
type Buffer interface {
	Append(record map[string]interface{}) error
	Len() int
	Reset()
}

// RowBuffer keeps records as an ordered slice of rows.
type RowBuffer struct {
	rows []map[string]interface{}
}

func (b *RowBuffer) Append(record map[string]interface{}) error {
	b.rows = append(b.rows, record)
	return nil
}

func (b *RowBuffer) Len() int {
	return len(b.rows)
}

// Rows returns the buffered rows in insertion order
func (b *RowBuffer) Rows() []map[string]interface{} {
	return b.rows
}

// Reset drops the rows. The backing array is not reused, so a slice handed
// out by Rows stays valid for an upload still in flight.
func (b *RowBuffer) Reset() {
	b.rows = nil
}

// NDJSONBuffer keeps records as newline-delimited JSON.
type NDJSONBuffer struct {
	codec json.Codec
	buf   bytes.Buffer
	n     int
}

// NewNDJSONBuffer returns an empty buffer encoding with codec
func NewNDJSONBuffer(codec json.Codec) *NDJSONBuffer {
	if codec == nil {
		codec = json.Default
	}
	return &NDJSONBuffer{codec: codec}
}

func (b *NDJSONBuffer) Append(record map[string]interface{}) error {
	if err := json.AppendLine(&b.buf, b.codec, record); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to encode record")
	}
	b.n++
	return nil
}

func (b *NDJSONBuffer) Len() int {
	return b.n
}

// Bytes returns the encoded lines. The slice is only valid until Reset.
func (b *NDJSONBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *NDJSONBuffer) Reset() {
	b.buf.Reset()
	b.n = 0
}

// Batch is one accumulation window: Idle, then Accepting while records are
// appended, then Draining while committed, then Idle again.
type Batch struct {
	ID        string
	StartedAt time.Time

	state  State
	count  int
	buffer Buffer
}

func newBatch(buffer Buffer) *Batch {
	return &Batch{buffer: buffer}
}

// State returns the current lifecycle state
func (b *Batch) State() State {
	return b.state
}

// Len returns the number of records appended since the batch opened
func (b *Batch) Len() int {
	return b.count
}

// Buffer returns the strategy-specific buffer
func (b *Batch) Buffer() Buffer {
	return b.buffer
}

// Age returns how long the batch has been open
func (b *Batch) Age(now time.Time) time.Duration {
	if b.state == StateIdle {
		return 0
	}
	return now.Sub(b.StartedAt)
}

// open starts a new batch with a fresh identifier. It is a no-op unless Idle.
func (b *Batch) open() {
	if b.state != StateIdle {
		return
	}
	b.ID = uuid.NewString()
	b.StartedAt = time.Now()
	b.count = 0
	b.state = StateAccepting
}

// Append adds a record. Only an Accepting batch takes records.
func (b *Batch) Append(record map[string]interface{}) error {
	if b.state != StateAccepting {
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "batch is not accepting records").
			WithDetail("state", b.state.String()).
			WithDetail("batch_id", b.ID)
	}
	if err := b.buffer.Append(record); err != nil {
		return err
	}
	b.count++
	return nil
}

// beginDrain moves an Accepting batch to Draining and reports whether there
// is anything to commit. An empty batch goes straight back to Idle.
func (b *Batch) beginDrain() bool {
	if b.state != StateAccepting {
		return false
	}
	if b.count == 0 {
		b.finish()
		return false
	}
	b.state = StateDraining
	return true
}

// finish clears the buffer and returns to Idle
func (b *Batch) finish() {
	b.buffer.Reset()
	b.count = 0
	b.state = StateIdle
}
