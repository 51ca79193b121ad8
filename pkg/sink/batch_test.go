package sink

import (
	"testing"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLifecycle(t *testing.T) {
	b := newBatch(&RowBuffer{})
	assert.Equal(t, StateIdle, b.State())

	err := b.Append(map[string]interface{}{"id": 1})
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeValidation))

	b.open()
	assert.Equal(t, StateAccepting, b.State())
	assert.NotEmpty(t, b.ID)

	require.NoError(t, b.Append(map[string]interface{}{"id": 1}))
	require.NoError(t, b.Append(map[string]interface{}{"id": 2}))
	assert.Equal(t, 2, b.Len())

	require.True(t, b.beginDrain())
	assert.Equal(t, StateDraining, b.State())

	err = b.Append(map[string]interface{}{"id": 3})
	require.Error(t, err)
	assert.Equal(t, 2, b.Len())

	rows := b.Buffer().(*RowBuffer).Rows()
	b.finish()
	assert.Equal(t, StateIdle, b.State())
	assert.Zero(t, b.Len())
	assert.Len(t, rows, 2, "rows handed out before finish stay intact")
}

func TestBatchEmptyDrainReturnsToIdle(t *testing.T) {
	b := newBatch(&RowBuffer{})
	b.open()

	assert.False(t, b.beginDrain())
	assert.Equal(t, StateIdle, b.State())
	assert.False(t, b.beginDrain(), "an idle batch has nothing to drain")
}

func TestBatchOpenIsNoopWhileAccepting(t *testing.T) {
	b := newBatch(&RowBuffer{})
	b.open()
	id := b.ID
	b.open()
	assert.Equal(t, id, b.ID)
}

func TestBatchIdentifiersAreUnique(t *testing.T) {
	b := newBatch(&RowBuffer{})
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		b.open()
		require.False(t, seen[b.ID], "duplicate batch id %s", b.ID)
		seen[b.ID] = true
		require.NoError(t, b.Append(map[string]interface{}{"i": i}))
		require.True(t, b.beginDrain())
		b.finish()
	}
}

func TestBatchAge(t *testing.T) {
	b := newBatch(&RowBuffer{})
	assert.Zero(t, b.Age(time.Now()))

	b.open()
	assert.Equal(t, time.Minute, b.Age(b.StartedAt.Add(time.Minute)))
}

func TestNDJSONBuffer(t *testing.T) {
	buf := NewNDJSONBuffer(nil)
	require.NoError(t, buf.Append(map[string]interface{}{"id": 1, "name": "a"}))
	require.NoError(t, buf.Append(map[string]interface{}{"id": 2}))

	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, "{\"id\":1,\"name\":\"a\"}\n{\"id\":2}\n", string(buf.Bytes()))

	buf.Reset()
	assert.Zero(t, buf.Len())
	assert.Empty(t, buf.Bytes())
}

func TestNDJSONBufferEncodeError(t *testing.T) {
	buf := NewNDJSONBuffer(nil)
	err := buf.Append(map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeData))
	assert.Zero(t, buf.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "accepting", StateAccepting.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "unknown", State(42).String())
}
