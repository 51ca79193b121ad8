package sink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/ajitpratap0/bqtarget/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tableSchema = bigquery.Schema{
	{Name: "id", Type: bigquery.IntegerFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
}

func fastProvision() retry.Policy {
	return retry.Provision().WithDelay(time.Millisecond, 5*time.Millisecond)
}

func TestProvisionerCreatesOnce(t *testing.T) {
	wh := &fakeWarehouse{}
	p := NewProvisioner(wh, tableSchema, fastProvision(), nil)

	require.NoError(t, p.Ensure(context.Background()))
	require.NoError(t, p.Ensure(context.Background()))

	assert.True(t, p.Ready())
	assert.Equal(t, 1, wh.Calls("create_dataset"))
	assert.Equal(t, 1, wh.Calls("create_table"))
	assert.Equal(t, tableSchema, wh.created)
}

func TestProvisionerGivesUpAfterTwoAttempts(t *testing.T) {
	wh := &fakeWarehouse{
		createDataset: func() error {
			return nebulaerrors.New(nebulaerrors.ErrorTypeConnection, "connection refused")
		},
	}
	p := NewProvisioner(wh, tableSchema, fastProvision(), nil)

	err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConnection))
	assert.Equal(t, 2, wh.Calls("create_dataset"))
	assert.Zero(t, wh.Calls("create_table"))
	assert.False(t, p.Ready())
}

func TestProvisionerKeepsDatasetProgress(t *testing.T) {
	var tableAttempts atomic.Int32
	wh := &fakeWarehouse{
		createTable: func(bigquery.Schema) error {
			if tableAttempts.Add(1) == 1 {
				return nebulaerrors.New(nebulaerrors.ErrorTypeConnection, "reset")
			}
			return nil
		},
	}
	p := NewProvisioner(wh, tableSchema, fastProvision(), nil)

	require.NoError(t, p.Ensure(context.Background()))
	assert.Equal(t, 1, wh.Calls("create_dataset"))
	assert.Equal(t, 2, wh.Calls("create_table"))
}

func TestProvisionerDoesNotRetryPermissionErrors(t *testing.T) {
	wh := &fakeWarehouse{
		createTable: func(bigquery.Schema) error {
			return nebulaerrors.New(nebulaerrors.ErrorTypePermission, "access denied")
		},
	}
	p := NewProvisioner(wh, tableSchema, fastProvision(), nil)

	require.Error(t, p.Ensure(context.Background()))
	assert.Equal(t, 1, wh.Calls("create_table"))

	// A later call tries again rather than caching the failure.
	require.Error(t, p.Ensure(context.Background()))
	assert.Equal(t, 2, wh.Calls("create_table"))
}
