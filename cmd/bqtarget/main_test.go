package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/bqtarget/internal/singer"
	"github.com/ajitpratap0/bqtarget/internal/testutil"
	"github.com/ajitpratap0/bqtarget/pkg/config"
	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/target"
)

func TestTranslateSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	doc := `{"properties": {"id": {"type": "integer"}, "meta": {"type": "object"}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var out bytes.Buffer
	require.NoError(t, translateSchema(path, &out))

	var got struct {
		Coerced        bool                     `json:"coerced"`
		CoercedColumns []string                 `json:"coerced_columns"`
		Schema         []map[string]interface{} `json:"schema"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Coerced)
	assert.Equal(t, []string{"meta"}, got.CoercedColumns)
	require.Len(t, got.Schema, 2)
	assert.Equal(t, "id", got.Schema[0]["name"])
	assert.Equal(t, "INTEGER", got.Schema[0]["type"])
	assert.Equal(t, "STRING", got.Schema[1]["type"])
}

func TestTranslateSchemaMissingFile(t *testing.T) {
	err := translateSchema(filepath.Join(t.TempDir(), "absent.json"), &bytes.Buffer{})
	require.Error(t, err)
}

func TestPumpEmitsStateAfterDrain(t *testing.T) {
	input := strings.Join([]string{
		`{"type": "SCHEMA", "stream": "users", "schema": {"properties": {"id": {"type": "integer"}}}, "key_properties": ["id"]}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "STATE", "value": {"users": 1}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 2}}`,
	}, "\n")

	cfg := config.Default()
	cfg.Project = "proj"
	cfg.Dataset = "raw"
	factory := &testutil.MemoryFactory{}
	tg, err := target.New(cfg, factory, target.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	var stdout bytes.Buffer
	n, err := pump(context.Background(), singer.NewReader(strings.NewReader(input)), tg, &stdout, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, tg.Close(context.Background()))

	assert.Equal(t, int64(2), n)
	assert.Equal(t, "{\"users\": 1}\n", stdout.String())
	assert.Equal(t, []string{"{\"id\":1}\n", "{\"id\":2}\n"}, factory.Table("users").Payloads())
}

func TestPumpRejectsRecordBeforeSchema(t *testing.T) {
	cfg := config.Default()
	cfg.Project = "proj"
	cfg.Dataset = "raw"
	tg, err := target.New(cfg, &testutil.MemoryFactory{}, target.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	input := `{"type": "RECORD", "stream": "users", "record": {"id": 1}}`
	_, err = pump(context.Background(), singer.NewReader(strings.NewReader(input)), tg, &bytes.Buffer{}, zap.NewNop())
	require.Error(t, err)
}
