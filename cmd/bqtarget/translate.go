package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/schema"
)

type translation struct {
	Coerced        bool            `json:"coerced"`
	CoercedColumns []string        `json:"coerced_columns,omitempty"`
	Schema         json.RawMessage `json:"schema"`
}

// translateSchema prints the table schema a stream with the given JSON
// schema would get.
func translateSchema(path string, w io.Writer) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	props, err := schema.ParseSchema(data)
	if err != nil {
		return err
	}

	tr := schema.Translate(props)
	fields, err := tr.Schema.ToJSONFields()
	if err != nil {
		return fmt.Errorf("failed to encode table schema: %w", err)
	}

	out, err := json.Marshal(translation{
		Coerced:        tr.Coerced,
		CoercedColumns: tr.CoercedColumns,
		Schema:         fields,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
