package schema

import (
	"cloud.google.com/go/bigquery"
)

// Evolve compares the desired columns against the live table schema and
// returns the schema to apply along with the names of the columns that
// changed. A desired column with no identical live column replaces the live
// column of the same name, or is appended when there is none. Live columns
// absent from desired are kept. When nothing changed, revised is nil.
//
// Type changes are applied as-is; BigQuery rejects narrowing updates.
func Evolve(live, desired bigquery.Schema) (revised bigquery.Schema, changed []string) {
	working := make(bigquery.Schema, len(live))
	copy(working, live)

	for _, want := range desired {
		if containsField(live, want) {
			continue
		}
		changed = append(changed, want.Name)

		replaced := false
		for i, have := range working {
			if have.Name == want.Name {
				working[i] = want
				replaced = true
				break
			}
		}
		if !replaced {
			working = append(working, want)
		}
	}

	if len(changed) == 0 {
		return nil, nil
	}
	return working, changed
}

func containsField(columns bigquery.Schema, want *bigquery.FieldSchema) bool {
	for _, have := range columns {
		if FieldsEqual(have, want) {
			return true
		}
	}
	return false
}

// FieldsEqual compares the parts of a column the translator controls: name,
// type, mode and nested columns. Descriptions and policy tags are ignored.
func FieldsEqual(a, b *bigquery.FieldSchema) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Type != b.Type || a.Repeated != b.Repeated || a.Required != b.Required {
		return false
	}
	if len(a.Schema) != len(b.Schema) {
		return false
	}
	for i := range a.Schema {
		if !FieldsEqual(a.Schema[i], b.Schema[i]) {
			return false
		}
	}
	return true
}
