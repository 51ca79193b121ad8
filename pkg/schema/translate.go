package schema

import (
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
)

// Translation is the result of translating a stream schema.
type Translation struct {
	Schema bigquery.Schema
	// Coerced is set when any object without properties or array without
	// items had to become a STRING column. Records then need Reserialize.
	Coerced bool
	// CoercedColumns lists the dotted column paths that were coerced.
	CoercedColumns []string
}

var unsafeColumnChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SafeColumnName strips backticks, replaces every character outside
// [a-zA-Z0-9_] with an underscore and lowercases the result.
func SafeColumnName(name string) string {
	name = strings.ReplaceAll(name, "`", "")
	return strings.ToLower(unsafeColumnChars.ReplaceAllString(name, "_"))
}

// ResolveType maps a JSON-schema type list and format to a BigQuery type.
// Format wins over type; among types the first match in the order number,
// integer with string, integer, boolean, object decides. Anything else is STRING.
func ResolveType(types TypeList, format string) bigquery.FieldType {
	types = types.orDefault()

	switch format {
	case "date-time":
		return bigquery.TimestampFieldType
	case "date":
		return bigquery.DateFieldType
	case "time":
		return bigquery.TimeFieldType
	}

	switch {
	case types.Has("number"):
		return bigquery.FloatFieldType
	case types.Has("integer") && types.Has("string"):
		return bigquery.StringFieldType
	case types.Has("integer"):
		return bigquery.IntegerFieldType
	case types.Has("boolean"):
		return bigquery.BooleanFieldType
	case types.Has("object"):
		return bigquery.RecordFieldType
	default:
		return bigquery.StringFieldType
	}
}

// Translate converts the top-level properties of root into BigQuery columns,
// in declaration order. It never fails: shapes BigQuery cannot represent are
// coerced to STRING and reported on the Translation.
func Translate(root *Property) Translation {
	t := &translator{}
	var columns bigquery.Schema
	if root != nil {
		columns = t.columns("", root.Properties)
	}
	return Translation{
		Schema:         columns,
		Coerced:        len(t.coerced) > 0,
		CoercedColumns: t.coerced,
	}
}

type translator struct {
	coerced []string
}

func (t *translator) columns(parent string, props Properties) bigquery.Schema {
	columns := make(bigquery.Schema, 0, props.Len())
	for _, name := range props.names {
		columns = append(columns, t.column(parent, name, props.byName[name]))
	}
	return columns
}

func (t *translator) column(parent, name string, prop *Property) *bigquery.FieldSchema {
	safeName := SafeColumnName(name)
	path := safeName
	if parent != "" {
		path = parent + "." + safeName
	}

	types := prop.Type.orDefault()
	switch {
	case types.Has("array"):
		if prop.Items == nil || prop.Items.Type == nil {
			t.coerce(path)
			return &bigquery.FieldSchema{Name: safeName, Type: bigquery.StringFieldType}
		}
		itemType := ResolveType(prop.Items.Type, prop.Items.Format)
		if itemType == bigquery.RecordFieldType {
			return t.record(path, safeName, prop.Items, true)
		}
		return &bigquery.FieldSchema{Name: safeName, Type: itemType, Repeated: true}

	case types.Has("object"):
		return t.record(path, safeName, prop, false)

	default:
		return &bigquery.FieldSchema{Name: safeName, Type: ResolveType(types, prop.Format)}
	}
}

// record emits a RECORD column, or a STRING column with the same mode when
// the object declares no properties.
func (t *translator) record(path, safeName string, prop *Property, repeated bool) *bigquery.FieldSchema {
	if prop.Properties.Len() == 0 {
		t.coerce(path)
		return &bigquery.FieldSchema{Name: safeName, Type: bigquery.StringFieldType, Repeated: repeated}
	}
	return &bigquery.FieldSchema{
		Name:     safeName,
		Type:     bigquery.RecordFieldType,
		Repeated: repeated,
		Schema:   t.columns(path, prop.Properties),
	}
}

func (t *translator) coerce(path string) {
	t.coerced = append(t.coerced, path)
}
