package schema

import (
	"github.com/ajitpratap0/bqtarget/pkg/json"
)

// Reserialize rewrites the parts of record that were coerced to STRING
// columns as compact JSON text, walking the record in step with props.
// Objects without declared properties and arrays without items are encoded;
// declared objects are recursed, as are map items of arrays with items.
// The record is modified in place and returned.
func Reserialize(record map[string]interface{}, props Properties, codec json.Codec) (map[string]interface{}, error) {
	if codec == nil {
		codec = json.Default
	}
	if err := reserializeObject(record, props, codec); err != nil {
		return nil, err
	}
	return record, nil
}

func reserializeObject(record map[string]interface{}, props Properties, codec json.Codec) error {
	for name, value := range record {
		prop, ok := props.Get(name)
		if !ok || prop == nil {
			continue
		}

		types := prop.Type.orDefault()
		switch v := value.(type) {
		case map[string]interface{}:
			if !types.Has("object") {
				continue
			}
			if prop.Properties.Len() == 0 {
				text, err := encode(codec, v)
				if err != nil {
					return err
				}
				record[name] = text
				continue
			}
			if err := reserializeObject(v, prop.Properties, codec); err != nil {
				return err
			}

		case []interface{}:
			if !types.Has("array") {
				continue
			}
			if prop.Items == nil || prop.Items.Type == nil {
				text, err := encode(codec, v)
				if err != nil {
					return err
				}
				record[name] = text
				continue
			}
			if err := reserializeItems(v, prop.Items, codec); err != nil {
				return err
			}
		}
	}
	return nil
}

// reserializeItems handles the elements of an array whose items schema is an
// object: with declared properties they are recursed, without they become text.
func reserializeItems(items []interface{}, itemSchema *Property, codec json.Codec) error {
	if !itemSchema.Type.Has("object") {
		return nil
	}
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if itemSchema.Properties.Len() == 0 {
			text, err := encode(codec, m)
			if err != nil {
				return err
			}
			items[i] = text
			continue
		}
		if err := reserializeObject(m, itemSchema.Properties, codec); err != nil {
			return err
		}
	}
	return nil
}

func encode(codec json.Codec, v interface{}) (string, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NormalizeKeys renames record keys, including keys of nested objects and
// of objects inside arrays, to their SafeColumnName form so they line up with
// the translated columns. The record is modified in place and returned.
func NormalizeKeys(record map[string]interface{}) map[string]interface{} {
	for name, value := range record {
		switch v := value.(type) {
		case map[string]interface{}:
			NormalizeKeys(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					NormalizeKeys(m)
				}
			}
		}

		safe := SafeColumnName(name)
		if safe != name {
			delete(record, name)
			record[safe] = value
		}
	}
	return record
}
