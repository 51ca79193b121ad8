// Package schema translates JSON-schema stream descriptions into BigQuery
// table schemas and keeps records compatible with the translated columns.
package schema

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
)

// TypeList is the JSON-schema "type" keyword. It decodes from either a single
// string or an array of strings. A nil TypeList means the keyword was absent.
type TypeList []string

// UnmarshalJSON implements json.Unmarshaler
func (t *TypeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*t = TypeList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or an array of strings: %w", err)
	}
	*t = many
	return nil
}

// Has reports whether name is one of the listed types
func (t TypeList) Has(name string) bool {
	for _, v := range t {
		if v == name {
			return true
		}
	}
	return false
}

// orDefault returns the list, or ["string"] when the keyword was absent
func (t TypeList) orDefault() TypeList {
	if t == nil {
		return TypeList{"string"}
	}
	return t
}

// Property is one node of a JSON-schema document.
type Property struct {
	Type       TypeList   `json:"type"`
	Format     string     `json:"format"`
	Properties Properties `json:"properties"`
	Items      *Property  `json:"items"`
}

// Properties is an insertion-ordered set of named properties.
type Properties struct {
	names  []string
	byName map[string]*Property
}

// Len returns the number of properties
func (p Properties) Len() int {
	return len(p.names)
}

// Names returns the property names in declaration order
func (p Properties) Names() []string {
	return append([]string(nil), p.names...)
}

// Get returns the named property
func (p Properties) Get(name string) (*Property, bool) {
	prop, ok := p.byName[name]
	return prop, ok
}

// Set adds or replaces a property. A replaced property keeps its position.
func (p *Properties) Set(name string, prop *Property) {
	if p.byName == nil {
		p.byName = make(map[string]*Property)
	}
	if _, exists := p.byName[name]; !exists {
		p.names = append(p.names, name)
	}
	p.byName[name] = prop
}

// UnmarshalJSON decodes a JSON object keeping the key order.
func (p *Properties) UnmarshalJSON(data []byte) error {
	*p = Properties{}

	dec := stdjson.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties must be an object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key %v", keyTok)
		}

		var raw stdjson.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}

		prop := &Property{}
		if err := json.Unmarshal(raw, prop); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		p.Set(name, prop)
	}

	_, err = dec.Token()
	return err
}

// ParseSchema decodes a JSON-schema document.
func ParseSchema(data []byte) (*Property, error) {
	root := &Property{}
	if err := json.Unmarshal(data, root); err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeSchema, "failed to parse JSON schema")
	}
	return root, nil
}
