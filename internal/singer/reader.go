// Package singer reads the newline-delimited messages the CLI feeds into a
// target: SCHEMA registers a stream, RECORD carries one row and STATE is a
// checkpoint to echo once everything before it is committed.
package singer

import (
	"bufio"
	"bytes"
	"io"

	"github.com/ajitpratap0/bqtarget/pkg/json"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
)

// MessageType is the "type" field of a message
type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// maxLineSize bounds a single message
const maxLineSize = 64 * 1024 * 1024

// Message is one decoded line. Fields not used by Type are zero.
type Message struct {
	Type          MessageType            `json:"type"`
	Stream        string                 `json:"stream"`
	Schema        json.RawMessage        `json:"schema,omitempty"`
	KeyProperties []string               `json:"key_properties,omitempty"`
	Record        map[string]interface{} `json:"record,omitempty"`
	Value         json.RawMessage        `json:"value,omitempty"`
}

// Reader decodes messages from a line-oriented stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader returns a Reader over r
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next message, or io.EOF once the input is exhausted.
// Blank lines are skipped. Numbers in records are kept as json.Number.
func (r *Reader) Next() (*Message, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.NewDecoder(bytes.NewReader(line)).Decode(&msg); err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "malformed message").
				WithDetail("line", r.line)
		}
		if err := msg.validate(); err != nil {
			return nil, err.WithDetail("line", r.line)
		}
		return &msg, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to read input").
			WithDetail("line", r.line)
	}
	return nil, io.EOF
}

func (m *Message) validate() *nebulaerrors.Error {
	switch m.Type {
	case TypeSchema:
		if m.Stream == "" || len(m.Schema) == 0 {
			return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "SCHEMA needs stream and schema")
		}
	case TypeRecord:
		if m.Stream == "" || m.Record == nil {
			return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "RECORD needs stream and record")
		}
	case TypeState:
	default:
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "unknown message type").
			WithDetail("type", string(m.Type))
	}
	return nil
}
