// Package json provides the JSON codec used for record encoding, backed by
// goccy/go-json, with pooled buffers for newline-delimited output.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Codec serializes and deserializes records. Sinks receive a Codec as a
// dependency so the encoder is chosen per sink rather than process-wide.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Number is a JSON number literal kept as text.
type Number = gojson.Number

// RawMessage is a raw encoded JSON value.
type RawMessage = gojson.RawMessage

type goccyCodec struct{}

func (goccyCodec) Marshal(v interface{}) ([]byte, error) {
	return gojson.MarshalWithOption(v, gojson.DisableHTMLEscape())
}

func (goccyCodec) Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Default is the compact, non-HTML-escaping goccy codec.
var Default Codec = goccyCodec{}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal encodes v with the default codec
func Marshal(v interface{}) ([]byte, error) {
	return Default.Marshal(v)
}

// Unmarshal decodes data with the default codec
func Unmarshal(data []byte, v interface{}) error {
	return Default.Unmarshal(data, v)
}

// NewDecoder returns a streaming decoder that keeps numbers as Number so
// large integers survive the trip into a record.
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// AppendLine encodes v with codec and writes it to buf followed by '\n'.
func AppendLine(buf *bytes.Buffer, codec Codec, v interface{}) error {
	if codec == nil {
		codec = Default
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

// MarshalLines encodes records as newline-delimited JSON.
func MarshalLines(codec Codec, records []map[string]interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	for _, record := range records {
		if err := AppendLine(buf, codec, record); err != nil {
			return nil, err
		}
	}

	// Copy since the buffer goes back to the pool
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
