// Package compression compresses staged load files. BigQuery reads
// newline-delimited JSON either uncompressed or gzip-compressed, so those are
// the two supported algorithms.
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Gzip,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(payload)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
)

// Level represents compression level
type Level int

const (
	// Fastest prioritizes speed over compression ratio
	Fastest Level = 1
	// Default balances speed and compression
	Default Level = 5
	// Best maximizes compression ratio
	Best Level = 9
)

// Config configures a Compressor
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// Compressor compresses and decompresses byte slices. Implementations are
// safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// Extension is the file suffix for compressed objects, e.g. ".gz".
	Extension() string
	// Algorithm reports the algorithm in use.
	Algorithm() Algorithm
}

// ParseAlgorithm maps a configuration value to an Algorithm. The empty string
// means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", None:
		return None, nil
	case Gzip, "gz":
		return Gzip, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// NewCompressor creates a compressor for config.Algorithm
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = &Config{Algorithm: None}
	}
	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		level := config.Level
		if level == 0 {
			level = Default
		}
		return newGzipCompressor(int(level)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Extension() string                      { return "" }
func (noneCompressor) Algorithm() Algorithm                   { return None }

type gzipCompressor struct {
	level   int
	writers sync.Pool
}

func newGzipCompressor(level int) *gzipCompressor {
	c := &gzipCompressor{level: level}
	c.writers.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, level)
		return w
	}
	return c
}

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.writers.Get().(*gzip.Writer)
	defer c.writers.Put(w)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *gzipCompressor) Extension() string    { return ".gz" }
func (c *gzipCompressor) Algorithm() Algorithm { return Gzip }
