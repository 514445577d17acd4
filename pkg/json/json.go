// Package json provides JSON serialization on goccy/go-json with pooled
// encode buffers
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/aether/pkg/pool"
)

const (
	initialBufferSize = 4096
	// maxPooledBuffer is the largest buffer kept for reuse.
	maxPooledBuffer = 1024 * 1024
)

var buffers = pool.Make(0,
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, initialBufferSize)) },
	func(b **bytes.Buffer) {
		if (*b).Cap() > maxPooledBuffer {
			*b = bytes.NewBuffer(make([]byte, 0, initialBufferSize))
			return
		}
		(*b).Reset()
	},
	pool.WithName("json_buffers"),
)

// Marshal is a high-performance drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a high-performance drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a high-performance replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// MarshalToWriter encodes v followed by a newline through a pooled buffer
// and writes it to w in a single call.
func MarshalToWriter(w io.Writer, v interface{}) error {
	buf := buffers.MustTakeOrMake()
	defer buf.Release()

	b := *buf.Value()
	enc := gojson.NewEncoder(b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// LineWriter writes one JSON document per line. It is safe for concurrent
// use; each document is written atomically.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter returns a LineWriter on w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Write encodes v as one line.
func (lw *LineWriter) Write(v interface{}) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return MarshalToWriter(lw.w, v)
}
