package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// streamWriter writes audit entries to a stream as JSON lines
type streamWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter() Writer {
	return NewStreamWriter(os.Stdout)
}

// NewStreamWriter creates a writer encoding entries to w. Closing it does
// not close w.
func NewStreamWriter(w io.Writer) Writer {
	return &streamWriter{encoder: json.NewEncoder(w)}
}

// Write writes an entry as one JSON line
func (w *streamWriter) Write(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(entry)
}

// Close is a no-op
func (w *streamWriter) Close() error {
	return nil
}
