package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"sync"
)

// syslogWriter writes audit entries to syslog
type syslogWriter struct {
	writer *syslog.Writer
	mu     sync.Mutex
}

// NewSyslogWriter creates a new syslog writer
func NewSyslogWriter(protocol, address string) (Writer, error) {
	if protocol == "" {
		protocol = "tcp"
	}

	writer, err := syslog.Dial(protocol, address, syslog.LOG_INFO|syslog.LOG_LOCAL0, "pbac")
	if err != nil {
		return nil, fmt.Errorf("connect to syslog: %w", err)
	}

	return &syslogWriter{writer: writer}, nil
}

// Write writes an entry to syslog as JSON
func (w *syslogWriter) Write(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return w.writer.Info(string(data))
}

// Close closes the syslog writer
func (w *syslogWriter) Close() error {
	return w.writer.Close()
}
