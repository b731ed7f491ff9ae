package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hrdesk/pbac/internal/notify"
)

// fileWriter writes audit entries to a file with rotation
type fileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a new file writer with log rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	w := &fileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}

	if err := w.Write(marker(EventAuditStarted, "Audit logging started")); err != nil {
		return nil, fmt.Errorf("write startup marker: %w", err)
	}
	return w, nil
}

// marker entries are outside the hash chain
func marker(kind notify.EventType, message string) *Entry {
	return &Entry{EventType: kind, Message: message, CreatedAt: time.Now().UTC()}
}

// Write writes an entry to the file
func (w *fileWriter) Write(entry *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(entry)
}

// Close writes a shutdown marker and closes the file
func (w *fileWriter) Close() error {
	_ = w.Write(marker(EventAuditStopped, "Audit logging stopped"))
	return w.logger.Close()
}
