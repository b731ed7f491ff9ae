package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/notify"
)

// Config for the audit recorder
type Config struct {
	// Enabled enables audit logging
	Enabled bool `yaml:"enabled"`

	// Output type: stdout, file or syslog
	Type string `yaml:"type"`

	// For file output
	FilePath       string `yaml:"file_path"`
	FileMaxSize    int    `yaml:"file_max_size_mb"`
	FileMaxAge     int    `yaml:"file_max_age_days"`
	FileMaxBackups int    `yaml:"file_max_backups"`

	// For syslog
	SyslogAddr     string `yaml:"syslog_addr"`
	SyslogProtocol string `yaml:"syslog_protocol"` // tcp, udp, unix

	// IncludeDecisions also records authz.decision events
	IncludeDecisions bool `yaml:"include_decisions"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Type {
	case "stdout":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("file path is required for file output")
		}
	case "syslog":
		if c.SyslogAddr == "" {
			return fmt.Errorf("syslog address is required for syslog output")
		}
	case "":
		return fmt.Errorf("audit type is required")
	default:
		return fmt.Errorf("invalid audit type: %s (must be stdout, file, or syslog)", c.Type)
	}
	return nil
}

// NewWriter creates the writer selected by cfg
func NewWriter(cfg Config) (Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Type {
	case "file":
		w, err := NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
		return w, nil
	case "syslog":
		w, err := NewSyslogWriter(cfg.SyslogProtocol, cfg.SyslogAddr)
		if err != nil {
			return nil, fmt.Errorf("create syslog writer: %w", err)
		}
		return w, nil
	default:
		return NewStdoutWriter(), nil
	}
}

// Recorder writes hub events to an audit Writer. Write failures are logged
// and never reach the publisher.
type Recorder struct {
	writer           Writer
	chain            *HashChain
	includeDecisions bool
	logger           *zap.Logger
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w Writer, includeDecisions bool, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		writer:           w,
		chain:            NewHashChain(),
		includeDecisions: includeDecisions,
		logger:           logger,
	}
}

// Start records every hub event until ctx is done
func (r *Recorder) Start(ctx context.Context, hub *notify.Hub) {
	hub.Handle(ctx, "audit", r.Record)
}

// Record chains and writes a single event
func (r *Recorder) Record(ev notify.Event) {
	if ev.Type == notify.EventDecision && !r.includeDecisions {
		return
	}

	entry := NewEntry(ev)
	if err := r.chain.Append(entry); err != nil {
		r.logger.Error("Failed to chain audit entry", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if err := r.writer.Write(entry); err != nil {
		r.logger.Error("Failed to write audit entry",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// Close closes the underlying writer
func (r *Recorder) Close() error {
	return r.writer.Close()
}
