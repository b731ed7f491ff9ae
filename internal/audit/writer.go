package audit

// Writer writes audit entries to a destination
type Writer interface {
	// Write writes an entry
	Write(entry *Entry) error

	// Close closes the writer
	Close() error
}
