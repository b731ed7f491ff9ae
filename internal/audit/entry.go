// Package audit records notification events as a tamper-evident JSON log
package audit

import (
	"time"

	"github.com/hrdesk/pbac/internal/notify"
)

// Entry is one audit record. PrevHash links it to the entry before it.
type Entry struct {
	Sequence  uint64                 `json:"seq"`
	EventID   string                 `json:"event_id"`
	EventType notify.EventType       `json:"event_type"`
	Message   string                 `json:"message"`
	Actor     string                 `json:"actor,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	PrevHash  string                 `json:"prev_hash"`
	Hash      string                 `json:"hash"`
}

// Lifecycle markers written by the file writer
const (
	EventAuditStarted notify.EventType = "audit.started"
	EventAuditStopped notify.EventType = "audit.stopped"
)

// NewEntry converts a hub event to an unchained entry
func NewEntry(ev notify.Event) *Entry {
	e := &Entry{
		EventID:   ev.ID,
		EventType: ev.Type,
		Message:   ev.Message,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
	if actor, ok := ev.Payload["actor"].(string); ok {
		e.Actor = actor
	} else if username, ok := ev.Payload["username"].(string); ok {
		e.Actor = username
	}
	return e
}
