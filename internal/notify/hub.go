// Package notify provides the process-wide publish/subscribe hub for
// decision outcomes and administrative mutations.
package notify

import (
	"context"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// EventType identifies the kind of notification
type EventType string

const (
	EventDecision        EventType = "authz.decision"
	EventPolicyCreated   EventType = "policy.created"
	EventPolicyUpdated   EventType = "policy.updated"
	EventPolicyActivated EventType = "policy.activated"
	EventPolicyArchived  EventType = "policy.archived"
	EventPolicyDeleted   EventType = "policy.deleted"
	EventRuleAdded       EventType = "rule.added"
	EventRuleRemoved     EventType = "rule.removed"
	EventBindingCreated  EventType = "binding.created"
	EventBindingRemoved  EventType = "binding.removed"
	EventEditorGranted   EventType = "editor.granted"
	EventEditorRevoked   EventType = "editor.revoked"
	EventSessionCreated  EventType = "session.created"
	EventSessionRevoked  EventType = "session.revoked"
)

// IsPolicyMutation reports whether the event changes what the engine evaluates
func (t EventType) IsPolicyMutation() bool {
	switch t {
	case EventDecision, EventSessionCreated, EventSessionRevoked:
		return false
	}
	return true
}

// Event is a single notification
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"event_type"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Publisher is the fire-and-forget contract components emit through
type Publisher interface {
	Publish(event Event)
}

// DefaultBufferSize is the per-subscriber buffer
const DefaultBufferSize = 1000

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the oldest queued event is dropped.
type Hub struct {
	mu         sync.Mutex
	subs       map[uint64]*subscriber
	nextID     uint64
	bufferSize int
	closed     bool
	dropped    atomic.Uint64
	published  atomic.Uint64
	logger     *zap.Logger
}

// NewHub creates a hub. bufferSize <= 0 selects DefaultBufferSize.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:       make(map[uint64]*subscriber),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish delivers the event to every subscriber without blocking
func (h *Hub) Publish(event Event) {
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.published.Add(1)

	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		// Full: evict the oldest and retry once. Publishers are serialized by
		// h.mu, so the retry only fails if a reader raced us, which frees space.
		select {
		case <-sub.ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func removes it and
// closes the channel; cancellation of ctx does the same.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	sub := &subscriber{ch: make(chan Event, h.bufferSize)}
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return sub.ch, cancel
}

// Handle subscribes fn to every event until ctx is done. fn runs on a
// dedicated goroutine so a slow handler only loses its own events.
func (h *Hub) Handle(ctx context.Context, name string, fn func(Event)) {
	events, cancel := h.Subscribe(ctx)
	go func() {
		defer cancel()
		for event := range events {
			func() {
				defer func() {
					if r := recover(); r != nil {
						h.logger.Error("Notification handler panicked",
							zap.String("handler", name),
							zap.String("event_type", string(event.Type)),
							zap.Any("panic", r),
						)
					}
				}()
				fn(event)
			}()
		}
	}()
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats returns published and dropped counters
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Close removes all subscribers. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(Event) {}
