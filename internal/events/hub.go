// Package events fans queue notifications and item updates out to the
// clients watching a session over SSE or WebSocket.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/queue"
)

// Type classifies an event.
type Type string

const (
	TypeNotification Type = "notification"
	TypeItem         Type = "item"
	TypeBatch        Type = "batch"
)

// Event is one message delivered to session subscribers.
type Event struct {
	ID           uint64               `json:"id" msgpack:"id"`
	Type         Type                 `json:"type" msgpack:"type"`
	SessionID    string               `json:"sessionId" msgpack:"sessionId"`
	Notification *models.Notification `json:"notification,omitempty" msgpack:"notification,omitempty"`
	Item         *models.QueueItem    `json:"item,omitempty" msgpack:"item,omitempty"`
	Batch        *models.BatchResult  `json:"batch,omitempty" msgpack:"batch,omitempty"`
	Timestamp    time.Time            `json:"timestamp" msgpack:"timestamp"`
}

const (
	DefaultBufferSize  = 64
	DefaultHistorySize = 100
)

// Hub routes events to per-session subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event. History is kept only for
// sessions registered with Open and is forgotten on Drop.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	subs        map[string]map[*Subscription]struct{}
	history     map[string][]Event
	bufferSize  int
	historySize int
	logger      *slog.Logger
}

// NewHub creates a hub. Non-positive sizes take the defaults.
func NewHub(bufferSize, historySize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:        make(map[string]map[*Subscription]struct{}),
		history:     make(map[string][]Event),
		bufferSize:  bufferSize,
		historySize: historySize,
		logger:      logger,
	}
}

// Open starts retaining replay history for sessionID.
func (h *Hub) Open(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.history[sessionID]; !ok {
		h.history[sessionID] = []Event{}
	}
}

// Subscription receives a session's events on C until closed.
type Subscription struct {
	C <-chan Event

	ch        chan Event
	hub       *Hub
	sessionID string
	dropped   int
	closed    bool
}

// Subscribe registers a subscriber for sessionID. With replay set, the most
// recent buffered history is delivered first.
func (h *Hub) Subscribe(sessionID string, replay bool) *Subscription {
	ch := make(chan Event, h.bufferSize)
	sub := &Subscription{C: ch, ch: ch, hub: h, sessionID: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if replay {
		past := h.history[sessionID]
		if len(past) > h.bufferSize {
			past = past[len(past)-h.bufferSize:]
		}
		for _, e := range past {
			ch <- e
		}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(s)
}

// Dropped reports how many events this subscriber missed.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

func (h *Hub) closeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if set := h.subs[s.sessionID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.sessionID)
		}
	}
}

// Publish stamps e and delivers it to the session's subscribers.
func (h *Hub) Publish(e Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	e.ID = h.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if past, ok := h.history[e.SessionID]; ok {
		past = append(past, e)
		if len(past) > h.historySize {
			past = past[len(past)-h.historySize:]
		}
		h.history[e.SessionID] = past
	}

	for sub := range h.subs[e.SessionID] {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
			if sub.dropped == 1 {
				h.logger.Warn("events.subscriber_slow", "session_id", e.SessionID, "event_id", e.ID)
			}
		}
	}
	return e
}

// History returns the retained events of a session, oldest first.
func (h *Hub) History(sessionID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.history[sessionID]...)
}

// Subscribers returns the number of live subscribers of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Drop closes every subscription of a session and forgets its history. Later
// events for the session reach new subscribers only.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		h.closeLocked(sub)
	}
	delete(h.history, sessionID)
}

// For returns the queue observer that publishes into sessionID.
func (h *Hub) For(sessionID string) queue.Observer {
	return &sessionObserver{hub: h, sessionID: sessionID}
}

type sessionObserver struct {
	hub       *Hub
	sessionID string
}

func (o *sessionObserver) Notify(n models.Notification) {
	o.hub.Publish(Event{Type: TypeNotification, SessionID: o.sessionID, Notification: &n, Timestamp: n.Time})
}

func (o *sessionObserver) ItemChanged(item models.QueueItem) {
	o.hub.Publish(Event{Type: TypeItem, SessionID: o.sessionID, Item: &item})
}

func (o *sessionObserver) BatchDone(r models.BatchResult) {
	o.hub.Publish(Event{Type: TypeBatch, SessionID: o.sessionID, Batch: &r})
}
