// Package session tracks browsing sessions, each owning one upload queue.
package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/instabrief/backend/internal/events"
	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/queue"
)

// DefaultMaxSessions limits concurrent sessions to bound payload storage.
const DefaultMaxSessions = 50

// SessionKeepAliveWindow protects recently used sessions from eviction
// when the registry is full.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// Config tunes the queues a Manager creates.
type Config struct {
	MaxSessions int
	Workers     int
	Settings    models.SummarySettings
}

// Manager handles active browsing sessions.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex

	store     queue.Store
	processor queue.Processor
	hub       *events.Hub
	recorder  queue.Recorder
	cfg       Config
	logger    *slog.Logger
}

// SessionState holds the session metadata and its queue.
type SessionState struct {
	ID           string
	CreatedAt    time.Time
	LastAccessed time.Time
	Queue        *queue.Manager
}

// NewManager creates a session registry. hub and recorder may be nil.
func NewManager(store queue.Store, processor queue.Processor, hub *events.Hub, recorder queue.Recorder, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Settings == (models.SummarySettings{}) {
		cfg.Settings = models.DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*SessionState),
		store:     store,
		processor: processor,
		hub:       hub,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create starts a new session with an empty queue.
func (m *Manager) Create() (models.BrowsingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.evictIdleLocked()
		if len(m.sessions) >= m.cfg.MaxSessions {
			return models.BrowsingSession{}, ErrTooManySessions
		}
	}

	id := uuid.New().String()
	opts := []queue.Option{
		queue.WithID(id),
		queue.WithWorkers(m.cfg.Workers),
		queue.WithSettings(m.cfg.Settings),
		queue.WithLogger(m.logger),
	}
	if m.hub != nil {
		m.hub.Open(id)
		opts = append(opts, queue.WithObserver(m.hub.For(id)))
	}
	if m.recorder != nil {
		opts = append(opts, queue.WithRecorder(m.recorder))
	}

	now := time.Now()
	state := &SessionState{
		ID:           id,
		CreatedAt:    now,
		LastAccessed: now,
		Queue:        queue.NewManager(m.store, m.processor, opts...),
	}
	m.sessions[id] = state

	m.logger.Info("session.created", "session_id", shortID(id), "active", len(m.sessions))
	return state.info(), nil
}

// evictIdleLocked removes the least recently used idle session that is
// outside the keep-alive window.
func (m *Manager) evictIdleLocked() {
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	var candidates []*SessionState
	for _, state := range m.sessions {
		if state.Queue.IsProcessing() || state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		candidates = append(candidates, state)
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})
	m.removeLocked(candidates[0])
	m.logger.Info("session.evicted", "session_id", shortID(candidates[0].ID))
}

// Get returns a session's queue and marks the session as used.
func (m *Manager) Get(id string) (*queue.Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	state.LastAccessed = time.Now()
	return state.Queue, nil
}

// Info returns a session's metadata without touching it.
func (m *Manager) Info(id string) (models.BrowsingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.BrowsingSession{}, ErrNotFound
	}
	return state.info(), nil
}

// Touch updates the LastAccessed timestamp for a session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// List returns every session, oldest first.
func (m *Manager) List() []models.BrowsingSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.BrowsingSession, 0, len(m.sessions))
	for _, state := range m.sessions {
		out = append(out, state.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete tears a session down, dropping its queue, payloads and subscribers.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	m.removeLocked(state)
	m.logger.Info("session.deleted", "session_id", shortID(id))
	return nil
}

// CleanupIdle removes sessions unused for longer than maxAge. Sessions with
// a run in flight are kept. Returns the number removed.
func (m *Manager) CleanupIdle(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, state := range m.sessions {
		if state.Queue.IsProcessing() || !state.LastAccessed.Before(cutoff) {
			continue
		}
		m.removeLocked(state)
		removed++
		m.logger.Info("session.expired", "session_id", shortID(state.ID),
			"idle", time.Since(state.LastAccessed).Round(time.Second))
	}
	return removed
}

// CloseAll tears down every session. It first waits for in-flight runs to
// report, so the context those runs were started with should already be
// cancelled.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	states := make([]*SessionState, 0, len(m.sessions))
	for _, state := range m.sessions {
		states = append(states, state)
	}
	m.mu.Unlock()

	for _, state := range states {
		state.Queue.Wait()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range states {
		if m.sessions[state.ID] == state {
			m.removeLocked(state)
		}
	}
}

func (m *Manager) removeLocked(state *SessionState) {
	delete(m.sessions, state.ID)
	state.Queue.Close()
	if m.hub != nil {
		m.hub.Drop(state.ID)
	}
}

func (s *SessionState) info() models.BrowsingSession {
	return models.BrowsingSession{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
		ItemCount:    s.Queue.Len(),
		Processing:   s.Queue.IsProcessing(),
		Settings:     s.Queue.Settings(),
	}
}

// shortID safely truncates an ID for logging
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
