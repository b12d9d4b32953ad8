// Package queue implements the per-session upload queue: accepted files move
// through pending -> processing -> completed|failed while a batch run drives
// them through the document processing service.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/instabrief/backend/internal/models"
)

// Fixed progress checkpoints. The processing service exposes no progress
// channel, so an item reports a single midpoint while its call is in flight.
const (
	progressStarted = 50
	progressDone    = 100
)

var (
	// ErrNoItems is returned by ProcessAll on an empty queue.
	ErrNoItems = errors.New("no items in queue")
	// ErrAlreadyProcessing is returned when a run is started while another is in flight.
	ErrAlreadyProcessing = errors.New("queue is already processing")
	// ErrProcessing is returned by mutations that are locked for the duration of a run.
	ErrProcessing = errors.New("not allowed while processing")
	// ErrClosed is returned after the queue has been torn down.
	ErrClosed = errors.New("queue is closed")
)

// Processor is the document processing service collaborator.
type Processor interface {
	Process(ctx context.Context, doc models.Document, settings models.SummarySettings) (*models.ProcessResult, error)
}

// Store holds the payload bytes behind each item's FileRef.
type Store interface {
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
}

// Observer receives user-visible notifications and per-item updates as they happen.
type Observer interface {
	Notify(n models.Notification)
	ItemChanged(item models.QueueItem)
	BatchDone(result models.BatchResult)
}

// Recorder persists terminal item outcomes.
type Recorder interface {
	RecordItem(ctx context.Context, queueID string, item models.QueueItem, settings models.SummarySettings) error
}

// Manager owns one ordered upload queue.
//
// The processing flag is false at construction, true only while a run started
// by ProcessAll/ProcessAllAsync is executing, and released by a deferred call
// on every exit path of the run.
type Manager struct {
	mu         sync.Mutex
	id         string
	items      []*models.QueueItem
	ids        map[string]struct{} // every id ever issued, removed items included
	settings   models.SummarySettings
	processing bool
	closed     bool
	runs       sync.WaitGroup

	store     Store
	processor Processor
	observer  Observer
	recorder  Recorder
	workers   int
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithID sets the identifier used in logs and history records.
func WithID(id string) Option {
	return func(m *Manager) {
		m.id = id
	}
}

// WithObserver routes notifications and item updates to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithRecorder records every terminal item to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithWorkers bounds how many items may be processed at once. The default of
// one keeps processing strictly sequential in queue order.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithSettings overrides the default summary settings.
func WithSettings(s models.SummarySettings) Option {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an empty queue backed by store and processor.
func NewManager(store Store, processor Processor, opts ...Option) *Manager {
	m := &Manager{
		id:        uuid.New().String(),
		ids:       make(map[string]struct{}),
		settings:  models.DefaultSettings(),
		store:     store,
		processor: processor,
		observer:  nopObserver{},
		workers:   1,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("queue_id", shortID(m.id))
	return m
}

// ID returns the queue identifier.
func (m *Manager) ID() string {
	return m.id
}

// AcceptFiles appends one pending item per file, in order, and returns the
// updated queue. Files are expected to be validated and stored already. A
// closed queue refuses the files and releases their payloads.
func (m *Manager) AcceptFiles(files []models.FileRef) ([]models.QueueItem, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		for _, f := range files {
			m.releasePayload(f)
		}
		return nil, ErrClosed
	}
	if len(files) == 0 {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, nil
	}

	added := make([]models.QueueItem, 0, len(files))
	for _, f := range files {
		item := models.NewQueueItem(m.newIDLocked(), f)
		m.items = append(m.items, item)
		added = append(added, *item)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("queue.accepted", "count", len(files), "queue_len", len(snapshot))
	for _, item := range added {
		m.observer.ItemChanged(item)
	}
	m.notify(models.NotificationSuccess, fmt.Sprintf("%d file(s) uploaded successfully", len(files)))

	return snapshot, nil
}

// newIDLocked returns an id never issued by this queue before.
func (m *Manager) newIDLocked() string {
	for {
		id := uuid.New().String()
		if _, taken := m.ids[id]; !taken {
			m.ids[id] = struct{}{}
			return id
		}
	}
}

// RemoveItem deletes the item with the given id and releases its payload.
// Unknown ids are ignored. The second return value reports whether an item
// was removed.
func (m *Manager) RemoveItem(id string) ([]models.QueueItem, bool) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, false
	}
	removed := m.items[idx]
	m.items = append(m.items[:idx], m.items[idx+1:]...)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.releasePayload(removed.File)
	m.logger.Info("queue.removed", "item_id", shortID(id), "status", removed.Status)
	return snapshot, true
}

// Items returns a snapshot of the queue in order.
func (m *Manager) Items() []models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Item returns a copy of one item.
func (m *Manager) Item(id string) (models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return models.QueueItem{}, false
	}
	return *m.items[idx], true
}

// Len returns the number of queued items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// IsProcessing reports whether a run is in flight.
func (m *Manager) IsProcessing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// Settings returns the current summary settings.
func (m *Manager) Settings() models.SummarySettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings normalizes, validates and stores new settings. Settings are
// read-only while a run is in flight.
func (m *Manager) UpdateSettings(s models.SummarySettings) (models.SummarySettings, error) {
	s, err := s.Normalize()
	if err != nil {
		return m.Settings(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processing {
		return m.settings, ErrProcessing
	}
	m.settings = s
	return s, nil
}

// Close tears the queue down, dropping every item and its payload. A run in
// flight finishes its current call but no longer finds its items.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	items := m.items
	m.items = nil
	m.mu.Unlock()

	for _, item := range items {
		m.releasePayload(item.File)
	}
	m.logger.Info("queue.closed", "released", len(items))
}

// Wait blocks until the run in flight, if any, has finished and reported
// its result.
func (m *Manager) Wait() {
	m.runs.Wait()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) releasePayload(ref models.FileRef) {
	if m.store == nil || ref.StoreID == "" {
		return
	}
	if err := m.store.Delete(ref.StoreID); err != nil {
		m.logger.Warn("queue.payload_release_failed", "store_id", shortID(ref.StoreID), "error", err)
	}
}

func (m *Manager) indexLocked(id string) int {
	for i, item := range m.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []models.QueueItem {
	out := make([]models.QueueItem, len(m.items))
	for i, item := range m.items {
		out[i] = *item
	}
	return out
}

func (m *Manager) notify(level models.NotificationLevel, msg string) {
	m.observer.Notify(models.Notification{Level: level, Message: msg, Time: time.Now()})
}

// shortID safely truncates an ID for logging
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

type nopObserver struct{}

func (nopObserver) Notify(models.Notification)   {}
func (nopObserver) ItemChanged(models.QueueItem) {}
func (nopObserver) BatchDone(models.BatchResult) {}
