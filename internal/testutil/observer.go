package testutil

import (
	"sync"

	"github.com/instabrief/backend/internal/models"
)

// RecordingObserver captures everything a queue publishes
type RecordingObserver struct {
	mu            sync.Mutex
	notifications []models.Notification
	updates       []models.QueueItem
	batches       []models.BatchResult
}

func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (o *RecordingObserver) Notify(n models.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications = append(o.notifications, n)
}

func (o *RecordingObserver) ItemChanged(item models.QueueItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, item)
}

func (o *RecordingObserver) BatchDone(r models.BatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, r)
}

func (o *RecordingObserver) Notifications() []models.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.Notification(nil), o.notifications...)
}

func (o *RecordingObserver) Updates() []models.QueueItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.QueueItem(nil), o.updates...)
}

func (o *RecordingObserver) Batches() []models.BatchResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.BatchResult(nil), o.batches...)
}

// UpdatesFor returns the published states of one item, in order
func (o *RecordingObserver) UpdatesFor(id string) []models.QueueItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.QueueItem
	for _, u := range o.updates {
		if u.ID == id {
			out = append(out, u)
		}
	}
	return out
}
