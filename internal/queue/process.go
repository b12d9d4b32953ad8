package queue

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/instabrief/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// ProcessAll runs every queued item through the processor and blocks until
// each has reached a terminal status.
func (m *Manager) ProcessAll(ctx context.Context) (models.BatchResult, error) {
	done, err := m.ProcessAllAsync(ctx)
	if err != nil {
		return models.BatchResult{}, err
	}
	return <-done, nil
}

// ProcessAllAsync checks the preconditions and claims the processing flag
// synchronously, then runs the batch in the background. The returned channel
// yields the batch result once, after the flag has been released.
//
// A run covers every item queued when it starts. Items left terminal by an
// earlier run are reset to pending first, so within one run every item moves
// pending -> processing -> completed|failed exactly once.
func (m *Manager) ProcessAllAsync(ctx context.Context) (<-chan models.BatchResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if len(m.items) == 0 {
		m.mu.Unlock()
		m.notify(models.NotificationError, "Please upload at least one file")
		return nil, ErrNoItems
	}
	if m.processing {
		m.mu.Unlock()
		return nil, ErrAlreadyProcessing
	}
	m.processing = true
	m.runs.Add(1)
	settings := m.settings
	ids := make([]string, len(m.items))
	var reset []models.QueueItem
	for i, item := range m.items {
		ids[i] = item.ID
		if item.Status != models.ItemStatusPending {
			resetItem(item)
			reset = append(reset, *item)
		}
	}
	m.mu.Unlock()

	for _, item := range reset {
		m.observer.ItemChanged(item)
	}

	m.logger.Info("queue.run_started", "items", len(ids), "workers", m.workers,
		"algorithm", settings.Algorithm, "max_length", settings.MaxLength, "language", settings.Language)

	done := make(chan models.BatchResult, 1)
	go m.run(ctx, ids, settings, done)
	return done, nil
}

func (m *Manager) run(ctx context.Context, ids []string, settings models.SummarySettings, done chan<- models.BatchResult) {
	start := time.Now()
	var result models.BatchResult

	defer m.runs.Done()
	defer func() {
		done <- result
		close(done)
	}()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("queue.run_panic", "panic", r)
			m.failUnfinished(ids, fmt.Errorf("processing aborted: %v", r))
		}
		result = m.tally(ids)
		m.release()

		m.logger.Info("queue.run_finished",
			"completed", result.Completed,
			"failed", result.Failed,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		m.announce(result)
	}()

	if m.workers <= 1 {
		for _, id := range ids {
			m.processItem(ctx, id, settings)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("queue.item_panic", "item_id", shortID(id), "panic", r)
					m.failUnfinished([]string{id}, fmt.Errorf("processing aborted: %v", r))
				}
			}()
			m.processItem(ctx, id, settings)
			return nil
		})
	}
	g.Wait()
}

// processItem drives one item through processing. Failures stay local to the item.
func (m *Manager) processItem(ctx context.Context, id string, settings models.SummarySettings) {
	item, ok := m.transition(id, func(it *models.QueueItem) bool {
		if it.Status != models.ItemStatusPending {
			return false
		}
		now := time.Now()
		it.Status = models.ItemStatusProcessing
		it.Progress = progressStarted
		it.StartedAt = &now
		return true
	})
	if !ok {
		// removed since the run started
		return
	}

	res, err := m.callProcessor(ctx, item, settings)

	var final models.QueueItem
	if err != nil {
		final, ok = m.transition(id, failWith(err))
		m.logger.Warn("queue.item_failed", "item_id", shortID(id), "file", item.File.Name, "error", err)
	} else {
		final, ok = m.transition(id, func(it *models.QueueItem) bool {
			if it.Status != models.ItemStatusProcessing {
				return false
			}
			now := time.Now()
			it.Status = models.ItemStatusCompleted
			it.Progress = progressDone
			it.DocumentID = res.DocumentID
			it.Summary = res.Summary
			it.FinishedAt = &now
			return true
		})
		m.logger.Info("queue.item_completed", "item_id", shortID(id), "file", item.File.Name, "document_id", res.DocumentID)
	}

	if ok && m.recorder != nil {
		if err := m.recorder.RecordItem(context.WithoutCancel(ctx), m.id, final, settings); err != nil {
			m.logger.Warn("queue.record_failed", "item_id", shortID(id), "error", err)
		}
	}
}

// callProcessor loads the payload and calls the processor, converting a
// processor panic into an item failure.
func (m *Manager) callProcessor(ctx context.Context, item models.QueueItem, settings models.SummarySettings) (res *models.ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("processor panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.processor == nil {
		return nil, fmt.Errorf("no processor configured")
	}

	content, err := m.readPayload(item.File)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	res, err = m.processor.Process(ctx, models.Document{
		ItemID:  item.ID,
		Name:    item.File.Name,
		Type:    item.File.Type,
		Content: content,
	}, settings)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &models.ProcessResult{}
	}
	return res, nil
}

func (m *Manager) readPayload(ref models.FileRef) ([]byte, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no payload store configured")
	}
	rc, err := m.store.Open(ref.StoreID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// transition applies fn to the item under the lock and publishes the result
// if fn reports a change.
func (m *Manager) transition(id string, fn func(*models.QueueItem) bool) (models.QueueItem, bool) {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 || !fn(m.items[idx]) {
		m.mu.Unlock()
		return models.QueueItem{}, false
	}
	item := *m.items[idx]
	m.mu.Unlock()

	m.observer.ItemChanged(item)
	return item, true
}

func failWith(err error) func(*models.QueueItem) bool {
	return func(it *models.QueueItem) bool {
		if it.Status != models.ItemStatusProcessing {
			return false
		}
		now := time.Now()
		it.Status = models.ItemStatusFailed
		it.Error = err.Error()
		it.FinishedAt = &now
		return true
	}
}

// failUnfinished moves every non-terminal item of the run to failed, passing
// through processing so the state machine is respected.
func (m *Manager) failUnfinished(ids []string, err error) {
	for _, id := range ids {
		m.transition(id, func(it *models.QueueItem) bool {
			if it.Status != models.ItemStatusPending {
				return false
			}
			now := time.Now()
			it.Status = models.ItemStatusProcessing
			it.Progress = progressStarted
			it.StartedAt = &now
			return true
		})
		m.transition(id, failWith(err))
	}
}

func (m *Manager) tally(ids []string) models.BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r models.BatchResult
	for _, id := range ids {
		idx := m.indexLocked(id)
		if idx < 0 {
			continue
		}
		switch m.items[idx].Status {
		case models.ItemStatusCompleted:
			r.Completed++
		case models.ItemStatusFailed:
			r.Failed++
		}
	}
	r.Total = r.Completed + r.Failed
	return r
}

func (m *Manager) release() {
	m.mu.Lock()
	m.processing = false
	m.mu.Unlock()
}

// announce emits the single aggregate notification for a run. A queue torn
// down mid-run has nobody left to tell.
func (m *Manager) announce(r models.BatchResult) {
	if m.isClosed() {
		return
	}
	if r.Failed == 0 {
		m.notify(models.NotificationSuccess, "All files processed successfully!")
	} else {
		m.notify(models.NotificationWarning,
			fmt.Sprintf("Processed %d file(s): %d completed, %d failed", r.Total, r.Completed, r.Failed))
	}
	m.observer.BatchDone(r)
}

func resetItem(it *models.QueueItem) {
	it.Status = models.ItemStatusPending
	it.Progress = 0
	it.Error = ""
	it.DocumentID = ""
	it.Summary = ""
	it.StartedAt = nil
	it.FinishedAt = nil
}
