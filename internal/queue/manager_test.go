package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t        *testing.T
	store    *testutil.MockStorage
	proc     *testutil.MockProcessor
	observer *testutil.RecordingObserver
	mgr      *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    testutil.NewMockStorage(),
		proc:     testutil.NewMockProcessor(),
		observer: testutil.NewRecordingObserver(),
	}
	opts = append([]Option{WithObserver(f.observer)}, opts...)
	f.mgr = NewManager(f.store, f.proc, opts...)
	return f
}

func (f *fixture) accept(names ...string) []models.QueueItem {
	refs := make([]models.FileRef, len(names))
	for i, n := range names {
		refs[i] = f.store.AddRef(n, []byte("content of "+n))
	}
	items, err := f.mgr.AcceptFiles(refs)
	require.NoError(f.t, err)
	return items
}

func statuses(items []models.QueueItem) []models.ItemStatus {
	out := make([]models.ItemStatus, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

func TestManager_AcceptFiles(t *testing.T) {
	t.Run("appends one pending item per file in order", func(t *testing.T) {
		f := newFixture(t)

		items := f.accept("a.pdf", "b.txt", "c.docx")

		require.Len(t, items, 3)
		seen := map[string]bool{}
		for i, name := range []string{"a.pdf", "b.txt", "c.docx"} {
			assert.Equal(t, name, items[i].File.Name)
			assert.Equal(t, models.ItemStatusPending, items[i].Status)
			assert.Equal(t, 0, items[i].Progress)
			assert.NotEmpty(t, items[i].ID)
			assert.False(t, seen[items[i].ID], "duplicate id %s", items[i].ID)
			seen[items[i].ID] = true
		}
	})

	t.Run("keeps existing items and never reuses ids", func(t *testing.T) {
		f := newFixture(t)
		first := f.accept("a.pdf")
		f.mgr.RemoveItem(first[0].ID)

		items := f.accept("a.pdf", "a.pdf")
		require.Len(t, items, 2)
		assert.NotEqual(t, items[0].ID, items[1].ID, "duplicate names are distinct items")
		assert.NotEqual(t, first[0].ID, items[0].ID)
		assert.NotEqual(t, first[0].ID, items[1].ID)

		more := f.accept("b.txt")
		require.Len(t, more, 3)
		assert.Equal(t, items[0].ID, more[0].ID)
		assert.Equal(t, items[1].ID, more[1].ID)
		assert.Equal(t, "b.txt", more[2].File.Name)
	})

	t.Run("notifies how many files were accepted", func(t *testing.T) {
		f := newFixture(t)

		f.accept("a.pdf", "b.txt")

		notes := f.observer.Notifications()
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationSuccess, notes[0].Level)
		assert.Equal(t, "2 file(s) uploaded successfully", notes[0].Message)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		f := newFixture(t)

		items, err := f.mgr.AcceptFiles(nil)

		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Empty(t, f.observer.Notifications())
	})
}

func TestManager_RemoveItem(t *testing.T) {
	t.Run("removes exactly the item and keeps order", func(t *testing.T) {
		f := newFixture(t)
		items := f.accept("a.pdf", "b.txt", "c.docx")

		after, removed := f.mgr.RemoveItem(items[1].ID)

		assert.True(t, removed)
		require.Len(t, after, 2)
		assert.Equal(t, items[0].ID, after[0].ID)
		assert.Equal(t, items[2].ID, after[1].ID)
		assert.False(t, f.store.Has(items[1].File.StoreID), "payload should be released")
		assert.True(t, f.store.Has(items[0].File.StoreID))
	})

	t.Run("absent id leaves queue unchanged", func(t *testing.T) {
		f := newFixture(t)
		items := f.accept("a.pdf", "b.txt")

		var after []models.QueueItem
		var removed bool
		assert.NotPanics(t, func() {
			after, removed = f.mgr.RemoveItem("does-not-exist")
		})

		assert.False(t, removed)
		assert.Equal(t, items, after)
		assert.Empty(t, f.store.Deleted())
	})
}

func TestManager_ProcessAll_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	var sawProcessing atomic.Bool
	f.observer = testutil.NewRecordingObserver()
	f.mgr = NewManager(f.store, f.proc, WithObserver(watchProcessing{f.observer, func() bool { return f.mgr.IsProcessing() }, &sawProcessing}))

	result, err := f.mgr.ProcessAll(context.Background())

	assert.ErrorIs(t, err, ErrNoItems)
	assert.Equal(t, models.BatchResult{}, result)
	assert.Empty(t, f.mgr.Items())
	assert.False(t, f.mgr.IsProcessing())
	assert.False(t, sawProcessing.Load(), "processing flag must never be set")
	assert.Empty(t, f.proc.Calls())

	notes := f.observer.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationError, notes[0].Level)
	assert.Equal(t, "Please upload at least one file", notes[0].Message)
	assert.Empty(t, f.observer.Batches())
}

// watchProcessing records whether the processing flag was ever observed set.
type watchProcessing struct {
	*testutil.RecordingObserver
	isProcessing func() bool
	saw          *atomic.Bool
}

func (w watchProcessing) Notify(n models.Notification) {
	if w.isProcessing() {
		w.saw.Store(true)
	}
	w.RecordingObserver.Notify(n)
}

func TestManager_ProcessAll_Scenario(t *testing.T) {
	f := newFixture(t)
	f.proc.FailOn("b.txt")
	items := f.accept("a.pdf", "b.txt", "c.docx")
	require.Equal(t, []models.ItemStatus{"pending", "pending", "pending"}, statuses(items))

	result, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	final := f.mgr.Items()
	require.Len(t, final, 3)
	assert.Equal(t, models.ItemStatusCompleted, final[0].Status)
	assert.Equal(t, models.ItemStatusFailed, final[1].Status)
	assert.Equal(t, models.ItemStatusCompleted, final[2].Status)
	assert.Equal(t, 100, final[0].Progress)
	assert.Equal(t, 100, final[2].Progress)
	assert.Contains(t, final[1].Error, testutil.ErrMockFailure.Error())
	assert.Equal(t, "doc-"+final[0].ID, final[0].DocumentID)
	assert.Equal(t, "summary of c.docx", final[2].Summary)

	assert.Equal(t, models.BatchResult{Total: 3, Completed: 2, Failed: 1}, result)
	assert.Equal(t, []string{"a.pdf", "b.txt", "c.docx"}, f.proc.CallNames())

	batches := f.observer.Batches()
	require.Len(t, batches, 1, "aggregate notification fires exactly once")
	notes := f.observer.Notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, models.NotificationWarning, last.Level)
	assert.Equal(t, "Processed 3 file(s): 2 completed, 1 failed", last.Message)
}

func TestManager_ProcessAll_AllSucceed(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf", "b.txt")

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Total: 2, Completed: 2}, result)
	notes := f.observer.Notifications()
	assert.Equal(t, "All files processed successfully!", notes[len(notes)-1].Message)
	assert.Equal(t, models.NotificationSuccess, notes[len(notes)-1].Level)
}

func TestManager_ProcessAll_SequentialOrdering(t *testing.T) {
	f := newFixture(t)
	f.proc.FailOn("b.txt")
	items := f.accept("a.pdf", "b.txt", "c.docx", "d.pptx")

	_, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	updates := f.observer.Updates()
	position := func(id string, match func(models.QueueItem) bool) int {
		for i, u := range updates {
			if u.ID == id && match(u) {
				return i
			}
		}
		t.Fatalf("no matching update for %s", id)
		return -1
	}
	for i := 0; i+1 < len(items); i++ {
		a, b := items[i].ID, items[i+1].ID
		aDone := position(a, func(u models.QueueItem) bool { return u.Status.IsTerminal() })
		bStart := position(b, func(u models.QueueItem) bool { return u.Status == models.ItemStatusProcessing })
		assert.Less(t, aDone, bStart, "item %d must finish before item %d starts", i, i+1)
	}
}

func TestManager_ProcessAll_ProgressAndTransitions(t *testing.T) {
	f := newFixture(t)
	f.proc.FailOn("bad.txt")
	items := f.accept("good.pdf", "bad.txt")

	_, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	good := f.observer.UpdatesFor(items[0].ID)
	require.Len(t, good, 3)
	assert.Equal(t, []models.ItemStatus{"pending", "processing", "completed"}, statuses(good))
	assert.Equal(t, []int{0, 50, 100}, []int{good[0].Progress, good[1].Progress, good[2].Progress})

	bad := f.observer.UpdatesFor(items[1].ID)
	require.Len(t, bad, 3)
	assert.Equal(t, []models.ItemStatus{"pending", "processing", "failed"}, statuses(bad))
	for i := 1; i < len(bad); i++ {
		assert.GreaterOrEqual(t, bad[i].Progress, bad[i-1].Progress)
	}
}

func TestManager_ProcessAll_ProcessingFlag(t *testing.T) {
	f := newFixture(t)
	f.proc.FailOn("b.txt")
	f.accept("a.pdf", "b.txt", "c.docx")

	var during []bool
	var mu sync.Mutex
	f.proc.OnProcess = func(context.Context, models.Document) {
		mu.Lock()
		during = append(during, f.mgr.IsProcessing())
		mu.Unlock()
	}

	assert.False(t, f.mgr.IsProcessing())
	_, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.False(t, f.mgr.IsProcessing())
	assert.Equal(t, []bool{true, true, true}, during)
}

func TestManager_ProcessAll_PanicReleasesFlag(t *testing.T) {
	f := newFixture(t)
	f.proc.PanicOn("boom.txt")
	f.accept("a.pdf", "boom.txt", "c.docx")

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.False(t, f.mgr.IsProcessing())
	assert.Equal(t, models.BatchResult{Total: 3, Completed: 2, Failed: 1}, result)
	items := f.mgr.Items()
	assert.Equal(t, models.ItemStatusFailed, items[1].Status)
	assert.Contains(t, items[1].Error, "processor panic")
}

func TestManager_ProcessAll_MissingPayloadFailsItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.AcceptFiles([]models.FileRef{{StoreID: "gone", Name: "x.txt", Type: models.FileTypeTXT}})
	require.NoError(t, err)

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, f.mgr.Items()[0].Error, "reading payload")
	assert.Empty(t, f.proc.Calls())
}

func TestManager_ProcessAllAsync_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf", "b.txt")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f.proc.OnProcess = func(context.Context, models.Document) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}

	done, err := f.mgr.ProcessAllAsync(context.Background())
	require.NoError(t, err)
	<-started

	assert.True(t, f.mgr.IsProcessing())
	_, err = f.mgr.ProcessAllAsync(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	_, err = f.mgr.UpdateSettings(models.SummarySettings{Algorithm: "lsa", MaxLength: 100, Language: "fr"})
	assert.ErrorIs(t, err, ErrProcessing)

	close(release)
	result := <-done
	assert.Equal(t, 2, result.Completed)
	assert.False(t, f.mgr.IsProcessing())
	assert.Len(t, f.observer.Batches(), 1)
}

func TestManager_ProcessAll_UsesSettingsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf")
	want, err := f.mgr.UpdateSettings(models.SummarySettings{Algorithm: "bert", MaxLength: 300, Language: "DE"})
	require.NoError(t, err)

	_, err = f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	seen := f.proc.SettingsSeen()
	require.Len(t, seen, 1)
	assert.Equal(t, want, seen[0])
	assert.Equal(t, models.AlgorithmBART, seen[0].Algorithm)
	assert.Equal(t, "de", seen[0].Language)
}

func TestManager_ProcessAll_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf", "b.txt")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.mgr.ProcessAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Total: 2, Failed: 2}, result)
	for _, it := range f.mgr.Items() {
		assert.Equal(t, models.ItemStatusFailed, it.Status)
		assert.Contains(t, it.Error, context.Canceled.Error())
	}
	assert.Empty(t, f.proc.Calls())
	assert.False(t, f.mgr.IsProcessing())
}

func TestManager_ProcessAll_Rerun(t *testing.T) {
	f := newFixture(t)
	f.proc.FailOn("b.txt")
	items := f.accept("a.pdf", "b.txt")
	_, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	f.proc.FailWith("b.txt", nil)
	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Total: 2, Completed: 2}, result)
	after := f.mgr.Items()
	assert.Equal(t, items[1].ID, after[1].ID)
	assert.Empty(t, after[1].Error)
	assert.Equal(t, 100, after[1].Progress)
}

func TestManager_ProcessAll_RemoveDuringRun(t *testing.T) {
	f := newFixture(t)
	items := f.accept("a.pdf", "b.txt", "c.docx")
	f.proc.OnProcess = func(_ context.Context, doc models.Document) {
		if doc.Name == "a.pdf" {
			f.mgr.RemoveItem(items[1].ID)
		}
	}

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Total: 2, Completed: 2}, result)
	assert.Equal(t, []string{"a.pdf", "c.docx"}, f.proc.CallNames())
	assert.Len(t, f.mgr.Items(), 2)
}

func TestManager_ProcessAll_WorkerPool(t *testing.T) {
	f := newFixture(t, WithWorkers(3))
	f.proc.FailOn("e.txt")
	f.accept("a.pdf", "b.txt", "c.docx", "d.pptx", "e.txt", "f.txt")

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once
	f.proc.OnProcess = func(context.Context, models.Document) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if n == 3 {
			once.Do(func() { close(release) })
		}
		<-release
		inFlight.Add(-1)
	}

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Total: 6, Completed: 5, Failed: 1}, result)
	assert.EqualValues(t, 3, peak.Load())
	for _, it := range f.mgr.Items() {
		assert.True(t, it.Status.IsTerminal())
	}
	assert.Len(t, f.observer.Batches(), 1)
}

func TestManager_UpdateSettings(t *testing.T) {
	tests := []struct {
		name    string
		in      models.SummarySettings
		wantErr bool
	}{
		{"valid", models.SummarySettings{Algorithm: "lexrank", MaxLength: 50, Language: "it"}, false},
		{"auto language", models.SummarySettings{Algorithm: "textrank", MaxLength: 500, Language: "auto"}, false},
		{"too short", models.SummarySettings{Algorithm: "lsa", MaxLength: 49, Language: "en"}, true},
		{"unknown algorithm", models.SummarySettings{Algorithm: "gpt", MaxLength: 150, Language: "en"}, true},
		{"bad language", models.SummarySettings{Algorithm: "lsa", MaxLength: 150, Language: "english"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.mgr.Settings()

			got, err := f.mgr.UpdateSettings(tt.in)

			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrInvalidSettings))
				assert.Equal(t, before, f.mgr.Settings())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, got, f.mgr.Settings())
		})
	}
}

type recorderFunc func(ctx context.Context, queueID string, item models.QueueItem, s models.SummarySettings) error

func (r recorderFunc) RecordItem(ctx context.Context, queueID string, item models.QueueItem, s models.SummarySettings) error {
	return r(ctx, queueID, item, s)
}

func TestManager_RecordsTerminalItems(t *testing.T) {
	var mu sync.Mutex
	var recorded []models.QueueItem
	rec := recorderFunc(func(_ context.Context, queueID string, item models.QueueItem, _ models.SummarySettings) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "queue-1", queueID)
		recorded = append(recorded, item)
		return nil
	})
	f := newFixture(t, WithID("queue-1"), WithRecorder(rec))
	f.proc.FailOn("b.txt")
	f.accept("a.pdf", "b.txt")

	_, err := f.mgr.ProcessAll(context.Background())
	require.NoError(t, err)

	require.Len(t, recorded, 2)
	assert.Equal(t, models.ItemStatusCompleted, recorded[0].Status)
	assert.Equal(t, models.ItemStatusFailed, recorded[1].Status)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	items := f.accept("a.pdf", "b.txt")

	f.mgr.Close()

	assert.Empty(t, f.mgr.Items())
	for _, it := range items {
		assert.False(t, f.store.Has(it.File.StoreID))
	}
	_, err := f.mgr.ProcessAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_AcceptFilesAfterClose(t *testing.T) {
	f := newFixture(t)
	f.mgr.Close()
	ref := f.store.AddRef("late.pdf", []byte("late"))

	items, err := f.mgr.AcceptFiles([]models.FileRef{ref})

	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, items)
	assert.Empty(t, f.mgr.Items())
	assert.False(t, f.store.Has(ref.StoreID), "refused payloads are released")
	assert.Empty(t, f.observer.Notifications())
	assert.Empty(t, f.observer.Updates())
}

func TestManager_CloseDuringRun(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf", "b.txt")
	f.proc.OnProcess = func(context.Context, models.Document) {
		f.mgr.Close()
	}

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.False(t, f.mgr.IsProcessing())
	notes := f.observer.Notifications()
	require.Len(t, notes, 1, "no aggregate notification after teardown")
	assert.Equal(t, "2 file(s) uploaded successfully", notes[0].Message)
	assert.Empty(t, f.observer.Batches())
}

func TestManager_WorkerPool_RecorderPanic(t *testing.T) {
	rec := recorderFunc(func(_ context.Context, _ string, item models.QueueItem, _ models.SummarySettings) error {
		if item.File.Name == "b.txt" {
			panic("history unavailable")
		}
		return nil
	})
	f := newFixture(t, WithWorkers(2), WithRecorder(rec))
	f.accept("a.pdf", "b.txt", "c.docx")

	result, err := f.mgr.ProcessAll(context.Background())

	require.NoError(t, err)
	assert.False(t, f.mgr.IsProcessing())
	assert.Equal(t, models.BatchResult{Total: 3, Completed: 3}, result)
	assert.Len(t, f.observer.Batches(), 1)
}

func TestManager_Wait(t *testing.T) {
	f := newFixture(t)
	f.accept("a.pdf")
	release := make(chan struct{})
	started := make(chan struct{})
	f.proc.OnProcess = func(context.Context, models.Document) {
		close(started)
		<-release
	}

	done, err := f.mgr.ProcessAllAsync(context.Background())
	require.NoError(t, err)
	<-started

	waited := make(chan struct{})
	go func() {
		f.mgr.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a run was in flight")
	default:
	}

	close(release)
	<-waited
	select {
	case result := <-done:
		assert.Equal(t, 1, result.Completed)
	default:
		t.Fatal("result not delivered before Wait returned")
	}
}
