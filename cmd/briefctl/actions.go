package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/instabrief/backend/internal/catalog"
	"github.com/instabrief/backend/internal/export"
	"github.com/instabrief/backend/internal/extract"
	"github.com/instabrief/backend/internal/history"
	"github.com/instabrief/backend/internal/intake"
	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/queue"
	"github.com/instabrief/backend/internal/storage"
	"github.com/instabrief/backend/internal/summarizer"
	"github.com/urfave/cli/v2"
)

const defaultTimeout = 2 * time.Minute

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case c.Bool("quiet"):
		level = slog.LevelError
	case c.Bool("verbose"):
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadCatalog(c *cli.Context) (*catalog.Catalog, error) {
	if path := c.String("catalog"); path != "" {
		return catalog.Load(path)
	}
	return catalog.Default(), nil
}

// ProcessAction validates the given files, queues the accepted ones and
// processes them, printing a line per outcome.
func ProcessAction(c *cli.Context) error {
	logger := newLogger(c)

	paths := c.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("no files given", 2)
	}

	settings, err := models.SummarySettings{
		Algorithm: models.Algorithm(c.String("algorithm")),
		MaxLength: c.Int("max-length"),
		Language:  c.String("language"),
	}.Normalize()
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	tmp, err := os.MkdirTemp("", "briefctl-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	store, err := storage.NewLocalStore(tmp, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var refs []models.FileRef
	for _, p := range paths {
		ref, err := stage(store, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipped %v\n", err)
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return cli.Exit("no acceptable files", 1)
	}

	var runs *history.Store
	if path := c.String("history"); path != "" {
		if runs, err = history.Open(path, history.Options{}, logger); err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer runs.Close()
	}

	client := summarizer.NewClient(summarizer.Config{
		BaseURL: c.String("service-url"),
		Token:   c.String("token"),
		Timeout: c.Duration("timeout"),
	}, extract.NewDetector(catalog.Default().LanguageCodes()...), logger)

	opts := []queue.Option{
		queue.WithWorkers(c.Int("workers")),
		queue.WithSettings(settings),
		queue.WithObserver(&consoleObserver{out: os.Stdout}),
		queue.WithLogger(logger),
	}
	if runs != nil {
		opts = append(opts, queue.WithRecorder(runs))
	}
	q := queue.NewManager(store, client, opts...)
	defer q.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := q.AcceptFiles(refs); err != nil {
		return err
	}
	result, err := q.ProcessAll(ctx)
	if err != nil {
		return err
	}

	if path := c.String("export"); path != "" {
		if err := writeReport(ctx, path, q.Items(), runs, q.ID(), logger); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", path)
	}

	if result.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d file(s) failed", result.Failed, result.Total), 1)
	}
	return nil
}

// stage validates one local file and copies it into the store.
func stage(store storage.Store, path string) (models.FileRef, error) {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return models.FileRef{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, intake.MaxFileSize+1))
	if err != nil {
		return models.FileRef{}, fmt.Errorf("%s: %w", name, err)
	}
	ft, err := intake.Validate(name, int64(len(data)), data)
	if err != nil {
		return models.FileRef{}, err
	}
	info, err := store.Save(name, "", bytes.NewReader(data))
	if err != nil {
		return models.FileRef{}, fmt.Errorf("%s: %w", name, err)
	}
	return models.FileRef{StoreID: info.ID, Name: name, Size: info.Size, Type: ft}, nil
}

func writeReport(ctx context.Context, path string, items []models.QueueItem, runs *history.Store, queueID string, logger *slog.Logger) error {
	var entries []history.Entry
	if runs != nil {
		var err error
		if entries, err = runs.List(ctx, queueID, 1000); err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
	}
	data, err := export.NewExporter(logger).QueueXLSX(items, entries)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// HistoryAction prints recorded outcomes, newest first.
func HistoryAction(c *cli.Context) error {
	runs, err := history.Open(c.String("history"), history.Options{}, newLogger(c))
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer runs.Close()

	entries, err := runs.List(c.Context, c.String("session"), c.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history found")
		return nil
	}

	fmt.Printf("%-20s %-30s %-10s %-9s %-10s %s\n", "Finished", "File", "Status", "Algorithm", "Language", "Document")
	fmt.Println(strings.Repeat("-", 100))
	for _, e := range entries {
		finished := "-"
		if e.FinishedAt != nil {
			finished = e.FinishedAt.Format("2006-01-02 15:04:05")
		}
		detail := e.DocumentID
		if e.Status == models.ItemStatusFailed {
			detail = e.Error
		}
		fmt.Printf("%-20s %-30s %-10s %-9s %-10s %s\n",
			finished, truncate(e.FileName, 30), e.Status, e.Algorithm, e.Language, detail)
	}

	counts, err := runs.Counts(c.Context, c.String("session"))
	if err == nil {
		fmt.Printf("\nTotal: %d recorded, %d completed, %d failed\n", counts.Total, counts.Completed, counts.Failed)
	}
	return nil
}

// AlgorithmsAction prints the algorithm catalog.
func AlgorithmsAction(c *cli.Context) error {
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	fmt.Printf("%-10s %-32s %-8s %-10s %s\n", "Name", "Display Name", "Speed", "Quality", "Description")
	for _, a := range cat.Algorithms {
		fmt.Printf("%-10s %-32s %-8s %-10s %s\n", a.Name, a.DisplayName, a.Speed, a.Quality, a.Description)
	}
	return nil
}

// LanguagesAction prints the language catalog.
func LanguagesAction(c *cli.Context) error {
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	for _, l := range cat.Languages {
		fmt.Printf("%-4s %s\n", l.Code, l.Name)
	}
	return nil
}

// consoleObserver prints notifications and terminal item outcomes.
type consoleObserver struct {
	mu  sync.Mutex
	out io.Writer
}

func (o *consoleObserver) Notify(n models.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "[%s] %s\n", n.Level, n.Message)
}

func (o *consoleObserver) ItemChanged(item models.QueueItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch item.Status {
	case models.ItemStatusProcessing:
		fmt.Fprintf(o.out, "  %-30s processing\n", truncate(item.File.Name, 30))
	case models.ItemStatusCompleted:
		fmt.Fprintf(o.out, "  %-30s completed  %s\n", truncate(item.File.Name, 30), item.DocumentID)
		if item.Summary != "" {
			fmt.Fprintf(o.out, "    %s\n", item.Summary)
		}
	case models.ItemStatusFailed:
		fmt.Fprintf(o.out, "  %-30s failed     %s\n", truncate(item.File.Name, 30), item.Error)
	}
}

func (o *consoleObserver) BatchDone(models.BatchResult) {}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
