// Package history keeps a DuckDB log of every item that reached a terminal
// status, across sessions and runs.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/instabrief/backend/internal/models"
	"github.com/marcboeker/go-duckdb"
)

// Entry is one recorded item outcome.
type Entry struct {
	ItemID     string            `json:"itemId"`
	SessionID  string            `json:"sessionId"`
	FileName   string            `json:"fileName"`
	FileType   models.FileType   `json:"fileType"`
	Status     models.ItemStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	DocumentID string            `json:"documentId,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Algorithm  models.Algorithm  `json:"algorithm"`
	MaxLength  int               `json:"maxLength"`
	Language   string            `json:"language"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// Options tune the DuckDB connection.
type Options struct {
	Threads     int
	MemoryLimit string
}

// Store is a DuckDB-backed history. It implements queue.Recorder.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the history database at path. An empty path keeps
// the history in memory.
func Open(path string, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "256MB"
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			item_id     VARCHAR NOT NULL,
			session_id  VARCHAR NOT NULL,
			file_name   VARCHAR NOT NULL,
			file_type   VARCHAR NOT NULL,
			status      VARCHAR NOT NULL,
			error       VARCHAR,
			document_id VARCHAR,
			summary     VARCHAR,
			algorithm   VARCHAR NOT NULL,
			max_length  INTEGER NOT NULL,
			language    VARCHAR NOT NULL,
			started_at  TIMESTAMP,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger.Info("history.opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (item_id, session_id, file_name, file_type, status, error,
			document_id, summary, algorithm, max_length, language, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.SessionID, e.FileName, string(e.FileType), string(e.Status), e.Error,
		e.DocumentID, e.Summary, string(e.Algorithm), e.MaxLength, e.Language,
		nullTime(e.StartedAt), nullTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// RecordItem records a terminal queue item processed with settings.
func (s *Store) RecordItem(ctx context.Context, queueID string, item models.QueueItem, settings models.SummarySettings) error {
	return s.Record(ctx, Entry{
		ItemID:     item.ID,
		SessionID:  queueID,
		FileName:   item.File.Name,
		FileType:   item.File.Type,
		Status:     item.Status,
		Error:      item.Error,
		DocumentID: item.DocumentID,
		Summary:    item.Summary,
		Algorithm:  settings.Algorithm,
		MaxLength:  settings.MaxLength,
		Language:   settings.Language,
		StartedAt:  item.StartedAt,
		FinishedAt: item.FinishedAt,
	})
}

// List returns up to limit entries of a session, most recently finished
// first. An empty sessionID lists every session.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT item_id, session_id, file_name, file_type, status, error, document_id,
			summary, algorithm, max_length, language, started_at, finished_at
		FROM runs`
	args := []interface{}{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY finished_at DESC NULLS LAST LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			fileType, status, algo string
			errMsg, docID, summary sql.NullString
			started, finished      sql.NullTime
		)
		if err := rows.Scan(&e.ItemID, &e.SessionID, &e.FileName, &fileType, &status, &errMsg,
			&docID, &summary, &algo, &e.MaxLength, &e.Language, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.FileType = models.FileType(fileType)
		e.Status = models.ItemStatus(status)
		e.Algorithm = models.Algorithm(algo)
		e.Error, e.DocumentID, e.Summary = errMsg.String, docID.String, summary.String
		if started.Valid {
			e.StartedAt = &started.Time
		}
		if finished.Valid {
			e.FinishedAt = &finished.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns how many completed and failed items a session recorded.
func (s *Store) Counts(ctx context.Context, sessionID string) (models.BatchResult, error) {
	var r models.BatchResult
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM runs WHERE session_id = ?`, sessionID).Scan(&r.Completed, &r.Failed)
	if err != nil {
		return r, fmt.Errorf("count history: %w", err)
	}
	r.Total = r.Completed + r.Failed
	return r, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
