// Package export renders a session's queue and run history as an XLSX workbook.
package export

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/instabrief/backend/internal/history"
	"github.com/instabrief/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	QueueSheet   = "Queue"
	HistorySheet = "History"

	// excel rejects longer cell values
	maxCellLen = 32767
)

var queueHeaders = []string{"File", "Type", "Size", "Status", "Document ID", "Summary", "Error"}

var historyHeaders = []string{"Finished", "File", "Type", "Status", "Algorithm", "Max Length", "Language", "Document ID", "Summary", "Error"}

// Exporter builds workbooks.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// QueueXLSX returns a workbook with one row per queue item, in queue order.
// When runs is non-empty a second sheet lists the recorded history.
func (x *Exporter) QueueXLSX(items []models.QueueItem, runs []history.Entry) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", QueueSheet); err != nil {
		return nil, err
	}
	writeHeader(f, QueueSheet, queueHeaders)
	for i, it := range items {
		writeRow(f, QueueSheet, i+2, []any{
			it.File.Name,
			string(it.File.Type),
			it.File.Size,
			string(it.Status),
			it.DocumentID,
			clip(it.Summary),
			clip(it.Error),
		})
	}
	_ = f.SetColWidth(QueueSheet, "A", "A", 32)
	_ = f.SetColWidth(QueueSheet, "B", "D", 12)
	_ = f.SetColWidth(QueueSheet, "E", "E", 28)
	_ = f.SetColWidth(QueueSheet, "F", "F", 80)
	_ = f.SetColWidth(QueueSheet, "G", "G", 48)

	if len(runs) > 0 {
		if _, err := f.NewSheet(HistorySheet); err != nil {
			return nil, err
		}
		writeHeader(f, HistorySheet, historyHeaders)
		for i, e := range runs {
			finished := ""
			if e.FinishedAt != nil {
				finished = e.FinishedAt.UTC().Format(time.RFC3339)
			}
			writeRow(f, HistorySheet, i+2, []any{
				finished,
				e.FileName,
				string(e.FileType),
				string(e.Status),
				string(e.Algorithm),
				e.MaxLength,
				e.Language,
				e.DocumentID,
				clip(e.Summary),
				clip(e.Error),
			})
		}
		_ = f.SetColWidth(HistorySheet, "A", "A", 22)
		_ = f.SetColWidth(HistorySheet, "B", "B", 32)
		_ = f.SetColWidth(HistorySheet, "I", "I", 80)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	x.logger.Info("export.xlsx.ok",
		"rows", len(items),
		"history_rows", len(runs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func clip(s string) string {
	if len(s) <= maxCellLen {
		return s
	}
	s = s[:maxCellLen-3]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "..."
}
