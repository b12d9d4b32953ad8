// Package models contains domain types for the InstaBrief upload gateway.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ItemStatus represents the lifecycle status of a queued file.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// FileType is one of the document formats the summarizer understands.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypePPTX FileType = "pptx"
	FileTypeTXT  FileType = "txt"
)

// FileTypeOf derives the file type from a file name's extension.
// Returns "" for unsupported extensions.
func FileTypeOf(name string) FileType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "pdf":
		return FileTypePDF
	case "docx":
		return FileTypeDOCX
	case "pptx":
		return FileTypePPTX
	case "txt":
		return FileTypeTXT
	}
	return ""
}

// FileRef points at the payload of a queued file held in storage.
type FileRef struct {
	StoreID string   `json:"storeId" msgpack:"storeId"`
	Name    string   `json:"name" msgpack:"name"`
	Size    int64    `json:"size" msgpack:"size"`
	Type    FileType `json:"type" msgpack:"type"`
}

// QueueItem is one file accepted into an upload queue.
type QueueItem struct {
	ID         string     `json:"id" msgpack:"id"`
	File       FileRef    `json:"file" msgpack:"file"`
	Status     ItemStatus `json:"status" msgpack:"status"`
	Progress   int        `json:"progress" msgpack:"progress"` // 0-100
	Error      string     `json:"error,omitempty" msgpack:"error,omitempty"`
	DocumentID string     `json:"documentId,omitempty" msgpack:"documentId,omitempty"`
	Summary    string     `json:"summary,omitempty" msgpack:"summary,omitempty"`
	AcceptedAt time.Time  `json:"acceptedAt" msgpack:"acceptedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty" msgpack:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" msgpack:"finishedAt,omitempty"`
}

// NewQueueItem creates a QueueItem in pending status.
func NewQueueItem(id string, file FileRef) *QueueItem {
	return &QueueItem{
		ID:         id,
		File:       file,
		Status:     ItemStatusPending,
		Progress:   0,
		AcceptedAt: time.Now(),
	}
}
