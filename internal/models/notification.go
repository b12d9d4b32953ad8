package models

import "time"

// NotificationLevel mirrors the toast variants shown by the browser.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level   NotificationLevel `json:"level" msgpack:"level"`
	Message string            `json:"message" msgpack:"message"`
	Time    time.Time         `json:"time" msgpack:"time"`
}

// BatchResult summarizes one processing run.
type BatchResult struct {
	Total     int `json:"total" msgpack:"total"`
	Completed int `json:"completed" msgpack:"completed"`
	Failed    int `json:"failed" msgpack:"failed"`
}

// ProcessResult is what the processing service returns for one document.
type ProcessResult struct {
	DocumentID       string   `json:"id"`
	Summary          string   `json:"summary"`
	Tags             []string `json:"tags,omitempty"`
	Entities         []string `json:"entities,omitempty"`
	ProcessingTime   float64  `json:"processing_time"`
	CompressionRatio float64  `json:"compression_ratio"`
}

// Document is the payload handed to the processing service for one item.
type Document struct {
	ItemID  string
	Name    string
	Type    FileType
	Content []byte
}
