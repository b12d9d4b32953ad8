package models

import "time"

// BrowsingSession describes one client's upload workspace.
type BrowsingSession struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastAccessed time.Time       `json:"lastAccessed"`
	ItemCount    int             `json:"itemCount"`
	Processing   bool            `json:"processing"`
	Settings     SummarySettings `json:"settings"`
}
