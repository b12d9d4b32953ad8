// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/instabrief/backend/internal/models"
	"github.com/labstack/echo/v4"
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Count() int
}

// PayloadLister lists stored upload payloads.
type PayloadLister interface {
	List(limit int) ([]*models.FileInfo, error)
}

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	started  time.Time
	sessions SessionCounter
	payloads PayloadLister
}

// NewHealthHandler creates a new health handler. sessions and payloads may be nil.
func NewHealthHandler(version string, sessions SessionCounter, payloads PayloadLister) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		started:  time.Now(),
		sessions: sessions,
		payloads: payloads,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions.Count()
	}
	if h.payloads != nil {
		if files, err := h.payloads.List(0); err == nil {
			var size int64
			for _, f := range files {
				size += f.Size
			}
			resp["storedFiles"] = len(files)
			resp["storedBytes"] = size
		}
	}
	return c.JSON(http.StatusOK, resp)
}
