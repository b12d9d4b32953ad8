// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/instabrief/backend/internal/history"
	"github.com/labstack/echo/v4"
)

// SessionHandler handles browsing session lifecycle
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
}

// QueueHandler handles upload queue operations
type QueueHandler interface {
	HandleUploadFiles(c echo.Context) error
	HandleGetQueue(c echo.Context) error
	HandleGetQueueMsgpack(c echo.Context) error
	HandleRemoveItem(c echo.Context) error
	HandleGetSettings(c echo.Context) error
	HandleUpdateSettings(c echo.Context) error
	HandleProcess(c echo.Context) error
	HandleGetHistory(c echo.Context) error
	HandleExport(c echo.Context) error
}

// EventsHandler handles the server-sent event stream
type EventsHandler interface {
	HandleEventStream(c echo.Context) error
}

// CatalogHandler serves the summarization catalogs
type CatalogHandler interface {
	HandleGetAlgorithms(c echo.Context) error
	HandleGetLanguages(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RunHistory is the read side of the run history store.
// This allows mocking in tests
type RunHistory interface {
	List(ctx context.Context, sessionID string, limit int) ([]history.Entry, error)
}
