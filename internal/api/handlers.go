package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/instabrief/backend/internal/catalog"
	"github.com/instabrief/backend/internal/events"
	"github.com/instabrief/backend/internal/export"
	"github.com/instabrief/backend/internal/queue"
	"github.com/instabrief/backend/internal/session"
	"github.com/instabrief/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// Handler handles API requests.
type Handler struct {
	sessions *session.Manager
	store    storage.Store
	hub      *events.Hub
	history  RunHistory
	exporter *export.Exporter
	catalog  *catalog.Catalog
	logger   *slog.Logger

	// runCtx bounds background processing runs. Runs outlive the request
	// that starts them and stop when the server shuts down.
	runCtx context.Context
}

// NewHandler creates a new API handler.
func NewHandler(deps *Dependencies) *Handler {
	h := &Handler{
		sessions: deps.Sessions,
		store:    deps.Store,
		hub:      deps.Hub,
		history:  deps.History,
		exporter: deps.Exporter,
		catalog:  deps.Catalog,
		logger:   deps.Logger,
		runCtx:   deps.RunContext,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.runCtx == nil {
		h.runCtx = context.Background()
	}
	if h.catalog == nil {
		h.catalog = catalog.Default()
	}
	if h.exporter == nil {
		h.exporter = export.NewExporter(h.logger)
	}
	return h
}

// queueFor resolves the :sessionId path parameter to its queue.
func (h *Handler) queueFor(c echo.Context) (string, *queue.Manager, error) {
	id := c.Param("sessionId")
	if id == "" {
		return "", nil, NewValidationError("sessionId")
	}
	q, err := h.sessions.Get(id)
	if err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return id, nil, apiErr
		}
		return id, nil, NewInternalError("failed to load session", err)
	}
	return id, q, nil
}

// sendSSE writes one server-sent event frame and flushes it.
func sendSSE(c echo.Context, event string, id uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w := c.Response()
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func sendSSEError(c echo.Context, message string) {
	sendSSE(c, "error", 0, map[string]string{"error": message})
}

func setSSEHeaders(c echo.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
