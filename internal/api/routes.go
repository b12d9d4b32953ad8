// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"context"
	"log/slog"
	"strings"

	"github.com/instabrief/backend/internal/catalog"
	"github.com/instabrief/backend/internal/events"
	"github.com/instabrief/backend/internal/export"
	"github.com/instabrief/backend/internal/session"
	"github.com/instabrief/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions *session.Manager
	Store    storage.Store
	Hub      *events.Hub
	History  RunHistory
	Exporter *export.Exporter
	Catalog  *catalog.Catalog
	Logger   *slog.Logger
	Version  string

	// RunContext is cancelled on shutdown to stop background runs.
	RunContext context.Context
	// WSMaxMessageSize bounds frames read from WebSocket clients.
	WSMaxMessageSize int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Session SessionHandler
	Queue   QueueHandler
	Events  EventsHandler
	Catalog CatalogHandler
	Stream  *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := NewHandler(deps)

	var counter SessionCounter
	if deps.Sessions != nil {
		counter = deps.Sessions
	}
	var payloads PayloadLister
	if deps.Store != nil {
		payloads = deps.Store
	}

	return &Handlers{
		Health:  NewHealthHandler(deps.Version, counter, payloads),
		Session: h,
		Queue:   h,
		Events:  h,
		Catalog: h,
		Stream:  NewWebSocketHandler(h, deps.WSMaxMessageSize),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Session routes
	sessions := e.Group("/api/sessions")
	sessions.POST("", handlers.Session.HandleCreateSession)
	sessions.GET("/:sessionId", handlers.Session.HandleGetSession)
	sessions.DELETE("/:sessionId", handlers.Session.HandleDeleteSession)

	// Queue routes
	sessions.POST("/:sessionId/files", handlers.Queue.HandleUploadFiles)
	sessions.DELETE("/:sessionId/files/:itemId", handlers.Queue.HandleRemoveItem)
	sessions.GET("/:sessionId/queue", handlers.Queue.HandleGetQueue)
	sessions.GET("/:sessionId/queue/msgpack", handlers.Queue.HandleGetQueueMsgpack)
	sessions.GET("/:sessionId/settings", handlers.Queue.HandleGetSettings)
	sessions.PUT("/:sessionId/settings", handlers.Queue.HandleUpdateSettings)
	sessions.POST("/:sessionId/process", handlers.Queue.HandleProcess)
	sessions.GET("/:sessionId/history", handlers.Queue.HandleGetHistory)
	sessions.GET("/:sessionId/export", handlers.Queue.HandleExport)

	// Event stream
	sessions.GET("/:sessionId/events", handlers.Events.HandleEventStream)

	// Catalogs
	summarize := e.Group("/api/summarize")
	summarize.GET("/algorithms", handlers.Catalog.HandleGetAlgorithms)
	summarize.GET("/languages", handlers.Catalog.HandleGetLanguages)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/sessions/:sessionId", handlers.Stream.HandleWebSocket)
}

// IsStreamingPath reports whether a request path is a long-lived stream
// that must bypass request timeouts and compression.
func IsStreamingPath(path string) bool {
	return strings.HasSuffix(path, "/events") || strings.HasPrefix(path, "/api/ws/")
}
