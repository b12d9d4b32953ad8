// handlers_session.go - Browsing session lifecycle handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleCreateSession starts a new browsing session with an empty queue.
func (h *Handler) HandleCreateSession(c echo.Context) error {
	sess, err := h.sessions.Create()
	if err != nil {
		if apiErr := fromDomainError(err, ""); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to create session", err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// HandleGetSession returns session metadata and keeps the session alive.
func (h *Handler) HandleGetSession(c echo.Context) error {
	id := c.Param("sessionId")
	sess, err := h.sessions.Info(id)
	if err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to load session", err)
	}
	h.sessions.Touch(id)
	return c.JSON(http.StatusOK, sess)
}

// HandleDeleteSession tears the session down along with its queue and payloads.
func (h *Handler) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if err := h.sessions.Delete(id); err != nil {
		if apiErr := fromDomainError(err, id); apiErr != nil {
			return apiErr
		}
		return NewInternalError("failed to delete session", err)
	}
	return c.NoContent(http.StatusNoContent)
}
