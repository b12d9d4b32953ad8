// handlers_events.go - Server-Sent Events stream of queue activity
package api

import (
	"time"

	"github.com/labstack/echo/v4"
)

// sseKeepAlive is how often a comment frame is written to idle streams so
// proxies do not close them.
const sseKeepAlive = 15 * time.Second

// HandleEventStream streams a session's notifications, item updates and
// batch results as Server-Sent Events. With ?replay=true the retained
// history is sent first.
func (h *Handler) HandleEventStream(c echo.Context) error {
	id, _, err := h.queueFor(c)
	if err != nil {
		return err
	}

	sub := h.hub.Subscribe(id, c.QueryParam("replay") == "true")
	defer sub.Close()

	setSSEHeaders(c)
	c.Response().Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				// session torn down
				sendSSEError(c, "session closed")
				return nil
			}
			if err := sendSSE(c, string(e.Type), e.ID, e); err != nil {
				return nil
			}
			h.sessions.Touch(id)
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			c.Response().Flush()
			h.sessions.Touch(id)
		}
	}
}
