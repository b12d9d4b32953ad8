package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/instabrief/backend/internal/events"
	"github.com/instabrief/backend/internal/queue"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the session stream protocol
const (
	// Client -> Server messages
	MsgTypePing    = "ping"
	MsgTypeProcess = "process"
	MsgTypeRemove  = "remove"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeEvent     = "event"
	MsgTypeAck       = "ack"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10

	// DefaultWSMaxMessageSize bounds client frames. Clients only send small
	// control messages.
	DefaultWSMaxMessageSize = 64 * 1024
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RemovePayload names the item a "remove" message deletes
type RemovePayload struct {
	ItemID string `json:"itemId"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams session events over WebSocket and accepts a few
// queue commands from the client.
type WebSocketHandler struct {
	handler        *Handler
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket stream handler
func NewWebSocketHandler(h *Handler, maxMessageSize int64) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultWSMaxMessageSize
	}
	return &WebSocketHandler{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
		logger:         h.logger,
	}
}

// HandleWebSocket upgrades the connection and relays the session's events
// until either side goes away or the session is deleted.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id, q, err := wsh.handler.queueFor(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(wsh.maxMessageSize)
	log := wsh.logger.With("session_id", shortID(id))
	log.Info("ws.connected", "remote", c.RealIP())

	sub := wsh.handler.hub.Subscribe(id, c.QueryParam("replay") == "true")
	defer sub.Close()

	replies := make(chan WSMessage, 16)
	readerDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	go wsh.readLoop(ws, id, q, replies, readerDone, stop, log)

	if err := wsh.write(ws, WSMessage{Type: MsgTypeConnected, ID: id, Timestamp: time.Now().UnixMilli()}); err != nil {
		return nil
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			log.Info("ws.disconnected")
			return nil
		case e, ok := <-sub.C:
			if !ok {
				wsh.write(ws, errorMessage("session closed", "SESSION_CLOSED"))
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			if err := wsh.write(ws, eventMessage(e)); err != nil {
				log.Warn("ws.write_failed", "error", err)
				return nil
			}
		case msg := <-replies:
			if err := wsh.write(ws, msg); err != nil {
				log.Warn("ws.write_failed", "error", err)
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		}
	}
}

// readLoop handles client messages. Replies go through the writer loop
// because a connection supports only one concurrent writer.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, id string, q *queue.Manager, replies chan<- WSMessage, done, stop chan struct{}, log *slog.Logger) {
	defer close(done)

	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		wsh.handler.sessions.Touch(id)
		return nil
	})

	reply := func(m WSMessage) bool {
		select {
		case replies <- m:
			return true
		case <-stop:
			return false
		}
	}

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws.read_failed", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		wsh.handler.sessions.Touch(id)

		var out WSMessage
		switch msg.Type {
		case MsgTypePing:
			out = WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()}
		case MsgTypeProcess:
			if _, err := q.ProcessAllAsync(wsh.handler.runCtx); err != nil {
				out = domainErrorMessage(err, id)
			} else {
				out = WSMessage{Type: MsgTypeAck, ID: msg.ID, Timestamp: time.Now().UnixMilli()}
			}
		case MsgTypeRemove:
			var p RemovePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.ItemID == "" {
				out = errorMessage("Invalid remove payload", "INVALID_PAYLOAD")
			} else {
				q.RemoveItem(p.ItemID)
				out = WSMessage{Type: MsgTypeAck, ID: msg.ID, Timestamp: time.Now().UnixMilli()}
			}
		default:
			out = errorMessage("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
		if out.ID == "" {
			out.ID = msg.ID
		}
		if !reply(out) {
			return
		}
	}
}

func (wsh *WebSocketHandler) write(ws *websocket.Conn, msg WSMessage) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}

func eventMessage(e events.Event) WSMessage {
	return WSMessage{
		Type:      MsgTypeEvent,
		Payload:   mustJSON(e),
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

func errorMessage(message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	}
}

func domainErrorMessage(err error, sessionID string) WSMessage {
	if apiErr := fromDomainError(err, sessionID); apiErr != nil {
		return errorMessage(apiErr.Message, apiErr.Code)
	}
	return errorMessage(err.Error(), "INTERNAL_ERROR")
}
