package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/dto"
	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/terminal"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via the JWT token; origin is not a trust boundary here.
		return true
	},
}

// TerminalHandler bridges the websocket event protocol onto the session
// manager. One goroutine reads client events; the session's sink pushes
// output back through a write-mutexed connection.
type TerminalHandler struct {
	manager *terminal.Manager
	logger  *zap.Logger
}

// NewTerminalHandler creates a new handler.
func NewTerminalHandler(manager *terminal.Manager, logger *zap.Logger) *TerminalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TerminalHandler{manager: manager, logger: logger}
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (w *wsConn) send(event string, payload interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	msg := dto.TerminalEvent{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Data = raw
	}
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	w.conn.WriteJSON(msg)                                //nolint:errcheck
}

func (w *wsConn) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.conn.Close() //nolint:errcheck
}

// Output implements terminal.Sink.
func (w *wsConn) Output(data []byte) {
	w.send(dto.TermEventOutput, dto.OutputPayload{Data: string(data)})
}

// Ended implements terminal.Sink.
func (w *wsConn) Ended(reason string) {
	w.send(dto.TermEventSessionEnded, dto.ErrorPayload{Message: reason})
}

// Serve godoc
// @Summary Open terminal channel
// @Description Upgrade to a websocket carrying the terminal event protocol
// @Tags Terminal
// @Param token query string true "Access token"
// @Success 101 {string} string
// @Router /ws/terminal [get]
func (h *TerminalHandler) Serve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	ws := &wsConn{conn: conn}

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go h.pingLoop(ws, done)

	h.readLoop(c, connID, claims, ws)

	// Disconnect always tears the session down; Kill is a no-op when another
	// path already won.
	close(done)
	h.manager.Kill(connID, "client disconnected")
	ws.close()
}

func (h *TerminalHandler) readLoop(c *gin.Context, connID string, claims *models.JWTClaims, ws *wsConn) {
	for {
		var event dto.TerminalEvent
		if err := ws.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}

		switch event.Event {
		case dto.TermEventStartSession:
			var payload dto.StartSessionPayload
			if err := json.Unmarshal(event.Data, &payload); err != nil {
				ws.send(dto.TermEventError, dto.ErrorPayload{Message: "invalid start-session payload"})
				continue
			}
			_, err := h.manager.CreateSession(c.Request.Context(), connID, claims, payload.ApplicationID, payload.Cols, payload.Rows, ws)
			if err != nil {
				ws.send(dto.TermEventError, dto.ErrorPayload{Message: appErrors.FromError(err).Message})
				continue
			}

		case dto.TermEventInput:
			var payload dto.InputPayload
			if err := json.Unmarshal(event.Data, &payload); err != nil {
				continue
			}
			session, ok := h.manager.Get(connID)
			if !ok {
				ws.send(dto.TermEventError, dto.ErrorPayload{Message: "no active session"})
				continue
			}
			if err := session.Write([]byte(payload.Data)); err != nil {
				h.logger.Warn("terminal input write failed", zap.String("conn_id", connID), zap.Error(err))
			}

		case dto.TermEventResize:
			var payload dto.ResizePayload
			if err := json.Unmarshal(event.Data, &payload); err != nil {
				continue
			}
			if session, ok := h.manager.Get(connID); ok {
				if err := session.Resize(payload.Cols, payload.Rows); err != nil {
					h.logger.Warn("terminal resize failed", zap.String("conn_id", connID), zap.Error(err))
				}
			}

		default:
			ws.send(dto.TermEventError, dto.ErrorPayload{Message: "unknown event"})
		}
	}
}

func (h *TerminalHandler) pingLoop(ws *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ws.mu.Lock()
			if ws.closed {
				ws.mu.Unlock()
				return
			}
			ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))   //nolint:errcheck
			err := ws.conn.WriteMessage(websocket.PingMessage, nil) //nolint:errcheck
			ws.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
