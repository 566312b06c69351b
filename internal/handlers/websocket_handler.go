package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/anonto42/dogpark/backend/internal/middleware"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// maxInboundMessage bounds frames sent by clients; they only send small control messages
	maxInboundMessage = 64 * 1024

	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// WebSocketHandler upgrades authenticated clients to a live connection
type WebSocketHandler struct {
	registry     *realtime.Registry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(registry *realtime.Registry, writeTimeout time.Duration, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// native mobile clients send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		log:          log.Named("ws"),
	}
}

// RegisterWebSocketRoutes registers the live connection endpoint
func (h *WebSocketHandler) RegisterWebSocketRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve upgrades the request and runs the read loop until the socket closes.
// The credential comes from ?token= or an Authorization bearer header.
// Rejections are reported to the client through the close frame.
func (h *WebSocketHandler) Serve(c echo.Context) error {
	credential := c.QueryParam("token")
	if credential == "" {
		credential, _ = middleware.BearerToken(c.Request().Header.Get("Authorization"))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	socket := realtime.NewSocket(conn, h.writeTimeout)

	userID, err := h.registry.Register(c.Request().Context(), credential, socket)
	if err != nil {
		h.log.Info("live connection rejected", zap.String("remote", c.RealIP()), zap.Error(err))
		return nil
	}
	defer func() {
		h.registry.Unregister(userID, socket)
		_ = socket.Close(realtime.CloseNormal, "")
	}()

	conn.SetReadLimit(maxInboundMessage)
	conn.SetPongHandler(func(string) error {
		h.registry.Pong(userID, socket)
		return nil
	})

	h.reply(socket, userID, MessageTypeConnected, echo.Map{"userId": userID})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("live connection read ended", zap.String("user_id", userID), zap.Error(err))
			}
			return nil
		}
		h.registry.Touch(userID, socket)

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug("ignoring malformed frame", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if env.Type == MessageTypePing {
			h.reply(socket, userID, MessageTypePong, nil)
		}
	}
}

func (h *WebSocketHandler) reply(socket realtime.Socket, userID, messageType string, payload interface{}) {
	env, err := models.NewEnvelope(messageType, payload)
	if err != nil {
		return
	}
	if err := socket.WriteJSON(env); err != nil {
		h.log.Debug("live reply failed", zap.String("user_id", userID), zap.String("type", messageType), zap.Error(err))
	}
}
