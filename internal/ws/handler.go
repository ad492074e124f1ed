package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/control"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/monitoring"
)

// commandTimeout bounds one dispatched command, including any synchronous
// session recovery it waits on.
const commandTimeout = 2 * time.Minute

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // frontend is served from the same process
	},
}

// Handler manages WebSocket connections, mapping inbound commands to browser
// operations. Each connection's messages are dispatched in receipt order;
// every message gets exactly one reply.
type Handler struct {
	control *control.Controller
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler.
func NewHandler(ctrl *control.Controller, log *logging.Logger) *Handler {
	return &Handler{
		control: ctrl,
		log:     log,
	}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection handles WebSocket upgrade and the per-connection message
// loop. The server never closes the connection on a command error; only a
// transport-level read failure ends the loop.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()[:8]
	log := &logging.Logger{Logger: h.log.With(zap.String("conn", connID))}
	log.Info("Client connected")
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	h.sendStatus(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info("Client disconnected", zap.Error(err))
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(conn, "invalid JSON message")
			continue
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues(msg.Type).Inc()
		}
		h.dispatch(conn, log, msg)
	}
}

func (h *Handler) dispatch(conn *websocket.Conn, log *logging.Logger, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch msg.Type {
	case "navigate":
		h.handleNavigate(ctx, conn, log, msg)
	case "screenshot":
		h.handleScreenshot(ctx, conn, log)
	case "status":
		h.sendStatus(conn)
	case "init":
		h.handleInit(ctx, conn, log)
	case "click":
		h.handleClick(ctx, conn, log, msg)
	case "type":
		h.handleType(ctx, conn, log, msg)
	case "key":
		h.handleKey(ctx, conn, log, msg)
	default:
		h.sendError(conn, (&UnknownCommandError{Type: msg.Type}).Error())
	}
}

func (h *Handler) handleNavigate(ctx context.Context, conn *websocket.Conn, log *logging.Logger, msg Message) {
	if msg.URL == "" {
		h.reject(conn, &MissingFieldError{Command: "navigate", Field: "a url"})
		return
	}

	info, err := h.control.Navigate(ctx, msg.URL)
	if err != nil {
		log.Warn("Navigation failed", zap.String("url", msg.URL), zap.Error(err))
		h.record("navigate", "error")
		h.send(conn, map[string]interface{}{
			"type":    "navigation_error",
			"message": err.Error(),
		})
		return
	}

	log.Info("Navigated", zap.String("url", info.URL), zap.Int("status", info.Status))
	h.record("navigate", "success")
	h.send(conn, map[string]interface{}{
		"type":    "navigation_success",
		"message": "Navigated to " + info.URL,
		"url":     info.URL,
		"status":  info.Status,
		"title":   info.Title,
	})
}

func (h *Handler) handleScreenshot(ctx context.Context, conn *websocket.Conn, log *logging.Logger) {
	path, err := h.control.Screenshot(ctx)
	if err != nil {
		log.Warn("Screenshot failed", zap.Error(err))
		h.record("screenshot", "error")
		h.send(conn, map[string]interface{}{
			"type":    "screenshot_error",
			"message": err.Error(),
		})
		return
	}

	h.record("screenshot", "success")
	h.send(conn, map[string]interface{}{
		"type":    "screenshot_saved",
		"message": "Screenshot saved",
		"path":    path,
	})
}

func (h *Handler) handleInit(ctx context.Context, conn *websocket.Conn, log *logging.Logger) {
	if err := h.control.Init(ctx); err != nil {
		log.Warn("Browser init failed", zap.Error(err))
		h.record("init", "error")
		h.send(conn, map[string]interface{}{
			"type":    "init_error",
			"message": err.Error(),
		})
		return
	}

	h.record("init", "success")
	h.send(conn, map[string]interface{}{
		"type":         "init_success",
		"message":      "Browser initialized",
		"browserReady": true,
	})
}

func (h *Handler) handleClick(ctx context.Context, conn *websocket.Conn, log *logging.Logger, msg Message) {
	if msg.X == nil || msg.Y == nil {
		h.reject(conn, &MissingFieldError{Command: "click", Field: "x and y coordinates"})
		return
	}

	if err := h.control.ClickAt(ctx, *msg.X, *msg.Y); err != nil {
		log.Warn("Click failed", zap.Error(err))
		h.record("click", "error")
		h.send(conn, map[string]interface{}{
			"type":    "click_error",
			"message": err.Error(),
		})
		return
	}

	h.record("click", "success")
	h.send(conn, map[string]interface{}{
		"type":    "click_success",
		"message": "Clicked",
		"x":       *msg.X,
		"y":       *msg.Y,
	})
}

func (h *Handler) handleType(ctx context.Context, conn *websocket.Conn, log *logging.Logger, msg Message) {
	if msg.Text == nil {
		h.reject(conn, &MissingFieldError{Command: "type", Field: "text"})
		return
	}

	if err := h.control.TypeText(ctx, *msg.Text); err != nil {
		log.Warn("Type failed", zap.Error(err))
		h.record("type", "error")
		h.send(conn, map[string]interface{}{
			"type":    "type_error",
			"message": err.Error(),
		})
		return
	}

	h.record("type", "success")
	h.send(conn, map[string]interface{}{
		"type":    "type_success",
		"message": "Typed text",
		"text":    *msg.Text,
	})
}

func (h *Handler) handleKey(ctx context.Context, conn *websocket.Conn, log *logging.Logger, msg Message) {
	if msg.Key == nil {
		h.reject(conn, &MissingFieldError{Command: "key", Field: "a key name"})
		return
	}

	if err := h.control.PressKey(ctx, *msg.Key); err != nil {
		log.Warn("Key press failed", zap.Error(err))
		h.record("key", "error")
		h.send(conn, map[string]interface{}{
			"type":    "key_error",
			"message": err.Error(),
		})
		return
	}

	h.record("key", "success")
	h.send(conn, map[string]interface{}{
		"type":    "key_success",
		"message": "Pressed " + *msg.Key,
		"key":     *msg.Key,
	})
}

func (h *Handler) sendStatus(conn *websocket.Conn) {
	st := h.control.Status()
	h.send(conn, map[string]interface{}{
		"type":         "status",
		"message":      "Connected to periscope",
		"browserReady": st.Ready,
		"url":          st.URL,
		"timestamp":    time.Now().Unix(),
	})
}

// reject answers a validation failure before any operation runs.
func (h *Handler) reject(conn *websocket.Conn, err error) {
	h.sendError(conn, err.Error())
}

func (h *Handler) record(command, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordCommand(command, outcome)
	}
}

func (h *Handler) send(conn *websocket.Conn, data interface{}) error {
	return conn.WriteJSON(data)
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) error {
	return h.send(conn, map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}
