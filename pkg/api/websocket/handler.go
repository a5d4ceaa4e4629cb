package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	bufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Source delivers published events on a channel until ctx is done
type Source interface {
	Subscribe(ctx context.Context, buffer int) <-chan domain.Event
}

// Handler handles WebSocket connections
type Handler struct {
	source Source
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(source Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		source: source,
		logger: logger,
	}
}

// HandleEventStream streams orchestrator events to the client. The optional
// "type" query parameter is a comma-separated list of event types to keep.
func (h *Handler) HandleEventStream(c *gin.Context) {
	filter := parseFilter(c.Query("type"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("client", c.ClientIP()),
		zap.Int("filters", len(filter)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read pump only handles control frames; it ends the stream when
	// the client goes away.
	go h.readPump(conn, cancel)

	events := h.source.Subscribe(ctx, bufferSize)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event source closed"),
					time.Now().Add(writeWait))
				return
			}
			if len(filter) > 0 && !filter[event.Type] {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func parseFilter(raw string) map[domain.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[domain.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[domain.EventType(t)] = true
		}
	}
	return filter
}
