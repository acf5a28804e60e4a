package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"restobot/internal/logger"
	"restobot/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10

	// wsBearerProtocol is the subprotocol that precedes a token offered in
	// Sec-WebSocket-Protocol.
	wsBearerProtocol = "bearer"
)

// ChangeSubscriber streams a restaurant's row change payloads.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, restaurantID string) (<-chan []byte, error)
}

// RealtimeHandler pushes change events to dashboard websockets.
type RealtimeHandler struct {
	feed     ChangeSubscriber
	log      logger.Logger
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(feed ChangeSubscriber, log logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		feed: feed,
		log:  log,
		upgrader: websocket.Upgrader{
			// bearer auth already ran in AuthRequired
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: []string{wsBearerProtocol},
		},
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) write(kind int, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(kind, b)
}

func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime feed is not configured"})
		return
	}
	restaurantID := c.Param("restaurantID")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	changes, err := h.feed.Subscribe(ctx, restaurantID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote the response
		return
	}
	defer conn.Close()

	metrics.RealtimeClients.Inc()
	defer metrics.RealtimeClients.Dec()

	wc := &wsConn{c: conn}

	// reader: only control frames matter; any read error ends the stream
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case payload, ok := <-changes:
			if !ok {
				_ = wc.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := wc.write(websocket.TextMessage, payload); err != nil {
				h.log.Debug("realtime client gone", map[string]interface{}{"restaurant_id": restaurantID, "error": err.Error()})
				return
			}
		case <-ticker.C:
			if err := wc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
