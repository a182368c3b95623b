package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler pushes the fleet view over a WebSocket on every mirror
// change and on every tick, so timers keep advancing between writes.
type StreamHandler struct {
	svc      *dispatch.Service
	tick     time.Duration
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the stream endpoint. m may be nil.
func NewStreamHandler(svc *dispatch.Service, tick time.Duration, m *metrics.Metrics) *StreamHandler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &StreamHandler{
		svc:     svc,
		tick:    tick,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams views filtered by ?q=.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	fields := log.Fields{"remote": r.RemoteAddr}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		fields["email"] = claims.Email
	}
	logger := log.WithFields(fields)
	logger.Info("Fleet stream opened")
	h.metrics.StreamOpened()
	defer func() {
		h.metrics.StreamClosed()
		logger.Info("Fleet stream closed")
	}()

	query := r.URL.Query().Get("q")

	changed := make(chan struct{}, 1)
	unsubscribe := h.svc.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	if err := h.push(conn, query); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-changed:
			if err := h.push(conn, query); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.push(conn, query); err != nil {
				return
			}
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) push(conn *websocket.Conn, query string) error {
	view := h.svc.View(query, h.svc.Engine().Now())
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(view)
}

// readLoop discards client frames and closes done when the peer goes away.
func (h *StreamHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
