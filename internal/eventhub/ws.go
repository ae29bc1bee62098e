package eventhub

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsMaxPayloadBytes bounds a single outbound frame; a write that would
// exceed it is dropped rather than fragmented, matching the hub's
// no-backpressure contract.
const wsMaxPayloadBytes = 1 << 20

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSubscriber adapts one websocket connection to the Subscriber interface
// via a buffered send channel and a dedicated write pump, so a slow client
// never blocks the broadcaster.
type wsSubscriber struct {
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger
}

func newWSSubscriber(conn *websocket.Conn, log *slog.Logger) *wsSubscriber {
	if log == nil {
		log = slog.Default()
	}
	return &wsSubscriber{conn: conn, send: make(chan []byte, 32), log: log}
}

// Send enqueues data for the write pump. A full buffer is treated as a
// dead subscriber: better to drop it than block the hub.
func (s *wsSubscriber) Send(data []byte) error {
	if len(data) > wsMaxPayloadBytes {
		return nil
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

var errSendBufferFull = &sendBufferFullError{}

type sendBufferFullError struct{}

func (*sendBufferFullError) Error() string { return "send buffer full" }

func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSubscriber) readPump(onClose func()) {
	defer onClose()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// The event channel is push-only from the daemon's side;
		// inbound frames are read and discarded. Only pong frames
		// reset the read deadline (via the pong handler); the loop
		// ends when a read fails, on disconnect or a missed deadline.
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Handler upgrades HTTP connections to websockets and registers each one
// as a Hub subscriber for the lifetime of the connection.
type Handler struct {
	hub *Hub
	log *slog.Logger
}

// NewHandler builds an http.Handler that bridges websocket clients to hub.
func NewHandler(hub *Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("event hub: websocket upgrade failed", "error", err)
		return
	}

	sub := newWSSubscriber(conn, h.log)
	handle := h.hub.Subscribe(sub)

	go sub.writePump()
	sub.readPump(func() {
		h.hub.Unsubscribe(handle)
		close(sub.send)
	})
}
