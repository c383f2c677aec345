package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/devlink/link"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

// HandleEvents streams coordinator events over a WebSocket. The first
// event is the current status.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	// The stream is one-way. Reading only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	status := s.services.Transport.Status()
	if err := writeEvent(conn, link.Event{Type: link.EventStatus, Status: &status}); err != nil {
		return
	}

	ping := time.NewTicker(s.PingInterval)
	defer ping.Stop()
	slog.Debug("Event stream opened", "remote", r.RemoteAddr)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				slog.Debug("Event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			slog.Debug("Event stream closed", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev link.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
