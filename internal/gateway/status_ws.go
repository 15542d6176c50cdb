package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barff/frankd/internal/dispatch"
)

const (
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
	// wsStatusTimeout bounds the readiness capture behind one push.
	wsStatusTimeout = 10 * time.Second
)

// StatusEvent is one frame on /ws/status.
type StatusEvent struct {
	// Poller and Result are set when the frame follows a tick.
	Poller string           `json:"poller,omitempty"`
	Result *dispatch.Result `json:"result,omitempty"`
	Status any              `json:"status"`
}

// handleStatusWebSocket upgrades the connection, sends the current status and
// registers the client with the broadcaster. The read loop only detects
// disconnects; clients are not expected to send anything.
func (s *Server) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("status WS upgrade error", slog.Any("error", err))
		return
	}

	// The server's read timeout still applies to the hijacked conn.
	_ = conn.SetReadDeadline(time.Time{})

	session := s.sessions.Create(conn)
	defer s.sessions.Remove(session.ID)

	log := s.logger.With(slog.String("session_id", session.ID))
	log.Info("status WebSocket connected", slog.String("remote", r.RemoteAddr))

	msg, err := s.statusFrame(r.Context(), "", nil)
	if err == nil {
		err = session.Send(msg)
	}
	if err != nil {
		log.Warn("status WS initial send failed", slog.Any("error", err))
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("status WS read error", slog.Any("error", err))
			}
			return
		}
	}
}

type tickEvent struct {
	name   string
	result dispatch.Result
}

// streamStatus pushes a status frame to every client each interval and after
// every tick. One status is computed per push regardless of client count.
func (s *Server) streamStatus(ctx context.Context) {
	ticks := make(chan tickEvent, 8)
	unsubscribe := s.ctrl.Subscribe(func(name string, r dispatch.Result) {
		select {
		case ticks <- tickEvent{name: name, result: r}:
		default:
			// A periodic push follows shortly anyway.
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	push := func(name string, r *dispatch.Result) {
		if s.sessions.Count() == 0 {
			return
		}
		msg, err := s.statusFrame(ctx, name, r)
		if err != nil {
			s.logger.Warn("status frame encode failed", slog.Any("error", err))
			return
		}
		s.sessions.Broadcast(msg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ticks:
			push(ev.name, &ev.result)
		case <-ticker.C:
			push("", nil)
		}
	}
}

func (s *Server) statusFrame(ctx context.Context, name string, r *dispatch.Result) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, wsStatusTimeout)
	defer cancel()
	return json.Marshal(StatusEvent{
		Poller: name,
		Result: r,
		Status: s.ctrl.Status(ctx),
	})
}
