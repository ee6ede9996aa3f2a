package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

// State is the lifecycle stage of a subscriber connection.
type State int32

const (
	// Connecting is a session that has been upgraded but not yet registered.
	Connecting State = iota
	// Open is a registered session receiving snapshots.
	Open
	// Closed is a session whose push loop has stopped and that no longer counts.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// session is one subscriber. Its ticker belongs to writePump and dies with it.
type session struct {
	hub      *Hub
	conn     *websocket.Conn
	interval time.Duration

	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, interval time.Duration) *session {
	return &session{
		hub:      h,
		conn:     conn,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *session) setState(st State) { s.state.Store(int32(st)) }

func (s *session) State() State { return State(s.state.Load()) }

// close moves the session to Closed exactly once: it stops the push loop, drops the
// session from the shared count and releases the connection.
func (s *session) close() {
	s.once.Do(func() {
		s.setState(Closed)
		close(s.done)
		s.hub.unregister(s)
		_ = s.conn.Close()
	})
}

// readPump drains the connection so control frames are processed and a client
// disconnect is noticed. Messages from the client are ignored.
func (s *session) readPump() {
	defer s.hub.wg.Done()
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.hub.logger.Warn("websocket read error",
					slog.String("remote_addr", s.conn.RemoteAddr().String()),
					slog.Any("error", err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection. It pushes a snapshot every
// interval and pings the peer to keep the connection alive.
func (s *session) writePump() {
	ticker := time.NewTicker(s.interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
		s.close()
		s.hub.wg.Done()
	}()

	for {
		select {
		case <-s.done:
			return
		case <-s.hub.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			snap := s.hub.Snapshot(s.hub.clock.Now())
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(snap); err != nil {
				s.hub.logger.Debug("websocket write failed, dropping session",
					slog.String("remote_addr", s.conn.RemoteAddr().String()),
					slog.Any("error", err))
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
