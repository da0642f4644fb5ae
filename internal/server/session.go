package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/mriview/viewer/internal/viewer"
)

const (
	sendChSize     = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// session manages one viewer WebSocket with a single write goroutine.
type session struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	logger *slog.Logger
}

func newSession(conn *ws.Conn, logger *slog.Logger) *session {
	return &session{
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// send queues a message for the client. It never blocks; when the client
// cannot keep up the message is dropped.
func (s *session) send(out viewer.Output) {
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("Failed to encode session message", "type", out.Type, "error", err)
		return
	}
	select {
	case <-s.done:
	case s.sendCh <- data:
	default:
		s.logger.Warn("Session send queue full, dropping message", "type", out.Type)
	}
}

// writeLoop drains sendCh and keeps the connection alive with pings. It
// returns on write error or close.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-s.sendCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				s.close()
				return
			}
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				s.logger.Warn("WebSocket write error", "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("WebSocket ping failed", "error", err)
				s.close()
				return
			}
		}
	}
}

// readLoop decodes client envelopes and hands them to handle in arrival
// order until the connection fails or is closed.
func (s *session) readLoop(handle func(viewer.Envelope)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env viewer.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.send(viewer.Output{Type: viewer.MessageError, Payload: viewer.ErrorPayload{Error: "malformed message"}})
			continue
		}
		handle(env)
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// shutdown tells the client the server is going away and drops the
// connection, which ends readLoop.
func (s *session) shutdown() {
	s.close()
	_ = s.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
	_ = s.conn.Close()
}
