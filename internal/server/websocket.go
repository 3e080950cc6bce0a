package server

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/meetscribe/internal/app"
	"github.com/meetscribe/meetscribe/internal/events"
)

const (
	wsStatusInterval = 3 * time.Second
	wsEventsInterval = 10 * time.Second
	wsEventCount     = 10
)

type wsStatus struct {
	Type string `json:"type"`
	app.Status
}

type wsEvents struct {
	Type   string         `json:"type"`
	Events []events.Event `json:"events"`
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		s.log.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: invalid origin URL")
		return false
	}

	host := u.Hostname()

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	// Same-origin check (compare with request host)
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	s.log.Warn().Str("origin", origin).Str("host", host).Msg("Rejected WebSocket connection")
	return false
}

// handleWebSocket pushes status snapshots and recent events to the client.
// Incoming messages are discarded; the read loop only detects disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Buffered send channel; the writer goroutine is the sole writer to the
	// connection.
	send := make(chan any, 16)
	done := make(chan struct{})

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, done)
	s.runWebSocketEventLoop(send, done)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn *websocket.Conn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket close error")
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader drains the connection and signals done when it drops.
func (s *Server) runWebSocketReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// runWebSocketEventLoop sends the initial snapshot and then periodic
// updates until the client disconnects.
func (s *Server) runWebSocketEventLoop(send chan any, done <-chan struct{}) {
	statusTicker := time.NewTicker(wsStatusInterval)
	eventsTicker := time.NewTicker(wsEventsInterval)
	defer statusTicker.Stop()
	defer eventsTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.statusMessage()) || !trySend(s.eventsMessage()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusTicker.C:
			if !trySend(s.statusMessage()) {
				close(send)
				return
			}
		case <-eventsTicker.C:
			if !trySend(s.eventsMessage()) {
				close(send)
				return
			}
		}
	}
}

func (s *Server) statusMessage() wsStatus {
	return wsStatus{Type: "status", Status: s.app.Status()}
}

func (s *Server) eventsMessage() wsEvents {
	evts, err := s.app.RecentEvents(wsEventCount)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read events for WebSocket push")
		evts = []events.Event{}
	}
	return wsEvents{Type: "events", Events: evts}
}
