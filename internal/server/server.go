// Package server exposes the local HTTP and WebSocket control surface used
// by the host UI and by scripts.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/app"
	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/capture"
)

const (
	defaultEventCount = 20
	maxEventCount     = 200
)

type Server struct {
	app      *app.App
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(application *app.App, logger zerolog.Logger) *Server {
	s := &Server{
		app: application,
		log: logger.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Routes returns an [http.Handler] configured with all API routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/capture/start", s.handleCaptureStart)
	mux.HandleFunc("/api/capture/stop", s.handleCaptureStop)
	mux.HandleFunc("/api/transcribe", s.handleTranscribe)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server on addr.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start(addr string) *http.Server {
	s.log.Info().Str("addr", addr).Msg("Starting control server")

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return srv
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.app.Status())
}

// handleDevices handles GET /api/devices.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices, err := s.app.Devices()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to enumerate devices: %w", err))
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

// handleCaptureStart handles POST /api/capture/start {path?, device_id?}.
func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	path, err := s.app.StartRecording(req.Path, req.DeviceID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, capture.ErrAlreadyActive) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "capture_started", "path": path})
}

// handleCaptureStop handles POST /api/capture/stop.
func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, active, err := s.app.StopRecording()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !active {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "capture_stopped", "path": path})
}

// handleTranscribe handles POST /api/transcribe {path}. The script runs in
// the background; completion lands in the event journal.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transcribeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.app.Transcribe(req.Path); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "transcribe_started", "path": req.Path})
}

// handleEvents handles GET /api/events?n=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := defaultEventCount
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n must be a positive integer"))
			return
		}
		n = min(parsed, maxEventCount)
	}

	evts, err := s.app.RecentEvents(n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read events: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, evts)
}
