// Package webmonitor serves the monitor page and its live feeds: status views
// over JSON, SSE and WebSocket, the composed MJPEG stream and metrics.
package webmonitor

import (
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/metrics"
)

var log = logger.For("WebMonitor")

// defaultMJPEGIdle is how long the MJPEG writer waits before repeating a frame.
const defaultMJPEGIdle = 5 * time.Second

// Session is the part of the detection controller the server drives.
type Session interface {
	Status() controller.Status
	Subscribe(l controller.Listener) func()
	Composite() (img image.Image, seq uint64, ok bool)
	Toggle() (controller.RunState, bool)
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg       Config
	session   Session
	metrics   *metrics.Metrics
	status    *StatusBroadcaster
	frames    *FrameBroadcaster
	mjpegIdle time.Duration
}

// NewServer returns a configured monitor server with its broadcasters running.
// Call Close to disconnect streaming clients.
func NewServer(cfg Config, session Session, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	status := NewStatusBroadcaster(session)
	status.Start()

	frames := NewFrameBroadcaster(session, cfg.MJPEGInterval, cfg.JPEGQuality, nil)
	frames.Start()

	return &Server{
		cfg:       cfg,
		session:   session,
		metrics:   m,
		status:    status,
		frames:    frames,
		mjpegIdle: defaultMJPEGIdle,
	}
}

// Close stops the broadcasters, which ends every open stream.
func (s *Server) Close() {
	s.status.Stop()
	s.frames.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/toggle", s.handleToggle)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.mjpegIdle)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, NewStatusView(s.session.Status()))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	s.metrics.SSEClients.Add(1)
	defer s.metrics.SSEClients.Add(-1)

	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	streamStatusEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval)
}

// handleToggle applies the start/stop command. Outside ready and detecting
// the command has no effect and the response is 409 with the current view.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, applied := s.session.Toggle()
	if !applied {
		log.Debug("Toggle via HTTP ignored in state %s", state)
		writeJSONWithStatus(w, NewStatusView(s.session.Status()), http.StatusConflict)
		return
	}
	log.Info("Toggle via HTTP -> %s", state)
	writeJSON(w, NewStatusView(s.session.Status()))
}

// wantsProtobuf reports whether the client prefers Protobuf over JSON.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
