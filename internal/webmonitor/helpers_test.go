package webmonitor

import (
	"bufio"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/metrics"
)

// fakeSession is an in-memory controller: Toggle flips between ready and
// detecting and every change is emitted to listeners synchronously.
type fakeSession struct {
	mu        sync.Mutex
	status    controller.Status
	composite image.Image
	seq       uint64
	listeners map[int]controller.Listener
	nextID    int
	toggles   int
}

func newFakeSession(state controller.RunState) *fakeSession {
	return &fakeSession{
		status: controller.Status{
			RunState:  state,
			UpdatedAt: time.Unix(1700000000, 0),
		},
		listeners: make(map[int]controller.Listener),
	}
}

func (s *fakeSession) Status() controller.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Subscribe(l controller.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSession) Composite() (image.Image, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.composite == nil {
		return nil, 0, false
	}
	return s.composite, s.seq, true
}

func (s *fakeSession) Toggle() (controller.RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status.RunState {
	case controller.Ready:
		s.status.RunState = controller.Detecting
	case controller.Detecting:
		s.status.RunState = controller.Ready
	default:
		return s.status.RunState, false
	}
	s.toggles++
	s.emitLocked(controller.EventState)
	return s.status.RunState, true
}

// Toggles counts the commands that took effect.
func (s *fakeSession) Toggles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggles
}

// update applies fn to the status and emits kind.
func (s *fakeSession) update(kind controller.EventKind, fn func(*controller.Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.emitLocked(kind)
}

// renderFrame publishes img as frame n.
func (s *fakeSession) renderFrame(img image.Image, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composite = img
	s.seq = n
	s.status.FrameNumber = n
	s.status.FrameWidth = img.Bounds().Dx()
	s.status.FrameHeight = img.Bounds().Dy()
	s.emitLocked(controller.EventCycle)
}

// previewFrame publishes img as a new image without a detection cycle.
func (s *fakeSession) previewFrame(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composite = img
	s.seq++
	s.emitLocked(controller.EventFrame)
}

func (s *fakeSession) emitLocked(kind controller.EventKind) {
	ev := controller.Event{Kind: kind, Status: s.status}
	for _, l := range s.listeners {
		l(ev)
	}
}

func newTestServer(t *testing.T, session Session) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MJPEGInterval = time.Millisecond
	cfg.KeepaliveInterval = 50 * time.Millisecond
	srv := NewServer(cfg, session, metrics.New())
	srv.mjpegIdle = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

// sseReader reads events from a text/event-stream body, skipping comments.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(resp *http.Response) *sseReader {
	return &sseReader{r: bufio.NewReader(resp.Body)}
}

// next returns the data of the next event, or "" for a comment-only block.
func (s *sseReader) next(t *testing.T) (data string, comment bool) {
	t.Helper()
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(t, err, "read sse")
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), false
		}
	}
	return "", true
}

// nextData skips keepalive comments.
func (s *sseReader) nextData(t *testing.T) string {
	t.Helper()
	for {
		data, comment := s.next(t)
		if !comment {
			return data
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload), "body=%s", body)
	return payload
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	require.Truef(t, ok, "expected %s to be object, got %T", field, value)
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	require.Truef(t, ok, "expected %s to be array, got %T", field, value)
	return s
}

func httptestRecord(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}
