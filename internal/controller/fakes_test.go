package controller

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/model"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/video"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/weather"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// fakeModel returns scripted results per call. When gate is set, Detect
// blocks on it regardless of its context, like an uncancellable inference.
type fakeModel struct {
	mu          sync.Mutex
	results     [][]types.Detection
	errs        []error
	gate        chan struct{}
	entered     chan struct{}
	calls       int
	inFlight    int
	maxInFlight int
	closes      int
}

func (m *fakeModel) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	m.mu.Lock()
	m.calls++
	idx := m.calls - 1
	m.inFlight++
	m.maxInFlight = max(m.maxInFlight, m.inFlight)
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if len(m.results) == 0 {
		return nil, nil
	}
	return m.results[min(idx, len(m.results)-1)], nil
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeModel) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *fakeModel) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

type fakeLoader struct {
	model *fakeModel
	err   error
}

func (l *fakeLoader) Load(ctx context.Context) (model.Model, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

type fakeStream struct {
	width, height int
	dimErr        error
	frames        atomic.Uint64
	releases      atomic.Int32
	released      atomic.Bool
	readers       atomic.Int32
	maxReaders    atomic.Int32
}

func (s *fakeStream) Dimensions(ctx context.Context) (int, int, error) {
	if s.dimErr != nil {
		return 0, 0, s.dimErr
	}
	return s.width, s.height, nil
}

func (s *fakeStream) Capture(ctx context.Context) (types.Frame, error) {
	n := s.readers.Add(1)
	defer s.readers.Add(-1)
	for {
		seen := s.maxReaders.Load()
		if n <= seen || s.maxReaders.CompareAndSwap(seen, n) {
			break
		}
	}

	if s.released.Load() {
		return types.Frame{}, video.ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	frame := s.frames.Add(1)
	return types.Frame{Image: image.NewRGBA(image.Rect(0, 0, s.width, s.height)), Number: frame}, nil
}

func (s *fakeStream) ReleaseAllTracks() error {
	s.releases.Add(1)
	s.released.Store(true)
	return nil
}

// fakeSource hands out its stream, optionally only after gate is closed.
// opening, when set, is closed as Open is entered.
type fakeSource struct {
	stream  *fakeStream
	err     error
	gate    chan struct{}
	opening chan struct{}
}

func (s *fakeSource) Open(ctx context.Context) (video.Stream, error) {
	if s.opening != nil {
		close(s.opening)
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeTemperature struct {
	temp weather.Temperature
	err  error
}

func (f fakeTemperature) FetchCurrent(ctx context.Context, location string) (weather.Temperature, error) {
	return f.temp, f.err
}

// recordingSurface logs every drawing call.
type recordingSurface struct {
	mu     sync.Mutex
	ops    []string
	width  int
	height int
}

func (s *recordingSurface) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *recordingSurface) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	s.record(fmt.Sprintf("resize %dx%d", width, height))
}

func (s *recordingSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *recordingSurface) Clear() { s.record("clear") }

func (s *recordingSurface) StrokeRect(b types.BBox) {
	s.record(fmt.Sprintf("rect %g,%g,%g,%g", b.X, b.Y, b.Width, b.Height))
}

func (s *recordingSurface) FillText(text string, x, y float64) {
	s.record(fmt.Sprintf("text %s @%g,%g", text, x, y))
}

func (s *recordingSurface) Image() *image.RGBA {
	w, h := s.Size()
	return image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
}

func (s *recordingSurface) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// manualScheduler releases one waiting cycle per tick.
type manualScheduler struct {
	ticks chan struct{}
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{ticks: make(chan struct{})}
}

func (s *manualScheduler) Wait(ctx context.Context) error {
	select {
	case <-s.ticks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
