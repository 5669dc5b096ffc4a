// Package controller runs the detection session: bootstrap of the model and
// camera, the start/stop run state machine, and the capture, infer, draw and
// alert cycle.
package controller

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/detection"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/metrics"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/model"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/overlay"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/video"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/weather"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

var log = logger.For("Controller")

// Config is the explicit session configuration.
type Config struct {
	FilterClasses       []string
	WatchList           []string
	TemperatureEndpoint string
	APIKey              string
	Location            string
}

// Surface is the overlay drawn on top of the video.
type Surface interface {
	Resize(width, height int)
	Size() (width, height int)
	Clear()
	StrokeRect(box types.BBox)
	FillText(text string, x, y float64)
	// Image returns a copy of the current drawing.
	Image() *image.RGBA
}

// Deps are the collaborators of a Controller. Temperature, Metrics and Clock
// are optional.
type Deps struct {
	Loader      model.Loader
	Source      video.Source
	Temperature weather.Provider
	Surface     Surface
	Scheduler   Scheduler
	Metrics     *metrics.Metrics
	Clock       clock.Clock
}

const temperatureTimeout = 10 * time.Second

// Controller owns the session state. All mutations go through its methods.
type Controller struct {
	filter      detection.FilterSet
	watch       detection.WatchList
	location    string
	loader      model.Loader
	source      video.Source
	temperature weather.Provider
	surface     Surface
	scheduler   Scheduler
	metrics     *metrics.Metrics
	clock       clock.Clock

	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	bootstrapOnce   sync.Once
	bootstrapDone   chan struct{}
	temperatureDone chan struct{}
	teardownOnce    sync.Once
	teardownErr     error

	mu          sync.Mutex
	state       RunState
	failure     string
	alert       detection.Alert
	detections  []types.Detection
	temp        weather.Temperature
	frameNumber uint64
	width       int
	height      int
	attached    bool
	lastErr     string
	updatedAt   time.Time
	lastFrame   image.Image
	imageSeq    uint64
	mdl         model.Model
	stream      video.Stream
	generation  uint64
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	closed      bool
	listeners   map[int]Listener
	nextID      int
}

// New validates the dependencies and returns an Idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	var errs []error
	if deps.Loader == nil {
		errs = append(errs, errors.New("model loader is required"))
	}
	if deps.Source == nil {
		errs = append(errs, errors.New("video source is required"))
	}
	if deps.Surface == nil {
		errs = append(errs, errors.New("drawing surface is required"))
	}
	if deps.Scheduler == nil {
		errs = append(errs, errors.New("scheduler is required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	provider := deps.Temperature
	if provider == nil && cfg.TemperatureEndpoint != "" {
		provider = weather.NewClient(cfg.TemperatureEndpoint, cfg.APIKey, temperatureTimeout, nil)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		filter:          detection.NewFilterSet(cfg.FilterClasses),
		watch:           detection.NewWatchList(cfg.WatchList),
		location:        cfg.Location,
		loader:          deps.Loader,
		source:          deps.Source,
		temperature:     provider,
		surface:         deps.Surface,
		scheduler:       deps.Scheduler,
		metrics:         deps.Metrics,
		clock:           clk,
		sessionCtx:      ctx,
		sessionCancel:   cancel,
		bootstrapDone:   make(chan struct{}),
		temperatureDone: make(chan struct{}),
		state:           Idle,
		updatedAt:       clk.Now(),
		listeners:       make(map[int]Listener),
	}
	return c, nil
}

// Subscribe registers a listener and returns its unsubscribe function.
func (c *Controller) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Composite returns the latest camera image with the overlay drawn on it.
// seq advances with every new image, detected or previewed. ok is false until
// the camera has delivered an image.
func (c *Controller) Composite() (img image.Image, seq uint64, ok bool) {
	c.mu.Lock()
	base := c.lastFrame
	if base == nil {
		c.mu.Unlock()
		return nil, 0, false
	}
	seq = c.imageSeq
	layer := c.surface.Image()
	c.mu.Unlock()

	return overlay.Compose(base, layer), seq, true
}

func (c *Controller) snapshotLocked() Status {
	return Status{
		RunState:       c.state,
		Failure:        c.failure,
		Alert:          c.alert,
		Detections:     c.detections,
		Temperature:    c.temp,
		FrameNumber:    c.frameNumber,
		FrameWidth:     c.width,
		FrameHeight:    c.height,
		LastCycleError: c.lastErr,
		UpdatedAt:      c.updatedAt,
	}.clone()
}

func (c *Controller) emitLocked(kind EventKind) {
	if kind != EventFrame {
		c.updatedAt = c.clock.Now()
	}
	if len(c.listeners) == 0 {
		return
	}
	ev := Event{Kind: kind, Status: c.snapshotLocked()}
	for _, l := range c.listeners {
		l(ev)
	}
}

func (c *Controller) setStateLocked(state RunState, failure string) {
	prev := c.state
	c.state = state
	c.failure = failure
	if c.metrics != nil {
		c.metrics.RunState.Store(int64(state))
	}
	log.Info("Run state %s -> %s", prev, state)
	c.emitLocked(EventState)
}

// Bootstrap moves Idle to LoadingModel and starts, independently, the
// temperature fetch and the model and camera acquisition. It returns
// immediately; only the first call has an effect.
func (c *Controller) Bootstrap(ctx context.Context) {
	c.bootstrapOnce.Do(func() {
		c.mu.Lock()
		if c.closed || c.state != Idle {
			c.mu.Unlock()
			close(c.bootstrapDone)
			close(c.temperatureDone)
			return
		}
		c.setStateLocked(LoadingModel, "")
		c.mu.Unlock()

		bctx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(c.sessionCtx, cancel)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer close(c.temperatureDone)
			c.fetchTemperature(bctx)
		}()
		go func() {
			defer wg.Done()
			defer close(c.bootstrapDone)
			c.acquire(bctx)
		}()
		go func() {
			wg.Wait()
			stop()
			cancel()
		}()
	})
}

// WaitBootstrap blocks until model and camera acquisition has finished,
// successfully or not.
func (c *Controller) WaitBootstrap(ctx context.Context) error {
	select {
	case <-c.bootstrapDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTemperature blocks until the temperature fetch has finished.
func (c *Controller) WaitTemperature(ctx context.Context) error {
	select {
	case <-c.temperatureDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) fetchTemperature(ctx context.Context) {
	temp := weather.Unavailable
	if c.temperature != nil {
		t, err := c.temperature.FetchCurrent(ctx, c.location)
		if err != nil {
			log.Warn("Temperature unavailable: %v", err)
			if c.metrics != nil {
				c.metrics.TemperatureErrors.Add(1)
			}
		} else {
			temp = t
			log.Info("Temperature for %s: %s", c.location, t.Display())
		}
	}
	if c.metrics != nil {
		c.metrics.SetTemperature(temp.Celsius, temp.Available)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.temp = temp
	c.emitLocked(EventTemperature)
}

func (c *Controller) acquire(ctx context.Context) {
	mdl, err := c.loader.Load(ctx)
	if err != nil {
		log.Error("Model load failed: %v", err)
		c.fail(MsgModelLoadFailed)
		return
	}
	if !c.adoptModel(mdl) {
		return
	}

	stream, err := c.source.Open(ctx)
	if err != nil {
		log.Error("Camera open failed: %v", err)
		c.fail(MsgWebcamAccess)
		return
	}
	if !c.adoptStream(stream) {
		return
	}

	width, height, err := stream.Dimensions(ctx)
	if err != nil {
		log.Error("Camera produced no frame: %v", err)
		c.fail(MsgWebcamAccess)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.surface.Resize(width, height)
	c.width, c.height = width, height
	c.attached = true
	log.Info("Surface attached at %dx%d", width, height)
	c.startLoopLocked("Preview", c.preview)
	c.setStateLocked(Ready, "")
}

func (c *Controller) adoptModel(m model.Model) bool {
	c.mu.Lock()
	if !c.closed {
		c.mdl = m
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	if err := m.Close(); err != nil {
		log.Warn("Closing model loaded after teardown: %v", err)
	}
	return false
}

func (c *Controller) adoptStream(s video.Stream) bool {
	c.mu.Lock()
	if !c.closed {
		c.stream = s
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	if err := s.ReleaseAllTracks(); err != nil {
		log.Warn("Releasing stream acquired after teardown: %v", err)
	}
	return false
}

// fail moves to Failed and gives back whatever was acquired.
func (c *Controller) fail(msg string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	stream, mdl := c.stream, c.mdl
	c.stream, c.mdl = nil, nil
	c.setStateLocked(Failed, msg)
	c.mu.Unlock()

	if stream != nil {
		if err := stream.ReleaseAllTracks(); err != nil {
			log.Warn("Release after failure: %v", err)
		}
	}
	if mdl != nil {
		if err := mdl.Close(); err != nil {
			log.Warn("Model close after failure: %v", err)
		}
	}
}

// Toggle is the start/stop command: Ready starts detecting, Detecting stops.
// It returns the resulting state and whether the command took effect. In any
// other state it does nothing.
func (c *Controller) Toggle() (RunState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.state, false
	}

	switch c.state {
	case Ready:
		c.startLoopLocked("Detection", c.cycle)
		if c.metrics != nil {
			c.metrics.LoopGenerations.Add(1)
		}
		c.setStateLocked(Detecting, "")
	case Detecting:
		c.startLoopLocked("Preview", c.preview)
		c.setStateLocked(Ready, "")
	default:
		log.Debug("Toggle ignored in state %s", c.state)
		return c.state, false
	}
	return c.state, true
}

// loopStep is one pass of a loop. It returns false when the loop must end.
type loopStep func(ctx context.Context, gen uint64) bool

// startLoopLocked cancels the running loop and starts one driving step. The
// new loop reads the stream only after the old one has returned.
func (c *Controller) startLoopLocked(name string, step loopStep) {
	if c.loopCancel != nil {
		c.loopCancel()
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(c.sessionCtx)
	prev := c.loopDone
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go c.run(ctx, cancel, name, gen, prev, done, step)
}

// ownsStreamLocked reports whether loop gen may still read the stream.
func (c *Controller) ownsStreamLocked(gen uint64) bool {
	return c.generation == gen && !c.closed && c.attached && c.stream != nil
}

// currentLocked is the entry condition of every detection cycle.
func (c *Controller) currentLocked(gen uint64) bool {
	return c.state == Detecting && c.ownsStreamLocked(gen) && c.mdl != nil
}

func (c *Controller) previewingLocked(gen uint64) bool {
	return c.state == Ready && c.ownsStreamLocked(gen)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, name string, gen uint64, prev <-chan struct{}, done chan<- struct{}, step loopStep) {
	defer close(done)
	defer cancel()

	// One reader at a time: the previous loop finishes its pass first.
	if prev != nil {
		<-prev
	}
	log.Debug("%s loop %d started", name, gen)

	for step(ctx, gen) {
		if err := c.scheduler.Wait(ctx); err != nil {
			break
		}
	}
	log.Debug("%s loop %d ended", name, gen)
}

// preview shows a camera frame without inference. The overlay keeps the
// drawing of the last detection cycle.
func (c *Controller) preview(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if !c.previewingLocked(gen) {
		c.mu.Unlock()
		return false
	}
	stream := c.stream
	c.mu.Unlock()

	frame, err := stream.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, video.ErrReleased) {
			return false
		}
		log.Debug("Preview frame skipped: %v", err)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.previewingLocked(gen) {
		return false
	}
	c.lastFrame = frame.Image
	c.imageSeq++
	if c.metrics != nil {
		c.metrics.PreviewFrames.Add(1)
	}
	c.emitLocked(EventFrame)
	return true
}

// cycle runs one capture, infer, render pass. It returns false when the loop
// must end.
func (c *Controller) cycle(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return false
	}
	stream, mdl := c.stream, c.mdl
	c.mu.Unlock()

	started := c.clock.Now()
	frame, err := stream.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, video.ErrReleased) {
			return false
		}
		if c.metrics != nil {
			c.metrics.CaptureErrors.Add(1)
		}
		c.cycleFailed(gen, "capture", err)
		return true
	}
	if c.metrics != nil {
		c.metrics.UpdateCaptureLatency(started)
	}

	inferStart := c.clock.Now()
	dets, err := mdl.Detect(ctx, frame)
	if c.metrics != nil {
		c.metrics.ObserveInference(c.clock.Since(inferStart))
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if c.metrics != nil {
			c.metrics.InferenceErrors.Add(1)
		}
		c.cycleFailed(gen, "inference", err)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(gen) {
		if c.metrics != nil {
			c.metrics.CyclesDiscarded.Add(1)
		}
		return false
	}

	c.surface.Clear()
	filtered := c.filter.Apply(dets)
	for _, d := range filtered {
		c.surface.StrokeRect(d.BBox)
		x, y := detection.LabelAnchor(d.BBox)
		c.surface.FillText(detection.OverlayLabel(d), x, y)
	}
	c.alert = detection.Evaluate(dets, c.filter, c.watch)
	c.detections = slices.Clone(dets)
	c.lastFrame = frame.Image
	c.imageSeq++
	c.frameNumber++
	c.lastErr = ""

	if c.metrics != nil {
		c.metrics.CyclesCompleted.Add(1)
		c.metrics.DetectionsTotal.Add(uint64(len(dets)))
		c.metrics.FilteredDetections.Add(uint64(len(filtered)))
		c.metrics.SetAlert(c.alert.Active)
	}
	c.emitLocked(EventCycle)
	return true
}

// cycleFailed records a per-frame error. The previous frame's drawing and
// alert stay as they are.
func (c *Controller) cycleFailed(gen uint64, stage string, err error) {
	log.Warn("Frame skipped, %s failed: %v", stage, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(gen) {
		return
	}
	c.lastErr = stage + ": " + err.Error()
	c.emitLocked(EventCycle)
}

// Teardown ends the session: stops any loop, releases the camera and closes
// the model. It is safe to call from any state, any number of times.
func (c *Controller) Teardown() error {
	c.teardownOnce.Do(func() {
		// A session that never bootstrapped has nothing to wait for.
		c.bootstrapOnce.Do(func() {
			close(c.bootstrapDone)
			close(c.temperatureDone)
		})

		c.mu.Lock()
		c.closed = true
		c.generation++
		if c.loopCancel != nil {
			c.loopCancel()
			c.loopCancel = nil
		}
		stream, mdl := c.stream, c.mdl
		c.stream, c.mdl = nil, nil
		done := c.loopDone
		c.mu.Unlock()

		c.sessionCancel()

		var err error
		if stream != nil {
			err = multierr.Append(err, stream.ReleaseAllTracks())
		}
		if done != nil {
			<-done
		}
		if mdl != nil {
			err = multierr.Append(err, mdl.Close())
		}
		c.teardownErr = err
		log.Info("Session torn down")
	})
	return c.teardownErr
}
