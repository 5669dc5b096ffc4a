package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"google.golang.org/protobuf/proto"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Kind         controller.EventKind
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// serializeStatus renders st in both wire formats.
func serializeStatus(kind controller.EventKind, st controller.Status) (*SerializedEvent, error) {
	view := NewStatusView(st)
	jsonData, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal status view: %w", err)
	}
	msg, err := view.protoStruct()
	if err != nil {
		return nil, err
	}
	raw, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal status proto: %w", err)
	}
	pb := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(pb, raw)
	return &SerializedEvent{Kind: kind, JSONData: jsonData, ProtobufData: pb}, nil
}

// notifier is a latest-wins handoff from controller listeners, which must not
// block, to a broadcaster goroutine.
type notifier struct {
	mu      sync.Mutex
	pending *controller.Event
	signal  chan struct{}
}

func newNotifier() *notifier {
	return &notifier{signal: make(chan struct{}, 1)}
}

func (n *notifier) post(ev controller.Event) {
	n.mu.Lock()
	n.pending = &ev
	n.mu.Unlock()
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *notifier) take() (controller.Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return controller.Event{}, false
	}
	ev := *n.pending
	n.pending = nil
	return ev, true
}

// StatusBroadcaster manages fanout of status views to SSE and WebSocket
// clients. Every controller event is serialized once.
type StatusBroadcaster struct {
	mu          sync.Mutex
	clients     map[int]chan *SerializedEvent
	nextID      int
	session     Session
	latest      *SerializedEvent
	notify      *notifier
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	stopped     bool
}

// NewStatusBroadcaster creates a broadcaster fed by session events.
func NewStatusBroadcaster(session Session) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		session: session,
		notify:  newNotifier(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving status
// events. The current status is queued first.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if sb.stopped {
		close(ch)
		return id, ch
	}

	first := sb.latest
	if first == nil {
		ev, err := serializeStatus(controller.EventState, sb.session.Status())
		if err != nil {
			log.Warn("Failed to serialize status: %v", err)
		} else {
			first = ev
		}
	}
	if first != nil {
		ch <- first
	}
	sb.clients[id] = ch

	log.Debug("Status client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		log.Debug("Status client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Start subscribes to status changes and begins broadcasting.
func (sb *StatusBroadcaster) Start() {
	sb.unsubscribe = sb.session.Subscribe(func(ev controller.Event) {
		if ev.Kind != controller.EventFrame {
			sb.notify.post(ev)
		}
	})
	go sb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if sb.stopped {
		sb.mu.Unlock()
		return
	}
	sb.stopped = true
	close(sb.stop)
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
	sb.mu.Unlock()

	if sb.unsubscribe != nil {
		sb.unsubscribe()
		<-sb.done
	}
}

func (sb *StatusBroadcaster) run() {
	defer close(sb.done)
	for {
		select {
		case <-sb.stop:
			return
		case <-sb.notify.signal:
		}

		ev, ok := sb.notify.take()
		if !ok {
			continue
		}
		event, err := serializeStatus(ev.Kind, ev.Status)
		if err != nil {
			log.Warn("Failed to serialize status: %v", err)
			continue
		}
		sb.broadcast(event)
	}
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	sb.latest = event

	for id, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
			log.Debug("Status client #%d lagging, event dropped", id)
		}
	}
}

// FrameBroadcaster manages fanout of composed JPEG frames to MJPEG clients.
// It encodes at most one frame per interval and only while clients exist.
type FrameBroadcaster struct {
	mu          sync.Mutex
	clients     map[int]chan []byte
	nextID      int
	session     Session
	interval    time.Duration
	quality     int
	clock       clock.Clock
	latest      []byte
	lastSeq     uint64
	notify      *notifier
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	stopped     bool
}

// NewFrameBroadcaster creates a frame broadcaster for session.
func NewFrameBroadcaster(session Session, interval time.Duration, quality int, clk clock.Clock) *FrameBroadcaster {
	if clk == nil {
		clk = clock.New()
	}
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		session:  session,
		interval: interval,
		quality:  quality,
		clock:    clk,
		notify:   newNotifier(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The last encoded frame, if any, is queued first.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	log.Debug("Stream client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		log.Debug("Stream client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Start subscribes to new images, detected or previewed, and begins encoding.
func (fb *FrameBroadcaster) Start() {
	fb.unsubscribe = fb.session.Subscribe(func(ev controller.Event) {
		if ev.Kind == controller.EventCycle || ev.Kind == controller.EventFrame {
			fb.notify.post(ev)
		}
	})
	go fb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if fb.stopped {
		fb.mu.Unlock()
		return
	}
	fb.stopped = true
	close(fb.stop)
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	fb.mu.Unlock()

	if fb.unsubscribe != nil {
		fb.unsubscribe()
		<-fb.done
	}
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)
	var last time.Time
	for {
		select {
		case <-fb.stop:
			return
		case <-fb.notify.signal:
		}

		// Throttle encoding to the configured interval
		if wait := fb.interval - fb.clock.Since(last); !last.IsZero() && wait > 0 {
			select {
			case <-fb.stop:
				return
			case <-fb.clock.After(wait):
			}
		}
		if _, ok := fb.notify.take(); !ok {
			continue
		}

		fb.mu.Lock()
		clientCount := len(fb.clients)
		fb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		data, ok := fb.encode()
		if !ok {
			continue
		}
		last = fb.clock.Now()
		fb.broadcast(data)
	}
}

// encode renders the latest composite, skipping frames already sent.
func (fb *FrameBroadcaster) encode() ([]byte, bool) {
	img, seq, ok := fb.session.Composite()
	if !ok {
		return nil, false
	}
	fb.mu.Lock()
	seen := fb.latest != nil && seq == fb.lastSeq
	fb.mu.Unlock()
	if seen {
		return nil, false
	}

	data, err := encodeJPEG(img, fb.quality)
	if err != nil {
		log.Warn("Failed to encode frame #%d: %v", seq, err)
		return nil, false
	}

	fb.mu.Lock()
	fb.lastSeq = seq
	fb.mu.Unlock()
	return data, true
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	fb.latest = data

	for id, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
			_ = id
		}
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
