//go:build gocv

package video

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// Open opens the capture device. Numeric devices are treated as indexes.
func (s GoCVSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var device interface{} = s.Device
	if id, err := strconv.Atoi(s.Device); err == nil {
		device = id
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: cannot open %q", ErrNoDevice, s.Device)
	}

	cs := &captureStream{capture: capture, device: s.Device}
	cs.reader = newBlockingReader(cs.read)
	log.Info("OpenCV capture opened: %s", s.Device)
	return cs, nil
}

type captureStream struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	device  string
	reader  *blockingReader

	frames   atomic.Uint64
	released atomic.Bool
	once     sync.Once
}

func (c *captureStream) read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released.Load() {
		return nil, ErrReleased
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("cannot read capture device %s", c.device)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	return cloneRGBA(img), nil
}

func (c *captureStream) Dimensions(ctx context.Context) (int, int, error) {
	if c.released.Load() {
		return 0, 0, ErrReleased
	}
	return c.reader.dimensions(ctx)
}

func (c *captureStream) Capture(ctx context.Context) (types.Frame, error) {
	if c.released.Load() {
		return types.Frame{}, ErrReleased
	}
	img, err := c.reader.next(ctx)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Image: img, Number: c.frames.Add(1), Timestamp: time.Now()}, nil
}

func (c *captureStream) ReleaseAllTracks() error {
	var err error
	c.once.Do(func() {
		c.released.Store(true)
		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.capture.Close()
		log.Info("OpenCV capture released")
	})
	return err
}
