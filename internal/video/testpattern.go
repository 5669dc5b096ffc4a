package video

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// ColorBars renders the classic eight vertical bars.
func ColorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(width/len(barColors), 1)
	for y := range height {
		for x := range width {
			barIndex := min(x/barWidth, len(barColors)-1)
			img.SetRGBA(x, y, barColors[barIndex])
		}
	}
	return img
}

// TestPatternSource produces colour bars with a grey marker that moves one
// step per frame. It needs no hardware.
type TestPatternSource struct {
	Width     int
	Height    int
	FrameRate int
	Clock     clock.Clock
}

// Open starts the frame clock.
func (s TestPatternSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, height := s.Width, s.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	fps := s.FrameRate
	if fps <= 0 {
		fps = 30
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}

	log.Info("Test pattern opened: %dx%d @ %d fps", width, height, fps)
	return &patternStream{
		base:   ColorBars(width, height),
		clock:  clk,
		ticker: clk.Ticker(time.Second / time.Duration(fps)),
		done:   make(chan struct{}),
	}, nil
}

type patternStream struct {
	base   *image.RGBA
	clock  clock.Clock
	ticker *clock.Ticker

	frames   atomic.Uint64
	done     chan struct{}
	released atomic.Bool
	once     sync.Once
}

func (p *patternStream) Dimensions(ctx context.Context) (int, int, error) {
	if p.released.Load() {
		return 0, 0, ErrReleased
	}
	b := p.base.Bounds()
	return b.Dx(), b.Dy(), nil
}

func (p *patternStream) Capture(ctx context.Context) (types.Frame, error) {
	if p.released.Load() {
		return types.Frame{}, ErrReleased
	}
	select {
	case <-p.ticker.C:
	case <-p.done:
		return types.Frame{}, ErrReleased
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}

	n := p.frames.Add(1)
	return types.Frame{Image: p.render(n), Number: n, Timestamp: p.clock.Now()}, nil
}

func (p *patternStream) render(n uint64) *image.RGBA {
	img := image.NewRGBA(p.base.Bounds())
	copy(img.Pix, p.base.Pix)

	b := img.Bounds()
	size := max(b.Dy()/8, 4)
	span := max(b.Dx()-size, 1)
	x0 := int(n*4) % span
	y0 := (b.Dy() - size) / 2
	grey := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			img.SetRGBA(x, y, grey)
		}
	}
	return img
}

func (p *patternStream) ReleaseAllTracks() error {
	p.once.Do(func() {
		p.released.Store(true)
		p.ticker.Stop()
		close(p.done)
		log.Info("Test pattern released")
	})
	return nil
}
