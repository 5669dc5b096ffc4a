// Package video acquires a single live video stream and hands out frames.
package video

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/logger"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

var log = logger.For("Video")

var (
	// ErrPermissionDenied means the camera exists but access was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice means no usable camera was found.
	ErrNoDevice = errors.New("no camera device")
	// ErrReleased is returned by Capture once the stream's tracks are released.
	ErrReleased = errors.New("video stream released")
)

// Source acquires the camera. Open is called once per session.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired camera.
type Stream interface {
	// Dimensions blocks until the first frame is available and returns its size.
	Dimensions(ctx context.Context) (width, height int, err error)
	// Capture returns the next frame. The image is owned by the caller.
	Capture(ctx context.Context) (types.Frame, error)
	// ReleaseAllTracks stops the hardware. Calls after the first are no-ops.
	ReleaseAllTracks() error
}

// cloneRGBA copies img into a fresh RGBA buffer so driver buffers can be recycled.
func cloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// blockingReader serializes a blocking, uncancellable read function and lets
// callers give up on it through their context.
type blockingReader struct {
	slot chan struct{}
	read func() (image.Image, error)

	mu     sync.Mutex
	width  int
	height int
}

func newBlockingReader(read func() (image.Image, error)) *blockingReader {
	return &blockingReader{slot: make(chan struct{}, 1), read: read}
}

type readResult struct {
	img image.Image
	err error
}

func (r *blockingReader) next(ctx context.Context) (image.Image, error) {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	done := make(chan readResult, 1)
	go func() {
		defer func() { <-r.slot }()
		img, err := r.read()
		done <- readResult{img: img, err: err}
	}()

	select {
	case res := <-done:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *blockingReader) dimensions(ctx context.Context) (int, int, error) {
	r.mu.Lock()
	w, h := r.width, r.height
	r.mu.Unlock()
	if w > 0 && h > 0 {
		return w, h, nil
	}

	img, err := r.next(ctx)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = b.Dx(), b.Dy()
	return r.width, r.height, nil
}
