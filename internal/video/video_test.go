package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorBars(t *testing.T) {
	img := ColorBars(640, 480)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 0, A: 255}, img.RGBAAt(639, 479))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 0, A: 255}, img.RGBAAt(80, 10))
}

func TestTestPatternFramesFollowTheClock(t *testing.T) {
	mock := clock.NewMock()
	stream, err := TestPatternSource{Width: 160, Height: 120, FrameRate: 10, Clock: mock}.Open(context.Background())
	require.NoError(t, err)
	defer stream.ReleaseAllTracks()

	w, h, err := stream.Dimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 160, w)
	assert.Equal(t, 120, h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = stream.Capture(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no tick, no frame")

	mock.Add(100 * time.Millisecond)
	first, err := stream.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Number)
	assert.Equal(t, 160, first.Width())

	mock.Add(100 * time.Millisecond)
	second, err := stream.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Number)
	assert.NotEqual(t, first.Image.(*image.RGBA).Pix, second.Image.(*image.RGBA).Pix, "marker moves between frames")
}

func TestTestPatternReleaseIsIdempotent(t *testing.T) {
	stream, err := TestPatternSource{Clock: clock.NewMock()}.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.ReleaseAllTracks())
	require.NoError(t, stream.ReleaseAllTracks())

	_, err = stream.Capture(context.Background())
	assert.ErrorIs(t, err, ErrReleased)
	_, _, err = stream.Dimensions(context.Background())
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseUnblocksPendingCapture(t *testing.T) {
	stream, err := TestPatternSource{Clock: clock.NewMock()}.Open(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Capture(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, stream.ReleaseAllTracks())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrReleased)
	case <-time.After(time.Second):
		t.Fatal("capture did not return after release")
	}
}

func TestBlockingReaderHonoursContext(t *testing.T) {
	unblock := make(chan struct{})
	r := newBlockingReader(func() (image.Image, error) {
		<-unblock
		return image.NewRGBA(image.Rect(0, 0, 32, 24)), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(unblock)
	w, h, err := r.dimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
}

func TestBlockingReaderPropagatesErrors(t *testing.T) {
	boom := errors.New("driver gone")
	r := newBlockingReader(func() (image.Image, error) { return nil, boom })

	_, _, err := r.dimensions(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCloneRGBADetachesBuffer(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.SetRGBA(10, 10, color.RGBA{R: 9, A: 255})

	out := cloneRGBA(src)
	src.SetRGBA(10, 10, color.RGBA{G: 9, A: 255})

	assert.Equal(t, image.Rect(0, 0, 4, 2), out.Bounds())
	assert.Equal(t, color.RGBA{R: 9, A: 255}, out.RGBAAt(0, 0))
}

func TestClassifyOpenError(t *testing.T) {
	assert.ErrorIs(t, classifyOpenError(fmt.Errorf("open /dev/video0: %w", os.ErrPermission)), ErrPermissionDenied)
	assert.ErrorIs(t, classifyOpenError(errors.New("failed to find the best driver that fits the constraints")), ErrNoDevice)

	other := classifyOpenError(errors.New("device busy"))
	assert.NotErrorIs(t, other, ErrNoDevice)
	assert.NotErrorIs(t, other, ErrPermissionDenied)
}
