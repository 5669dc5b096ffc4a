package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/multierr"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// WebcamSource opens a local camera through pion/mediadevices.
type WebcamSource struct {
	Width     int
	Height    int
	FrameRate float64
}

func (s WebcamSource) constraints() mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if s.Width > 0 {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: s.Width, Max: 4096}
			}
			if s.Height > 0 {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: s.Height, Max: 2160}
			}
			if s.FrameRate > 0 {
				constraint.FrameRate = prop.FloatRanged{Min: 0, Ideal: float32(s.FrameRate), Max: 140}
			}
			constraint.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatRGBA,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatNV21,
			}
		},
	}
}

// Open requests the camera, mapping driver failures onto ErrNoDevice and
// ErrPermissionDenied.
func (s WebcamSource) Open(ctx context.Context) (Stream, error) {
	mediadevicescamera.Initialize()

	if len(driverutils.GetManager().Query(driverutils.FilterVideoRecorder())) == 0 {
		return nil, ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media, err := mediadevices.GetUserMedia(s.constraints())
	if err != nil {
		return nil, classifyOpenError(err)
	}

	tracks := media.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoDevice
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return nil, fmt.Errorf("%w: unexpected track type %T", ErrNoDevice, tracks[0])
	}

	reader := vt.NewReader(false)
	ws := &webcamStream{tracks: tracks}
	ws.reader = newBlockingReader(func() (image.Image, error) {
		img, release, err := reader.Read()
		if release != nil {
			defer release()
		}
		if err != nil {
			return nil, err
		}
		return cloneRGBA(img), nil
	})

	log.Info("Webcam opened: %s", vt.ID())
	return ws, nil
}

func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist), strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return fmt.Errorf("open webcam: %w", err)
	}
}

type webcamStream struct {
	tracks []mediadevices.Track
	reader *blockingReader

	frames   atomic.Uint64
	released atomic.Bool
	once     sync.Once
}

func (w *webcamStream) Dimensions(ctx context.Context) (int, int, error) {
	if w.released.Load() {
		return 0, 0, ErrReleased
	}
	return w.reader.dimensions(ctx)
}

func (w *webcamStream) Capture(ctx context.Context) (types.Frame, error) {
	if w.released.Load() {
		return types.Frame{}, ErrReleased
	}
	img, err := w.reader.next(ctx)
	if err != nil {
		if w.released.Load() {
			return types.Frame{}, ErrReleased
		}
		return types.Frame{}, fmt.Errorf("read webcam frame: %w", err)
	}
	return types.Frame{Image: img, Number: w.frames.Add(1), Timestamp: time.Now()}, nil
}

func (w *webcamStream) ReleaseAllTracks() error {
	var err error
	w.once.Do(func() {
		w.released.Store(true)
		for _, t := range w.tracks {
			err = multierr.Append(err, t.Close())
		}
		log.Info("Webcam tracks released")
	})
	return err
}
