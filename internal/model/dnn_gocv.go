//go:build gocv

package model

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// Load reads the network and pins it to the CPU backend.
func (l DNNLoader) Load(ctx context.Context) (Model, error) {
	if _, err := os.Stat(l.WeightsPath); err != nil {
		return nil, fmt.Errorf("%w: model file: %v", ErrModelLoad, err)
	}
	if l.ConfigPath != "" {
		if _, err := os.Stat(l.ConfigPath); err != nil {
			return nil, fmt.Errorf("%w: config file: %v", ErrModelLoad, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	net := gocv.ReadNet(l.WeightsPath, l.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to read network %s", ErrModelLoad, l.WeightsPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("%w: failed to set preferable backend or target", ErrModelLoad)
	}

	log.Info("DNN model loaded from %s", l.WeightsPath)
	return &dnnModel{net: net, threshold: l.threshold()}, nil
}

type dnnModel struct {
	mu        sync.Mutex
	net       gocv.Net
	threshold float32
	closed    bool
}

func (m *dnnModel) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("frame has no image")
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	// Rows are [batch_id, class_id, confidence, x1, y1, x2, y2] with coordinates in [0, 1].
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := float32(mat.Cols()), float32(mat.Rows())
	var detections []types.Detection
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence <= m.threshold {
			continue
		}
		x1 := rows.GetFloatAt(i, 3) * cols
		y1 := rows.GetFloatAt(i, 4) * height
		x2 := rows.GetFloatAt(i, 5) * cols
		y2 := rows.GetFloatAt(i, 6) * height

		detections = append(detections, types.Detection{
			Class: ClassLabel(int(rows.GetFloatAt(i, 1))),
			Score: float64(confidence),
			BBox: types.BBox{
				X:      float64(x1),
				Y:      float64(y1),
				Width:  float64(x2 - x1),
				Height: float64(y2 - y1),
			},
		})
	}
	return detections, nil
}

func (m *dnnModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}
