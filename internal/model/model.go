// Package model adapts object detection backends to a single Detect call
// returning coco-ssd style detections.
package model

import (
	"context"
	"errors"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// ErrModelLoad wraps every failure to make a model ready.
var ErrModelLoad = errors.New("model load failed")

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("model closed")

// Model classifies objects in a frame. Boxes are in the frame's pixel space.
type Model interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
	Close() error
}

// Loader makes a Model ready for inference.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}
