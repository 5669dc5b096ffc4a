package types

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// Frame represents one captured video frame with metadata
type Frame struct {
	Image     image.Image // Decoded pixels at the camera's native resolution
	Number    uint64      // Sequential frame number
	Timestamp time.Time   // Frame capture timestamp
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// BBox is a bounding box in frame-relative pixels
type BBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// MarshalJSON encodes the box as [x, y, width, height]
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.Width, b.Height})
}

// UnmarshalJSON decodes a box from [x, y, width, height]
func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox must have 4 elements, got %d", len(raw))
	}
	b.X, b.Y, b.Width, b.Height = raw[0], raw[1], raw[2], raw[3]
	return nil
}

// Detection is one classified object in a single frame
type Detection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"` // Confidence in [0, 1]
	BBox  BBox    `json:"bbox"`
}
