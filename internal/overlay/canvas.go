// Package overlay is the transparent drawing surface laid over the live video.
package overlay

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

var (
	boxColor  = color.RGBA{R: 255, A: 255}
	textColor = color.RGBA{R: 255, A: 255}
)

const lineWidth = 2

// Canvas is a transparent RGBA drawing surface. It is not safe for concurrent
// use; the detection loop serializes access.
type Canvas struct {
	dc *gg.Context
}

// New returns a 1x1 canvas that is resized once the video size is known.
func New() *Canvas {
	c := &Canvas{}
	c.Resize(1, 1)
	return c
}

// Resize replaces the surface with a cleared one of the given size.
func (c *Canvas) Resize(width, height int) {
	c.dc = gg.NewContext(max(width, 1), max(height, 1))
	c.dc.SetFontFace(basicfont.Face7x13)
	c.dc.SetLineWidth(lineWidth)
	c.Clear()
}

// Size returns the surface dimensions.
func (c *Canvas) Size() (width, height int) {
	return c.dc.Width(), c.dc.Height()
}

// Clear makes every pixel transparent.
func (c *Canvas) Clear() {
	c.dc.SetColor(color.Transparent)
	c.dc.Clear()
}

// StrokeRect outlines a box in red.
func (c *Canvas) StrokeRect(box types.BBox) {
	c.dc.SetColor(boxColor)
	c.dc.SetLineWidth(lineWidth)
	c.dc.DrawRectangle(box.X, box.Y, box.Width, box.Height)
	c.dc.Stroke()
}

// FillText draws text with its baseline starting at (x, y).
func (c *Canvas) FillText(text string, x, y float64) {
	c.dc.SetColor(textColor)
	c.dc.DrawString(text, x, y)
}

// Image returns a copy of the surface.
func (c *Canvas) Image() *image.RGBA {
	src := c.dc.Image().(*image.RGBA)
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}

// Composite draws the surface over base, scaled to base's size, and returns
// the result. base is not modified.
func (c *Canvas) Composite(base image.Image) image.Image {
	if base == nil {
		return c.Image()
	}
	return Compose(base, c.dc.Image())
}

// Compose draws layer over base, scaled to base's size. Neither image is
// modified.
func Compose(base, layer image.Image) image.Image {
	dc := gg.NewContextForImage(base)
	bw, bh := dc.Width(), dc.Height()
	lw, lh := layer.Bounds().Dx(), layer.Bounds().Dy()
	if lw > 0 && lh > 0 && (bw != lw || bh != lh) {
		dc.Scale(float64(bw)/float64(lw), float64(bh)/float64(lh))
	}
	dc.DrawImage(layer, 0, 0)
	return dc.Image()
}
