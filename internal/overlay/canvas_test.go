package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

func opaquePixels(img *image.RGBA, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y).A > 0 {
				n++
			}
		}
	}
	return n
}

func TestResizeStartsTransparent(t *testing.T) {
	c := New()
	w, h := c.Size()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)

	c.Resize(64, 48)
	w, h = c.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
	assert.Zero(t, opaquePixels(c.Image(), image.Rect(0, 0, 64, 48)))
}

func TestStrokeRectDrawsRedOutline(t *testing.T) {
	c := New()
	c.Resize(64, 64)
	c.StrokeRect(types.BBox{X: 10, Y: 10, Width: 30, Height: 30})

	img := c.Image()
	edge := img.RGBAAt(25, 10)
	assert.Equal(t, uint8(255), edge.R)
	assert.Equal(t, uint8(0), edge.G)
	assert.Equal(t, uint8(255), edge.A)
	assert.Zero(t, img.RGBAAt(25, 25).A, "boxes are outlines, not fills")
}

func TestFillTextAndClear(t *testing.T) {
	c := New()
	c.Resize(120, 40)
	c.FillText("dog (87%)", 5, 20)

	require.Positive(t, opaquePixels(c.Image(), image.Rect(0, 0, 120, 40)))

	c.Clear()
	assert.Zero(t, opaquePixels(c.Image(), image.Rect(0, 0, 120, 40)))
}

func TestImageIsACopy(t *testing.T) {
	c := New()
	c.Resize(8, 8)
	snap := c.Image()
	c.StrokeRect(types.BBox{X: 1, Y: 1, Width: 5, Height: 5})
	assert.Zero(t, opaquePixels(snap, snap.Bounds()))
}

func TestCompositeOverFrame(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(base, base.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	c := New()
	c.Resize(64, 64)
	c.StrokeRect(types.BBox{X: 10, Y: 10, Width: 30, Height: 30})

	out := c.Composite(base)
	r, g, b, _ := out.At(25, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Less(t, g, uint32(0x1000))
	assert.Less(t, b, uint32(0x1000))

	r, g, b, _ = out.At(25, 25).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, base.RGBAAt(25, 10), "base frame untouched")
}

func TestCompositeWithoutFrame(t *testing.T) {
	c := New()
	c.Resize(16, 16)
	assert.Equal(t, image.Rect(0, 0, 16, 16), c.Composite(nil).Bounds())
}

func TestComposeScalesLayer(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(base, base.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	c := New()
	c.Resize(32, 32)
	c.StrokeRect(types.BBox{X: 5, Y: 5, Width: 20, Height: 20})
	layer := c.Image()

	out := Compose(base, layer)
	require.Equal(t, base.Bounds(), out.Bounds())
	r, g, _, _ := out.At(30, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Less(t, g, uint32(0x1000), "top edge lands at twice its canvas offset")

	c.Clear()
	_, g, _, _ = Compose(base, layer).At(30, 10).RGBA()
	assert.Less(t, g, uint32(0x1000), "the snapshot outlives a cleared canvas")
}
