// Package compositor maintains one frame buffer per visual source and
// renders them into a single banded composite raster.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Source identifies a visual input. Band order on the composite is fixed
// top to bottom: annotation, screen, camera.
type Source int

const (
	SourceAnnotation Source = iota
	SourceScreen
	SourceCamera
	numSources
)

func (s Source) String() string {
	switch s {
	case SourceAnnotation:
		return "annotation"
	case SourceScreen:
		return "screen"
	case SourceCamera:
		return "camera"
	default:
		return "unknown"
	}
}

// Config fixes the composite geometry. The output is always Width wide
// and 3*BandHeight tall regardless of which sources are active.
type Config struct {
	Width      int
	BandHeight int
	Background color.RGBA
}

// DefaultConfig returns the geometry used when none is configured.
func DefaultConfig() Config {
	return Config{Width: 1280, BandHeight: 240, Background: color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}}
}

// frameBuffer holds the most recent raster for one source. Overwritten in
// place on each update; no queue, no history.
type frameBuffer struct {
	img *image.RGBA
	rev uint64
}

// Compositor owns the per-source buffers. Updates are last-write-wins;
// rendering is driven by an independent pacing loop, never by Update.
type Compositor struct {
	mu      sync.Mutex
	cfg     Config
	bufs    [numSources]frameBuffer
	visible [numSources]bool
	rev     uint64
	out     *image.RGBA
	scaler  xdraw.Scaler
}

// New creates a compositor with all sources visible and empty.
func New(cfg Config) *Compositor {
	if cfg.Width <= 0 || cfg.BandHeight <= 0 {
		cfg = DefaultConfig()
	}
	c := &Compositor{cfg: cfg, scaler: xdraw.ApproxBiLinear}
	for i := range c.visible {
		c.visible[i] = true
	}
	return c
}

// Update replaces the source's buffer unconditionally. Frames arriving
// faster than the render cadence are simply overwritten.
func (c *Compositor) Update(src Source, img image.Image) {
	if src < 0 || src >= numSources || img == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rev++
	buf := &c.bufs[src]
	buf.rev = c.rev
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok {
		buf.img = rgba
		return
	}
	if buf.img == nil || buf.img.Bounds() != b {
		buf.img = image.NewRGBA(b)
	}
	draw.Draw(buf.img, b, img, b.Min, draw.Src)
}

// Clear drops the source's buffer; its band renders as background.
func (c *Compositor) Clear(src Source) {
	if src < 0 || src >= numSources {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bufs[src].img != nil {
		c.rev++
		c.bufs[src] = frameBuffer{rev: c.rev}
	}
}

// SetVisible toggles a source without changing geometry. A hidden source
// renders as background, keeping band layout constant.
func (c *Compositor) SetVisible(src Source, v bool) {
	if src < 0 || src >= numSources {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible[src] != v {
		c.visible[src] = v
		c.rev++
	}
}

// Revision increases monotonically on every update, clear or visibility
// change. A renderer that remembers the last revision it drew can skip
// work when nothing changed.
func (c *Compositor) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev
}

// Size returns the fixed composite dimensions.
func (c *Compositor) Size() (w, h int) {
	return c.cfg.Width, c.cfg.BandHeight * int(numSources)
}

// Render draws all bands into the composite raster and returns it along
// with the revision it reflects. The raster is reused across calls; it is
// valid until the next Render.
func (c *Compositor) Render() (*image.RGBA, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, h := c.cfg.Width, c.cfg.BandHeight*int(numSources)
	if c.out == nil || c.out.Bounds().Dx() != w || c.out.Bounds().Dy() != h {
		c.out = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	bg := image.NewUniform(c.cfg.Background)
	for i := 0; i < int(numSources); i++ {
		band := image.Rect(0, i*c.cfg.BandHeight, w, (i+1)*c.cfg.BandHeight)
		src := c.bufs[i].img
		if src == nil || !c.visible[i] {
			draw.Draw(c.out, band, bg, image.Point{}, draw.Src)
			continue
		}
		c.scaler.Scale(c.out, band, src, src.Bounds(), xdraw.Src, nil)
	}
	return c.out, c.rev
}
