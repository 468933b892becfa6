package scene

import (
	"tree-display/internal/config"
	"tree-display/internal/spatial"
)

// Cursor is the square erase brush. Its size always stays within the
// configured bounds.
type Cursor struct {
	cfg  config.CursorConfig
	size float64
}

// NewCursor returns a cursor at the configured default size.
func NewCursor(cfg config.CursorConfig) Cursor {
	c := Cursor{cfg: cfg}
	c.SetSize(cfg.DefaultSize)
	return c
}

// Size returns the side length.
func (c Cursor) Size() float64 { return c.size }

// SetSize clamps size into bounds.
func (c *Cursor) SetSize(size float64) {
	c.size = min(max(size, c.cfg.MinSize), c.cfg.MaxSize)
}

// Grow enlarges the cursor by one step.
func (c *Cursor) Grow() { c.SetSize(c.size + c.cfg.Step) }

// Shrink reduces the cursor by one step.
func (c *Cursor) Shrink() { c.SetSize(c.size - c.cfg.Step) }

// ZoomIn keeps the cursor's on-screen size when the view zooms in.
func (c *Cursor) ZoomIn() { c.SetSize(c.size / c.cfg.ZoomFactor) }

// ZoomOut keeps the cursor's on-screen size when the view zooms out.
func (c *Cursor) ZoomOut() { c.SetSize(c.size * c.cfg.ZoomFactor) }

// Rect returns the cursor square centred on center.
func (c Cursor) Rect(center spatial.Vec2) spatial.Rect {
	s := float32(c.size)
	return spatial.Rect{
		Pos:  center.Sub(spatial.Vec2{X: s / 2, Y: s / 2}),
		Size: spatial.Vec2{X: s, Y: s},
	}
}
