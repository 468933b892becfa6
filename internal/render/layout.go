// Package render draws diagnostic snapshots of an index: its partition
// nodes, an optional query rect and the objects that query returned.
package render

import (
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"tree-display/internal/spatial"
)

// DefaultSize is the pixel length of the longer image side.
const DefaultSize = 1024

// Mark is a circle drawn on top of the partition.
type Mark struct {
	Center spatial.Vec2
	R      float32
	Color  color.RGBA
}

// Options controls what Layout draws besides the nodes.
type Options struct {
	Size  int           // Longer side in pixels, DefaultSize when zero
	Query *spatial.Rect // Outlined in red when set
	Marks []Mark
	Label string // Drawn in the top-left corner
}

// depthColors cycles per tree level.
var depthColors = []color.RGBA{
	{40, 40, 60, 255},
	{30, 90, 180, 255},
	{20, 140, 120, 255},
	{110, 150, 30, 255},
	{200, 140, 20, 255},
	{200, 80, 40, 255},
	{170, 40, 110, 255},
	{100, 50, 170, 255},
}

// Layout renders nodes inside area into a new image.
func Layout(area spatial.Rect, nodes []spatial.Node, opts Options) image.Image {
	return draw(area, nodes, opts).Image()
}

// WritePNG renders like Layout and encodes the result as PNG.
func WritePNG(w io.Writer, area spatial.Rect, nodes []spatial.Node, opts Options) error {
	return draw(area, nodes, opts).EncodePNG(w)
}

func draw(area spatial.Rect, nodes []spatial.Node, opts Options) *gg.Context {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}

	longest := max(area.Size.X, area.Size.Y)
	scale := 1.0
	if longest > 0 {
		scale = float64(size) / float64(longest)
	}
	width := max(1, int(float64(area.Size.X)*scale))
	height := max(1, int(float64(area.Size.Y)*scale))

	toPx := func(r spatial.Rect) (x, y, w, h float64) {
		return float64(r.Pos.X-area.Pos.X) * scale,
			float64(r.Pos.Y-area.Pos.Y) * scale,
			float64(r.Size.X) * scale,
			float64(r.Size.Y) * scale
	}

	dc := gg.NewContext(width, height)

	// Background
	dc.SetColor(color.RGBA{250, 250, 255, 255})
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	// Occupied nodes get a faint wash, then every node is outlined.
	for _, n := range nodes {
		if n.Objects == 0 {
			continue
		}
		c := depthColors[n.Depth%len(depthColors)]
		dc.SetColor(color.RGBA{c.R, c.G, c.B, 24})
		dc.DrawRectangle(toPx(n.Area))
		dc.Fill()
	}
	dc.SetLineWidth(1)
	for _, n := range nodes {
		dc.SetColor(depthColors[n.Depth%len(depthColors)])
		dc.DrawRectangle(toPx(n.Area))
		dc.Stroke()
	}

	for _, m := range opts.Marks {
		x, y, _, _ := toPx(spatial.Rect{Pos: m.Center})
		r := max(float64(m.R)*scale, 1)
		dc.SetColor(m.Color)
		dc.DrawCircle(x, y, r)
		dc.Fill()
	}

	if opts.Query != nil {
		dc.SetColor(color.RGBA{220, 30, 30, 255})
		dc.SetLineWidth(2)
		dc.DrawRectangle(toPx(*opts.Query))
		dc.Stroke()
	}

	if opts.Label != "" {
		dc.SetFontFace(basicfont.Face7x13)
		w, h := dc.MeasureString(opts.Label)
		dc.SetColor(color.RGBA{255, 255, 255, 200})
		dc.DrawRectangle(2, 2, w+8, h+8)
		dc.Fill()
		dc.SetColor(color.RGBA{20, 20, 30, 255})
		dc.DrawStringAnchored(opts.Label, 6, 6, 0, 1)
	}

	return dc
}
