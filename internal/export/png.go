package export

import (
	"fmt"
	"io"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce   sync.Once
	fontSource *text.FontSource
	fontErr    error
)

func regularFont() (*text.FontSource, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewFontSource(goregular.TTF)
	})
	return fontSource, fontErr
}

// WritePNG rasterizes the snapshot on a white background.
func WritePNG(w io.Writer, entries []collab.Entry, options Options) error {
	options, err := options.normalized()
	if err != nil {
		return err
	}
	source, err := regularFont()
	if err != nil {
		return fmt.Errorf("export.png: load font: %w", err)
	}
	dc := gg.NewContext(options.Width, options.Height)
	defer dc.Close()
	dc.ClearWithColor(gg.White)

	draw(&pngCanvas{context: dc, font: source}, Shapes(entries, options.Logger))

	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("export.png: %w", err)
	}
	return nil
}

type pngCanvas struct {
	context *gg.Context
	font    *text.FontSource
}

// paint fills and strokes the current path, then clears it.
func (c *pngCanvas) paint(style shapes.Style) {
	if _, ok := parseColor(style.Fill); ok {
		c.context.SetHexColor(style.Fill)
		_ = c.context.FillPreserve()
	}
	if _, ok := parseColor(style.Stroke); ok && style.StrokeWidth > 0 {
		c.context.SetHexColor(style.Stroke)
		c.context.SetLineWidth(style.StrokeWidth)
		_ = c.context.StrokePreserve()
	}
	c.context.ClearPath()
}

func (c *pngCanvas) rect(bounds shapes.Rect, style shapes.Style) {
	c.context.DrawRectangle(bounds.Left, bounds.Top, bounds.Width, bounds.Height)
	c.paint(style)
}

func (c *pngCanvas) polygon(points []collab.Point, style shapes.Style) {
	c.trace(points)
	c.context.ClosePath()
	c.paint(style)
}

func (c *pngCanvas) ellipse(center collab.Point, rx, ry float64, style shapes.Style) {
	c.context.DrawEllipse(center.X, center.Y, rx, ry)
	c.paint(style)
}

func (c *pngCanvas) polyline(points []collab.Point, style shapes.Style) {
	c.trace(points)
	c.paint(style)
}

func (c *pngCanvas) text(value string, at collab.Point, size float64, _ bool, style shapes.Style) {
	if size <= 0 {
		return
	}
	color := style.Fill
	if _, ok := parseColor(color); !ok {
		color = "#000000"
	}
	c.context.SetFont(c.font.Face(size))
	c.context.SetHexColor(color)
	c.context.DrawString(value, at.X, at.Y)
}

func (c *pngCanvas) trace(points []collab.Point) {
	for index, point := range points {
		if index == 0 {
			c.context.MoveTo(point.X, point.Y)
			continue
		}
		c.context.LineTo(point.X, point.Y)
	}
}
