package export

import (
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchroom/internal/shapes"
	"github.com/jung-kurt/gofpdf"
)

// WritePDF renders the snapshot on a single page sized to the options, one point per pixel.
func WritePDF(w io.Writer, entries []collab.Entry, options Options) error {
	options, err := options.normalized()
	if err != nil {
		return err
	}
	document := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(options.Width), Ht: float64(options.Height)},
	})
	document.SetTitle("sketchroom export", true)
	document.SetAutoPageBreak(false, 0)
	document.AddPage()

	draw(&pdfCanvas{document: document}, Shapes(entries, options.Logger))

	if err := document.Output(w); err != nil {
		return fmt.Errorf("export.pdf: %w", err)
	}
	return nil
}

type pdfCanvas struct {
	document *gofpdf.Fpdf
}

// paint selects colors for style and returns the gofpdf draw style, or "" when nothing is visible.
func (c *pdfCanvas) paint(style shapes.Style) string {
	mode := ""
	if fill, ok := parseColor(style.Fill); ok {
		c.document.SetFillColor(fill.r, fill.g, fill.b)
		mode += "F"
	}
	if stroke, ok := parseColor(style.Stroke); ok && style.StrokeWidth > 0 {
		c.document.SetDrawColor(stroke.r, stroke.g, stroke.b)
		c.document.SetLineWidth(style.StrokeWidth)
		mode = "D" + mode
	}
	if mode == "DF" {
		return "FD"
	}
	return mode
}

func (c *pdfCanvas) rect(bounds shapes.Rect, style shapes.Style) {
	if mode := c.paint(style); mode != "" {
		c.document.Rect(bounds.Left, bounds.Top, bounds.Width, bounds.Height, mode)
	}
}

func (c *pdfCanvas) polygon(points []collab.Point, style shapes.Style) {
	if mode := c.paint(style); mode != "" {
		c.document.Polygon(pdfPoints(points), mode)
	}
}

func (c *pdfCanvas) ellipse(center collab.Point, rx, ry float64, style shapes.Style) {
	if mode := c.paint(style); mode != "" {
		c.document.Ellipse(center.X, center.Y, rx, ry, 0, mode)
	}
}

func (c *pdfCanvas) polyline(points []collab.Point, style shapes.Style) {
	if c.paint(style) == "" {
		return
	}
	for index := 1; index < len(points); index++ {
		c.document.Line(points[index-1].X, points[index-1].Y, points[index].X, points[index].Y)
	}
}

func (c *pdfCanvas) text(value string, at collab.Point, size float64, bold bool, style shapes.Style) {
	fontStyle := ""
	if bold {
		fontStyle = "B"
	}
	color, ok := parseColor(style.Fill)
	if !ok {
		color = rgb{}
	}
	c.document.SetTextColor(color.r, color.g, color.b)
	c.document.SetFont("Helvetica", fontStyle, size)
	c.document.Text(at.X, at.Y, value)
}

func pdfPoints(points []collab.Point) []gofpdf.PointType {
	converted := make([]gofpdf.PointType, 0, len(points))
	for _, point := range points {
		converted = append(converted, gofpdf.PointType{X: point.X, Y: point.Y})
	}
	return converted
}
