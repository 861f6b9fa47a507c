package montage

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/montanaflynn/stats"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HeatmapRenderer draws the subject x electrode distance matrix: one row
// per subject, one column per electrode, colored from blue (close to the
// template) to red (at or above the color scale maximum).
type HeatmapRenderer struct {
	Diagnostics Diagnostics
	CellWidth   int
	CellHeight  int

	// ScaleMax is the distance mapped to full red. Zero uses the 95th
	// percentile of all distances.
	ScaleMax float64
}

// NewHeatmapRenderer creates a heatmap renderer with default cell sizes
func NewHeatmapRenderer(d Diagnostics) *HeatmapRenderer {
	return &HeatmapRenderer{Diagnostics: d, CellWidth: 8, CellHeight: 16}
}

const (
	heatmapLabelWidth = 120
	heatmapHeader     = 20
	heatmapLegend     = 24
)

var (
	maskedCellColor = color.RGBA{220, 220, 220, 255}
	textColor       = color.RGBA{0, 0, 0, 255}
	warnTextColor   = color.RGBA{180, 0, 0, 255}
)

// scaleMax picks the distance mapped to full red
func (r *HeatmapRenderer) scaleMax() float64 {
	if r.ScaleMax > 0 {
		return r.ScaleMax
	}
	var all []float64
	for _, row := range r.Diagnostics.Distances {
		for _, d := range row {
			if !math.IsNaN(d) {
				all = append(all, d)
			}
		}
	}
	p95, err := stats.Percentile(all, 95)
	if err != nil || p95 <= 0 {
		return 1
	}
	return p95
}

// Render draws the heatmap
func (r *HeatmapRenderer) Render() *image.RGBA {
	rows := len(r.Diagnostics.Distances)
	cols := 0
	if rows > 0 {
		cols = len(r.Diagnostics.Distances[0])
	}
	width := heatmapLabelWidth + cols*r.CellWidth + 10
	height := heatmapHeader + rows*r.CellHeight + heatmapLegend

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	flagged := make(map[int]bool)
	for _, w := range r.Diagnostics.Warnings {
		flagged[w.Subject] = true
	}

	vmax := r.scaleMax()
	drawText(img, 4, 14, fmt.Sprintf("distance to template (max %.2f)", vmax), textColor)

	for s, row := range r.Diagnostics.Distances {
		y0 := heatmapHeader + s*r.CellHeight
		label := fmt.Sprintf("subject %d", s+1)
		if s < len(r.Diagnostics.Subjects) {
			label = r.Diagnostics.Subjects[s].Name
		}
		if len(label) > 16 {
			label = label[:16]
		}
		c := textColor
		if flagged[s] {
			c = warnTextColor
		}
		drawText(img, 4, y0+r.CellHeight-4, label, c)

		for e, d := range row {
			x0 := heatmapLabelWidth + e*r.CellWidth
			cell := image.Rect(x0, y0, x0+r.CellWidth-1, y0+r.CellHeight-1)
			draw.Draw(img, cell, image.NewUniform(heatColor(d, vmax)), image.Point{}, draw.Src)
		}
	}

	// color legend
	ly := heatmapHeader + rows*r.CellHeight + 6
	for i := 0; i < 100; i++ {
		x := heatmapLabelWidth + i
		draw.Draw(img, image.Rect(x, ly, x+1, ly+10), image.NewUniform(heatColor(float64(i)/99*vmax, vmax)), image.Point{}, draw.Src)
	}
	drawText(img, heatmapLabelWidth+106, ly+10, "0 .. max", textColor)
	return img
}

// heatColor maps d in [0, vmax] onto a blue-white-red ramp
func heatColor(d, vmax float64) color.RGBA {
	if math.IsNaN(d) {
		return maskedCellColor
	}
	t := clip(d/vmax, 0, 1)
	if t < 0.5 {
		k := t / 0.5
		return color.RGBA{R: uint8(49 + k*(255-49)), G: uint8(54 + k*(255-54)), B: uint8(149 + k*(255-149)), A: 255}
	}
	k := (t - 0.5) / 0.5
	return color.RGBA{R: 255 - uint8(k*(255-165)), G: 255 - uint8(k*255), B: 255 - uint8(k*(255-38)), A: 255}
}

// WritePNG encodes the heatmap as PNG
func (r *HeatmapRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders the heatmap to a PNG file
func (r *HeatmapRenderer) SavePNG(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WritePNG(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
