package montage

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Montage drawing colors.
var (
	templateColor = color.RGBA{R: 33, G: 102, B: 172, A: 255}
	subjectColor  = color.RGBA{R: 150, G: 150, B: 150, A: 160}
	flaggedColor  = color.RGBA{R: 214, G: 39, B: 40, A: 200}
	headColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// MontageRenderer draws a template, optionally with the registered subject
// points, as a flat top view of the head.
type MontageRenderer struct {
	Template   PointSet
	Subjects   []PointSet
	Flagged    map[int]bool
	Projection Projection

	Padding         float64           // world units around the head outline
	ElectrodeRadius float64           // template marker radius in world units
	Resolution      canvas.Resolution // PNG resolution (default 300 DPI)
}

// NewMontageRenderer creates a renderer for a build result
func NewMontageRenderer(res *TemplateResult) *MontageRenderer {
	r := NewTemplateRenderer(res.Template)
	r.Subjects = res.Registered
	r.Flagged = make(map[int]bool, len(res.Warnings))
	for _, w := range res.Warnings {
		r.Flagged[w.Subject] = true
	}
	return r
}

// NewTemplateRenderer creates a renderer for a bare point set
func NewTemplateRenderer(template PointSet) *MontageRenderer {
	proj := NewProjection(template)
	return &MontageRenderer{
		Template:        template,
		Projection:      proj,
		Padding:         0.1 * proj.Radius,
		ElectrodeRadius: 0.03 * proj.Radius,
		Resolution:      canvas.DPI(300),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// frame returns the square drawing area: the projected bounds grown to a
// circle around the origin plus padding
func (r *MontageRenderer) frame() (half, size float64) {
	b := r.Projection.Bound(append([]PointSet{r.Template}, r.Subjects...)...)
	half = math.Max(
		math.Max(math.Abs(b.Min[0]), math.Abs(b.Max[0])),
		math.Max(math.Abs(b.Min[1]), math.Abs(b.Max[1])),
	)
	if half == 0 {
		half = r.Projection.Radius
	}
	half += r.Padding + 2*r.ElectrodeRadius
	return half, 2 * half
}

// RenderToSVG writes the montage as an SVG to the provided writer
func (r *MontageRenderer) RenderToSVG(w io.Writer) error {
	if r.Template.Len() == 0 {
		return fmt.Errorf("%w: nothing to render", ErrInvalidInput)
	}
	half, size := r.frame()
	s := svg.New(w, size, size, nil)
	r.renderToCanvas(s, half, size)
	return s.Close()
}

// RenderToPNG writes the montage as a PNG to the provided writer
func (r *MontageRenderer) RenderToPNG(w io.Writer) error {
	if r.Template.Len() == 0 {
		return fmt.Errorf("%w: nothing to render", ErrInvalidInput)
	}
	half, size := r.frame()
	res := r.Resolution
	if res == 0 {
		res = canvas.DPI(300)
	}
	rast := rasterizer.New(size, size, res, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, half, size)
	return png.Encode(w, rast)
}

func (r *MontageRenderer) renderToCanvas(renderer canvasRenderer, half, size float64) {
	toCanvas := func(p orb.Point) (float64, float64) {
		return p[0] + half, p[1] + half
	}

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(size, size), bg, canvas.Identity)

	// head outline at the equator with the nose at +Y
	outline := canvas.DefaultStyle
	outline.Fill = canvas.Paint{Color: canvas.Transparent}
	outline.Stroke = canvas.Paint{Color: headColor}
	outline.StrokeWidth = 0.01 * r.Projection.Radius
	rim := r.Projection.Radius * math.Pi / 2
	renderer.RenderPath(canvas.Circle(rim).Translate(half, half), outline, canvas.Identity)

	nose := &canvas.Path{}
	nw := 0.1 * rim
	nose.MoveTo(half-nw, half+rim*math.Cos(math.Asin(nw/rim)))
	nose.LineTo(half, half+rim+nw)
	nose.LineTo(half+nw, half+rim*math.Cos(math.Asin(nw/rim)))
	renderer.RenderPath(nose, outline, canvas.Identity)

	// subject points under the template
	for s, ps := range r.Subjects {
		style := canvas.DefaultStyle
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		style.Fill = canvas.Paint{Color: subjectColor}
		if r.Flagged[s] {
			style.Fill = canvas.Paint{Color: flaggedColor}
		}
		pts, ok := r.Projection.ProjectSet(ps)
		for i, p := range pts {
			if !ok[i] {
				continue
			}
			cx, cy := toCanvas(p)
			renderer.RenderPath(canvas.Circle(0.4*r.ElectrodeRadius).Translate(cx, cy), style, canvas.Identity)
		}
	}

	electrode := canvas.DefaultStyle
	electrode.Fill = canvas.Paint{Color: templateColor}
	electrode.Stroke = canvas.Paint{Color: canvas.Black}
	electrode.StrokeWidth = 0.15 * r.ElectrodeRadius
	pts, ok := r.Projection.ProjectSet(r.Template)
	for i, p := range pts {
		if !ok[i] {
			continue
		}
		cx, cy := toCanvas(p)
		renderer.RenderPath(canvas.Circle(r.ElectrodeRadius).Translate(cx, cy), electrode, canvas.Identity)
	}
}
