package montage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tdewolff/canvas"
	"go.uber.org/multierr"
)

// WriteOutputs writes every enabled output of a build. A failing writer
// does not stop the others; all failures are returned together.
func WriteOutputs(res *TemplateResult, out OutputConfig) error {
	var errs error

	if p := out.Path(out.Template); p != "" {
		errs = multierr.Append(errs, WritePointSetFile(p, res.Template))
	}
	if p := out.Path(out.Track); p != "" {
		errs = multierr.Append(errs, writeFile(p, func(w io.Writer) error { return WriteDistanceTrack(w, res) }))
	}
	if p := out.Path(out.Report); p != "" {
		errs = multierr.Append(errs, writeFile(p, func(w io.Writer) error { return WriteReport(w, res) }))
	}
	if p := out.Path(out.Transforms); p != "" {
		errs = multierr.Append(errs, SaveTransforms(p, NewTransformCache(res)))
	}

	mr := NewMontageRenderer(res)
	if out.Resolution > 0 {
		mr.Resolution = canvas.DPI(out.Resolution)
	}
	if p := out.Path(out.SVG); p != "" {
		errs = multierr.Append(errs, writeFile(p, mr.RenderToSVG))
	}
	if p := out.Path(out.PNG); p != "" {
		errs = multierr.Append(errs, writeFile(p, mr.RenderToPNG))
	}
	if p := out.Path(out.Heatmap); p != "" {
		errs = multierr.Append(errs, NewHeatmapRenderer(res.Diagnostics).SavePNG(p))
	}
	if p := out.Path(out.GeoJSON); p != "" {
		errs = multierr.Append(errs, writeFile(p, func(w io.Writer) error {
			data, err := json.MarshalIndent(MontageFeatureCollection(res, mr.Projection), "", "  ")
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		}))
	}
	return errs
}

// writeFile creates path (and its directory) and fills it with write
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteSurfaceFigure draws ps projected onto a fitted surface model, with the
// raw points overlaid, as an SVG top view centred on the model
func WriteSurfaceFigure(path string, ps PointSet, fit *SurfaceFitResult) error {
	r := NewTemplateRenderer(fit.Model.TransformSet(ps))
	r.Subjects = []PointSet{ps}
	r.Projection = NewModelProjection(fit.Model)
	r.Padding = 0.1 * r.Projection.Radius
	r.ElectrodeRadius = 0.03 * r.Projection.Radius
	return writeFile(path, r.RenderToSVG)
}
