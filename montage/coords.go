package montage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

// ParsePointSet reads a coordinate list: one "x y z [name]" record per line,
// separated by spaces, tabs or commas. Blank lines and lines starting with
// '#' are ignored. Either every record carries a name or none does.
func ParsePointSet(r io.Reader) (PointSet, error) {
	var ps PointSet
	named := -1
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ','
		})
		if len(fields) < 3 || len(fields) > 4 {
			return PointSet{}, fmt.Errorf("%w: line %d: expected 3 or 4 fields, got %d", ErrInvalidInput, line, len(fields))
		}
		var xyz [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return PointSet{}, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, line, err)
			}
			xyz[i] = v
		}
		hasName := 0
		if len(fields) == 4 {
			hasName = 1
		}
		if named >= 0 && named != hasName {
			return PointSet{}, fmt.Errorf("%w: line %d: names must be given for all points or none", ErrInvalidInput, line)
		}
		named = hasName
		ps.Points = append(ps.Points, r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]})
		if hasName == 1 {
			ps.Names = append(ps.Names, fields[3])
		}
	}
	if err := sc.Err(); err != nil {
		return PointSet{}, err
	}
	if err := ps.Validate(); err != nil {
		return PointSet{}, err
	}
	return ps, nil
}

// ReadPointSetFile reads a coordinate file from disk
func ReadPointSetFile(path string) (PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return PointSet{}, err
	}
	defer func() { _ = f.Close() }()

	ps, err := ParsePointSet(f)
	if err != nil {
		return PointSet{}, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// WritePointSet writes ps in the format read by ParsePointSet
func WritePointSet(w io.Writer, ps PointSet) error {
	bw := bufio.NewWriter(w)
	for i, p := range ps.Points {
		var err error
		if ps.HasNames() {
			_, err = fmt.Fprintf(bw, "%.6f\t%.6f\t%.6f\t%s\n", p.X, p.Y, p.Z, ps.Names[i])
		} else {
			_, err = fmt.Fprintf(bw, "%.6f\t%.6f\t%.6f\n", p.X, p.Y, p.Z)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WritePointSetFile writes ps to path, creating parent directories
func WritePointSetFile(path string, ps PointSet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePointSet(f, ps); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadPointSet reads a local file or, for http(s) URLs, fetches it
func LoadPointSet(ctx context.Context, location string, opts ...FetchOption) (PointSet, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return FetchPointSet(ctx, location, opts...)
	}
	return ReadPointSetFile(location)
}

// LoadSubjects loads every location. All failures are reported together.
func LoadSubjects(ctx context.Context, locations []string, opts ...FetchOption) ([]PointSet, []string, error) {
	subjects := make([]PointSet, len(locations))
	names := make([]string, len(locations))
	var errs error
	for i, loc := range locations {
		ps, err := LoadPointSet(ctx, loc, opts...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subject %d: %w", i+1, err))
			continue
		}
		subjects[i] = ps
		names[i] = SubjectNameFromPath(loc)
	}
	if errs != nil {
		return nil, nil, errs
	}
	return subjects, names, nil
}

// SubjectNameFromPath derives a subject label from a file name or URL
func SubjectNameFromPath(location string) string {
	base := filepath.Base(location)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BuildTemplateFromFiles loads every subject and builds the template
func BuildTemplateFromFiles(ctx context.Context, locations []string, cfg TemplateConfig, opts ...FetchOption) (*TemplateResult, error) {
	subjects, names, err := LoadSubjects(ctx, locations, opts...)
	if err != nil {
		return nil, err
	}
	if len(cfg.SubjectNames) == 0 {
		cfg.SubjectNames = names
	}
	return BuildTemplate(ctx, subjects, cfg)
}
