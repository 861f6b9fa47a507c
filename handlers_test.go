package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kwv/eegmontage/montage"
	"github.com/paulmach/orb/geojson"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var (
	storeResultOnce sync.Once
	storeResult     *montage.TemplateResult
)

// populatedStore returns a store holding a template built from the subject
// fixtures. The build runs once per test binary.
func populatedStore(t *testing.T) *montage.ResultStore {
	t.Helper()
	storeResultOnce.Do(func() {
		storeResult = fixtureResult(t)
	})
	if storeResult == nil {
		t.Fatal("fixture build failed")
	}
	st := montage.NewResultStore()
	st.Begin([]string{"s1.xyz", "s2.xyz", "s3.xyz"})
	st.Update(storeResult)
	return st
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealth_NoResult(t *testing.T) {
	w := get(t, newHTTPServer(montage.NewResultStore()), "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Status    string `json:"status"`
		HasResult bool   `json:"hasResult"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.HasResult {
		t.Error("hasResult = true, want false before any build")
	}
}

func TestHealth_WithResult(t *testing.T) {
	w := get(t, newHTTPServer(populatedStore(t)), "/health")

	var body struct {
		HasResult bool                `json:"hasResult"`
		Build     montage.BuildStatus `json:"build"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode /health response: %v", err)
	}
	if !body.HasResult {
		t.Error("hasResult = false, want true after a build")
	}
	if body.Build.Running {
		t.Error("build.running = true, want false")
	}
	if len(body.Build.Inputs) != 3 {
		t.Errorf("build.inputs = %v, want 3 inputs", body.Build.Inputs)
	}
}

func TestHealth_ReportsFailedBuild(t *testing.T) {
	st := montage.NewResultStore()
	st.Begin([]string{"s1.xyz"})
	st.Fail(montage.ErrInvalidInput)

	w := get(t, newHTTPServer(st), "/health")
	if !strings.Contains(w.Body.String(), `"lastError":"invalid input`) {
		t.Errorf("expected the build error in /health, got %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// result endpoints without a build (503 paths)
// ---------------------------------------------------------------------------

func TestEndpoints_NoResult_503(t *testing.T) {
	handler := newHTTPServer(montage.NewResultStore())

	endpoints := []string{
		"/template.xyz",
		"/distances.tsv",
		"/report.txt",
		"/report.json",
		"/montage.svg",
		"/montage.png",
		"/heatmap.png",
		"/montage.geojson",
	}

	for _, ep := range endpoints {
		t.Run(ep, func(t *testing.T) {
			w := get(t, handler, ep)
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("%s status = %d, want %d", ep, w.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// result endpoints after a build (200 paths)
// ---------------------------------------------------------------------------

func TestEndpoints_ContentTypes(t *testing.T) {
	handler := newHTTPServer(populatedStore(t))

	tests := []struct {
		path        string
		contentType string
	}{
		{"/template.xyz", "text/plain; charset=utf-8"},
		{"/distances.tsv", "text/tab-separated-values"},
		{"/report.txt", "text/plain; charset=utf-8"},
		{"/report.json", "application/json"},
		{"/montage.svg", "image/svg+xml"},
		{"/montage.png", "image/png"},
		{"/heatmap.png", "image/png"},
		{"/montage.geojson", "application/geo+json"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, handler, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("%s status = %d, want %d, body=%q", tt.path, w.Code, http.StatusOK, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.contentType)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
				t.Errorf("Cache-Control = %q, want no-cache", cc)
			}
			if w.Body.Len() == 0 {
				t.Error("empty body")
			}
		})
	}
}

func TestTemplateXYZ_ParsesBack(t *testing.T) {
	st := populatedStore(t)
	w := get(t, newHTTPServer(st), "/template.xyz")

	ps, err := montage.ParsePointSet(w.Body)
	if err != nil {
		t.Fatalf("failed to parse /template.xyz: %v", err)
	}
	want := st.Result().Template
	if ps.Len() != want.Len() {
		t.Fatalf("got %d points, want %d", ps.Len(), want.Len())
	}
	if ps.Names[0] != want.Names[0] {
		t.Errorf("first name = %q, want %q", ps.Names[0], want.Names[0])
	}
	if d := ps.Points[0].Sub(want.Points[0]).Norm(); d > 1e-5 {
		t.Errorf("first point off by %v", d)
	}
}

func TestReportJSON(t *testing.T) {
	w := get(t, newHTTPServer(populatedStore(t)), "/report.json")

	var report struct {
		Summary     montage.TemplateSummary `json:"summary"`
		Diagnostics struct {
			Subjects []montage.DistanceStats `json:"subjects"`
		} `json:"diagnostics"`
		Transforms montage.TransformCache `json:"transforms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode /report.json: %v", err)
	}
	if got := strings.Join(report.Summary.Subjects, ","); got != "s1,s2,s3" {
		t.Errorf("subjects = %s, want s1,s2,s3", got)
	}
	if len(report.Diagnostics.Subjects) != 3 {
		t.Errorf("got %d subject stats, want 3", len(report.Diagnostics.Subjects))
	}
	if _, ok := report.Transforms.Lookup("s2"); !ok {
		t.Error("transform for s2 missing")
	}
}

func TestMontagePNG_Decodes(t *testing.T) {
	for _, path := range []string{"/montage.png", "/heatmap.png"} {
		w := get(t, newHTTPServer(populatedStore(t)), path)
		img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
		if err != nil {
			t.Fatalf("%s: invalid PNG: %v", path, err)
		}
		if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
			t.Errorf("%s: empty image %v", path, b)
		}
	}
}

func TestMontageGeoJSON(t *testing.T) {
	st := populatedStore(t)
	w := get(t, newHTTPServer(st), "/montage.geojson")

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	// head outline, one feature per electrode and one per subject
	want := 1 + st.Result().Template.Len() + 3
	if len(fc.Features) != want {
		t.Errorf("got %d features, want %d", len(fc.Features), want)
	}
}

// ---------------------------------------------------------------------------
// index page
// ---------------------------------------------------------------------------

func TestIndexPage(t *testing.T) {
	handler := newHTTPServer(montage.NewResultStore())

	w := get(t, handler, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("/ status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `<img src="/montage.svg"`) {
		t.Error("index page should embed the montage SVG")
	}

	if w := get(t, handler, "/composite-map.png"); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
