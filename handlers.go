package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/eegmontage/montage"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *montage.ResultStore) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string              `json:"status"`
			Timestamp time.Time           `json:"timestamp"`
			HasResult bool                `json:"hasResult"`
			Build     montage.BuildStatus `json:"build"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasResult: store.HasResult(),
			Build:     store.Status(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/template.xyz", withResult(store, "text/plain; charset=utf-8", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.WritePointSet(w, res.Template)
	}))

	mux.HandleFunc("/distances.tsv", withResult(store, "text/tab-separated-values", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.WriteDistanceTrack(w, res)
	}))

	mux.HandleFunc("/report.txt", withResult(store, "text/plain; charset=utf-8", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.WriteReport(w, res)
	}))

	mux.HandleFunc("/report.json", withResult(store, "application/json", func(w io.Writer, res *montage.TemplateResult) error {
		report := struct {
			Summary     montage.TemplateSummary `json:"summary"`
			Diagnostics montage.Diagnostics     `json:"diagnostics"`
			Transforms  *montage.TransformCache `json:"transforms"`
		}{
			Summary:     montage.Summarize(res),
			Diagnostics: res.Diagnostics,
			Transforms:  montage.NewTransformCache(res),
		}
		return json.NewEncoder(w).Encode(report)
	}))

	mux.HandleFunc("/montage.svg", withResult(store, "image/svg+xml", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.NewMontageRenderer(res).RenderToSVG(w)
	}))

	mux.HandleFunc("/montage.png", withResult(store, "image/png", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.NewMontageRenderer(res).RenderToPNG(w)
	}))

	mux.HandleFunc("/heatmap.png", withResult(store, "image/png", func(w io.Writer, res *montage.TemplateResult) error {
		return montage.NewHeatmapRenderer(res.Diagnostics).WritePNG(w)
	}))

	mux.HandleFunc("/montage.geojson", withResult(store, "application/geo+json", func(w io.Writer, res *montage.TemplateResult) error {
		fc := montage.MontageFeatureCollection(res, montage.NewProjection(res.Template))
		return json.NewEncoder(w).Encode(fc)
	}))

	// Default route serves HTML page embedding the SVG montage
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>eegmontage</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#ffffff}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/montage.svg" alt="Montage">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// withResult serves the last template build through write, or 503 when no
// build has completed yet
func withResult(store *montage.ResultStore, contentType string, write func(io.Writer, *montage.TemplateResult) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := store.Result()
		if res == nil {
			http.Error(w, "No template available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		if err := write(w, res); err != nil {
			log.Printf("Error writing %s: %v", r.URL.Path, err)
		}
	}
}
