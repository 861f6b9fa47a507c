package montage

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BuildStatus describes the most recent build attempt
type BuildStatus struct {
	Running   bool      `json:"running"`
	Inputs    []string  `json:"inputs,omitempty"`
	Started   time.Time `json:"started,omitempty"`
	Finished  time.Time `json:"finished,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

// ResultStore keeps the last successful build for HTTP endpoints and
// optionally persists it as JSON
type ResultStore struct {
	mu        sync.RWMutex
	result    *TemplateResult
	status    BuildStatus
	cachePath string
}

// NewResultStore creates an empty in-memory store
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// NewResultStoreWithCache creates a store that persists each result to
// cachePath and loads an existing cache on creation
func NewResultStoreWithCache(cachePath string) *ResultStore {
	st := &ResultStore{cachePath: cachePath}
	if cachePath != "" {
		if res, err := LoadResult(cachePath); err == nil {
			st.result = res
		}
	}
	return st
}

// Begin marks a build as running
func (st *ResultStore) Begin(inputs []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = BuildStatus{Running: true, Inputs: append([]string(nil), inputs...), Started: time.Now()}
}

// Fail records a failed build; the previous result stays available
func (st *ResultStore) Fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Running = false
	st.status.Finished = time.Now()
	st.status.LastError = err.Error()
}

// Update stores a successful result
func (st *ResultStore) Update(res *TemplateResult) {
	st.mu.Lock()
	st.result = res
	st.status.Running = false
	st.status.Finished = time.Now()
	st.status.LastError = ""
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" {
		if err := SaveResult(res, cachePath); err != nil {
			log.Printf("Warning: failed to save result cache: %v", err)
		}
	}
}

// Result returns the last successful result, or nil
func (st *ResultStore) Result() *TemplateResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// Status returns a copy of the build status
func (st *ResultStore) Status() BuildStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.status
	s.Inputs = append([]string(nil), s.Inputs...)
	return s
}

// HasResult reports whether a build has completed
func (st *ResultStore) HasResult() bool {
	return st.Result() != nil
}

// SaveResult writes a result to disk as JSON. The distance matrix and mask
// are stored alongside so a reloaded result renders identically.
func SaveResult(res *TemplateResult, path string) error {
	data, err := json.MarshalIndent(newStoredResult(res), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result cache: %w", err)
	}
	return nil
}

// LoadResult reads a result written by SaveResult
func LoadResult(path string) (*TemplateResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result cache: %w", err)
	}
	var sr storedResult
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal result cache: %w", err)
	}
	return sr.result(), nil
}

// storedResult is the JSON form of a TemplateResult. NaN is not valid JSON,
// so masked distances are stored as null.
type storedResult struct {
	TemplateResult
	Distances [][]*float64 `json:"distances"`
	Mask      [][]bool     `json:"mask"`
}

func newStoredResult(res *TemplateResult) storedResult {
	sr := storedResult{TemplateResult: *res, Mask: res.Mask}
	sr.Distances = make([][]*float64, len(res.Diagnostics.Distances))
	for s, row := range res.Diagnostics.Distances {
		sr.Distances[s] = make([]*float64, len(row))
		for e, v := range row {
			if !math.IsNaN(v) {
				sr.Distances[s][e] = &v
			}
		}
	}
	return sr
}

func (sr storedResult) result() *TemplateResult {
	res := sr.TemplateResult
	res.Mask = sr.Mask
	res.Diagnostics.Distances = make([][]float64, len(sr.Distances))
	for s, row := range sr.Distances {
		res.Diagnostics.Distances[s] = make([]float64, len(row))
		for e, v := range row {
			if v == nil {
				res.Diagnostics.Distances[s][e] = math.NaN()
			} else {
				res.Diagnostics.Distances[s][e] = *v
			}
		}
	}
	return &res
}
