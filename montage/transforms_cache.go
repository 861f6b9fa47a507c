package montage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultTransformsPath is the default file name for the per-subject
// transforms written next to a template
const DefaultTransformsPath = "transforms.json"

// TransformCache stores the matrix that maps each raw subject into the
// template frame, keyed by subject name.
type TransformCache struct {
	Subjects    []string           `json:"subjects"`
	Transforms  map[string]Matrix4 `json:"transforms"`
	Landmarks   *Landmarks         `json:"landmarks,omitempty"`
	LastUpdated int64              `json:"lastUpdated"`
}

// NewTransformCache collects the transforms of a template build
func NewTransformCache(res *TemplateResult) *TransformCache {
	c := &TransformCache{
		Subjects:   append([]string(nil), res.Subjects...),
		Transforms: make(map[string]Matrix4, len(res.Transforms)),
		Landmarks:  res.Landmarks,
	}
	for i, m := range res.Transforms {
		c.Transforms[res.Subjects[i]] = m
	}
	return c
}

// GetTransform returns the transform for subject, or identity if unknown
func (c *TransformCache) GetTransform(subject string) Matrix4 {
	if m, ok := c.Lookup(subject); ok {
		return m
	}
	return Identity()
}

// Lookup returns the transform for subject and whether it is known
func (c *TransformCache) Lookup(subject string) (Matrix4, bool) {
	if c == nil || c.Transforms == nil {
		return Matrix4{}, false
	}
	m, ok := c.Transforms[subject]
	return m, ok
}

// LoadTransforms reads a transform cache. A missing file is not an error
// and returns nil.
func LoadTransforms(path string) (*TransformCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transforms file: %w", err)
	}

	var c TransformCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing transforms file: %w", err)
	}
	return &c, nil
}

// SaveTransforms writes the cache as indented JSON
func SaveTransforms(path string, c *TransformCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating transforms directory: %w", err)
	}

	c.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transforms: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing transforms file: %w", err)
	}
	return nil
}
