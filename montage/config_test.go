package montage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `inputs:
  - subjects/s01.xyz
  - https://example.org/s02.xyz
output:
  dir: out
template:
  repetitions: 5
  symmetrize: false
  landmarks:
    fpz: {names: [Fpz]}
    oz: {indices: [8]}
mqtt:
  broker: tcp://localhost:1883
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Inputs) != 2 {
		t.Errorf("len(Inputs) = %d, want 2", len(cfg.Inputs))
	}
	if cfg.Output.Dir != "out" {
		t.Errorf("Output.Dir = %q, want out", cfg.Output.Dir)
	}
	if cfg.Output.Template != "template.xyz" {
		t.Errorf("Output.Template = %q, default must survive", cfg.Output.Template)
	}
	if cfg.Template.Repetitions != 5 || cfg.Template.Symmetrize {
		t.Errorf("template = %+v", cfg.Template)
	}
	if cfg.Template.Registration.Mode != MatchingPairs {
		t.Errorf("Registration.Mode = %q, want default %q", cfg.Template.Registration.Mode, MatchingPairs)
	}
	if !cfg.Template.Landmarks.Enabled() {
		t.Error("landmarks should be enabled")
	}
	if cfg.MQTT.PublishPrefix != "eegmontage" {
		t.Errorf("PublishPrefix = %q, want eegmontage", cfg.MQTT.PublishPrefix)
	}
}

func TestLoadConfig_SharedSearch(t *testing.T) {
	path := writeConfig(t, `search:
  precision: 0.001
  candidates: 9
  polish: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	for name, s := range map[string]SearchConfig{
		"registration":          cfg.Registration.Search,
		"surface":               cfg.Surface.Search,
		"orientation":           cfg.Orientation.Search,
		"template registration": cfg.Template.Registration.Search,
		"template sagittal":     cfg.Template.Sagittal.Search,
	} {
		if s.Precision != 0.001 || s.Candidates != 9 || s.Polish {
			t.Errorf("%s search = %+v", name, s)
		}
	}
}

func TestLoadConfig_FixedMatrix(t *testing.T) {
	path := writeConfig(t, `template:
  canonicalize:
    method: matrix
    matrix:
      - [0, -1, 0, 0]
      - [1, 0, 0, 0]
      - [0, 0, 1, -20]
      - [0, 0, 0, 1]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	m := cfg.Template.Canonicalize.Matrix
	if m == nil {
		t.Fatal("matrix not decoded")
	}
	if !m.ApproxEqual(Translation(r3.Vector{Z: -20}).Mul(RotationZ(90)), 1e-12) {
		t.Errorf("matrix = %v", *m)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "template: [unclosed"},
		{"unknown registration mode", "registration:\n  mode: icp\n"},
		{"unknown surface mode", "surface:\n  mode: norm3\n"},
		{"negative repetitions", "template:\n  repetitions: -1\n"},
		{"matrix method without matrix", "template:\n  canonicalize:\n    method: matrix\n"},
		{"negative resolution", "output:\n  resolution: -1\n"},
		{"bad search precision", "search:\n  precision: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := DefaultConfig()
	cfg.Inputs = []string{"a.xyz"}
	cfg.Template.Repetitions = 2
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Template.Repetitions != 2 || len(got.Inputs) != 1 {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestOutputConfig_Path(t *testing.T) {
	o := OutputConfig{Dir: "out"}
	tests := map[string]string{
		"":                 "",
		"template.xyz":     filepath.Join("out", "template.xyz"),
		"/abs/montage.svg": "/abs/montage.svg",
	}
	for in, want := range tests {
		if got := o.Path(in); got != want {
			t.Errorf("Path(%q) = %q, want %q", in, got, want)
		}
	}
	if got := (OutputConfig{}).Path("x.txt"); got != "x.txt" {
		t.Errorf("Path without dir = %q", got)
	}
}
