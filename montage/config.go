package montage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the full configuration file
type Config struct {
	// Inputs are subject coordinate files or http(s) URLs.
	Inputs []string     `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Output OutputConfig `yaml:"output" json:"output"`

	// Search, when set, replaces the search settings of every fitter.
	Search *SearchConfig `yaml:"search,omitempty" json:"search,omitempty"`

	Registration RegistrationConfig `yaml:"registration" json:"registration"`
	Surface      SurfaceFitConfig   `yaml:"surface" json:"surface"`
	Orientation  OrientationConfig  `yaml:"orientation" json:"orientation"`
	Template     TemplateConfig     `yaml:"template" json:"template"`
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
}

// OutputConfig names the files written after a build. An empty name
// disables that output.
type OutputConfig struct {
	Dir        string  `yaml:"dir" json:"dir"`
	Template   string  `yaml:"template" json:"template"`
	Track      string  `yaml:"track" json:"track"`
	Report     string  `yaml:"report" json:"report"`
	Transforms string  `yaml:"transforms" json:"transforms"`
	SVG        string  `yaml:"svg" json:"svg"`
	PNG        string  `yaml:"png" json:"png"`
	Heatmap    string  `yaml:"heatmap" json:"heatmap"`
	GeoJSON    string  `yaml:"geojson" json:"geojson"`
	Cache      string  `yaml:"cache,omitempty" json:"cache,omitempty"`           // service result cache, survives restarts
	Resolution float64 `yaml:"resolution,omitempty" json:"resolution,omitempty"` // PNG DPI (default 300)
}

// Path joins name onto the output directory, or returns "" for a disabled output
func (o OutputConfig) Path(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) || o.Dir == "" {
		return name
	}
	return filepath.Join(o.Dir, name)
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:        ".",
			Template:   "template.xyz",
			Track:      "distances.tsv",
			Report:     "report.txt",
			Transforms: DefaultTransformsPath,
			SVG:        "montage.svg",
			PNG:        "montage.png",
			Heatmap:    "heatmap.png",
			GeoJSON:    "montage.geojson",
			Resolution: 300,
		},
		Registration: DefaultRegistrationConfig(),
		Surface:      DefaultSurfaceFitConfig(),
		Orientation:  DefaultOrientationConfig(Transverse),
		Template:     DefaultTemplateConfig(),
		MQTT: MQTTConfig{
			PublishPrefix: "eegmontage",
			ClientID:      "eegmontage",
		},
	}
}

// ApplySearch copies the shared search settings into every fitter config
func (c *Config) ApplySearch() {
	if c.Search == nil {
		return
	}
	s := *c.Search
	c.Registration.Search = s
	c.Surface.Search = s
	c.Orientation.Search = s
	c.Template.Registration.Search = s
	c.Template.Sagittal.Search = s
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := c.Surface.Validate(); err != nil {
		return fmt.Errorf("surface: %w", err)
	}
	if err := c.Orientation.Search.Validate(); err != nil {
		return fmt.Errorf("orientation: %w", err)
	}
	if err := c.Template.Validate(); err != nil {
		return fmt.Errorf("template: %w", err)
	}
	if c.Output.Resolution < 0 {
		return fmt.Errorf("%w: output.resolution must not be negative", ErrInvalidParams)
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file. Fields missing from
// the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplySearch()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
