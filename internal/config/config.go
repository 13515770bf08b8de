package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models trailreport.yml.
type Config struct {
	CMS struct {
		BaseURL        string `yaml:"base_url"`
		UploadPath     string `yaml:"upload_path"`
		SubmitPath     string `yaml:"submit_path"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"cms"`
	Photo struct {
		MaxEdge     int `yaml:"max_edge"`
		JPEGQuality int `yaml:"jpeg_quality"`
	} `yaml:"photo"`
	Video struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"video"`
	Autosave struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"autosave"`
	Operator struct {
		Admin       bool   `yaml:"admin"`
		StampPhotos bool   `yaml:"stamp_photos"`
		SkiCenterID string `yaml:"ski_center_id"`
	} `yaml:"operator"`
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Photo.MaxEdge <= 0 {
		return fmt.Errorf("config.photo.max_edge must be positive")
	}
	if c.Photo.JPEGQuality < 1 || c.Photo.JPEGQuality > 100 {
		return fmt.Errorf("config.photo.jpeg_quality must be in 1..100")
	}
	if c.Video.MaxBytes <= 0 {
		return fmt.Errorf("config.video.max_bytes must be positive")
	}
	if c.Autosave.IntervalSeconds <= 0 {
		return fmt.Errorf("config.autosave.interval_seconds must be positive")
	}
	if c.CMS.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.cms.timeout_seconds must be positive")
	}
	if c.Operator.StampPhotos && !c.Operator.Admin {
		return fmt.Errorf("config.operator.stamp_photos requires operator.admin")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trailreport.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Unset sections
// inherit defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `cms:
  base_url: ""
  upload_path: /api/report/upload
  submit_path: /api/report/submit
  timeout_seconds: 60

photo:
  max_edge: 1900
  jpeg_quality: 80

video:
  max_bytes: 104857600

autosave:
  interval_seconds: 5

operator:
  admin: false
  stamp_photos: false
  ski_center_id: ""
`
