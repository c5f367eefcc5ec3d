// Package config loads the YAML configuration shared by the MCP server and
// the scan CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/wsi-tools-mcp/internal/mask"
	"github.com/ironsheep/wsi-tools-mcp/internal/neighbors"
	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
)

// EnvPath names the environment variable holding the server's config path.
const EnvPath = "WSI_MCP_CONFIG"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Scan holds the default scan parameters.
type Scan struct {
	PatchSize   int     `yaml:"patchSize"`
	Chunks      int     `yaml:"chunks"`
	Level       int     `yaml:"level"`
	Threshold   float64 `yaml:"threshold"`
	Retries     int     `yaml:"retries"`
	MinReadSide int     `yaml:"minReadSide"`

	// Workers bounds concurrently running chunks.
	Workers int `yaml:"workers"`

	ContinueOnFailure bool `yaml:"continueOnFailure"`
}

// Pyramid controls how slides are opened.
type Pyramid struct {
	PadValue     int  `yaml:"padValue"`
	MaxLevels    int  `yaml:"maxLevels"`
	MinLevelSide int  `yaml:"minLevelSide"`
	Cache        bool `yaml:"cache"`
}

// Graph holds neighbour-graph defaults.
type Graph struct {
	Neighbors   int     `yaml:"neighbors"`
	MaxDistance float64 `yaml:"maxDistance"`
}

// Output controls rendered files.
type Output struct {
	Dir          string  `yaml:"dir"`
	OverlayColor string  `yaml:"overlayColor"`
	OverlayAlpha float64 `yaml:"overlayAlpha"`
}

// Store locates the results database. An empty path disables it.
type Store struct {
	Path string `yaml:"path"`
}

// Config represents the application configuration loaded from YAML.
type Config struct {
	Scan    Scan    `yaml:"scan"`
	Pyramid Pyramid `yaml:"pyramid"`
	Graph   Graph   `yaml:"graph"`
	Output  Output  `yaml:"output"`
	Store   Store   `yaml:"store"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	p := scan.DefaultParams()
	o := pyramid.DefaultOptions()
	return &Config{
		Scan: Scan{
			PatchSize:   p.PatchSize,
			Chunks:      p.Chunks,
			Level:       p.Level,
			Threshold:   p.Threshold,
			Retries:     p.Retries,
			MinReadSide: p.MinReadSide,
			Workers:     runtime.NumCPU(),
		},
		Pyramid: Pyramid{
			PadValue:     int(o.PadValue),
			MaxLevels:    o.MaxLevels,
			MinLevelSide: o.MinLevelSide,
			Cache:        true,
		},
		Graph: Graph{
			Neighbors: neighbors.DefaultNeighbors,
		},
		Output: Output{
			Dir:          "wsi-output",
			OverlayColor: mask.DefaultOverlayColor,
			OverlayAlpha: mask.DefaultOverlayAlpha,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults; keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate reports the first unusable value.
func (c *Config) Validate() error {
	switch {
	case c.Scan.PatchSize <= 0:
		return fmt.Errorf("%w: scan.patchSize must be positive, got %d", ErrInvalid, c.Scan.PatchSize)
	case c.Scan.Chunks < 1:
		return fmt.Errorf("%w: scan.chunks must be at least 1, got %d", ErrInvalid, c.Scan.Chunks)
	case c.Scan.Level < -1:
		return fmt.Errorf("%w: scan.level must be -1 or a level index, got %d", ErrInvalid, c.Scan.Level)
	case c.Scan.Retries < 0:
		return fmt.Errorf("%w: scan.retries must not be negative, got %d", ErrInvalid, c.Scan.Retries)
	case c.Pyramid.PadValue < 0 || c.Pyramid.PadValue > 255:
		return fmt.Errorf("%w: pyramid.padValue must be 0-255, got %d", ErrInvalid, c.Pyramid.PadValue)
	case c.Pyramid.MaxLevels < 1:
		return fmt.Errorf("%w: pyramid.maxLevels must be at least 1, got %d", ErrInvalid, c.Pyramid.MaxLevels)
	case c.Graph.Neighbors < 1:
		return fmt.Errorf("%w: graph.neighbors must be at least 1, got %d", ErrInvalid, c.Graph.Neighbors)
	case c.Output.OverlayAlpha < 0 || c.Output.OverlayAlpha > 1:
		return fmt.Errorf("%w: output.overlayAlpha must be in [0,1], got %v", ErrInvalid, c.Output.OverlayAlpha)
	}
	if _, err := colorful.Hex(c.Output.OverlayColor); err != nil {
		return fmt.Errorf("%w: output.overlayColor %q", ErrInvalid, c.Output.OverlayColor)
	}
	return nil
}

// ScanParams converts the scan section.
func (c *Config) ScanParams() scan.Params {
	return scan.Params{
		PatchSize:         c.Scan.PatchSize,
		Chunks:            c.Scan.Chunks,
		Level:             c.Scan.Level,
		Threshold:         c.Scan.Threshold,
		Retries:           c.Scan.Retries,
		MinReadSide:       c.Scan.MinReadSide,
		ContinueOnFailure: c.Scan.ContinueOnFailure,
	}
}

// PyramidOptions converts the pyramid section. cache is attached only when
// the section enables caching.
func (c *Config) PyramidOptions(cache *pyramid.Cache) pyramid.Options {
	o := pyramid.Options{
		PadValue:     uint8(c.Pyramid.PadValue),
		MaxLevels:    c.Pyramid.MaxLevels,
		MinLevelSide: c.Pyramid.MinLevelSide,
	}
	if c.Pyramid.Cache {
		o.Cache = cache
	}
	return o
}
