package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/23skdu/longbow-lens/internal/colormap"
	"gopkg.in/yaml.v3"
)

// Config is the lens server and renderer configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	View       ViewConfig       `yaml:"view"`
	Palettes   PaletteConfig    `yaml:"palettes"`
	Projection ProjectionConfig `yaml:"projection"`
	Flight     FlightConfig     `yaml:"flight"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MetricsPort    int      `yaml:"metrics_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ViewConfig holds display-only knobs. None of them change the trace.
type ViewConfig struct {
	FFNNeuronWindow int     `yaml:"ffn_neuron_window"`
	DefaultHead     int     `yaml:"default_head"`
	TokenLabelWidth int     `yaml:"token_label_width"`
	TopKBarScale    float64 `yaml:"top_k_bar_scale"`
	NearestTokens   int     `yaml:"nearest_tokens"`
}

type PaletteConfig struct {
	Attention string `yaml:"attention"`
	Embedding string `yaml:"embedding"`
	FFN       string `yaml:"ffn"`
	Scalar    string `yaml:"scalar"`
}

type ProjectionConfig struct {
	// OffloadThreshold is the vector count at which PCA moves to the worker.
	OffloadThreshold int           `yaml:"offload_threshold"`
	Workers          int           `yaml:"workers"`
	Timeout          time.Duration `yaml:"timeout"`
}

type FlightConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Addr returns host:port of the Flight endpoint.
func (f FlightConfig) Addr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsAddr returns the listen address of the standalone metrics server.
func (s ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort)
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MetricsPort: 9090,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
		},
		View: ViewConfig{
			FFNNeuronWindow: 128,
			DefaultHead:     0,
			TokenLabelWidth: 12,
			TopKBarScale:    100,
			NearestTokens:   5,
		},
		Palettes: PaletteConfig{
			Attention: colormap.Inferno,
			Embedding: colormap.Greys,
			FFN:       colormap.Viridis,
			Scalar:    colormap.Blues,
		},
		Projection: ProjectionConfig{
			OffloadThreshold: 256,
			Workers:          2,
			Timeout:          5 * time.Second,
		},
		Flight: FlightConfig{
			Host: "localhost",
			Port: 3000,
			Path: "embeddings",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default if path is
// empty or missing.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be in 1..65535)", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid server.metrics_port: %d (must be in 0..65535)", c.Server.MetricsPort)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("invalid log.format: %q (must be json or console)", c.Log.Format)
	}
	if c.View.FFNNeuronWindow <= 0 {
		return fmt.Errorf("invalid view.ffn_neuron_window: %d (must be positive)", c.View.FFNNeuronWindow)
	}
	if c.View.DefaultHead < 0 {
		return fmt.Errorf("invalid view.default_head: %d (must be non-negative)", c.View.DefaultHead)
	}
	if c.View.TokenLabelWidth <= 0 {
		return fmt.Errorf("invalid view.token_label_width: %d (must be positive)", c.View.TokenLabelWidth)
	}
	if c.View.TopKBarScale <= 0 {
		return fmt.Errorf("invalid view.top_k_bar_scale: %f (must be positive)", c.View.TopKBarScale)
	}
	if c.View.NearestTokens < 0 {
		return fmt.Errorf("invalid view.nearest_tokens: %d (must be non-negative)", c.View.NearestTokens)
	}
	for field, name := range map[string]string{
		"attention": c.Palettes.Attention,
		"embedding": c.Palettes.Embedding,
		"ffn":       c.Palettes.FFN,
		"scalar":    c.Palettes.Scalar,
	} {
		if _, err := colormap.Lookup(name); err != nil {
			return fmt.Errorf("invalid palettes.%s: %w", field, err)
		}
	}
	if c.Projection.OffloadThreshold <= 0 {
		return fmt.Errorf("invalid projection.offload_threshold: %d (must be positive)", c.Projection.OffloadThreshold)
	}
	if c.Projection.Workers <= 0 {
		return fmt.Errorf("invalid projection.workers: %d (must be positive)", c.Projection.Workers)
	}
	if c.Projection.Timeout < 0 {
		return fmt.Errorf("invalid projection.timeout: %s (must be non-negative)", c.Projection.Timeout)
	}
	if c.Flight.Enabled {
		if c.Flight.Host == "" {
			return fmt.Errorf("invalid flight.host: empty (required when flight is enabled)")
		}
		if c.Flight.Port <= 0 || c.Flight.Port > 65535 {
			return fmt.Errorf("invalid flight.port: %d (must be in 1..65535)", c.Flight.Port)
		}
	}
	return nil
}

// AttentionPalette and friends resolve the configured palette names. They
// assume Validate has passed and fall back to the defaults otherwise.
func (c *Config) AttentionPalette() colormap.Palette {
	return paletteOr(c.Palettes.Attention, colormap.Inferno)
}

func (c *Config) EmbeddingPalette() colormap.Palette {
	return paletteOr(c.Palettes.Embedding, colormap.Greys)
}

func (c *Config) FFNPalette() colormap.Palette {
	return paletteOr(c.Palettes.FFN, colormap.Viridis)
}

func (c *Config) ScalarPalette() colormap.Palette {
	return paletteOr(c.Palettes.Scalar, colormap.Blues)
}

func paletteOr(name, fallback string) colormap.Palette {
	if p, err := colormap.Lookup(name); err == nil {
		return p
	}
	return colormap.MustLookup(fallback)
}
