package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.View.FFNNeuronWindow != 128 {
		t.Errorf("expected FFN window 128, got %d", cfg.View.FFNNeuronWindow)
	}
	if cfg.Palettes.Attention != "inferno" {
		t.Errorf("expected inferno attention palette, got %q", cfg.Palettes.Attention)
	}
	if cfg.Projection.OffloadThreshold != 256 {
		t.Errorf("expected offload threshold 256, got %d", cfg.Projection.OffloadThreshold)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero ffn window", func(c *Config) { c.View.FFNNeuronWindow = 0 }, "ffn_neuron_window"},
		{"negative head", func(c *Config) { c.View.DefaultHead = -1 }, "default_head"},
		{"zero label width", func(c *Config) { c.View.TokenLabelWidth = 0 }, "token_label_width"},
		{"zero bar scale", func(c *Config) { c.View.TopKBarScale = 0 }, "top_k_bar_scale"},
		{"unknown palette", func(c *Config) { c.Palettes.FFN = "rainbow" }, "palettes.ffn"},
		{"zero workers", func(c *Config) { c.Projection.Workers = 0 }, "projection.workers"},
		{"zero threshold", func(c *Config) { c.Projection.OffloadThreshold = 0 }, "offload_threshold"},
		{"flight without host", func(c *Config) {
			c.Flight.Enabled = true
			c.Flight.Host = ""
		}, "flight.host"},
		{"flight disabled ignores port", func(c *Config) { c.Flight.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lens.yaml")
	body := `
server:
  port: 9000
view:
  ffn_neuron_window: 64
palettes:
  attention: viridis
projection:
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.View.FFNNeuronWindow != 64 {
		t.Errorf("window: got %d", cfg.View.FFNNeuronWindow)
	}
	if cfg.AttentionPalette().Name != "viridis" {
		t.Errorf("attention palette: got %s", cfg.AttentionPalette().Name)
	}
	if cfg.Projection.Timeout != 2*time.Second {
		t.Errorf("timeout: got %s", cfg.Projection.Timeout)
	}
	// untouched fields keep defaults
	if cfg.Palettes.FFN != "viridis" || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("palettes:\n  scalar: plasma\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if _, err := LoadOrDefault(""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lens.yaml")
	cfg := Default()
	cfg.Flight.Enabled = true
	cfg.Flight.Port = 4000
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Flight.Enabled || got.Flight.Addr() != "localhost:4000" {
		t.Errorf("flight config not preserved: %+v", got.Flight)
	}
}
