package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Simulation.Capacity != 6000000 || cfg.Simulation.InitialEggs != 32000 {
		t.Errorf("simulation = %+v", cfg.Simulation)
	}
	if cfg.Derived.Limit != 5700000 {
		t.Errorf("Limit = %d, want 5700000", cfg.Derived.Limit)
	}
	if cfg.Derived.ScanBlockLen != 128 {
		t.Errorf("ScanBlockLen = %d, want 128", cfg.Derived.ScanBlockLen)
	}
	if cfg.Derived.Workers <= 0 {
		t.Errorf("Workers = %d", cfg.Derived.Workers)
	}
}

func TestLoad_MergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	user := "simulation:\n  steps: 48\nparallel:\n  workers: 3\n"
	if err := os.WriteFile(path, []byte(user), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Simulation.Steps != 48 || cfg.Derived.Workers != 3 {
		t.Errorf("overrides not applied: steps=%d workers=%d", cfg.Simulation.Steps, cfg.Derived.Workers)
	}
	if cfg.Simulation.InitialEggs != 32000 {
		t.Errorf("default lost: initial_eggs=%d", cfg.Simulation.InitialEggs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"block width", func(c *Config) { c.Parallel.BlockWidth = 48 }, "block_width"},
		{"capacity", func(c *Config) { c.Simulation.Capacity = 0 }, "capacity"},
		{"initial eggs over margin", func(c *Config) { c.Simulation.InitialEggs = c.Simulation.Capacity }, "initial_eggs"},
		{"probability", func(c *Config) { c.Mortality.Larva = 1.5 }, "mortality.larva"},
		{"hours per step", func(c *Config) { c.Simulation.HoursPerStep = 0 }, "hours_per_step"},
		{"carrying capacity", func(c *Config) { c.Environment.CarryingCapacity = -1 }, "carrying_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Defaults()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Simulation.Steps = 7
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatal(err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Simulation != cfg.Simulation || back.Mortality != cfg.Mortality {
		t.Errorf("round trip mismatch")
	}
}

func TestMustInitAndCfg(t *testing.T) {
	MustInit("")
	if Cfg().Telemetry.HistogramBins != 100 {
		t.Errorf("HistogramBins = %d", Cfg().Telemetry.HistogramBins)
	}
}
