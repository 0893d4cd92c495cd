// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Parallel    ParallelConfig    `yaml:"parallel"`
	Environment EnvironmentConfig `yaml:"environment"`
	Biology     BiologyConfig     `yaml:"biology"`
	Mortality   MortalityConfig   `yaml:"mortality"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds run length and population sizing.
type SimulationConfig struct {
	Steps        int     `yaml:"steps"`
	HoursPerStep float64 `yaml:"hours_per_step"`
	Capacity     int     `yaml:"capacity"`     // agent slots per generation buffer
	InitialEggs  int     `yaml:"initial_eggs"` // eggs present at step 0
	Seed         int64   `yaml:"seed"`         // 0 = time based
}

// ParallelConfig holds worker pool and scan settings.
type ParallelConfig struct {
	Workers    int  `yaml:"workers"`     // 0 = GOMAXPROCS
	BlockWidth int  `yaml:"block_width"` // scan block is twice this; power of two
	Threshold  int  `yaml:"threshold"`   // kernels smaller than this run inline
	Verify     bool `yaml:"verify"`      // recount every compaction pass
}

// EnvironmentConfig holds the input files and their constant fallbacks.
type EnvironmentConfig struct {
	Temperature      float64 `yaml:"temperature"`       // used when no temperature file is given
	TemperatureFile  string  `yaml:"temperature_file"`  // one value per step
	InterventionFile string  `yaml:"intervention_file"` // nine comma separated values per step
	CarryingCapacity float64 `yaml:"carrying_capacity"`
	BloodmealSuccess float64 `yaml:"bloodmeal_success"` // used when no intervention file is given
}

// BiologyConfig tunes the species functions.
type BiologyConfig struct {
	EggBatchMean        float64 `yaml:"egg_batch_mean"`
	EggBatchStdDev      float64 `yaml:"egg_batch_std_dev"`
	BatchDecay          float64 `yaml:"batch_decay"`
	FemaleRatio         float64 `yaml:"female_ratio"`
	SporogonyMinTemp    float64 `yaml:"sporogony_min_temp"`
	SporogonyDegreeDays float64 `yaml:"sporogony_degree_days"`
}

// MortalityConfig holds hourly background death probabilities per stage.
type MortalityConfig struct {
	Egg            float64 `yaml:"egg"`
	Larva          float64 `yaml:"larva"`
	Pupa           float64 `yaml:"pupa"`
	Immature       float64 `yaml:"immature"`
	MateSeeking    float64 `yaml:"mate_seeking"`
	BloodSeeking   float64 `yaml:"blood_seeking"`
	BloodDigesting float64 `yaml:"blood_digesting"`
	Gravid         float64 `yaml:"gravid"`
	LarvalDensity  float64 `yaml:"larval_density"` // scales biomass / carrying capacity
}

// Hourly returns the rates in stage layout order.
func (m MortalityConfig) Hourly() [8]float64 {
	return [8]float64{m.Egg, m.Larva, m.Pupa, m.Immature, m.MateSeeking, m.BloodSeeking, m.BloodDigesting, m.Gravid}
}

// TelemetryConfig holds reporting parameters.
type TelemetryConfig struct {
	LogEvery         int     `yaml:"log_every"`   // steps between stats log lines
	PerfWindow       int     `yaml:"perf_window"` // steps in the rolling timing window
	HistogramBins    int     `yaml:"histogram_bins"`
	HistogramMaxDays float64 `yaml:"histogram_max_days"`
}

// DerivedConfig holds values computed from the loaded configuration.
type DerivedConfig struct {
	Workers      int    // resolved worker count
	ScanBlockLen int    // elements per scan block
	Limit        uint32 // largest live population accepted
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ComputeDerived()
	return cfg, nil
}

// Defaults returns the embedded defaults with derived values filled in.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	cfg.ComputeDerived()
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulation.Steps < 0 {
		errs = append(errs, fmt.Errorf("simulation.steps must not be negative, got %d", c.Simulation.Steps))
	}
	if c.Simulation.HoursPerStep <= 0 {
		errs = append(errs, fmt.Errorf("simulation.hours_per_step must be positive, got %v", c.Simulation.HoursPerStep))
	}
	if c.Simulation.Capacity <= 0 || int64(c.Simulation.Capacity) > 1<<31 {
		errs = append(errs, fmt.Errorf("simulation.capacity out of range: %d", c.Simulation.Capacity))
	}
	if c.Simulation.InitialEggs < 0 || c.Simulation.InitialEggs*100 > c.Simulation.Capacity*95 {
		errs = append(errs, fmt.Errorf("simulation.initial_eggs %d does not fit capacity %d", c.Simulation.InitialEggs, c.Simulation.Capacity))
	}
	if w := c.Parallel.BlockWidth; w <= 0 || w&(w-1) != 0 {
		errs = append(errs, fmt.Errorf("parallel.block_width must be a power of two, got %d", w))
	}
	if c.Parallel.Workers < 0 {
		errs = append(errs, fmt.Errorf("parallel.workers must not be negative, got %d", c.Parallel.Workers))
	}
	if c.Environment.CarryingCapacity <= 0 {
		errs = append(errs, fmt.Errorf("environment.carrying_capacity must be positive, got %v", c.Environment.CarryingCapacity))
	}

	probs := map[string]float64{
		"environment.bloodmeal_success": c.Environment.BloodmealSuccess,
		"biology.female_ratio":          c.Biology.FemaleRatio,
		"mortality.egg":                 c.Mortality.Egg,
		"mortality.larva":               c.Mortality.Larva,
		"mortality.pupa":                c.Mortality.Pupa,
		"mortality.immature":            c.Mortality.Immature,
		"mortality.mate_seeking":        c.Mortality.MateSeeking,
		"mortality.blood_seeking":       c.Mortality.BloodSeeking,
		"mortality.blood_digesting":     c.Mortality.BloodDigesting,
		"mortality.gravid":              c.Mortality.Gravid,
	}
	for name, p := range probs {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("%s must be a probability, got %v", name, p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ComputeDerived calculates values derived from loaded config. Call it
// again after changing fields in code.
func (c *Config) ComputeDerived() {
	c.Derived.Workers = c.Parallel.Workers
	if c.Derived.Workers == 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
	c.Derived.ScanBlockLen = 2 * c.Parallel.BlockWidth
	c.Derived.Limit = uint32(uint64(c.Simulation.Capacity) * 95 / 100)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
