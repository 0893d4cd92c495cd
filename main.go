package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pthm-cable/mozzie/config"
	"github.com/pthm-cable/mozzie/environment"
	"github.com/pthm-cable/mozzie/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	steps := flag.Int("steps", 0, "Number of steps to run (0 = use config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = config seed, then time-based)")
	workers := flag.Int("workers", -1, "Worker goroutines (-1 = use config, 0 = GOMAXPROCS)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, histogram, summary and config snapshot")
	dbPath := flag.String("db", "", "SQLite database to archive per-step stats in")
	tempFile := flag.String("temp", "", "Temperature file, one value per step (empty = use config)")
	envFile := flag.String("env", "", "Intervention file, nine values per step (empty = use config)")
	verify := flag.Bool("verify", false, "Cross-check every compaction pass against a linear recount")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// CLI overrides
	if *steps > 0 {
		cfg.Simulation.Steps = *steps
	}
	if *workers >= 0 {
		cfg.Parallel.Workers = *workers
	}
	if *verify {
		cfg.Parallel.Verify = true
	}
	if *tempFile != "" {
		cfg.Environment.TemperatureFile = *tempFile
	}
	if *envFile != "" {
		cfg.Environment.InterventionFile = *envFile
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid flags", "error", err)
		os.Exit(1)
	}
	cfg.ComputeDerived()

	ec := cfg.Environment
	feed, err := environment.Load(ec.TemperatureFile, ec.InterventionFile, cfg.Simulation.Steps, ec.Temperature,
		environment.Record{BloodmealSuccess: ec.BloodmealSuccess, CarryingCapacity: ec.CarryingCapacity})
	if err != nil {
		slog.Error("failed to load environment", "error", err)
		os.Exit(1)
	}

	s, err := sim.New(cfg, feed, sim.Options{
		Seed:      *seed,
		LogStats:  *logStats,
		OutputDir: *outputDir,
		DBPath:    *dbPath,
	})
	if err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting simulation",
		"seed", s.Seed(),
		"steps", cfg.Simulation.Steps,
		"workers", cfg.Derived.Workers,
		"verify", cfg.Parallel.Verify,
	)

	runErr := s.Run(ctx)
	if err := s.Close(); err != nil {
		slog.Error("failed to close outputs", "error", err)
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		slog.Info("simulation interrupted", "step", s.StepCount())
	default:
		slog.Error("simulation aborted", "step", s.StepCount(), "error", runErr)
		os.Exit(1)
	}
}
