// Package sim drives the population engine: it owns the worker pool, the
// generation buffers and the stage table, and runs the per-step phases in
// order with a join between each.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/config"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/environment"
	"github.com/pthm-cable/mozzie/population"
	"github.com/pthm-cable/mozzie/rng"
	"github.com/pthm-cable/mozzie/scan"
	"github.com/pthm-cable/mozzie/store"
	"github.com/pthm-cable/mozzie/systems"
	"github.com/pthm-cable/mozzie/telemetry"
)

// Run outcomes recorded in the summary.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeCapacity  = "capacity_exceeded"
	OutcomeExtinct   = "extinct"
	OutcomeError     = "error"
)

// Options configures a simulation run beyond the config file.
type Options struct {
	Seed      int64  // 0 = use config seed, then time
	LogStats  bool   // log step stats every telemetry.log_every steps
	OutputDir string // CSV, histogram, summary; empty disables
	DBPath    string // SQLite archive; empty disables

	// StatsCallback is called with every step's stats.
	StatsCallback func(telemetry.StepStats)
}

// Simulation holds the complete engine state.
type Simulation struct {
	cfg  *config.Config
	feed environment.Feed
	rng  *rand.Rand
	seed int64

	pool      *dispatch.Pool
	compactor *population.Compactor
	buffers   *population.GenerationBuffer
	table     *population.Table
	lifecycle *systems.Lifecycle
	census    *census

	acc  population.Accumulators
	laid []uint32

	step  int
	stats telemetry.StepStats

	perf    *telemetry.PerfCollector
	digest  *telemetry.Digest
	summary telemetry.Summary
	output  *telemetry.OutputManager
	archive *store.Archive

	logStats      bool
	statsCallback func(telemetry.StepStats)
}

// New builds the engine and seeds the initial eggs.
func New(cfg *config.Config, feed environment.Feed, opts Options) (*Simulation, error) {
	capacity := cfg.Simulation.Capacity

	pool, err := dispatch.NewPool(cfg.Derived.Workers)
	if err != nil {
		return nil, err
	}
	pool.SetThreshold(cfg.Parallel.Threshold)

	scanner, err := scan.NewScanner(pool, cfg.Parallel.BlockWidth, capacity)
	if err != nil {
		pool.Close()
		return nil, err
	}
	keyed, err := scan.NewKeyedScanner(pool, cfg.Parallel.BlockWidth, capacity)
	if err != nil {
		pool.Close()
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Simulation.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bio := &systems.AnophelesGambiae{
		EggBatchMean:        cfg.Biology.EggBatchMean,
		EggBatchStdDev:      cfg.Biology.EggBatchStdDev,
		BatchDecay:          cfg.Biology.BatchDecay,
		Females:             cfg.Biology.FemaleRatio,
		SporogonyMinTemp:    cfg.Biology.SporogonyMinTemp,
		SporogonyDegreeDays: cfg.Biology.SporogonyDegreeDays,
	}
	mort := systems.Mortality{
		Hourly:        cfg.Mortality.Hourly(),
		LarvalDensity: cfg.Mortality.LarvalDensity,
	}

	s := &Simulation{
		cfg:           cfg,
		feed:          feed,
		rng:           rand.New(rand.NewSource(seed)),
		seed:          seed,
		pool:          pool,
		compactor:     population.NewCompactor(pool, scanner, keyed, capacity, cfg.Parallel.Verify),
		buffers:       population.NewGenerationBuffer(capacity),
		table:         population.NewTable(uint32(capacity)),
		lifecycle:     systems.NewLifecycle(pool, bio, mort),
		census:        newCensus(pool),
		laid:          make([]uint32, capacity),
		perf:          telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		digest:        telemetry.NewDigest(),
		logStats:      opts.LogStats,
		statsCallback: opts.StatsCallback,
	}
	s.summary = telemetry.Summary{Seed: seed, Workers: pool.Workers(), Capacity: capacity}
	pool.SetObserver(s.perf.ObserveKernel)

	seeds := rng.Generate(s.rng)
	if err := s.lifecycle.Seed(s.buffers.Current(), s.table, uint32(cfg.Simulation.InitialEggs), feed.Temperature(0), seeds); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seeding initial population: %w", err)
	}

	s.output, err = telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.output.WriteConfig(cfg); err != nil {
		s.Close()
		return nil, err
	}
	if opts.DBPath != "" {
		s.archive, err = store.Open(opts.DBPath, store.Run{Seed: seed, Workers: pool.Workers(), Capacity: capacity})
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	slog.Info("population seeded",
		"seed", seed,
		"workers", pool.Workers(),
		"capacity", capacity,
		"limit", s.table.Limit(),
		"eggs", cfg.Simulation.InitialEggs,
	)
	return s, nil
}

// Step advances the population by one time step: census, transition,
// compaction, swap and reporting. An error leaves the current generation
// and table as they were before compaction.
func (s *Simulation) Step() error {
	hoursPerStep := s.cfg.Simulation.HoursPerStep
	hours := float64(s.step) * hoursPerStep
	temp := s.feed.Temperature(s.step)

	s.perf.StartStep()

	s.perf.StartPhase(telemetry.PhaseCensus)
	cur, next := s.buffers.Current(), s.buffers.Next()
	s.census.run(cur, s.table)
	stats := telemetry.NewStepStats(s.step, hours, temp, s.table)

	s.perf.StartPhase(telemetry.PhaseTransition)
	seeds := rng.Generate(s.rng)
	s.acc.Reset()
	s.acc.Eggs.TotalBiomass = s.table.Biomass()
	in := systems.StepInput{
		Hour:         uint32(math.Mod(hours, 24)),
		HoursPerStep: hoursPerStep,
		Temperature:  temp,
		Env:          s.feed.Environment(s.step),
		Seeds:        seeds,
	}
	s.lifecycle.Evaluate(cur, s.table, in, &s.acc, s.laid)

	s.perf.StartPhase(telemetry.PhaseCompact)
	if _, err := s.compactor.Compact(cur, next, s.table, s.laid, &s.acc.Eggs, s.lifecycle.Hatchery(temp, seeds)); err != nil {
		s.perf.EndStep()
		return fmt.Errorf("step %d: %w", s.step, err)
	}

	s.perf.StartPhase(telemetry.PhaseSwap)
	s.buffers.Swap()

	s.perf.StartPhase(telemetry.PhaseReport)
	stats.AddEvents(&s.acc)
	s.report(stats)
	s.perf.EndStep()

	s.stats = stats
	s.step++
	return nil
}

// report fans the step's stats out to the configured sinks.
func (s *Simulation) report(stats telemetry.StepStats) {
	s.digest.Add(stats.Step, s.table.Counts())
	s.summary.Observe(stats)

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	every := max(s.cfg.Telemetry.LogEvery, 1)
	windowEnd := (stats.Step+1)%every == 0
	if s.logStats && windowEnd {
		stats.LogStats()
		slog.Info("perf", "step", stats.Step, "stats", s.perf.Stats())
	}

	if err := s.output.WriteStats(stats); err != nil {
		slog.Error("failed to write stats", "error", err)
	}
	if windowEnd {
		if err := s.output.WritePerf(s.perf.Stats(), stats.Step); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.WriteStats(stats); err != nil {
			slog.Error("failed to archive stats", "error", err)
		}
	}
}

// Run executes the configured number of steps. ctx is checked between
// steps only. The histogram and summary are written however the run ends.
func (s *Simulation) Run(ctx context.Context) error {
	start := time.Now()
	var err error
	for s.step < s.cfg.Simulation.Steps {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = s.Step(); err != nil {
			break
		}
	}
	s.finish(time.Since(start), err)
	return err
}

func (s *Simulation) finish(elapsed time.Duration, err error) {
	s.summary.Elapsed = elapsed
	s.summary.Steps = s.step
	s.summary.Digest = s.digest.Sum()
	s.summary.FinalLive = s.table.TotalLive()
	s.summary.FinalCounts = make(map[string]uint32, components.StageCount)
	for i, n := range s.table.Counts() {
		s.summary.FinalCounts[components.AllStages[i].String()] = n
	}

	switch {
	case err == nil:
		s.summary.Outcome = OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.summary.Outcome = OutcomeCancelled
	case errors.Is(err, population.ErrCapacityExceeded):
		s.summary.Outcome = OutcomeCapacity
	case errors.Is(err, population.ErrPopulationExtinct):
		s.summary.Outcome = OutcomeExtinct
	default:
		s.summary.Outcome = OutcomeError
	}
	if err != nil {
		s.summary.Error = err.Error()
	}

	tc := s.cfg.Telemetry
	hist := telemetry.NewAgeHistogram(adultAges(s.buffers.Current(), s.table), tc.HistogramBins, tc.HistogramMaxDays)
	s.summary.SetAges(hist)

	slog.Info("population", "steps", s.step, "ranges", s.table)
	slog.Info("adult ages", "histogram", hist)
	slog.Info("run finished",
		"outcome", s.summary.Outcome,
		"digest", s.summary.Digest,
		"elapsed", elapsed,
	)

	if err := s.output.WriteHistogram(hist); err != nil {
		slog.Error("failed to write histogram", "error", err)
	}
	if err := s.output.WriteSummary(&s.summary); err != nil {
		slog.Error("failed to write summary", "error", err)
	}
	if s.archive != nil {
		if err := s.archive.Finish(&s.summary); err != nil {
			slog.Error("failed to archive summary", "error", err)
		}
	}
}

// Stats returns the stats of the last completed step.
func (s *Simulation) Stats() telemetry.StepStats {
	return s.stats
}

// StepCount returns the number of completed steps.
func (s *Simulation) StepCount() int {
	return s.step
}

// Table returns the stage layout of the current generation.
func (s *Simulation) Table() *population.Table {
	return s.table
}

// Current returns the current generation.
func (s *Simulation) Current() *population.Generation {
	return s.buffers.Current()
}

// Digest returns the fingerprint of the per-step stage counts so far.
func (s *Simulation) Digest() string {
	return s.digest.Sum()
}

// Summary returns the run summary. It is complete once Run returns.
func (s *Simulation) Summary() telemetry.Summary {
	return s.summary
}

// Seed returns the master seed in use.
func (s *Simulation) Seed() int64 {
	return s.seed
}

// Close stops the workers and closes every output.
func (s *Simulation) Close() error {
	s.pool.Close()
	var errs []error
	if err := s.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing output: %w", err))
	}
	if err := s.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing archive: %w", err))
	}
	return errors.Join(errs...)
}
