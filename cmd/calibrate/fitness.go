package main

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/pthm-cable/mozzie/config"
	"github.com/pthm-cable/mozzie/environment"
	"github.com/pthm-cable/mozzie/population"
	"github.com/pthm-cable/mozzie/sim"
	"github.com/pthm-cable/mozzie/telemetry"
)

// Penalties for runs that end early. Both exceed any squared log error a
// surviving run can reach.
const (
	extinctPenalty  = 1000
	capacityPenalty = 500
)

// FitnessEvaluator runs simulations and scores how far their adult female
// count sits from the target.
type FitnessEvaluator struct {
	params     *ParamVector
	seeds      []int64
	baseConfig *config.Config
	target     float64
	window     int // trailing steps averaged

	mu         sync.Mutex
	lastFemale float64 // mean females from the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, seeds []int64, baseCfg *config.Config, target float64, window int) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		seeds:      seeds,
		baseConfig: baseCfg,
		target:     target,
		window:     max(window, 1),
	}
}

// LastFemales returns the mean female count of the most recent evaluation.
func (fe *FitnessEvaluator) LastFemales() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastFemale
}

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	fitness float64
	females float64
}

// Evaluate computes fitness for a raw parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	// Run all seeds in parallel
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSimulation(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalFemales float64
	for _, r := range results {
		totalFitness += r.fitness
		totalFemales += r.females
	}
	n := float64(len(fe.seeds))

	fe.mu.Lock()
	fe.lastFemale = totalFemales / n
	fe.mu.Unlock()

	return totalFitness / n
}

// runSimulation executes one run and scores its trailing female count.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed int64) seedResult {
	var females []float64
	ec := cfg.Environment
	feed := environment.Constant(ec.Temperature, environment.Record{
		BloodmealSuccess: ec.BloodmealSuccess,
		CarryingCapacity: ec.CarryingCapacity,
	})

	s, err := sim.New(cfg, feed, sim.Options{
		Seed: seed,
		StatsCallback: func(st telemetry.StepStats) {
			females = append(females, float64(st.Females))
		},
	})
	if err != nil {
		return seedResult{fitness: capacityPenalty}
	}
	defer s.Close()

	err = s.Run(context.Background())
	mean := trailingMean(females, fe.window)
	switch {
	case errors.Is(err, population.ErrPopulationExtinct):
		return seedResult{fitness: extinctPenalty, females: 0}
	case err != nil:
		return seedResult{fitness: capacityPenalty, females: mean}
	}
	return seedResult{fitness: score(mean, fe.target), females: mean}
}

// score is the squared log error between the observed and target counts.
func score(observed, target float64) float64 {
	d := math.Log1p(observed) - math.Log1p(target)
	return d * d
}

// trailingMean averages the last n values of xs.
func trailingMean(xs []float64, n int) float64 {
	if len(xs) == 0 {
		return 0
	}
	tail := xs[max(len(xs)-n, 0):]
	var sum float64
	for _, x := range tail {
		sum += x
	}
	return sum / float64(len(tail))
}

// copyConfig returns a copy of the base config. The config holds only
// value fields, so a struct copy is deep.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}
