package population

import "sync/atomic"

// Accumulator is a sum that many agents may add to within one phase.
// Contributors only ever Add; the driver reads and resets it between
// phases.
type Accumulator struct {
	v atomic.Uint64
}

// Add contributes n to the sum.
func (a *Accumulator) Add(n uint64) {
	if n != 0 {
		a.v.Add(n)
	}
}

// Load returns the current sum.
func (a *Accumulator) Load() uint64 {
	return a.v.Load()
}

// Reset clears the sum and returns the previous value.
func (a *Accumulator) Reset() uint64 {
	return a.v.Swap(0)
}

// EggsAndBiomass holds the egg-laying globals. TotalBiomass is written by
// the driver before the transition phase and only read inside it.
type EggsAndBiomass struct {
	NewEggs      Accumulator
	TotalBiomass uint32
}

// BitesAndCycles holds the feeding and gonotrophic cycle reports.
type BitesAndCycles struct {
	CyclesReported  Accumulator
	CycleHours      Accumulator
	Bites           Accumulator
	InfectiousBites Accumulator
}

// MeanCycleLength returns the average reported cycle length in hours.
func (b *BitesAndCycles) MeanCycleLength() uint64 {
	n := b.CyclesReported.Load()
	if n == 0 {
		return 0
	}
	return b.CycleHours.Load() / n
}

// Fates counts agents removed during a step.
type Fates struct {
	Killed Accumulator // mortality, interventions
	Spent  Accumulator // gravids out of oviposition attempts
}

// Accumulators bundles every per-step global counter.
type Accumulators struct {
	Eggs  EggsAndBiomass
	Bites BitesAndCycles
	Fates Fates
}

// Reset clears every counter for a new step. TotalBiomass is left alone.
func (a *Accumulators) Reset() {
	a.Eggs.NewEggs.Reset()
	a.Bites.CyclesReported.Reset()
	a.Bites.CycleHours.Reset()
	a.Bites.Bites.Reset()
	a.Bites.InfectiousBites.Reset()
	a.Fates.Killed.Reset()
	a.Fates.Spent.Reset()
}
