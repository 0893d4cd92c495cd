package systems

import (
	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/environment"
	"github.com/pthm-cable/mozzie/population"
	"github.com/pthm-cable/mozzie/rng"
)

// Seed sets of a step. Each agent draws from its own stream per set, keyed
// by array position, so results do not depend on how work is split.
const (
	seedMortality = iota
	seedTransition
	seedOviposition
	seedHatch
)

// StepInput is everything the life-cycle step reads besides the agents.
type StepInput struct {
	Hour         uint32 // hour of day, 0-23
	HoursPerStep float64
	Temperature  float64
	Env          environment.Record
	Seeds        rng.StepSeeds
}

// Lifecycle evaluates the per-agent state machine once per step.
type Lifecycle struct {
	d    dispatch.Dispatcher
	bio  Biology
	mort Mortality
}

// NewLifecycle returns a step evaluator for the given species and
// mortality rates.
func NewLifecycle(d dispatch.Dispatcher, bio Biology, mort Mortality) *Lifecycle {
	return &Lifecycle{d: d, bio: bio, mort: mort}
}

// Biology returns the species functions in use.
func (l *Lifecycle) Biology() Biology {
	return l.bio
}

// Evaluate ages every live agent in [0, table.End()), samples its death and
// advances it at most one stage. Laying gravids record their eggs in laid
// (indexed by position) and in the NewEggs accumulator; the compactor
// creates the eggs afterwards. acc.Eggs.TotalBiomass must be set.
func (l *Lifecycle) Evaluate(gen *population.Generation, table *population.Table, in StepInput, acc *population.Accumulators, laid []uint32) {
	end := int(table.End())
	biomass := acc.Eggs.TotalBiomass

	l.d.Dispatch("transition", end, func(lo, hi, _ int) {
		for i := lo; i < hi; i++ {
			laid[i] = 0
			st := &gen.States[i]
			if !st.Alive {
				continue
			}
			l.step(uint32(i), &gen.Agents[i], &gen.Ages[i], st, in, biomass, acc, laid)
		}
	})
}

func (l *Lifecycle) step(pos uint32, a *components.Agent, age *components.AgentAge, st *components.AgentState,
	in StepInput, biomass uint32, acc *population.Accumulators, laid []uint32) {

	h := in.HoursPerStep
	age.AgeHours += float32(h)
	age.HoursInState += float32(h)

	death := rng.New(in.Seeds[seedMortality], pos)
	if death.Bernoulli(l.mort.Probability(st.Stage, h, biomass, in.Env)) {
		l.kill(st, acc)
		return
	}

	if st.Stage.Adult() && age.Female && a.BloodmealCount > 0 {
		age.Sporogony += float32(l.bio.Sporogony(in.Temperature) * h)
	}
	if st.Stage.Matches(components.StageBloodSeeking | components.StageBloodDigesting | components.StageGravid) {
		a.CycleLength += float32(h)
	}

	due := age.HoursInState >= a.Delay && l.bio.TransitionTime(st.Stage, in.Hour)
	r := rng.New(in.Seeds[seedTransition], pos)

	switch st.Stage {
	case components.StageEgg:
		if due {
			st.Enter(components.StageLarva, age)
			a.Delay = float32(l.bio.LarvaDelay(&r))
			a.Counter = components.LarvalCounter(0)
		}

	case components.StageLarva:
		dev, _ := a.Counter.LarvalDevelopment()
		dev += float32(l.bio.LarvaDevelopment(in.Temperature) * h)
		a.Counter = components.LarvalCounter(dev)
		if dev >= a.Delay && l.bio.TransitionTime(st.Stage, in.Hour) {
			st.Enter(components.StagePupa, age)
			a.Delay = float32(l.bio.PupaDelay(in.Temperature))
			a.Counter = components.StageCounter{}
		}

	case components.StagePupa:
		if due {
			st.Enter(components.StageImmature, age)
			a.Delay = float32(l.bio.ImmatureDelay(in.Temperature))
		}

	case components.StageImmature:
		// Males stay immature for the rest of their life.
		if due && age.Female {
			st.Enter(components.StageMateSeeking, age)
			a.Delay = float32(l.bio.MateSeekingDelay(in.Temperature))
		}

	case components.StageMateSeeking:
		if due {
			l.startCycle(a, age, st, in.Temperature)
		}

	case components.StageBloodSeeking:
		if !due {
			return
		}
		if r.Bernoulli(in.Env.ITN) {
			l.kill(st, acc)
			return
		}
		if !r.Bernoulli(in.Env.BloodmealSuccess) {
			return
		}
		acc.Bites.Bites.Add(1)
		if age.PotentiallyInfective() {
			acc.Bites.InfectiousBites.Add(1)
		}
		a.BloodmealCount++
		st.Enter(components.StageBloodDigesting, age)
		a.Delay = float32(l.bio.BloodDigestingDelay(in.Temperature))
		if r.Bernoulli(in.Env.IRS) {
			l.kill(st, acc)
		}

	case components.StageBloodDigesting:
		if due {
			ov := rng.New(in.Seeds[seedOviposition], pos)
			st.Enter(components.StageGravid, age)
			a.AvailableEggs = l.bio.GenerateEggs(&ov, a.EggBatches)
			a.EggBatches++
			a.Delay = 0
			a.Counter = components.OvipositionCounter(0)
		}

	case components.StageGravid:
		if !l.bio.TransitionTime(st.Stage, in.Hour) {
			return
		}
		attempts, _ := a.Counter.OvipositionAttempts()
		n := l.bio.LayEggs(a.AvailableEggs, attempts, biomass, in.Env.CarryingCapacity)
		laid[pos] = n
		acc.Eggs.NewEggs.Add(uint64(n))
		a.AvailableEggs -= n
		attempts++
		a.Counter = components.OvipositionCounter(attempts)

		ov := rng.New(in.Seeds[seedOviposition], pos)
		switch {
		case ov.Bernoulli(in.Env.OviTrap):
			l.kill(st, acc)
		case a.AvailableEggs == 0:
			acc.Bites.CyclesReported.Add(1)
			acc.Bites.CycleHours.Add(uint64(a.CycleLength))
			a.Counter = components.StageCounter{}
			l.startCycle(a, age, st, in.Temperature)
		case attempts >= components.MaxOvipositionAttempts:
			st.Alive = false
			acc.Fates.Spent.Add(1)
		}
	}
}

// startCycle moves a female into blood seeking at the start of a
// gonotrophic cycle.
func (l *Lifecycle) startCycle(a *components.Agent, age *components.AgentAge, st *components.AgentState, temp float64) {
	st.Enter(components.StageBloodSeeking, age)
	a.Delay = float32(l.bio.BloodSeekingDelay(temp))
	a.CycleLength = 0
}

func (l *Lifecycle) kill(st *components.AgentState, acc *population.Accumulators) {
	st.Alive = false
	acc.Fates.Killed.Add(1)
}

// Hatchery returns the initialiser for eggs laid this step.
func (l *Lifecycle) Hatchery(temp float64, seeds rng.StepSeeds) population.Hatchery {
	return func(next *population.Generation, slot uint32) {
		r := rng.New(seeds[seedHatch], slot)
		next.Agents[slot] = components.Agent{Delay: float32(l.bio.EggDelay(temp, &r))}
		next.Ages[slot] = components.AgentAge{Female: r.Bernoulli(l.bio.FemaleRatio())}
		next.States[slot] = components.AgentState{Alive: true, Stage: components.StageEgg}
	}
}

// Seed fills [0, n) of gen with fresh eggs and installs the matching
// layout.
func (l *Lifecycle) Seed(gen *population.Generation, table *population.Table, n uint32, temp float64, seeds rng.StepSeeds) error {
	var counts [components.StageCount]uint32
	counts[components.StageEgg.Index()] = n
	if err := table.Install(population.RangesFromCounts(counts)); err != nil {
		return err
	}
	hatch := l.Hatchery(temp, seeds)
	l.d.Dispatch("seed", int(n), func(lo, hi, _ int) {
		for i := lo; i < hi; i++ {
			hatch(gen, uint32(i))
		}
	})
	return nil
}
