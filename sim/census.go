package sim

import (
	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/population"
)

// censusPartial holds one dispatch slot's share of the census. Padded to a
// cache line so neighbouring slots do not contend.
type censusPartial struct {
	larvalDays uint64
	females    uint64
	infective  uint64
	_          [40]byte
}

// census recomputes the table aggregates from the current generation:
// larval one-day equivalents over the larva range, females and
// potentially infective females over the adult ranges.
type census struct {
	d        dispatch.Dispatcher
	partials []censusPartial
}

func newCensus(d dispatch.Dispatcher) *census {
	return &census{d: d, partials: make([]censusPartial, d.Workers())}
}

func (c *census) run(gen *population.Generation, t *population.Table) {
	for i := range c.partials {
		c.partials[i] = censusPartial{}
	}

	larvae := t.RangeFor(components.StageLarva)
	adults := population.Range{Start: t.RangeFor(components.StageImmature).Start, End: t.End()}
	// larva and adult ranges are separated only by pupae; one pass covers both
	span := population.Range{Start: larvae.Start, End: adults.End}

	c.d.Dispatch("census", int(span.Len()), func(lo, hi, slot int) {
		p := &c.partials[slot]
		for i := span.Start + uint32(lo); i < span.Start+uint32(hi); i++ {
			age := &gen.Ages[i]
			switch {
			case larvae.Contains(i):
				p.larvalDays += uint64(age.HoursInState/24) + 1
			case adults.Contains(i):
				if age.Female {
					p.females++
					if age.PotentiallyInfective() {
						p.infective++
					}
				}
			}
		}
	})

	var total censusPartial
	for _, p := range c.partials {
		total.larvalDays += p.larvalDays
		total.females += p.females
		total.infective += p.infective
	}
	t.Larvae1DayEquiv = uint32(total.larvalDays)
	t.Females = uint32(total.females)
	t.PotentiallyInfective = uint32(total.infective)
}

// adultAges returns the ages in days of every adult in gen.
func adultAges(gen *population.Generation, t *population.Table) []float64 {
	start, end := t.RangeFor(components.StageImmature).Start, t.End()
	ages := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		ages = append(ages, float64(gen.Ages[i].AgeHours)/24)
	}
	return ages
}
