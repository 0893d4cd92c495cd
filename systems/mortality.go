package systems

import (
	"math"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/environment"
)

// Mortality holds the background death rates. Interventions that act on
// specific behaviour (bites, resting, laying) are applied by the
// life-cycle step itself; only larvicide is folded in here.
type Mortality struct {
	Hourly [components.StageCount]float64 // per-hour death probability by stage index

	// LarvalDensity scales the density-dependent larval mortality
	// LarvalDensity * biomass / carrying capacity.
	LarvalDensity float64
}

// Probability returns the chance that an agent of stage dies during a step
// of the given length.
func (m *Mortality) Probability(stage components.Stage, hours float64, biomass uint32, env environment.Record) float64 {
	p := m.Hourly[stage.Index()]
	if stage == components.StageLarva {
		if env.CarryingCapacity > 0 {
			p += m.LarvalDensity * float64(biomass) / env.CarryingCapacity
		}
		p += env.Larvicide
	}
	p = min(max(p, 0), 1)
	if hours == 1 || p == 0 || p == 1 {
		return p
	}
	return 1 - math.Pow(1-p, hours)
}
