package telemetry

import (
	"log/slog"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/population"
)

// StepStats is one row of the per-step report: the population at the start
// of the step plus what happened during it.
type StepStats struct {
	Step        int     `csv:"step"`
	Hours       float64 `csv:"hours"`
	Temperature float64 `csv:"temperature"`

	// Adults
	Mature         uint32 `csv:"mature"`
	Immature       uint32 `csv:"immature"`
	MateSeeking    uint32 `csv:"mate_seeking"`
	BloodSeeking   uint32 `csv:"blood_seeking"`
	BloodDigesting uint32 `csv:"blood_digesting"`
	Gravid         uint32 `csv:"gravid"`

	Females              uint32 `csv:"females"`
	PotentiallyInfective uint32 `csv:"potentially_infective"`
	Males                uint32 `csv:"males"`

	// Aquatic stages
	Eggs            uint32 `csv:"eggs"`
	Larvae          uint32 `csv:"larvae"`
	Pupae           uint32 `csv:"pupae"`
	Larvae1DayEquiv uint32 `csv:"larvae_1day_equiv"`
	Biomass         uint32 `csv:"biomass"`

	// Events during the step
	MeanCycleLength uint64 `csv:"mean_cycle_length"`
	Bites           uint64 `csv:"bites"`
	InfectiousBites uint64 `csv:"infectious_bites"`
	NewEggs         uint64 `csv:"new_eggs"`
	Killed          uint64 `csv:"killed"`
	Spent           uint64 `csv:"spent"`

	Live uint32 `csv:"live"`
}

// NewStepStats reads the population counts from a table whose aggregates
// have been refreshed by the census.
func NewStepStats(step int, hours, temp float64, t *population.Table) StepStats {
	s := StepStats{
		Step:        step,
		Hours:       hours,
		Temperature: temp,

		Immature:       t.RangeFor(components.StageImmature).Len(),
		MateSeeking:    t.RangeFor(components.StageMateSeeking).Len(),
		BloodSeeking:   t.RangeFor(components.StageBloodSeeking).Len(),
		BloodDigesting: t.RangeFor(components.StageBloodDigesting).Len(),
		Gravid:         t.RangeFor(components.StageGravid).Len(),

		Eggs:    t.RangeFor(components.StageEgg).Len(),
		Larvae:  t.RangeFor(components.StageLarva).Len(),
		Pupae:   t.RangeFor(components.StagePupa).Len(),
		Biomass: t.Biomass(),
		Live:    t.TotalLive(),
	}
	s.Mature = t.CountMask(components.AdultStages)
	if s.Mature > 0 {
		s.Females = t.Females
		s.PotentiallyInfective = t.PotentiallyInfective
	}
	s.Males = s.Mature - s.Females
	if s.Larvae > 0 {
		s.Larvae1DayEquiv = t.Larvae1DayEquiv
	}
	return s
}

// AddEvents copies the step's accumulated counters.
func (s *StepStats) AddEvents(acc *population.Accumulators) {
	s.MeanCycleLength = acc.Bites.MeanCycleLength()
	s.Bites = acc.Bites.Bites.Load()
	s.InfectiousBites = acc.Bites.InfectiousBites.Load()
	s.NewEggs = acc.Eggs.NewEggs.Load()
	s.Killed = acc.Fates.Killed.Load()
	s.Spent = acc.Fates.Spent.Load()
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("hours", s.Hours),
		slog.Float64("temperature", s.Temperature),
		slog.Int("mature", int(s.Mature)),
		slog.Int("immature", int(s.Immature)),
		slog.Int("mate_seeking", int(s.MateSeeking)),
		slog.Int("blood_seeking", int(s.BloodSeeking)),
		slog.Int("blood_digesting", int(s.BloodDigesting)),
		slog.Int("gravid", int(s.Gravid)),
		slog.Int("females", int(s.Females)),
		slog.Int("potentially_infective", int(s.PotentiallyInfective)),
		slog.Int("males", int(s.Males)),
		slog.Int("eggs", int(s.Eggs)),
		slog.Int("larvae", int(s.Larvae)),
		slog.Int("pupae", int(s.Pupae)),
		slog.Int("larvae_1day_equiv", int(s.Larvae1DayEquiv)),
		slog.Int("biomass", int(s.Biomass)),
		slog.Uint64("mean_cycle_length", s.MeanCycleLength),
		slog.Uint64("bites", s.Bites),
		slog.Uint64("infectious_bites", s.InfectiousBites),
		slog.Uint64("new_eggs", s.NewEggs),
		slog.Uint64("killed", s.Killed),
		slog.Uint64("spent", s.Spent),
		slog.Int("live", int(s.Live)),
	)
}

// LogStats logs the step stats using slog.
func (s StepStats) LogStats() {
	slog.Info("stats", "step", s)
}
