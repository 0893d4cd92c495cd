package systems

import (
	"math"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/rng"
)

// Biology holds the species-specific scalar functions the life-cycle step
// evaluates. Temperatures are in degrees Celsius, delays in hours unless
// noted.
type Biology interface {
	// EggDelay returns the hours an egg needs before hatching, drawn once
	// when the egg is laid.
	EggDelay(temp float64, r *rng.Stream) float64
	// LarvaDelay returns the development a larva must accumulate to pupate.
	LarvaDelay(r *rng.Stream) float64
	// LarvaDevelopment returns the development gained per hour.
	LarvaDevelopment(temp float64) float64
	PupaDelay(temp float64) float64
	ImmatureDelay(temp float64) float64
	MateSeekingDelay(temp float64) float64
	BloodSeekingDelay(temp float64) float64
	BloodDigestingDelay(temp float64) float64

	// TransitionTime reports whether stage may advance at hour (0-23).
	// For GRAVID it gates egg laying.
	TransitionTime(stage components.Stage, hour uint32) bool

	// GenerateEggs draws the batch size of a female becoming gravid after
	// batches earlier batches.
	GenerateEggs(r *rng.Stream, batches uint32) uint32
	// LayEggs returns how many of available eggs are laid on this attempt
	// given the aquatic biomass and carrying capacity.
	LayEggs(available, attempts, biomass uint32, carryingCapacity float64) uint32

	// Sporogony returns sporogonic development gained per hour.
	Sporogony(temp float64) float64
	// FemaleRatio is the probability that a new egg is female.
	FemaleRatio() float64
}

// AnophelesGambiae is the default species. The rate curves are fixed; the
// fields tune batch sizes, sex ratio and the sporogony degree-day model.
type AnophelesGambiae struct {
	EggBatchMean   float64
	EggBatchStdDev float64
	BatchDecay     float64 // batch size multiplier per earlier batch
	Females        float64

	SporogonyMinTemp    float64 // no development below this
	SporogonyDegreeDays float64 // degree-days to complete sporogony
}

// DefaultAnophelesGambiae returns the species with its published values.
func DefaultAnophelesGambiae() *AnophelesGambiae {
	return &AnophelesGambiae{
		EggBatchMean:        170,
		EggBatchStdDev:      30,
		BatchDecay:          0.8,
		Females:             0.5,
		SporogonyMinTemp:    16,
		SporogonyDegreeDays: 111,
	}
}

var _ Biology = (*AnophelesGambiae)(nil)

// larvalDevRates is the hourly development of a larva at 12..43 degrees.
var larvalDevRates = [...]float64{
	0.000175044, 0.000549094, 0.00109031, 0.001494158, 0.001752487, 0.001962866, 0.002171238, 0.002392989,
	0.002633689, 0.00289619, 0.003182685, 0.003495287, 0.003836204, 0.004207789, 0.004612566, 0.005053243,
	0.005532729, 0.006054144, 0.006620836, 0.007236393, 0.007904657, 0.008629745, 0.009416051, 0.010267388,
	0.011113704, 0.011960019, 0.012806335, 0.010401163, 0.007995991, 0.00033845, 0.00000533086, 0.0000000840986,
}

const (
	devRateMinTemp = 12
	devRateMaxTemp = devRateMinTemp + len(larvalDevRates) - 1
)

func night(hour uint32) bool {
	return hour <= 6 || hour >= 18
}

// EggIncubation returns the temperature dependent part of the egg delay.
func (*AnophelesGambiae) EggIncubation(temp float64) float64 {
	return -0.923*temp + 60.923
}

// EggHatching maps a uniform draw to the stochastic part of the egg delay,
// a piecewise linear inverse distribution rounded to whole hours.
func (*AnophelesGambiae) EggHatching(p float64) float64 {
	var m, b float64
	switch {
	case p < 0.5:
		m, b = 48, 0
	case p < 0.85:
		m, b = 68.5714, -10.2857
	case p < 0.90:
		m, b = 480, -360
	case p < 0.94:
		m, b = 600, -468
	default:
		m, b = 2400, -2160
	}
	return math.Floor(m*p + b + 0.5)
}

func (g *AnophelesGambiae) EggDelay(temp float64, r *rng.Stream) float64 {
	return g.EggIncubation(temp) + g.EggHatching(r.Float64())
}

func (*AnophelesGambiae) LarvaDelay(r *rng.Stream) float64 {
	return r.Normal(1, 0.1)
}

func (*AnophelesGambiae) LarvaDevelopment(temp float64) float64 {
	t := min(max(int(temp), devRateMinTemp), devRateMaxTemp)
	return larvalDevRates[t-devRateMinTemp]
}

func (*AnophelesGambiae) PupaDelay(temp float64) float64 {
	return -0.923*temp + 60.923
}

func (*AnophelesGambiae) ImmatureDelay(temp float64) float64 {
	return -2.667*temp + 120
}

func (*AnophelesGambiae) MateSeekingDelay(float64) float64 {
	return 1
}

func (*AnophelesGambiae) BloodSeekingDelay(float64) float64 {
	return 0
}

func (*AnophelesGambiae) BloodDigestingDelay(temp float64) float64 {
	return -1.231*temp + 77.231
}

func (*AnophelesGambiae) TransitionTime(stage components.Stage, hour uint32) bool {
	switch stage {
	case components.StageLarva, components.StagePupa, components.StageBloodSeeking, components.StageGravid:
		return night(hour)
	case components.StageMateSeeking:
		return hour == 18
	default:
		return true
	}
}

func (g *AnophelesGambiae) GenerateEggs(r *rng.Stream, batches uint32) uint32 {
	eggs := max(math.Floor(r.Normal(g.EggBatchMean, g.EggBatchStdDev)+0.5), 0)
	return uint32(math.Floor(eggs*math.Pow(g.BatchDecay, float64(batches)) + 0.5))
}

func (*AnophelesGambiae) LayEggs(available, attempts, biomass uint32, carryingCapacity float64) uint32 {
	if carryingCapacity <= 0 {
		return 0
	}
	normalized := float64(biomass) / ((float64(attempts) + 1) * carryingCapacity)
	potential := max(0, 1-normalized)
	return min(uint32(math.Ceil(float64(available)*potential)), available)
}

// Sporogony follows the degree-day model: development completes after
// SporogonyDegreeDays above SporogonyMinTemp.
func (g *AnophelesGambiae) Sporogony(temp float64) float64 {
	if temp <= g.SporogonyMinTemp || g.SporogonyDegreeDays <= 0 {
		return 0
	}
	return (temp - g.SporogonyMinTemp) / g.SporogonyDegreeDays / 24
}

func (g *AnophelesGambiae) FemaleRatio() float64 {
	return g.Females
}
