package telemetry

import (
	"log/slog"
	"sort"
	"time"
)

// Phase names for the simulation step.
const (
	PhaseCensus     = "census"
	PhaseTransition = "transition"
	PhaseCompact    = "compact"
	PhaseSwap       = "swap"
	PhaseReport     = "report"
)

var stepPhases = []string{PhaseCensus, PhaseTransition, PhaseCompact, PhaseSwap, PhaseReport}

// PerfSample holds timing data for a single step.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
	Kernels      map[string]time.Duration
}

// PerfCollector tracks performance metrics over a rolling window.
// It is driven from the simulation goroutine only.
type PerfCollector struct {
	windowSize     int
	samples        []PerfSample
	writeIndex     int
	sampleCount    int
	currentPhases  map[string]time.Duration
	currentKernels map[string]time.Duration
	stepStart      time.Time
	phaseStart     time.Time
	lastPhase      string
}

// NewPerfCollector creates a new performance collector.
// windowSize: number of steps to average over.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:     windowSize,
		samples:        make([]PerfSample, windowSize),
		currentPhases:  make(map[string]time.Duration),
		currentKernels: make(map[string]time.Duration),
	}
}

// StartStep begins timing a new simulation step.
func (p *PerfCollector) StartStep() {
	p.stepStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.currentKernels = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	// End previous phase if any
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// ObserveKernel adds one dispatch to the current step. Its signature
// matches dispatch.Observer.
func (p *PerfCollector) ObserveKernel(name string, _ int, d time.Duration) {
	p.currentKernels[name] += d
}

// EndStep finishes timing the current step and records the sample.
func (p *PerfCollector) EndStep() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		StepDuration: now.Sub(p.stepStart),
		Phases:       p.currentPhases,
		Kernels:      p.currentKernels,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration

	// Phase breakdown (average durations)
	PhaseAvg map[string]time.Duration
	// Phase percentages of total step time
	PhasePct map[string]float64
	// Average time per step spent in each named kernel
	KernelAvg map[string]time.Duration

	StepsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg:  make(map[string]time.Duration),
			PhasePct:  make(map[string]float64),
			KernelAvg: make(map[string]time.Duration),
		}
	}

	var total, minStep, maxStep time.Duration
	phaseSum := make(map[string]time.Duration)
	kernelSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.StepDuration
		if i == 0 || s.StepDuration < minStep {
			minStep = s.StepDuration
		}
		if s.StepDuration > maxStep {
			maxStep = s.StepDuration
		}
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
		for k, d := range s.Kernels {
			kernelSum[k] += d
		}
	}

	n := time.Duration(p.sampleCount)
	avg := total / n

	phaseAvg := make(map[string]time.Duration, len(phaseSum))
	phasePct := make(map[string]float64, len(phaseSum))
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / n
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}
	kernelAvg := make(map[string]time.Duration, len(kernelSum))
	for k, sum := range kernelSum {
		kernelAvg[k] = sum / n
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgStepDuration: avg,
		MinStepDuration: minStep,
		MaxStepDuration: maxStep,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		KernelAvg:       kernelAvg,
		StepsPerSecond:  perSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_step_us", s.AvgStepDuration.Microseconds()),
		slog.Int64("min_step_us", s.MinStepDuration.Microseconds()),
		slog.Int64("max_step_us", s.MaxStepDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	for _, phase := range stepPhases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", float64(int(pct*10))/10))
		}
	}

	kernels := make([]string, 0, len(s.KernelAvg))
	for k := range s.KernelAvg {
		kernels = append(kernels, k)
	}
	sort.Strings(kernels)
	for _, k := range kernels {
		attrs = append(attrs, slog.Int64(k+"_us", s.KernelAvg[k].Microseconds()))
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	Step          int     `csv:"step"`
	AvgStepUS     int64   `csv:"avg_step_us"`
	MinStepUS     int64   `csv:"min_step_us"`
	MaxStepUS     int64   `csv:"max_step_us"`
	StepsPerSec   float64 `csv:"steps_per_sec"`
	CensusPct     float64 `csv:"census_pct"`
	TransitionPct float64 `csv:"transition_pct"`
	CompactPct    float64 `csv:"compact_pct"`
	SwapPct       float64 `csv:"swap_pct"`
	ReportPct     float64 `csv:"report_pct"`
	ScanUS        int64   `csv:"scan_us"`
	ScatterUS     int64   `csv:"scatter_us"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(step int) PerfStatsCSV {
	var scan time.Duration
	for k, d := range s.KernelAvg {
		switch k {
		case "scan.block", "scan.add", "scan.inclusive", "keyed.block", "keyed.carry", "keyed.add":
			scan += d
		}
	}
	return PerfStatsCSV{
		Step:          step,
		AvgStepUS:     s.AvgStepDuration.Microseconds(),
		MinStepUS:     s.MinStepDuration.Microseconds(),
		MaxStepUS:     s.MaxStepDuration.Microseconds(),
		StepsPerSec:   s.StepsPerSecond,
		CensusPct:     s.PhasePct[PhaseCensus],
		TransitionPct: s.PhasePct[PhaseTransition],
		CompactPct:    s.PhasePct[PhaseCompact],
		SwapPct:       s.PhasePct[PhaseSwap],
		ReportPct:     s.PhasePct[PhaseReport],
		ScanUS:        scan.Microseconds(),
		ScatterUS:     s.KernelAvg["compact.scatter"].Microseconds(),
	}
}
