package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AgeHistogram bins agent ages in days. Ages past the last bin are counted
// in it.
type AgeHistogram struct {
	Dividers []float64
	Counts   []float64
	Mean     float64
	StdDev   float64
	Median   float64
	N        int
}

// HistogramRow is one bin in histogram.csv.
type HistogramRow struct {
	Day   float64 `csv:"day"`
	Count uint64  `csv:"count"`
}

// NewAgeHistogram builds a histogram with bins equal-width bins over
// [0, maxDays). ages is in days and is sorted in place.
func NewAgeHistogram(ages []float64, bins int, maxDays float64) AgeHistogram {
	if bins < 1 {
		bins = 1
	}
	if maxDays <= 0 {
		maxDays = 1
	}
	last := math.Nextafter(maxDays, 0)
	for i, a := range ages {
		ages[i] = min(max(a, 0), last)
	}
	sort.Float64s(ages)

	h := AgeHistogram{
		Dividers: floats.Span(make([]float64, bins+1), 0, maxDays),
		N:        len(ages),
	}
	h.Counts = stat.Histogram(nil, h.Dividers, ages, nil)
	if len(ages) > 0 {
		h.Mean, h.StdDev = stat.MeanStdDev(ages, nil)
		h.Median = stat.Quantile(0.5, stat.Empirical, ages, nil)
	}
	if len(ages) < 2 {
		h.StdDev = 0
	}
	return h
}

// Rows returns one CSV row per bin keyed by the bin's lower edge.
func (h AgeHistogram) Rows() []HistogramRow {
	rows := make([]HistogramRow, len(h.Counts))
	for i, c := range h.Counts {
		rows[i] = HistogramRow{Day: h.Dividers[i], Count: uint64(c)}
	}
	return rows
}

// LogValue implements slog.LogValuer for structured logging.
func (h AgeHistogram) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("n", h.N),
		slog.Float64("mean_days", h.Mean),
		slog.Float64("std_days", h.StdDev),
		slog.Float64("median_days", h.Median),
	)
}
