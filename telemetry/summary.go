package telemetry

import (
	"time"
)

// Summary is the end-of-run record written to summary.json.
type Summary struct {
	Steps       int               `json:"steps"`
	Seed        int64             `json:"seed"`
	Workers     int               `json:"workers"`
	Capacity    int               `json:"capacity"`
	Outcome     string            `json:"outcome"` // completed, cancelled, capacity_exceeded, extinct, error
	Error       string            `json:"error,omitempty"`
	Digest      string            `json:"digest"`
	Elapsed     time.Duration     `json:"elapsed_ns"`
	PeakLive    uint32            `json:"peak_live"`
	FinalLive   uint32            `json:"final_live"`
	FinalCounts map[string]uint32 `json:"final_counts"`

	TotalNewEggs uint64 `json:"total_new_eggs"`
	TotalBites   uint64 `json:"total_bites"`
	TotalKilled  uint64 `json:"total_killed"`
	TotalSpent   uint64 `json:"total_spent"`

	Age AgeSummary `json:"age"`
}

// AgeSummary condenses the final age histogram.
type AgeSummary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean_days"`
	StdDev float64 `json:"std_days"`
	Median float64 `json:"median_days"`
}

// Observe folds one step's stats into the running totals.
func (s *Summary) Observe(st StepStats) {
	s.Steps = st.Step + 1
	s.PeakLive = max(s.PeakLive, st.Live)
	s.TotalNewEggs += st.NewEggs
	s.TotalBites += st.Bites
	s.TotalKilled += st.Killed
	s.TotalSpent += st.Spent
}

// SetAges records the histogram statistics.
func (s *Summary) SetAges(h AgeHistogram) {
	s.Age = AgeSummary{N: h.N, Mean: h.Mean, StdDev: h.StdDev, Median: h.Median}
}
