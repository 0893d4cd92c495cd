// Package population manages where each life stage lives in the flat agent
// arrays and rebuilds that layout every step by stream compaction.
package population

import (
	"log/slog"

	"github.com/pthm-cable/mozzie/components"
)

// SafetyPercent is the share of capacity the live population may occupy.
const SafetyPercent = 95

// Range is the half-open interval [Start, End) of array positions holding
// one stage.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of agents in the range.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether position i lies in the range.
func (r Range) Contains(i uint32) bool {
	return i >= r.Start && i < r.End
}

// Overlaps reports whether two non-empty ranges share a position.
func (r Range) Overlaps(o Range) bool {
	if r.Len() == 0 || o.Len() == 0 {
		return false
	}
	return r.Start < o.End && o.Start < r.End
}

// Table holds the eight stage ranges of the current generation plus the
// aggregate counters the census derives from them.
type Table struct {
	ranges   [components.StageCount]Range
	capacity uint32

	// Aggregates recomputed by the census every step.
	Larvae1DayEquiv      uint32
	Females              uint32
	PotentiallyInfective uint32
}

// NewTable returns an empty table for arrays of the given capacity.
func NewTable(capacity uint32) *Table {
	return &Table{capacity: capacity}
}

// Capacity returns the fixed array capacity.
func (t *Table) Capacity() uint32 {
	return t.capacity
}

// Limit returns the largest live count Install accepts.
func (t *Table) Limit() uint32 {
	return uint32(uint64(t.capacity) * SafetyPercent / 100)
}

// RangeFor returns the range of a single stage.
func (t *Table) RangeFor(s components.Stage) Range {
	return t.ranges[s.Index()]
}

// Ranges returns a copy of all ranges in layout order.
func (t *Table) Ranges() [components.StageCount]Range {
	return t.ranges
}

// Counts returns the size of each range in layout order.
func (t *Table) Counts() [components.StageCount]uint32 {
	var c [components.StageCount]uint32
	for i, r := range t.ranges {
		c[i] = r.Len()
	}
	return c
}

// TotalLive returns the number of agents covered by all ranges.
func (t *Table) TotalLive() uint32 {
	var n uint32
	for _, r := range t.ranges {
		n += r.Len()
	}
	return n
}

// End returns one past the last occupied position.
func (t *Table) End() uint32 {
	return t.ranges[components.StageCount-1].End
}

// CountMask returns the number of agents in every stage matched by mask.
func (t *Table) CountMask(mask components.Stage) uint32 {
	var n uint32
	for _, s := range components.AllStages {
		if s.Matches(mask) {
			n += t.RangeFor(s).Len()
		}
	}
	return n
}

// Biomass returns eggs + pupae + larval one-day equivalents, the density
// measure used against carrying capacity.
func (t *Table) Biomass() uint32 {
	var l1de uint32
	if t.RangeFor(components.StageLarva).Len() > 0 {
		l1de = t.Larvae1DayEquiv
	}
	return t.RangeFor(components.StageEgg).Len() + t.RangeFor(components.StagePupa).Len() + l1de
}

// MatchesMask reports whether stage is part of mask.
func MatchesMask(stage, mask components.Stage) bool {
	return stage.Matches(mask)
}

// RangesFromCounts lays the stages out back to back starting at 0.
func RangesFromCounts(counts [components.StageCount]uint32) [components.StageCount]Range {
	var out [components.StageCount]Range
	var base uint32
	for i, c := range counts {
		out[i] = Range{Start: base, End: base + c}
		base += c
	}
	return out
}

// Install replaces all ranges at once. The layout must start at 0, be
// contiguous in stage order and stay within the safety margin; on error
// the table is left unchanged.
func (t *Table) Install(ranges [components.StageCount]Range) error {
	var expect uint32
	var live uint64
	for i, r := range ranges {
		if r.End < r.Start {
			return inconsistency("%s range [%d,%d) is inverted", components.AllStages[i], r.Start, r.End)
		}
		if r.Start != expect {
			return inconsistency("%s range starts at %d, previous range ends at %d", components.AllStages[i], r.Start, expect)
		}
		expect = r.End
		live += uint64(r.End - r.Start)
	}
	if live*100 > uint64(t.capacity)*SafetyPercent {
		return &CapacityError{Live: uint32(min(live, 1<<32-1)), Limit: t.Limit(), Capacity: t.capacity}
	}
	t.ranges = ranges
	return nil
}

// LogValue implements slog.LogValuer, one attribute per stage range.
func (t *Table) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, components.StageCount+1)
	for i, r := range t.ranges {
		attrs = append(attrs, slog.Group(components.AllStages[i].String(),
			slog.Int("start", int(r.Start)),
			slog.Int("end", int(r.End)),
			slog.Int("n", int(r.Len())),
		))
	}
	attrs = append(attrs, slog.Int("live", int(t.TotalLive())))
	return slog.GroupValue(attrs...)
}
