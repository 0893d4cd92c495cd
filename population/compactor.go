package population

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/scan"
)

// Passes groups the stages that share one keyed scan. Within a group the
// source ranges of the stages never overlap, so one pass yields offsets for
// all of them.
var Passes = [3]components.Stage{
	components.StageEgg | components.StageImmature | components.StageBloodDigesting,
	components.StageLarva | components.StageMateSeeking | components.StageGravid,
	components.StagePupa | components.StageBloodSeeking,
}

var passOf = func() (out [components.StageCount]int) {
	for p, mask := range Passes {
		for _, s := range mask.Stages() {
			out[s.Index()] = p
		}
	}
	return out
}()

// Segment is one stage of a compaction pass with the positions of the
// current generation its members can occupy.
type Segment struct {
	Stage  components.Stage
	Source Range
}

// Hatchery initialises a freshly laid egg at slot of the next generation.
type Hatchery func(next *Generation, slot uint32)

// Result summarises one compaction.
type Result struct {
	Counts        [components.StageCount]uint32
	Ranges        [components.StageCount]Range
	SurvivingEggs uint32
	NewEggs       uint32
}

// Compactor rebuilds the per-stage layout of the next generation from the
// state records of the current one.
type Compactor struct {
	d       dispatch.Dispatcher
	scanner *scan.Scanner
	keyed   *scan.KeyedScanner
	verify  bool

	keys       []int32
	flags      []uint32
	offsets    [len(Passes)][]uint32
	eggOffsets []uint32

	misplaced atomic.Uint32
}

// NewCompactor allocates scratch arrays for the given capacity. With verify
// set, every pass is cross-checked against a linear recount.
func NewCompactor(d dispatch.Dispatcher, scanner *scan.Scanner, keyed *scan.KeyedScanner, capacity int, verify bool) *Compactor {
	c := &Compactor{
		d:          d,
		scanner:    scanner,
		keyed:      keyed,
		verify:     verify,
		keys:       make([]int32, capacity),
		flags:      make([]uint32, capacity),
		eggOffsets: make([]uint32, capacity),
	}
	for i := range c.offsets {
		c.offsets[i] = make([]uint32, capacity)
	}
	return c
}

// SourceRange returns the positions that may hold stage s after one
// transition step: its own range plus its predecessor's. Blood seekers
// also come back from gravid, so their source runs to the end of GRAVID.
func SourceRange(t *Table, s components.Stage) Range {
	r := t.RangeFor(s)
	if s == components.StageEgg {
		return r
	}
	prev := components.AllStages[s.Index()-1]
	r.Start = t.RangeFor(prev).Start
	if s == components.StageBloodSeeking {
		r.End = t.RangeFor(components.StageGravid).End
	}
	return r
}

// Segments returns the segments of a pass mask for the current table.
func Segments(t *Table, mask components.Stage) []Segment {
	stages := mask.Stages()
	segs := make([]Segment, len(stages))
	for i, s := range stages {
		segs[i] = Segment{Stage: s, Source: SourceRange(t, s)}
	}
	return segs
}

// checkSegments asserts that every segment is a single stage of mask and
// that no two source ranges overlap. Overlap would silently corrupt the
// offsets, so it is reported as an inconsistency.
func checkSegments(mask components.Stage, segs []Segment) error {
	var seen components.Stage
	for _, seg := range segs {
		if !seg.Stage.Valid() || !seg.Stage.Matches(mask) {
			return fmt.Errorf("population: segment stage %s is not part of mask %s", seg.Stage, mask)
		}
		if seg.Stage.Matches(seen) {
			return fmt.Errorf("population: stage %s appears twice in mask %s", seg.Stage, mask)
		}
		seen |= seg.Stage
		if seg.Source.End < seg.Source.Start {
			return inconsistency("%s source range [%d,%d) is inverted", seg.Stage, seg.Source.Start, seg.Source.End)
		}
	}

	sorted := append([]Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source.Start < sorted[j].Source.Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Source.Overlaps(sorted[i].Source) {
			return inconsistency("source ranges of %s [%d,%d) and %s [%d,%d) overlap",
				sorted[i-1].Stage, sorted[i-1].Source.Start, sorted[i-1].Source.End,
				sorted[i].Stage, sorted[i].Source.Start, sorted[i].Source.End)
		}
	}
	return nil
}

// CompactByMask ranks every live agent of each segment's stage within that
// segment's source range. offsets is indexed by absolute position and
// receives the rank of each matching agent. The returned counts align with
// segs.
func (c *Compactor) CompactByMask(gen *Generation, mask components.Stage, segs []Segment, offsets []uint32) ([]uint32, error) {
	if err := checkSegments(mask, segs); err != nil {
		return nil, err
	}
	counts := make([]uint32, len(segs))

	lo, hi := uint32(1<<32-1), uint32(0)
	for _, seg := range segs {
		if seg.Source.Len() == 0 {
			continue
		}
		lo = min(lo, seg.Source.Start)
		hi = max(hi, seg.Source.End)
	}
	if hi <= lo {
		return counts, nil
	}
	if int(hi) > gen.Len() || int(hi) > len(offsets) {
		return nil, fmt.Errorf("population: segment end %d beyond capacity %d", hi, gen.Len())
	}

	n := int(hi - lo)
	keys, flags := c.keys[:n], c.flags[:n]
	states := gen.States

	c.d.Dispatch("compact.flag", n, func(i0, i1, _ int) {
		for i := i0; i < i1; i++ {
			pos := lo + uint32(i)
			key, flag := int32(-1), uint32(0)
			for k := range segs {
				if segs[k].Source.Contains(pos) {
					key = int32(k)
					if st := states[pos]; st.Alive && st.Stage == segs[k].Stage {
						flag = 1
					}
					break
				}
			}
			keys[i] = key
			flags[i] = flag
		}
	})

	c.keyed.Exclusive(offsets[lo:hi], keys, flags)

	for k, seg := range segs {
		if seg.Source.Len() == 0 {
			continue
		}
		last := seg.Source.End - 1
		counts[k] = offsets[last] + flags[last-lo]
	}

	if c.verify {
		for k, seg := range segs {
			var want uint32
			for pos := seg.Source.Start; pos < seg.Source.End; pos++ {
				if st := states[pos]; st.Alive && st.Stage == seg.Stage {
					want++
				}
			}
			if want != counts[k] {
				return nil, inconsistency("%s: scan counted %d, recount found %d", seg.Stage, counts[k], want)
			}
		}
	}
	return counts, nil
}

// Compact builds the next generation. Every live agent of cur is copied to
// newBase(stage)+rank in next; dead and spent agents are dropped; eggs laid
// this step are created through hatch after the surviving eggs. The table
// is updated to the new layout before any agent is written, so a capacity
// violation aborts without touching next.
//
// laid holds the eggs laid by each gravid position this step; its total
// must match eggs.NewEggs.
func (c *Compactor) Compact(cur, next *Generation, t *Table, laid []uint32, eggs *EggsAndBiomass, hatch Hatchery) (Result, error) {
	var res Result
	end := t.End()

	var sources [components.StageCount]Range
	for _, s := range components.AllStages {
		sources[s.Index()] = SourceRange(t, s)
	}

	for p, mask := range Passes {
		segs := Segments(t, mask)
		counts, err := c.CompactByMask(cur, mask, segs, c.offsets[p])
		if err != nil {
			return res, fmt.Errorf("compacting %s: %w", mask, err)
		}
		for k, seg := range segs {
			res.Counts[seg.Stage.Index()] = counts[k]
		}
	}

	// Offsets for the new eggs come from a plain scan over what each gravid
	// laid, so placement does not depend on thread timing.
	gravids := t.RangeFor(components.StageGravid)
	eggOffsets := c.eggOffsets[:gravids.Len()]
	totalLaid := c.scanner.Exclusive(eggOffsets, laid[gravids.Start:gravids.End])
	if acc := eggs.NewEggs.Load(); uint64(totalLaid) != acc {
		return res, inconsistency("egg scan total %d, accumulator %d", totalLaid, acc)
	}

	res.SurvivingEggs = res.Counts[components.StageEgg.Index()]
	res.NewEggs = totalLaid
	res.Counts[components.StageEgg.Index()] += totalLaid
	res.Ranges = RangesFromCounts(res.Counts)

	var live uint64
	for _, n := range res.Counts {
		live += uint64(n)
	}
	if live == 0 {
		return res, ErrPopulationExtinct
	}
	if err := t.Install(res.Ranges); err != nil {
		return res, err
	}

	if hatch == nil {
		hatch = plainEgg
	}
	var bases, limits [components.StageCount]uint32
	for i, r := range res.Ranges {
		bases[i], limits[i] = r.Start, r.End
	}
	eggBase := res.Ranges[components.StageEgg.Index()].Start + res.SurvivingEggs
	offsets := c.offsets

	c.misplaced.Store(0)
	c.d.Dispatch("compact.scatter", int(end), func(i0, i1, _ int) {
		for i := i0; i < i1; i++ {
			pos := uint32(i)
			st := cur.States[i]
			if st.Alive {
				si := st.Stage.Index()
				if !st.Stage.Valid() || !sources[si].Contains(pos) {
					c.misplaced.Add(1)
				} else if dst := bases[si] + offsets[passOf[si]][i]; dst >= limits[si] {
					c.misplaced.Add(1)
				} else {
					cur.Copy(next, int(dst), i)
				}
			}
			if gravids.Contains(pos) {
				if n := laid[i]; n > 0 {
					slot := eggBase + eggOffsets[pos-gravids.Start]
					for j := uint32(0); j < n; j++ {
						hatch(next, slot+j)
					}
				}
			}
		}
	})
	if n := c.misplaced.Load(); n > 0 {
		return res, inconsistency("%d agents outside their stage's source range", n)
	}
	return res, nil
}

func plainEgg(next *Generation, slot uint32) {
	next.Agents[slot] = components.Agent{}
	next.Ages[slot] = components.AgentAge{}
	next.States[slot] = components.AgentState{Alive: true, Stage: components.StageEgg}
}
