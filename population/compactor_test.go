package population

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/scan"
)

func newTestCompactor(t *testing.T, capacity int, verify bool) *Compactor {
	t.Helper()
	pool, err := dispatch.NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	pool.SetThreshold(1)
	t.Cleanup(pool.Close)

	sc, err := scan.NewScanner(pool, 4, capacity)
	if err != nil {
		t.Fatal(err)
	}
	ks, err := scan.NewKeyedScanner(pool, 4, capacity)
	if err != nil {
		t.Fatal(err)
	}
	return NewCompactor(pool, sc, ks, capacity, verify)
}

// populate lays agents out per table and tags each with its position in
// AgeHours so it can be traced after compaction.
func populate(gen *Generation, table *Table) {
	for _, s := range components.AllStages {
		r := table.RangeFor(s)
		for i := r.Start; i < r.End; i++ {
			gen.States[i] = components.AgentState{Alive: true, Stage: s}
			gen.Ages[i] = components.AgentAge{AgeHours: float32(i)}
		}
	}
}

func markHatch(next *Generation, slot uint32) {
	next.States[slot] = components.AgentState{Alive: true, Stage: components.StageEgg}
	next.Ages[slot] = components.AgentAge{AgeHours: -1}
}

func successor(s components.Stage) components.Stage {
	if s == components.StageGravid {
		return components.StageBloodSeeking
	}
	return s << 1
}

func TestCompact_Conservation(t *testing.T) {
	const capacity = 4000
	for _, verify := range []bool{false, true} {
		name := "fast"
		if verify {
			name = "verify"
		}
		t.Run(name, func(t *testing.T) {
			c := newTestCompactor(t, capacity, verify)
			rng := rand.New(rand.NewSource(11))
			buf := NewGenerationBuffer(capacity)
			table := NewTable(capacity)
			if err := table.Install(RangesFromCounts(countsOf(300, 250, 200, 150, 120, 180, 160, 140))); err != nil {
				t.Fatal(err)
			}
			cur := buf.Current()
			populate(cur, table)

			laid := make([]uint32, capacity)
			var eggs EggsAndBiomass
			var want [components.StageCount]uint32
			var survivors [components.StageCount][]float32

			for i := uint32(0); i < table.End(); i++ {
				st := &cur.States[i]
				if st.Stage == components.StageGravid && rng.Intn(3) == 0 {
					n := uint32(rng.Intn(4))
					laid[i] = n
					eggs.NewEggs.Add(uint64(n))
				}
				switch rng.Intn(3) {
				case 0:
					st.Alive = false
					continue
				case 1:
					if st.Stage != components.StageImmature || rng.Intn(2) == 0 {
						st.Stage = successor(st.Stage)
					}
				}
				want[st.Stage.Index()]++
			}
			// Expected order inside each new range is source position order.
			for i := uint32(0); i < table.End(); i++ {
				if st := cur.States[i]; st.Alive {
					survivors[st.Stage.Index()] = append(survivors[st.Stage.Index()], cur.Ages[i].AgeHours)
				}
			}
			newEggs := uint32(eggs.NewEggs.Load())
			want[0] += newEggs

			res, err := c.Compact(cur, buf.Next(), table, laid, &eggs, markHatch)
			if err != nil {
				t.Fatalf("Compact: %v", err)
			}
			if res.Counts != want {
				t.Fatalf("counts = %v, want %v", res.Counts, want)
			}
			if res.NewEggs != newEggs {
				t.Errorf("NewEggs = %d, want %d", res.NewEggs, newEggs)
			}
			if table.Ranges() != RangesFromCounts(want) {
				t.Errorf("table not updated to new layout")
			}

			next := buf.Next()
			for _, s := range components.AllStages {
				r := table.RangeFor(s)
				ids := survivors[s.Index()]
				for k, pos := 0, r.Start; pos < r.End; k, pos = k+1, pos+1 {
					st := next.States[pos]
					if !st.Alive || st.Stage != s {
						t.Fatalf("position %d holds %+v, want live %s", pos, st, s)
					}
					if k < len(ids) {
						if got := next.Ages[pos].AgeHours; got != ids[k] {
							t.Fatalf("%s slot %d: agent %v, want %v", s, k, got, ids[k])
						}
					} else if s != components.StageEgg || next.Ages[pos].AgeHours != -1 {
						t.Fatalf("%s slot %d: unexpected agent %v", s, k, next.Ages[pos].AgeHours)
					}
				}
			}
		})
	}
}

func TestCompact_Extinct(t *testing.T) {
	c := newTestCompactor(t, 100, true)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(5, 5))); err != nil {
		t.Fatal(err)
	}
	before := table.Ranges()
	cur := buf.Current()
	populate(cur, table)
	for i := range cur.States {
		cur.States[i].Alive = false
	}

	_, err := c.Compact(cur, buf.Next(), table, make([]uint32, 100), &EggsAndBiomass{}, nil)
	if !errors.Is(err, ErrPopulationExtinct) {
		t.Fatalf("error = %v, want ErrPopulationExtinct", err)
	}
	if table.Ranges() != before {
		t.Error("table changed on extinction")
	}
}

func TestCompact_CapacityCheckedBeforeWrite(t *testing.T) {
	c := newTestCompactor(t, 100, false)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(80, 0, 0, 0, 0, 0, 0, 10))); err != nil {
		t.Fatal(err)
	}
	before := table.Ranges()
	populate(buf.Current(), table)

	laid := make([]uint32, 100)
	var eggs EggsAndBiomass
	laid[85] = 6
	eggs.NewEggs.Add(6)

	_, err := c.Compact(buf.Current(), buf.Next(), table, laid, &eggs, markHatch)
	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CapacityError", err)
	}
	if ce.Live != 96 {
		t.Errorf("Live = %d, want 96", ce.Live)
	}
	if table.Ranges() != before {
		t.Error("table changed on capacity error")
	}
	for i, st := range buf.Next().States {
		if st.Alive {
			t.Fatalf("next generation written at %d", i)
		}
	}
}

func TestCompact_ExactlyAtMargin(t *testing.T) {
	c := newTestCompactor(t, 100, false)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(80, 0, 0, 0, 0, 0, 0, 10))); err != nil {
		t.Fatal(err)
	}
	populate(buf.Current(), table)

	laid := make([]uint32, 100)
	var eggs EggsAndBiomass
	laid[85] = 5
	eggs.NewEggs.Add(5)

	res, err := c.Compact(buf.Current(), buf.Next(), table, laid, &eggs, markHatch)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if table.TotalLive() != 95 || res.Counts[0] != 85 {
		t.Errorf("live = %d, eggs = %d", table.TotalLive(), res.Counts[0])
	}
}

func TestCompact_AccumulatorMismatch(t *testing.T) {
	c := newTestCompactor(t, 100, false)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(4, 0, 0, 0, 0, 0, 0, 4))); err != nil {
		t.Fatal(err)
	}
	populate(buf.Current(), table)

	laid := make([]uint32, 100)
	laid[5] = 3
	var eggs EggsAndBiomass
	eggs.NewEggs.Add(2)

	_, err := c.Compact(buf.Current(), buf.Next(), table, laid, &eggs, markHatch)
	if !errors.Is(err, ErrScanInconsistency) {
		t.Fatalf("error = %v, want ErrScanInconsistency", err)
	}
}

func TestCompact_AgentOutsideSourceRange(t *testing.T) {
	c := newTestCompactor(t, 100, false)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(4, 4, 4))); err != nil {
		t.Fatal(err)
	}
	cur := buf.Current()
	populate(cur, table)
	// An egg cannot become a pupa in one step.
	cur.States[1].Stage = components.StagePupa

	_, err := c.Compact(cur, buf.Next(), table, make([]uint32, 100), &EggsAndBiomass{}, nil)
	if !errors.Is(err, ErrScanInconsistency) {
		t.Fatalf("error = %v, want ErrScanInconsistency", err)
	}
}

func TestCompact_GravidReturnsToBloodSeeking(t *testing.T) {
	c := newTestCompactor(t, 100, true)
	buf := NewGenerationBuffer(100)
	table := NewTable(100)
	if err := table.Install(RangesFromCounts(countsOf(0, 0, 0, 0, 0, 2, 2, 2))); err != nil {
		t.Fatal(err)
	}
	cur := buf.Current()
	populate(cur, table)
	cur.States[5].Stage = components.StageBloodSeeking // gravid finished laying

	res, err := c.Compact(cur, buf.Next(), table, make([]uint32, 100), &EggsAndBiomass{}, nil)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := res.Counts[components.StageBloodSeeking.Index()]; got != 3 {
		t.Errorf("blood seekers = %d, want 3", got)
	}
	r := table.RangeFor(components.StageBloodSeeking)
	if got := buf.Next().Ages[r.End-1].AgeHours; got != 5 {
		t.Errorf("returning gravid placed as %v, want agent 5 last", got)
	}
}

func TestCompactByMask_RejectsOverlap(t *testing.T) {
	c := newTestCompactor(t, 64, false)
	gen := newGeneration(64)
	mask := components.StageEgg | components.StageLarva
	segs := []Segment{
		{Stage: components.StageEgg, Source: Range{0, 10}},
		{Stage: components.StageLarva, Source: Range{8, 20}},
	}
	offsets := make([]uint32, 64)

	if _, err := c.CompactByMask(&gen, mask, segs, offsets); !errors.Is(err, ErrScanInconsistency) {
		t.Fatalf("error = %v, want ErrScanInconsistency", err)
	}
}

func TestCompactByMask_RejectsStageOutsideMask(t *testing.T) {
	c := newTestCompactor(t, 64, false)
	gen := newGeneration(64)
	segs := []Segment{{Stage: components.StagePupa, Source: Range{0, 10}}}

	if _, err := c.CompactByMask(&gen, components.StageEgg, segs, make([]uint32, 64)); err == nil {
		t.Fatal("expected error for stage outside mask")
	}
}

func TestCompactByMask_SegmentsWithGap(t *testing.T) {
	c := newTestCompactor(t, 64, true)
	gen := newGeneration(64)
	for i := 0; i < 30; i++ {
		gen.States[i] = components.AgentState{Alive: i%3 != 0, Stage: components.StageEgg}
	}
	for i := 20; i < 30; i++ {
		gen.States[i].Stage = components.StagePupa
	}
	mask := components.StageEgg | components.StagePupa
	segs := []Segment{
		{Stage: components.StageEgg, Source: Range{0, 12}},
		{Stage: components.StagePupa, Source: Range{20, 30}},
	}
	offsets := make([]uint32, 64)

	counts, err := c.CompactByMask(&gen, mask, segs, offsets)
	if err != nil {
		t.Fatal(err)
	}
	// Positions 0..11 alive except multiples of 3: 8 eggs. 20..29: 21,24,27 dead.
	if counts[0] != 8 || counts[1] != 7 {
		t.Errorf("counts = %v, want [8 7]", counts)
	}
	if offsets[22] != 1 {
		t.Errorf("offset of second pupa = %d, want 1", offsets[22])
	}
}

func TestSourceRange(t *testing.T) {
	table := NewTable(1000)
	if err := table.Install(RangesFromCounts(countsOf(1, 2, 3, 4, 5, 6, 7, 8))); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		stage components.Stage
		want  Range
	}{
		{components.StageEgg, Range{0, 1}},
		{components.StageLarva, Range{0, 3}},
		{components.StagePupa, Range{1, 6}},
		{components.StageMateSeeking, Range{6, 15}},
		{components.StageBloodSeeking, Range{10, 36}},
		{components.StageGravid, Range{21, 36}},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			if got := SourceRange(table, tt.stage); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	// Sources within one pass never overlap.
	for _, mask := range Passes {
		if err := checkSegments(mask, Segments(table, mask)); err != nil {
			t.Errorf("pass %s: %v", mask, err)
		}
	}
}
