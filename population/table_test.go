package population

import (
	"errors"
	"sync"
	"testing"

	"github.com/pthm-cable/mozzie/components"
)

func countsOf(vals ...uint32) [components.StageCount]uint32 {
	var c [components.StageCount]uint32
	copy(c[:], vals)
	return c
}

func TestRangesFromCounts_Contiguous(t *testing.T) {
	r := RangesFromCounts(countsOf(5, 0, 3, 1, 0, 2, 0, 4))

	var expect uint32
	for i, rg := range r {
		if rg.Start != expect {
			t.Errorf("stage %d starts at %d, want %d", i, rg.Start, expect)
		}
		expect = rg.End
	}
	if expect != 15 {
		t.Errorf("end = %d, want 15", expect)
	}
	if r[1].Len() != 0 || r[1].Start != 5 {
		t.Errorf("empty larva range = %+v, want [5,5)", r[1])
	}
}

func TestTableInstall(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint32
		ranges   [components.StageCount]Range
		wantErr  error
	}{
		{
			name:     "valid",
			capacity: 100,
			ranges:   RangesFromCounts(countsOf(10, 10, 10)),
		},
		{
			name:     "exactly at margin",
			capacity: 100,
			ranges:   RangesFromCounts(countsOf(95)),
		},
		{
			name:     "one past margin",
			capacity: 100,
			ranges:   RangesFromCounts(countsOf(90, 6)),
			wantErr:  ErrCapacityExceeded,
		},
		{
			name:     "gap between ranges",
			capacity: 100,
			ranges: func() [components.StageCount]Range {
				r := RangesFromCounts(countsOf(4, 4))
				r[1].Start++
				return r
			}(),
			wantErr: ErrScanInconsistency,
		},
		{
			name:     "not starting at zero",
			capacity: 100,
			ranges: func() [components.StageCount]Range {
				r := RangesFromCounts(countsOf(4))
				r[0].Start = 1
				return r
			}(),
			wantErr: ErrScanInconsistency,
		},
		{
			name:     "inverted",
			capacity: 100,
			ranges: func() [components.StageCount]Range {
				var r [components.StageCount]Range
				r[0] = Range{Start: 0, End: 4}
				r[1] = Range{Start: 4, End: 2}
				return r
			}(),
			wantErr: ErrScanInconsistency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(tt.capacity)
			before := RangesFromCounts(countsOf(1))
			if err := table.Install(before); err != nil {
				t.Fatalf("seed install: %v", err)
			}

			err := table.Install(tt.ranges)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if table.Ranges() != tt.ranges {
					t.Errorf("ranges not installed")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if table.Ranges() != before {
				t.Errorf("rejected install modified the table")
			}
		})
	}
}

func TestTableInstall_CapacityErrorDetails(t *testing.T) {
	table := NewTable(1000)
	err := table.Install(RangesFromCounts(countsOf(500, 500)))

	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CapacityError", err)
	}
	if ce.Live != 1000 || ce.Limit != 950 || ce.Capacity != 1000 {
		t.Errorf("got %+v", *ce)
	}
}

func TestTableQueries(t *testing.T) {
	table := NewTable(1000)
	if err := table.Install(RangesFromCounts(countsOf(10, 20, 30, 1, 2, 3, 4, 5))); err != nil {
		t.Fatal(err)
	}
	table.Larvae1DayEquiv = 45

	if got := table.TotalLive(); got != 75 {
		t.Errorf("TotalLive = %d, want 75", got)
	}
	if got := table.End(); got != 75 {
		t.Errorf("End = %d, want 75", got)
	}
	if got := table.CountMask(components.AquaticStages); got != 60 {
		t.Errorf("aquatic = %d, want 60", got)
	}
	if got := table.CountMask(components.AdultStages); got != 15 {
		t.Errorf("adults = %d, want 15", got)
	}
	if got := table.RangeFor(components.StagePupa); got != (Range{30, 60}) {
		t.Errorf("pupa range = %+v", got)
	}
	if got := table.Biomass(); got != 10+30+45 {
		t.Errorf("Biomass = %d, want 85", got)
	}
	if !MatchesMask(components.StageGravid, components.AdultStages) {
		t.Error("gravid should match adult mask")
	}
	if MatchesMask(components.StageEgg, components.AdultStages) {
		t.Error("egg should not match adult mask")
	}
}

func TestTableBiomass_NoLarvae(t *testing.T) {
	table := NewTable(1000)
	if err := table.Install(RangesFromCounts(countsOf(10, 0, 5))); err != nil {
		t.Fatal(err)
	}
	table.Larvae1DayEquiv = 99 // stale value from an earlier step

	if got := table.Biomass(); got != 15 {
		t.Errorf("Biomass = %d, want 15", got)
	}
}

func TestGenerationBuffer_Swap(t *testing.T) {
	b := NewGenerationBuffer(8)
	cur, next := b.Current(), b.Next()
	if cur == next {
		t.Fatal("current and next share storage")
	}

	next.States[3] = components.AgentState{Alive: true, Stage: components.StagePupa}
	b.Swap()

	if b.Current() != next || b.Next() != cur {
		t.Error("swap did not exchange roles")
	}
	if got := b.Current().States[3]; !got.Alive || got.Stage != components.StagePupa {
		t.Errorf("state after swap = %+v", got)
	}
	if b.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", b.Generation())
	}
	if b.Capacity() != 8 {
		t.Errorf("Capacity = %d, want 8", b.Capacity())
	}
}

func TestAccumulator_ConcurrentAdd(t *testing.T) {
	var acc Accumulators
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				acc.Eggs.NewEggs.Add(2)
				acc.Bites.Bites.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acc.Eggs.NewEggs.Load(); got != 16000 {
		t.Errorf("NewEggs = %d, want 16000", got)
	}
	acc.Eggs.TotalBiomass = 7
	acc.Reset()
	if acc.Eggs.NewEggs.Load() != 0 || acc.Bites.Bites.Load() != 0 {
		t.Error("Reset left counters set")
	}
	if acc.Eggs.TotalBiomass != 7 {
		t.Error("Reset cleared TotalBiomass")
	}
}

func TestMeanCycleLength(t *testing.T) {
	var b BitesAndCycles
	if b.MeanCycleLength() != 0 {
		t.Error("empty mean should be 0")
	}
	b.CyclesReported.Add(4)
	b.CycleHours.Add(400)
	if got := b.MeanCycleLength(); got != 100 {
		t.Errorf("mean = %d, want 100", got)
	}
}
