package systems

import (
	"math/rand"
	"testing"

	"github.com/pthm-cable/mozzie/components"
	"github.com/pthm-cable/mozzie/dispatch"
	"github.com/pthm-cable/mozzie/environment"
	"github.com/pthm-cable/mozzie/population"
	"github.com/pthm-cable/mozzie/rng"
	"github.com/pthm-cable/mozzie/scan"
)

func newTestPool(t *testing.T) *dispatch.Pool {
	t.Helper()
	p, err := dispatch.NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	p.SetThreshold(1)
	t.Cleanup(p.Close)
	return p
}

func testSeeds() rng.StepSeeds {
	return rng.Generate(rand.New(rand.NewSource(42)))
}

// world holds a single agent at position 0.
type world struct {
	lc    *Lifecycle
	gen   *population.Generation
	table *population.Table
	acc   population.Accumulators
	laid  []uint32
}

func newWorld(t *testing.T, stage components.Stage, a components.Agent, age components.AgentAge) *world {
	t.Helper()
	w := &world{
		lc:    NewLifecycle(newTestPool(t), DefaultAnophelesGambiae(), Mortality{}),
		gen:   population.NewGenerationBuffer(16).Current(),
		table: population.NewTable(16),
		laid:  make([]uint32, 16),
	}
	var counts [components.StageCount]uint32
	counts[stage.Index()] = 1
	if err := w.table.Install(population.RangesFromCounts(counts)); err != nil {
		t.Fatal(err)
	}
	w.gen.Agents[0] = a
	w.gen.Ages[0] = age
	w.gen.States[0] = components.AgentState{Alive: true, Stage: stage}
	return w
}

func (w *world) step(hour uint32, env environment.Record) {
	w.lc.Evaluate(w.gen, w.table, StepInput{
		Hour:         hour,
		HoursPerStep: 1,
		Temperature:  25,
		Env:          env,
		Seeds:        testSeeds(),
	}, &w.acc, w.laid)
}

func (w *world) state() components.AgentState {
	return w.gen.States[0]
}

func TestEvaluate_EggHatchesWhenDue(t *testing.T) {
	w := newWorld(t, components.StageEgg, components.Agent{Delay: 10}, components.AgentAge{HoursInState: 9.5})
	w.step(12, environment.Record{})

	if got := w.state(); got.Stage != components.StageLarva || !got.Alive {
		t.Fatalf("state = %+v, want live larva", got)
	}
	if w.gen.Ages[0].HoursInState != 0 {
		t.Errorf("HoursInState = %v, want reset", w.gen.Ages[0].HoursInState)
	}
	if dev, ok := w.gen.Agents[0].Counter.LarvalDevelopment(); !ok || dev != 0 {
		t.Errorf("counter = (%v, %v), want fresh larval counter", dev, ok)
	}
	if d := w.gen.Agents[0].Delay; d < 0.5 || d > 1.5 {
		t.Errorf("larval delay = %v, want near 1", d)
	}
}

func TestEvaluate_EggNotDue(t *testing.T) {
	w := newWorld(t, components.StageEgg, components.Agent{Delay: 10}, components.AgentAge{HoursInState: 2})
	w.step(12, environment.Record{})

	if w.state().Stage != components.StageEgg {
		t.Fatalf("egg advanced early")
	}
	if got := w.gen.Ages[0]; got.HoursInState != 3 || got.AgeHours != 1 {
		t.Errorf("ages = %+v", got)
	}
}

func TestEvaluate_LarvaPupatesAtNight(t *testing.T) {
	for _, tt := range []struct {
		hour uint32
		want components.Stage
	}{
		{12, components.StageLarva},
		{20, components.StagePupa},
	} {
		w := newWorld(t, components.StageLarva,
			components.Agent{Delay: 1, Counter: components.LarvalCounter(0.999)},
			components.AgentAge{})
		w.step(tt.hour, environment.Record{})

		if got := w.state().Stage; got != tt.want {
			t.Errorf("hour %d: stage = %s, want %s", tt.hour, got, tt.want)
		}
		if tt.want == components.StageLarva {
			if dev, ok := w.gen.Agents[0].Counter.LarvalDevelopment(); !ok || dev <= 0.999 {
				t.Errorf("development not accumulated: %v", dev)
			}
		} else if !w.gen.Agents[0].Counter.Empty() {
			t.Errorf("larval counter survived pupation")
		}
	}
}

func TestEvaluate_OnlyFemalesLeaveImmature(t *testing.T) {
	for _, female := range []bool{false, true} {
		w := newWorld(t, components.StageImmature, components.Agent{Delay: 1}, components.AgentAge{HoursInState: 5, Female: female})
		w.step(12, environment.Record{})

		want := components.StageImmature
		if female {
			want = components.StageMateSeeking
		}
		if got := w.state().Stage; got != want {
			t.Errorf("female=%v: stage = %s, want %s", female, got, want)
		}
	}
}

func TestEvaluate_MateSeekingOnlyAtDusk(t *testing.T) {
	for _, tt := range []struct {
		hour uint32
		want components.Stage
	}{
		{17, components.StageMateSeeking},
		{18, components.StageBloodSeeking},
	} {
		w := newWorld(t, components.StageMateSeeking, components.Agent{Delay: 1}, components.AgentAge{HoursInState: 3, Female: true})
		w.step(tt.hour, environment.Record{})
		if got := w.state().Stage; got != tt.want {
			t.Errorf("hour %d: stage = %s, want %s", tt.hour, got, tt.want)
		}
	}
}

func TestEvaluate_BloodMeal(t *testing.T) {
	w := newWorld(t, components.StageBloodSeeking, components.Agent{}, components.AgentAge{Female: true, Sporogony: 1})
	w.step(22, environment.Record{BloodmealSuccess: 1})

	if got := w.state(); got.Stage != components.StageBloodDigesting || !got.Alive {
		t.Fatalf("state = %+v, want live blood digesting", got)
	}
	if w.gen.Agents[0].BloodmealCount != 1 {
		t.Errorf("BloodmealCount = %d", w.gen.Agents[0].BloodmealCount)
	}
	if w.acc.Bites.Bites.Load() != 1 || w.acc.Bites.InfectiousBites.Load() != 1 {
		t.Errorf("bites = %d, infectious = %d", w.acc.Bites.Bites.Load(), w.acc.Bites.InfectiousBites.Load())
	}
}

func TestEvaluate_Interventions(t *testing.T) {
	tests := []struct {
		name  string
		stage components.Stage
		agent components.Agent
		env   environment.Record
	}{
		{"bed net", components.StageBloodSeeking, components.Agent{}, environment.Record{ITN: 1, BloodmealSuccess: 1}},
		{"indoor spraying", components.StageBloodSeeking, components.Agent{}, environment.Record{IRS: 1, BloodmealSuccess: 1}},
		{"ovitrap", components.StageGravid, components.Agent{AvailableEggs: 10, Counter: components.OvipositionCounter(0)},
			environment.Record{OviTrap: 1, CarryingCapacity: 1000}},
		{"larvicide", components.StageLarva, components.Agent{Delay: 1, Counter: components.LarvalCounter(0)},
			environment.Record{Larvicide: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t, tt.stage, tt.agent, components.AgentAge{Female: true})
			w.step(22, tt.env)
			if w.state().Alive {
				t.Fatal("agent survived")
			}
			if w.acc.Fates.Killed.Load() != 1 {
				t.Errorf("Killed = %d, want 1", w.acc.Fates.Killed.Load())
			}
		})
	}
}

func TestEvaluate_BecomeGravid(t *testing.T) {
	w := newWorld(t, components.StageBloodDigesting, components.Agent{Delay: 1, EggBatches: 0}, components.AgentAge{HoursInState: 2, Female: true})
	w.step(12, environment.Record{})

	a := w.gen.Agents[0]
	if w.state().Stage != components.StageGravid {
		t.Fatalf("stage = %s, want gravid", w.state().Stage)
	}
	if a.AvailableEggs == 0 || a.EggBatches != 1 {
		t.Errorf("eggs = %d, batches = %d", a.AvailableEggs, a.EggBatches)
	}
	if n, ok := a.Counter.OvipositionAttempts(); !ok || n != 0 {
		t.Errorf("counter = (%d, %v), want fresh oviposition counter", n, ok)
	}
}

func TestEvaluate_GravidLaysAllAndReturns(t *testing.T) {
	w := newWorld(t, components.StageGravid,
		components.Agent{AvailableEggs: 120, CycleLength: 71, Counter: components.OvipositionCounter(0)},
		components.AgentAge{Female: true})
	w.step(20, environment.Record{CarryingCapacity: 1000})

	if got := w.state(); got.Stage != components.StageBloodSeeking || !got.Alive {
		t.Fatalf("state = %+v, want live blood seeker", got)
	}
	if w.laid[0] != 120 || w.acc.Eggs.NewEggs.Load() != 120 {
		t.Errorf("laid = %d, accumulator = %d", w.laid[0], w.acc.Eggs.NewEggs.Load())
	}
	if w.acc.Bites.CyclesReported.Load() != 1 || w.acc.Bites.CycleHours.Load() != 72 {
		t.Errorf("cycles = %d, hours = %d", w.acc.Bites.CyclesReported.Load(), w.acc.Bites.CycleHours.Load())
	}
	if w.gen.Agents[0].CycleLength != 0 || !w.gen.Agents[0].Counter.Empty() {
		t.Errorf("cycle not restarted: %+v", w.gen.Agents[0])
	}
}

func TestEvaluate_GravidDoesNotLayByDay(t *testing.T) {
	w := newWorld(t, components.StageGravid,
		components.Agent{AvailableEggs: 120, Counter: components.OvipositionCounter(0)},
		components.AgentAge{Female: true})
	w.step(12, environment.Record{CarryingCapacity: 1000})

	if w.laid[0] != 0 || w.gen.Agents[0].AvailableEggs != 120 {
		t.Errorf("laid %d by day", w.laid[0])
	}
}

func TestEvaluate_GravidSpentAfterMaxAttempts(t *testing.T) {
	w := newWorld(t, components.StageGravid,
		components.Agent{AvailableEggs: 120, Counter: components.OvipositionCounter(components.MaxOvipositionAttempts - 1)},
		components.AgentAge{Female: true})
	w.acc.Eggs.TotalBiomass = 100000 // habitat saturated
	w.step(20, environment.Record{CarryingCapacity: 1000})

	if w.state().Alive {
		t.Fatal("spent gravid still alive")
	}
	if w.acc.Fates.Spent.Load() != 1 || w.acc.Fates.Killed.Load() != 0 {
		t.Errorf("spent = %d, killed = %d", w.acc.Fates.Spent.Load(), w.acc.Fates.Killed.Load())
	}
}

func TestEvaluate_DeadAgentsUntouched(t *testing.T) {
	w := newWorld(t, components.StageEgg, components.Agent{Delay: 1}, components.AgentAge{HoursInState: 5})
	w.gen.States[0].Alive = false
	w.laid[0] = 9
	w.step(12, environment.Record{})

	if w.gen.Ages[0].HoursInState != 5 || w.state().Stage != components.StageEgg {
		t.Error("dead agent was evaluated")
	}
	if w.laid[0] != 0 {
		t.Error("laid not cleared")
	}
}

// One step from 32,000 eggs at 25 degrees without mortality keeps every
// agent in the egg or larva range.
func TestLifecycle_InitialEggsOneStep(t *testing.T) {
	const (
		initial  = 32000
		capacity = 40000
	)
	pool := newTestPool(t)
	sc, err := scan.NewScanner(pool, 64, capacity)
	if err != nil {
		t.Fatal(err)
	}
	ks, err := scan.NewKeyedScanner(pool, 64, capacity)
	if err != nil {
		t.Fatal(err)
	}
	compactor := population.NewCompactor(pool, sc, ks, capacity, true)
	lc := NewLifecycle(pool, DefaultAnophelesGambiae(), Mortality{})

	buf := population.NewGenerationBuffer(capacity)
	table := population.NewTable(capacity)
	seeds := testSeeds()
	if err := lc.Seed(buf.Current(), table, initial, 25, seeds); err != nil {
		t.Fatal(err)
	}

	var acc population.Accumulators
	acc.Eggs.TotalBiomass = table.Biomass()
	laid := make([]uint32, capacity)
	in := StepInput{Hour: 0, HoursPerStep: 1, Temperature: 25, Env: environment.Record{CarryingCapacity: 160000}, Seeds: seeds}
	lc.Evaluate(buf.Current(), table, in, &acc, laid)

	if _, err := compactor.Compact(buf.Current(), buf.Next(), table, laid, &acc.Eggs, lc.Hatchery(25, seeds)); err != nil {
		t.Fatal(err)
	}
	buf.Swap()

	eggs := table.RangeFor(components.StageEgg).Len()
	larvae := table.RangeFor(components.StageLarva).Len()
	if eggs+larvae != initial || table.TotalLive() != initial {
		t.Fatalf("eggs %d + larvae %d != %d (live %d)", eggs, larvae, initial, table.TotalLive())
	}
	for i := uint32(0); i < initial; i++ {
		if !buf.Current().States[i].Alive {
			t.Fatalf("agent %d dead without mortality", i)
		}
	}
}

func TestHatchery_SexRatio(t *testing.T) {
	pool := newTestPool(t)
	lc := NewLifecycle(pool, DefaultAnophelesGambiae(), Mortality{})
	gen := population.NewGenerationBuffer(10000).Current()
	table := population.NewTable(20000)

	if err := lc.Seed(gen, table, 10000, 25, testSeeds()); err != nil {
		t.Fatal(err)
	}
	females := 0
	for i := 0; i < 10000; i++ {
		if gen.Ages[i].Female {
			females++
		}
		if gen.Agents[i].Delay < float32(DefaultAnophelesGambiae().EggIncubation(25))-0.01 {
			t.Fatalf("egg %d delay %v below incubation", i, gen.Agents[i].Delay)
		}
	}
	if females < 4700 || females > 5300 {
		t.Errorf("females = %d of 10000", females)
	}
}
