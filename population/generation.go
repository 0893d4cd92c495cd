package population

import (
	"sync/atomic"

	"github.com/pthm-cable/mozzie/components"
)

// Generation is one full set of the three parallel agent arrays, indexed
// by the same position.
type Generation struct {
	Agents []components.Agent
	Ages   []components.AgentAge
	States []components.AgentState
}

func newGeneration(capacity int) Generation {
	return Generation{
		Agents: make([]components.Agent, capacity),
		Ages:   make([]components.AgentAge, capacity),
		States: make([]components.AgentState, capacity),
	}
}

// Len returns the array capacity.
func (g *Generation) Len() int {
	return len(g.States)
}

// Copy moves agent src of g into slot dst of to.
func (g *Generation) Copy(to *Generation, dst, src int) {
	to.Agents[dst] = g.Agents[src]
	to.Ages[dst] = g.Ages[src]
	to.States[dst] = g.States[src]
}

// GenerationBuffer double-buffers the agent arrays. The transition step
// reads and writes Current in place; compaction writes Next; Swap flips
// the roles once per step. No record is ever shared between the two.
type GenerationBuffer struct {
	gens       [2]Generation
	active     atomic.Uint32
	generation atomic.Uint64
}

// NewGenerationBuffer allocates both generations.
func NewGenerationBuffer(capacity int) *GenerationBuffer {
	b := &GenerationBuffer{}
	b.gens[0] = newGeneration(capacity)
	b.gens[1] = newGeneration(capacity)
	return b
}

// Capacity returns the length of each array.
func (b *GenerationBuffer) Capacity() int {
	return b.gens[0].Len()
}

// Current returns the generation being evolved this step.
func (b *GenerationBuffer) Current() *Generation {
	return &b.gens[b.active.Load()]
}

// Next returns the generation compaction writes into.
func (b *GenerationBuffer) Next() *Generation {
	return &b.gens[1-b.active.Load()]
}

// Swap makes Next the current generation.
func (b *GenerationBuffer) Swap() {
	b.active.Store(1 - b.active.Load())
	b.generation.Add(1)
}

// Generation returns the number of swaps performed.
func (b *GenerationBuffer) Generation() uint64 {
	return b.generation.Load()
}
