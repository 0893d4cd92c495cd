package components

// MaxOvipositionAttempts is how many laying attempts a gravid female makes
// before she is considered spent.
const MaxOvipositionAttempts = 3

// Agent holds the bulk per-individual fields that compaction never inspects.
type Agent struct {
	AvailableEggs  uint32  // eggs carried by a gravid female
	CycleLength    float32 // hours since the current gonotrophic cycle began
	BloodmealCount uint32  // human blood meals taken
	Delay          float32 // stage-specific threshold (hours, or development units for larvae)
	EggBatches     uint32  // batches produced so far; survives BMS and GRAVID
	Counter        StageCounter
}

// AgentAge holds age, gender and sporogony, split out of Agent so the
// census passes only touch this array.
type AgentAge struct {
	AgeHours     float32
	HoursInState float32
	Female       bool
	Sporogony    float32 // cumulative sporogonic development, infective at >= 1
}

// AgentState is the compact record read by every compaction pass.
type AgentState struct {
	Alive bool
	Stage Stage
}

// Enter moves the agent into stage s and restarts its in-state clock.
func (st *AgentState) Enter(s Stage, age *AgentAge) {
	st.Stage = s
	age.HoursInState = 0
}

// PotentiallyInfective reports whether sporogony has completed.
func (a AgentAge) PotentiallyInfective() bool {
	return a.Sporogony >= 1
}

type counterTag uint8

const (
	counterNone counterTag = iota
	counterOviposition
	counterLarval
)

// StageCounter is the per-stage scratch value of an agent. A gravid female
// counts oviposition attempts, a larva accumulates development. The tag
// keeps a value from one stage from being read as the other after a
// transition.
type StageCounter struct {
	tag         counterTag
	attempts    uint32
	development float32
}

// OvipositionCounter returns a counter valid in GRAVID.
func OvipositionCounter(attempts uint32) StageCounter {
	return StageCounter{tag: counterOviposition, attempts: attempts}
}

// LarvalCounter returns a counter valid in LARVA.
func LarvalCounter(development float32) StageCounter {
	return StageCounter{tag: counterLarval, development: development}
}

// OvipositionAttempts returns the attempt count; ok is false when the
// counter does not belong to a gravid female.
func (c StageCounter) OvipositionAttempts() (n uint32, ok bool) {
	return c.attempts, c.tag == counterOviposition
}

// LarvalDevelopment returns accumulated development; ok is false when the
// counter does not belong to a larva.
func (c StageCounter) LarvalDevelopment() (dev float32, ok bool) {
	return c.development, c.tag == counterLarval
}

// Empty reports whether the counter carries no stage value.
func (c StageCounter) Empty() bool {
	return c.tag == counterNone
}
