// Package components defines the per-agent records of the mosquito population.
package components

import "math/bits"

// Stage is a one-hot life-cycle flag. The same type doubles as a bitmask
// when several stages are matched at once.
type Stage uint8

const (
	StageEgg            Stage = 1 << iota // aquatic
	StageLarva                            // aquatic
	StagePupa                             // aquatic
	StageImmature                         // adult, not yet mated
	StageMateSeeking                      // adult female
	StageBloodSeeking                     // adult female, host seeking
	StageBloodDigesting                   // adult female, resting
	StageGravid                           // adult female, carrying eggs
)

// StageCount is the number of life-cycle stages.
const StageCount = 8

// Stage masks used by reporting and compaction queries.
const (
	AquaticStages Stage = StageEgg | StageLarva | StagePupa
	AdultStages   Stage = StageImmature | StageMateSeeking | StageBloodSeeking | StageBloodDigesting | StageGravid
	AllStageMask  Stage = AquaticStages | AdultStages
)

// AllStages lists the stages in memory layout order.
var AllStages = [StageCount]Stage{
	StageEgg,
	StageLarva,
	StagePupa,
	StageImmature,
	StageMateSeeking,
	StageBloodSeeking,
	StageBloodDigesting,
	StageGravid,
}

var stageNames = [StageCount]string{
	"egg",
	"larva",
	"pupa",
	"immature",
	"mate_seeking",
	"blood_seeking",
	"blood_digesting",
	"gravid",
}

// Index returns the layout position of a single stage (0 for EGG).
// The result is undefined for masks with more than one bit set.
func (s Stage) Index() int {
	return bits.TrailingZeros8(uint8(s))
}

// Valid reports whether exactly one stage bit is set.
func (s Stage) Valid() bool {
	return s != 0 && s&(s-1) == 0
}

// Matches reports whether s is contained in mask.
func (s Stage) Matches(mask Stage) bool {
	return s&mask != 0
}

// Adult reports whether the stage is one of the flying stages.
func (s Stage) Adult() bool {
	return s&AdultStages != 0
}

func (s Stage) String() string {
	if s.Valid() {
		return stageNames[s.Index()]
	}
	if s == 0 {
		return "none"
	}
	out := ""
	for _, st := range AllStages {
		if s&st != 0 {
			if out != "" {
				out += "|"
			}
			out += stageNames[st.Index()]
		}
	}
	return out
}

// Stages expands a mask into its single stages in layout order.
func (s Stage) Stages() []Stage {
	out := make([]Stage, 0, bits.OnesCount8(uint8(s)))
	for _, st := range AllStages {
		if s&st != 0 {
			out = append(out, st)
		}
	}
	return out
}
