package telemetry

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/pthm-cable/mozzie/components"
)

// Digest fingerprints a run by hashing the stage counts of every step.
// Two runs with the same seed and inputs must produce the same digest,
// whatever the worker count.
type Digest struct {
	h     hash.Hash
	buf   [4 * (components.StageCount + 1)]byte
	steps int
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: sha3.New256()}
}

// Add folds one step's counts into the digest.
func (d *Digest) Add(step int, counts [components.StageCount]uint32) {
	binary.LittleEndian.PutUint32(d.buf[0:], uint32(step))
	for i, c := range counts {
		binary.LittleEndian.PutUint32(d.buf[4*(i+1):], c)
	}
	d.h.Write(d.buf[:])
	d.steps++
}

// Steps returns the number of steps folded in.
func (d *Digest) Steps() int {
	return d.steps
}

// Sum returns the hex encoded digest so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
