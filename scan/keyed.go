package scan

import (
	"fmt"

	"github.com/pthm-cable/mozzie/dispatch"
)

// KeyedScanner computes segmented exclusive prefix sums. A segment is a
// maximal run of equal consecutive keys; the running sum restarts at every
// key change.
//
// The work is split into three dispatches: a per-block keyed scan that
// emits carry pairs, a serial combine of the carries, and a per-block
// correction applied to each block's leading run.
type KeyedScanner struct {
	d     dispatch.Dispatcher
	block int

	firstKey []int32
	lastKey  []int32
	lastSum  []uint32 // sum of the run that ends the block
	oneRun   []bool   // the whole block is one run
	carryIn  []uint32
}

// NewKeyedScanner creates a keyed scanner for inputs up to capacity elements.
// width must be a power of two; blocks hold 2*width elements.
func NewKeyedScanner(d dispatch.Dispatcher, width, capacity int) (*KeyedScanner, error) {
	if width < 1 || width&(width-1) != 0 {
		return nil, fmt.Errorf("scan: block width %d is not a power of two", width)
	}
	s := &KeyedScanner{d: d, block: 2 * width}
	s.grow(ceilDiv(max(capacity, 1), s.block))
	return s, nil
}

func (s *KeyedScanner) grow(k int) {
	if cap(s.firstKey) >= k {
		return
	}
	s.firstKey = make([]int32, k)
	s.lastKey = make([]int32, k)
	s.lastSum = make([]uint32, k)
	s.oneRun = make([]bool, k)
	s.carryIn = make([]uint32, k)
}

// Exclusive writes the keyed exclusive scan of values into dst. All three
// slices must have the same length; dst may alias values.
func (s *KeyedScanner) Exclusive(dst []uint32, keys []int32, values []uint32) {
	n := len(values)
	if len(keys) != n || len(dst) < n {
		panic(fmt.Sprintf("scan: keyed scan length mismatch: keys=%d values=%d dst=%d", len(keys), n, len(dst)))
	}
	if n == 0 {
		return
	}
	m := s.block
	k := ceilDiv(n, m)
	s.grow(k)
	firstKey, lastKey := s.firstKey[:k], s.lastKey[:k]
	lastSum, oneRun, carryIn := s.lastSum[:k], s.oneRun[:k], s.carryIn[:k]

	// Phase 1: local keyed scan per block, emit carry pairs.
	s.d.Dispatch("keyed.block", k, func(lo, hi, _ int) {
		for b := lo; b < hi; b++ {
			start := b * m
			end := min(start+m, n)
			var running uint32
			single := true
			for i := start; i < end; i++ {
				if i > start && keys[i] != keys[i-1] {
					running = 0
					single = false
				}
				v := values[i]
				dst[i] = running
				running += v
			}
			firstKey[b] = keys[start]
			lastKey[b] = keys[end-1]
			lastSum[b] = running
			oneRun[b] = single
		}
	})

	// Phase 2: combine carries serially. Block counts are small next to n.
	s.d.Dispatch("keyed.carry", 1, func(_, _, _ int) {
		var out uint32
		for b := 0; b < k; b++ {
			var in uint32
			if b > 0 && firstKey[b] == lastKey[b-1] {
				in = out
			}
			carryIn[b] = in
			if oneRun[b] {
				out = in + lastSum[b]
			} else {
				out = lastSum[b]
			}
		}
	})

	// Phase 3: only the leading run of a block continues the previous
	// block's run; everything after the first key change keeps its local sum.
	s.d.Dispatch("keyed.add", k, func(lo, hi, _ int) {
		for b := lo; b < hi; b++ {
			in := carryIn[b]
			if in == 0 {
				continue
			}
			start := b * m
			end := min(start+m, n)
			key := firstKey[b]
			for i := start; i < end && keys[i] == key; i++ {
				dst[i] += in
			}
		}
	})
}
