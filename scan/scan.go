// Package scan implements parallel prefix sums used to turn per-agent flags
// into write offsets.
package scan

import (
	"fmt"
	"math/bits"

	"github.com/pthm-cable/mozzie/dispatch"
)

// Scanner computes prefix sums by recursive block decomposition. Each block
// of 2*width elements is scanned locally (Blelloch up-sweep/down-sweep over
// the block padded to a power of two), block totals form the next level,
// and the levels are walked back down adding each block's base offset.
//
// The recursion is unrolled into an explicit stack of levels so that the
// call depth stays constant for any input length.
type Scanner struct {
	d      dispatch.Dispatcher
	width  int
	block  int
	levels [][]uint32 // levels[l] holds the block totals of level l-1; levels[0] is unused
	stack  [][]uint32
	tmp    []uint32

	scratch [][]uint32 // per dispatch slot, one block long
}

// NewScanner creates a scanner for inputs up to capacity elements.
// width must be a power of two; blocks hold 2*width elements.
func NewScanner(d dispatch.Dispatcher, width, capacity int) (*Scanner, error) {
	if width < 1 || width&(width-1) != 0 {
		return nil, fmt.Errorf("scan: block width %d is not a power of two", width)
	}
	s := &Scanner{
		d:       d,
		width:   width,
		block:   2 * width,
		scratch: make([][]uint32, d.Workers()),
	}
	for i := range s.scratch {
		s.scratch[i] = make([]uint32, s.block)
	}
	// Preallocate every level for the largest expected input.
	for n, l := capacity, 1; n > s.block; l++ {
		n = ceilDiv(n, s.block)
		s.level(l, n)
	}
	return s, nil
}

// BlockLen returns the number of elements per block.
func (s *Scanner) BlockLen() int {
	return s.block
}

// Exclusive writes the exclusive prefix sum of src into dst and returns the
// total. dst may alias src and must be at least len(src) long.
func (s *Scanner) Exclusive(dst, src []uint32) uint32 {
	n := len(src)
	if n == 0 {
		return 0
	}
	if len(dst) < n {
		panic(fmt.Sprintf("scan: dst length %d < src length %d", len(dst), n))
	}
	data := dst[:n]
	if &data[0] != &src[0] {
		copy(data, src)
	}

	// Upsweep: scan blocks level by level until a single block remains.
	s.stack = append(s.stack[:0], data)
	cur := data
	var total uint32
	for {
		k := ceilDiv(len(cur), s.block)
		if k == 1 {
			total = blockExclusive(cur, s.scratch[0])
			break
		}
		sums := s.level(len(s.stack), k)
		s.scanBlocks(cur, sums)
		s.stack = append(s.stack, sums)
		cur = sums
	}

	// Downsweep: add each block's base offset into its elements.
	for l := len(s.stack) - 2; l >= 0; l-- {
		s.addOffsets(s.stack[l], s.stack[l+1])
	}
	return total
}

// Inclusive writes the inclusive prefix sum of src into dst and returns the
// total. dst may alias src.
func (s *Scanner) Inclusive(dst, src []uint32) uint32 {
	n := len(src)
	if n == 0 {
		return 0
	}
	if cap(s.tmp) < n {
		s.tmp = make([]uint32, n)
	}
	orig := s.tmp[:n]
	copy(orig, src)

	total := s.Exclusive(dst, orig)
	out := dst[:n]
	s.d.Dispatch("scan.inclusive", n, func(lo, hi, _ int) {
		for i := lo; i < hi; i++ {
			out[i] += orig[i]
		}
	})
	return total
}

// scanBlocks runs the local scan of every block of data and stores the
// block totals in sums.
func (s *Scanner) scanBlocks(data, sums []uint32) {
	m := s.block
	s.d.Dispatch("scan.block", len(sums), func(lo, hi, slot int) {
		scratch := s.scratch[slot]
		for b := lo; b < hi; b++ {
			start := b * m
			end := min(start+m, len(data))
			sums[b] = blockExclusive(data[start:end], scratch)
		}
	})
}

// addOffsets adds offsets[b] to every element of block b in data.
func (s *Scanner) addOffsets(data, offsets []uint32) {
	m := s.block
	s.d.Dispatch("scan.add", len(data), func(lo, hi, _ int) {
		for i := lo; i < hi; i++ {
			data[i] += offsets[i/m]
		}
	})
}

// level returns the buffer for level l resized to n, growing if needed.
func (s *Scanner) level(l, n int) []uint32 {
	for len(s.levels) <= l {
		s.levels = append(s.levels, nil)
	}
	if cap(s.levels[l]) < n {
		s.levels[l] = make([]uint32, n)
	}
	return s.levels[l][:n]
}

// blockExclusive scans one block in place using the work-efficient
// up-sweep/down-sweep tree. The block is zero-padded to the next power of
// two inside scratch. Returns the block total.
func blockExclusive(block, scratch []uint32) uint32 {
	n := len(block)
	p := nextPow2(n)
	buf := scratch[:p]
	copy(buf, block)
	clear(buf[n:])

	for d := 1; d < p; d <<= 1 {
		for i := 2*d - 1; i < p; i += 2 * d {
			buf[i] += buf[i-d]
		}
	}

	total := buf[p-1]
	buf[p-1] = 0

	for d := p / 2; d >= 1; d >>= 1 {
		for i := 2*d - 1; i < p; i += 2 * d {
			t := buf[i-d]
			buf[i-d] = buf[i]
			buf[i] += t
		}
	}

	copy(block, buf[:n])
	return total
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
