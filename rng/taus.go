// Package rng provides per-thread random streams for data-parallel kernels.
//
// Every logical thread derives its own stream from a small set of host
// seeds plus its thread id, so concurrent threads never share state and a
// run is reproducible from its seeds alone.
package rng

import (
	"math"
	"math/rand"
)

// Seeds is one set of host-generated seeds.
type Seeds struct {
	Z1, Z2, Z3, Z4 uint32
}

// SeedSets is the number of seed sets generated per step.
const SeedSets = 4

// StepSeeds holds the seed sets for one step. Different kernels draw from
// different sets so their streams are independent.
type StepSeeds [SeedSets]Seeds

// Generate fills a StepSeeds from the host generator.
func Generate(r *rand.Rand) StepSeeds {
	var s StepSeeds
	for i := range s {
		s[i] = Seeds{
			Z1: r.Uint32(),
			Z2: r.Uint32(),
			Z3: r.Uint32(),
			Z4: r.Uint32(),
		}
	}
	return s
}

// Stream is a combined Tausworthe/LCG generator with a period near 2^121.
// The zero value is not useful; build one with New.
type Stream struct {
	z1, z2, z3, z4 uint32
}

// New derives the stream of thread tid from seeds.
func New(seeds Seeds, tid uint32) Stream {
	salt := mix32(tid*0x9e3779b9 + 0x7f4a7c15)
	s := Stream{
		z1: tausState(mix32(seeds.Z1 ^ salt)),
		z2: tausState(mix32(seeds.Z2 + salt + tid)),
		z3: tausState(mix32(seeds.Z3 ^ (salt >> 7))),
		z4: mix32(seeds.Z4*(tid|1) + salt),
	}
	return s
}

// Tausworthe components must be above 128 to have full period.
func tausState(z uint32) uint32 {
	if z < 128 {
		z += 128
	}
	return z
}

// mix32 is a 32-bit avalanche finalizer so neighbouring thread ids start
// from unrelated states.
func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func tausStep(z uint32, s1, s2, s3 uint, m uint32) uint32 {
	b := ((z << s1) ^ z) >> s2
	return ((z & m) << s3) ^ b
}

// Uint32 advances the stream.
func (s *Stream) Uint32() uint32 {
	s.z1 = tausStep(s.z1, 13, 19, 12, 4294967294)
	s.z2 = tausStep(s.z2, 2, 25, 4, 4294967288)
	s.z3 = tausStep(s.z3, 3, 11, 17, 4294967280)
	s.z4 = 1664525*s.z4 + 1013904223
	return s.z1 ^ s.z2 ^ s.z3 ^ s.z4
}

// Float64 returns a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint32()) * (1.0 / 4294967296.0)
}

// Float32 returns a uniform value in [0, 1).
func (s *Stream) Float32() float32 {
	return float32(s.Uint32()>>8) * (1.0 / 16777216.0)
}

// Normal returns a normally distributed value using the Box-Muller transform.
func (s *Stream) Normal(mean, stdDev float64) float64 {
	u0 := 1 - s.Float64() // (0, 1], keeps the log finite
	u1 := s.Float64()
	r := math.Sqrt(-2 * math.Log(u0))
	theta := 2 * math.Pi * u1
	return r*math.Sin(theta)*stdDev + mean
}

// Bernoulli reports true with probability p.
func (s *Stream) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.Float64() < p
}
