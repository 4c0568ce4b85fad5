// Package rng implements the seeded mulberry32 generator every simulation step
// draws from. A Rand is a plain value: copy it to fork a stream, persist
// State() to resume one.
package rng

import "math"

// Rand is a mulberry32 stream over a signed 32-bit state.
type Rand struct {
	state int32
}

// New returns a generator positioned at seed.
func New(seed int32) Rand {
	return Rand{state: seed}
}

// Next returns a float in [0,1).
func (r *Rand) Next() float64 {
	r.state += 0x6d2b79f5
	t := uint32(r.state)
	x := imul(t^(t>>15), 1|t)
	x ^= x + imul(x^(x>>7), 61|x)
	return float64(x^(x>>14)) / 4294967296
}

// Int returns an integer in [lo,hi] inclusive.
func (r *Rand) Int(lo, hi int) int {
	return int(math.Floor(r.Next()*float64(hi-lo+1))) + lo
}

// State returns the internal state so the stream can be resumed with New.
func (r *Rand) State() int32 {
	return r.state
}

// Pick returns a uniformly chosen element. ok is false for an empty slice and
// no draw is consumed.
func Pick[T any](r *Rand, items []T) (v T, ok bool) {
	if len(items) == 0 {
		return v, false
	}
	idx := int(math.Floor(r.Next() * float64(len(items))))
	return items[idx], true
}

// imul is 32-bit wrapping multiplication; unsigned and signed products share
// the same low 32 bits.
func imul(a, b uint32) uint32 {
	return a * b
}
