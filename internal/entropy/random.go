// Package entropy provides the random sources used for stochastic draws such
// as spawn-ticket allocation. Matches use a seeded source so a replayed match
// makes the same choices; crypto/rand backs unseeded runs.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Seeded is a deterministic Source safe for concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewSource(seed))}
}

// Float64 implements Source.
func (s *Seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Crypto is a Source backed by crypto/rand.
type Crypto struct{}

// Float64 implements Source.
func (Crypto) Float64() float64 {
	return cryptoRandFloat()
}

// New returns a seeded source when seed is non-zero, crypto/rand otherwise.
func New(seed int64) Source {
	if seed == 0 {
		return Crypto{}
	}
	return NewSeeded(seed)
}

// Fixed replays a sequence of values, cycling when exhausted. Used to script
// draws in tests and bot rehearsals.
type Fixed struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewFixed creates a scripted source. Values outside [0,1) are clamped.
func NewFixed(values ...float64) *Fixed {
	vals := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v < 0:
			v = 0
		case v >= 1:
			v = 0.999999
		}
		vals[i] = v
	}
	return &Fixed{values: vals}
}

// Float64 implements Source.
func (f *Fixed) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0
	}
	v := f.values[f.next%len(f.values)]
	f.next++
	return v
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}
