package plinko

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// Source yields the raw randomness a draw consumes. A draw uses one source
// from a single goroutine; implementations need not be concurrency-safe.
type Source interface {
	Uint64() uint64
}

// SeededSource is a splitmix64 generator. The same seed produces the same
// sequence on every platform, which is what makes replay verification and
// the determinism tests possible.
type SeededSource struct {
	state uint64
}

func NewSeeded(seed uint64) *SeededSource {
	return &SeededSource{state: seed}
}

func (s *SeededSource) Uint64() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// CryptoSource draws from the OS entropy pool. This is the production
// source; reward amounts must not be predictable from prior outcomes.
type CryptoSource struct{}

func NewCrypto() CryptoSource {
	return CryptoSource{}
}

func (CryptoSource) Uint64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("plinko: entropy read: %v", err))
	}
	return binary.BigEndian.Uint64(b[:])
}
