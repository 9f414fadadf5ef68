// Package entropy provides the simulation's random streams. A run is driven
// by one 64-bit seed; independent per-carrier streams are split from it so
// parallel hop attempts draw the same numbers regardless of scheduling.
// A zero seed is replaced with one from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand/v2"
)

// Seed returns seed unchanged if non-zero, otherwise a fresh seed from
// crypto/rand. The result is never zero.
func Seed(seed uint64) uint64 {
	if seed != 0 {
		return seed
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed so the run is still reproducible.
		slog.Warn("crypto/rand unavailable, using fixed seed", "error", err)
		return 0x5eed
	}
	s := binary.LittleEndian.Uint64(buf[:])
	if s == 0 {
		s = 1
	}
	return s
}

// Mix is the SplitMix64 finalizer. It turns correlated inputs (seed, tick,
// id) into well-spread stream keys.
func Mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// New returns the run-level generator for seed.
func New(seed uint64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(Mix(seed), Mix(seed^0xa5a5a5a5a5a5a5a5)))
}

// Stream returns the generator for one carrier's attempt in one tick. Two
// calls with the same arguments yield identical sequences.
func Stream(seed, tick, id uint64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(Mix(seed^Mix(tick)), Mix(id)))
}
