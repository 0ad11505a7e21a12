// Package bloom provides a location presence filter: a bloom filter keyed
// by block position that lets inspect skip the database for coordinates
// that have never been logged.
package bloom

import (
	"math"
	"strconv"
	"sync"

	"github.com/blocklog/blocklog/pkg/types"
	"github.com/spaolacci/murmur3"
)

const (
	defaultExpected = 100_000
	defaultFPR      = 0.01
)

// LocationFilter answers "has this position ever been logged?".
// A false answer is exact; a true answer may be a false positive.
type LocationFilter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
	expected  int
}

// NewLocationFilter sizes a filter for expected positions at the target
// false positive rate.
func NewLocationFilter(expected int, targetFPR float64) *LocationFilter {
	if expected <= 0 {
		expected = defaultExpected
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = defaultFPR
	}

	m, k := OptimalParameters(expected, targetFPR)
	words := (m + 63) / 64
	return &LocationFilter{
		bits:      make([]uint64, words),
		numBits:   uint64(words * 64),
		numHashes: uint64(k),
		expected:  expected,
	}
}

// OptimalParameters returns the bit count m = -n ln(p) / ln(2)^2 and hash
// count k = (m/n) ln(2) for n items at false positive rate p.
func OptimalParameters(n int, p float64) (numBits, numHashes int) {
	if n <= 0 {
		n = defaultExpected
	}
	if p <= 0 || p >= 1 {
		p = defaultFPR
	}

	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(m / float64(n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records pos.
func (f *LocationFilter) Add(pos types.BlockPos) {
	h1, h2 := hashPos(pos)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.numHashes; i++ {
		bit := (h1 + i*h2) % f.numBits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
	f.count++
}

// MayContain reports whether pos might have been added.
func (f *LocationFilter) MayContain(pos types.BlockPos) bool {
	h1, h2 := hashPos(pos)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHashes; i++ {
		bit := (h1 + i*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of Add calls since the last Reset.
func (f *LocationFilter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Overfull reports whether more positions were added than the filter was
// sized for.
func (f *LocationFilter) Overfull() bool {
	return f.Count() > uint64(f.expected)
}

// FalsePositiveRate estimates (1 - e^(-kn/m))^k for the current fill.
func (f *LocationFilter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// Reset clears every bit.
func (f *LocationFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bits {
		f.bits[i] = 0
	}
	f.count = 0
}

// hashPos hashes world:x:y:z with murmur3 and splits the 128-bit sum for
// double hashing.
func hashPos(pos types.BlockPos) (uint64, uint64) {
	buf := make([]byte, 0, len(pos.World)+36)
	buf = append(buf, pos.World...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(pos.X), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(pos.Y), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(pos.Z), 10)
	return murmur3.Sum128(buf)
}
