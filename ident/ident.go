// Package ident allocates snapshot identifiers: short opaque strings that
// disambiguate snapshots sharing a commit or timestamp.
package ident

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultBase is the alphabet size (lowercase ASCII letters).
	DefaultBase = 26
	// DefaultLength gives a space of 26^5 (~1.2e7) identifiers.
	DefaultLength = 5
	// DefaultMaxAttempts bounds the collision-retry loop. Expected retries
	// are negligible until the space is nearly exhausted.
	DefaultMaxAttempts = 1000
)

// ErrSpaceExhausted is returned when allocation keeps colliding past the
// attempt bound, meaning the identifier space is (nearly) full.
var ErrSpaceExhausted = errors.New("identifier space exhausted")

// Allocator draws uniform random fixed-length base-N identifiers over the
// alphabet a..z. Identifiers are opaque; determinism is intentionally not
// provided.
type Allocator struct {
	base        int
	length      int
	maxAttempts int
	rng         *rand.Rand
}

// NewAllocator returns an Allocator with the default id shape.
func NewAllocator() *Allocator {
	return &Allocator{
		base:        DefaultBase,
		length:      DefaultLength,
		maxAttempts: DefaultMaxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewAllocatorWithShape returns an Allocator over a reduced space.
// Tests use this to force the retry and exhaustion paths.
func NewAllocatorWithShape(base, length, maxAttempts int, rng *rand.Rand) *Allocator {
	if base < 1 || base > 26 {
		panic("ident: base must be in 1..26")
	}
	return &Allocator{base: base, length: length, maxAttempts: maxAttempts, rng: rng}
}

// Allocate draws identifiers until one not present in existing is found.
// Collisions are retried internally and never surfaced; past the attempt
// bound it fails with ErrSpaceExhausted.
func (a *Allocator) Allocate(existing map[string]bool) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		id := a.generate()
		if !existing[id] {
			return id, nil
		}
	}
	return "", errors.Wrapf(ErrSpaceExhausted, "after %d attempts", a.maxAttempts)
}

// generate draws a uniform random number in [0, base^length) and renders it
// as length base-N digits, 'a' for zero.
func (a *Allocator) generate() string {
	digits := make([]byte, a.length)
	for i := range digits {
		digits[i] = byte('a' + a.rng.Intn(a.base))
	}
	return string(digits)
}
