// Package ids produces identifiers for clients, rooms and RPC correlation.
package ids

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a fresh identifier on every call.
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs from crypto/rand.
type UUID struct{}

// NewID returns a random UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence yields Prefix followed by an increasing counter, starting at 1.
// It is deterministic and meant for tests.
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	return s.Prefix + strconv.FormatUint(s.n.Add(1), 10)
}
