package version

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator issues opaque identifiers for nodes and replicas.
// Implemented by TimeGenerator (production) and SequenceGenerator (tests).
type Generator interface {
	// Next returns a short identifier, unique within this process.
	Next() string
	// NextLong returns an identifier with negligible global collision
	// probability, used for replica (client) ids.
	NextLong() string
}

const (
	timeDigits   = 6
	randomDigits = 2
	// idSpace is the number of distinct random suffixes per second.
	idSpace = 1 << (6 * randomDigits)
	// longDigits is the random tail appended by NextLong (48 bits).
	longDigits = 8
)

// TimeGenerator produces time-ordered 8-character identifiers: six clock
// digits of epoch seconds followed by two random digits.
//
// Identifiers issued within the current second are cached and a colliding
// random suffix is redrawn. When a second's suffixes are exhausted the
// generator borrows the next second, so Next never blocks.
//
// Thread-safety: TimeGenerator is safe for concurrent use via internal mutex.
type TimeGenerator struct {
	mu     sync.Mutex
	now    func() time.Time
	second int64
	issued map[string]struct{}
}

// NewTimeGenerator creates a generator reading the wall clock.
func NewTimeGenerator() *TimeGenerator {
	return NewTimeGeneratorWithClock(time.Now)
}

// NewTimeGeneratorWithClock creates a generator reading the given clock.
func NewTimeGeneratorWithClock(now func() time.Time) *TimeGenerator {
	return &TimeGenerator{
		now:    now,
		issued: make(map[string]struct{}),
	}
}

// Next returns a new 8-character identifier.
func (g *TimeGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	sec := g.now().Unix()
	if sec > g.second {
		g.second = sec
		clear(g.issued)
	}
	if len(g.issued) >= idSpace {
		g.second++
		clear(g.issued)
	}

	prefix := Encode(uint64(g.second), timeDigits)
	for {
		id := prefix + Encode(uint64(rand.IntN(idSpace)), randomDigits)
		if _, dup := g.issued[id]; dup {
			continue
		}
		g.issued[id] = struct{}{}
		return id
	}
}

// NextLong returns Next followed by eight digits of randomness drawn from
// a version 4 UUID.
func (g *TimeGenerator) NextLong() string {
	return g.Next() + randomTail()
}

func randomTail() string {
	u := uuid.New()
	// Bytes 10..15 of a v4 UUID are fully random.
	var b [8]byte
	copy(b[2:], u[10:16])
	return Encode(binary.BigEndian.Uint64(b[:]), longDigits)
}

// SequenceGenerator returns predictable identifiers for tests and scenario
// replays: prefix followed by a zero-padded decimal counter.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      uint64
}

// NewSequenceGenerator creates a generator whose ids start with prefix.
//
// Example:
//
//	gen := NewSequenceGenerator("a")
//	gen.Next()     // "a0000001"
//	gen.Next()     // "a0000002"
//	gen.NextLong() // "client-a0000003"
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Next returns the next identifier in sequence.
func (g *SequenceGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%0*d", g.prefix, max(8-len(g.prefix), 1), g.n)
}

// NextLong returns a client-style identifier in sequence.
func (g *SequenceGenerator) NextLong() string {
	return "client-" + g.Next()
}
