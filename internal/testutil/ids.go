package testutil

import (
	"github.com/roach88/docsync/internal/version"
)

// ReplicaPrefix returns the id prefix for the i-th replica of a test:
// "a", "b", ... "z", then "r26", "r27", ...
func ReplicaPrefix(i int) string {
	if i >= 0 && i < 26 {
		return string(rune('a' + i))
	}
	return "r" + version.Encode(uint64(i), 1)
}

// NewGenerators returns n sequence generators with distinct prefixes, so
// node ids never collide across replicas of one test.
func NewGenerators(n int) []*version.SequenceGenerator {
	out := make([]*version.SequenceGenerator, n)
	for i := range out {
		out[i] = version.NewSequenceGenerator(ReplicaPrefix(i))
	}
	return out
}
