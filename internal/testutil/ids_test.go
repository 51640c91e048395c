package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicaPrefix(t *testing.T) {
	assert.Equal(t, "a", ReplicaPrefix(0))
	assert.Equal(t, "b", ReplicaPrefix(1))
	assert.Equal(t, "z", ReplicaPrefix(25))
	assert.Equal(t, "rP", ReplicaPrefix(26))
}

func TestNewGenerators_DistinctIDs(t *testing.T) {
	gens := NewGenerators(3)
	require.Len(t, gens, 3)

	seen := make(map[string]bool)
	for _, g := range gens {
		for i := 0; i < 10; i++ {
			id := g.Next()
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Equal(t, "a0000001", NewGenerators(1)[0].Next())
}
