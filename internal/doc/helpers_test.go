package doc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/testutil"
	"github.com/roach88/docsync/internal/version"
)

// replica bundles a document with the clock it reads.
type replica struct {
	*Document
	clock *testutil.ManualClock
}

func jsonValue(t *testing.T, s string) ir.Value {
	t.Helper()
	v, err := ir.Unmarshal([]byte(s))
	require.NoError(t, err)
	return v
}

func replicaOptions(prefix string, clock *testutil.ManualClock) []Option {
	return []Option{
		WithGenerator(version.NewSequenceGenerator(prefix)),
		WithNow(clock.Now),
	}
}

func newReplica(t *testing.T, data, prefix string) *replica {
	t.Helper()
	clock := testutil.NewManualClock()
	d, err := New(jsonValue(t, data), replicaOptions(prefix, clock)...)
	require.NoError(t, err)
	return &replica{Document: d, clock: clock}
}

// cloneReplica starts a new replica from src's full snapshot.
func cloneReplica(t *testing.T, src *replica, prefix string) *replica {
	t.Helper()
	clock := testutil.NewManualClock()
	d, err := FromSnapshot(wire(t, src.GetChanges("")), replicaOptions(prefix, clock)...)
	require.NoError(t, err)
	return &replica{Document: d, clock: clock}
}

// wire sends an envelope through its JSON encoding.
func wire(t *testing.T, env *Envelope) *Envelope {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var out Envelope
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

// syncTo merges the changes from has not acknowledged into to.
func syncTo(t *testing.T, from, to *replica) {
	t.Helper()
	require.NoError(t, to.MergeChanges(wire(t, from.GetChanges(to.ClientID()))))
}

func assertData(t *testing.T, want string, d *Document) {
	t.Helper()
	got, err := ir.Marshal(d.Data())
	require.NoError(t, err)
	assert.JSONEq(t, want, string(got))
}

func assertSameData(t *testing.T, a, b *Document) {
	t.Helper()
	want, err := ir.Marshal(a.Data())
	require.NoError(t, err)
	got, err := ir.Marshal(b.Data())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func p(s string) path.Path {
	return path.MustParse(s)
}
