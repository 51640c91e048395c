package fanout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/testutil"
	"github.com/roach88/docsync/internal/version"
)

const testDocID = "todo"

type replica struct {
	d     *doc.Document
	clock *testutil.ManualClock
	s     *Syncer
}

func docOptions(prefix string, clock *testutil.ManualClock) []doc.Option {
	return []doc.Option{
		doc.WithGenerator(version.NewSequenceGenerator(prefix)),
		doc.WithNow(clock.Now),
	}
}

// newOrigin creates the first replica of the test document.
func newOrigin(t *testing.T, folder store.Storage, data, prefix string, opts ...Option) *replica {
	t.Helper()
	v, err := ir.Unmarshal([]byte(data))
	require.NoError(t, err)
	clock := testutil.NewManualClock()
	d, err := doc.New(v, docOptions(prefix, clock)...)
	require.NoError(t, err)
	s, err := New(folder, testDocID, d, opts...)
	require.NoError(t, err)
	return &replica{d: d, clock: clock, s: s}
}

// joinReplica creates a replica from what the folder holds.
func joinReplica(t *testing.T, folder store.Storage, prefix string, opts ...Option) *replica {
	t.Helper()
	clock := testutil.NewManualClock()
	d, st, err := Join(context.Background(), folder, testDocID, nil, docOptions(prefix, clock)...)
	require.NoError(t, err)
	s, err := New(folder, testDocID, d, append([]Option{WithState(st)}, opts...)...)
	require.NoError(t, err)
	return &replica{d: d, clock: clock, s: s}
}

func (r *replica) set(t *testing.T, p string, value ir.Value) {
	t.Helper()
	r.clock.Advance(1e9)
	require.NoError(t, r.d.Set(path.MustParse(p), value))
}

func (r *replica) push(t *testing.T, p string, values ...ir.Value) {
	t.Helper()
	r.clock.Advance(1e9)
	require.NoError(t, r.d.Push(path.MustParse(p), values...))
}

func (r *replica) publish(t *testing.T) PublishResult {
	t.Helper()
	res, err := r.s.Publish(context.Background())
	require.NoError(t, err)
	return res
}

func (r *replica) pull(t *testing.T) PullResult {
	t.Helper()
	res, err := r.s.Pull(context.Background())
	require.NoError(t, err)
	return res
}

func (r *replica) sync(t *testing.T) {
	t.Helper()
	_, err := r.s.Sync(context.Background())
	require.NoError(t, err)
}

func assertSameData(t *testing.T, a, b *replica) {
	t.Helper()
	want, err := ir.Marshal(a.d.Data())
	require.NoError(t, err)
	got, err := ir.Marshal(b.d.Data())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func clientManifest(t *testing.T, folder store.Storage, r *replica) *ClientManifest {
	t.Helper()
	m, err := ReadClient(context.Background(), folder, testDocID, r.d.ClientID())
	require.NoError(t, err)
	return m
}
