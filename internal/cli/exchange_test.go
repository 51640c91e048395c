package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangesAndMerge(t *testing.T) {
	a := newReplica(t, "bbolt", "json", "")
	b := newReplica(t, "badger", "msgpack", "")

	var created EditResult
	a.runJSON(t, &created, "init", "todo", "--data", `{"meta":{"title":"groceries"},"owner":{}}`)

	snapshot := filepath.Join(a.dir, "todo.snapshot")
	out := a.run(t, "changes", "todo", "--out", snapshot)
	assert.Contains(t, out, "Wrote snapshot of todo to "+snapshot)

	var merged MergeResult
	b.runJSON(t, &merged, "merge", "todo", snapshot)
	assert.True(t, merged.Created)
	assert.Equal(t, created.Client, merged.From)
	assert.NotEqual(t, created.Client, merged.Client, "the new replica gets its own client id")
	assert.Equal(t, `{"meta":{"title":"groceries"},"owner":{}}`+"\n", b.run(t, "get", "todo"))

	// Concurrent edits on both replicas.
	a.run(t, "set", "todo", "meta.title", `"weekend"`)
	b.run(t, "set", "todo", "owner.name", `"sam"`)

	delta := filepath.Join(b.dir, "todo.delta")
	var exported ChangesResult
	b.runJSON(t, &exported, "changes", "todo", "--peer", created.Client, "--out", delta)
	assert.Equal(t, "msgpack", exported.Codec)
	assert.Positive(t, exported.Bytes)

	out = a.run(t, "merge", "todo", delta)
	assert.Contains(t, out, "Merged changes from "+merged.Client+" into todo")

	back := filepath.Join(a.dir, "todo.back")
	a.run(t, "changes", "todo", "--peer", merged.Client, "--out", back)
	b.run(t, "merge", "todo", back)

	want := `{"meta":{"title":"weekend"},"owner":{"name":"sam"}}` + "\n"
	assert.Equal(t, want, a.run(t, "get", "todo"))
	assert.Equal(t, want, b.run(t, "get", "todo"))
	assert.Equal(t, a.run(t, "get", "todo", "--hash"), b.run(t, "get", "todo", "--hash"))
}

func TestChangesToStdout(t *testing.T) {
	a := newReplica(t, "bbolt", "json", "")
	b := newReplica(t, "bbolt", "json", "")
	a.run(t, "init", "todo", "--data", `{"n":1}`)

	envelope := a.run(t, "changes", "todo")
	require.NotEmpty(t, envelope)
	assert.Equal(t, byte('{'), envelope[0], "the json codec writes the envelope itself")

	out, errOut, err := execute(nil, []byte(envelope), "--config", b.config, "merge", "todo", "-")
	require.NoError(t, err, "stdout: %s\nstderr: %s", out, errOut)
	assert.Contains(t, out, "Created todo from ")
	assert.Equal(t, `{"n":1}`+"\n", b.run(t, "get", "todo"))
}

func TestChangesSince(t *testing.T) {
	a := newReplica(t, "bbolt", "json", "")
	var created EditResult
	a.runJSON(t, &created, "init", "todo", "--data", `{"n":1}`)
	a.run(t, "set", "todo", "n", "2")

	var res ChangesResult
	a.runJSON(t, &res, "changes", "todo", "--since", string(created.Version), "--out", filepath.Join(a.dir, "since"))
	assert.False(t, res.Snapshot)
	assert.Equal(t, created.Version, res.Since)
}

func TestChangesAndMerge_Errors(t *testing.T) {
	a := newReplica(t, "bbolt", "json", "")
	b := newReplica(t, "bbolt", "json", "")
	var created EditResult
	a.runJSON(t, &created, "init", "todo", "--data", `{"n":1}`)
	a.run(t, "set", "todo", "n", "2")

	delta := filepath.Join(a.dir, "delta")
	a.run(t, "changes", "todo", "--since", string(created.Version), "--out", delta)

	garbage := filepath.Join(a.dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte(`{"header":1}`), 0o644))

	t.Run("peer and since", func(t *testing.T) {
		out, code := a.fail(t, "changes", "todo", "--peer", "x", "--since", "-----1")
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, out, "Error [E005]: --peer and --since are mutually exclusive")
	})
	t.Run("bad version", func(t *testing.T) {
		out, _ := a.fail(t, "changes", "todo", "--since", "not a version")
		assert.Contains(t, out, "Error [E005]: invalid version")
	})
	t.Run("missing document", func(t *testing.T) {
		out, _ := a.fail(t, "changes", "nope")
		assert.Contains(t, out, "Error [E004]")
	})
	t.Run("missing file", func(t *testing.T) {
		out, _ := b.fail(t, "merge", "todo", filepath.Join(a.dir, "nope"))
		assert.Contains(t, out, "Error [E005]: failed to read changes")
	})
	t.Run("undecodable", func(t *testing.T) {
		out, _ := b.fail(t, "merge", "todo", garbage)
		assert.Contains(t, out, "Error [E005]: failed to decode changes")
	})
	t.Run("delta for a new replica", func(t *testing.T) {
		out, code := b.fail(t, "merge", "todo", delta)
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, out, `Error [E005]: document "todo" not found and the changes are not a snapshot`)
	})
}
