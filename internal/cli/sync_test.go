package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_TwoReplicas(t *testing.T) {
	shared := filepath.Join(t.TempDir(), "shared")
	a := newReplica(t, "bbolt", "json", shared)
	b := newReplica(t, "pebble", "msgpack", shared)

	a.run(t, "init", "todo", "--data", `{"a":{},"b":{}}`)

	var first SyncReport
	a.runJSON(t, &first, "sync", "todo")
	assert.False(t, first.Joined)
	assert.NotEmpty(t, first.Part, "the first round publishes a snapshot")
	assert.Positive(t, first.FolderKeys)
	assert.Positive(t, first.FolderBytes)

	out := b.run(t, "sync", "todo")
	assert.Contains(t, out, "Joined todo as ")
	assert.Equal(t, `{"a":{},"b":{}}`+"\n", b.run(t, "get", "todo"))

	a.run(t, "set", "todo", "a.v", "1")
	b.run(t, "set", "todo", "b.v", "2")
	b.run(t, "sync", "todo")
	a.run(t, "sync", "todo")
	b.run(t, "sync", "todo")

	want := `{"a":{"v":1},"b":{"v":2}}` + "\n"
	assert.Equal(t, want, a.run(t, "get", "todo"))
	assert.Equal(t, want, b.run(t, "get", "todo"))

	var idle SyncReport
	b.runJSON(t, &idle, "sync", "todo")
	assert.Zero(t, idle.Merged, "nothing new to pull")
}

func TestSync_NothingToJoin(t *testing.T) {
	r := newReplica(t, "bbolt", "json", filepath.Join(t.TempDir(), "shared"))

	out, code := r.fail(t, "sync", "todo")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, `Error [E004]: document "todo" not found locally or in the shared folder`)
}

func TestSync_Watch(t *testing.T) {
	shared := filepath.Join(t.TempDir(), "shared")
	a := newReplica(t, "bbolt", "json", shared)
	a.run(t, "init", "todo", "--data", `{"n":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, errOut, err := execute(ctx, nil, "--config", a.config, "sync", "todo", "--watch", "--interval", "50ms")
	require.NoError(t, err, "stderr: %s", errOut)
	assert.Contains(t, out, "Watching todo every 50ms")
	assert.Contains(t, errOut, "sync stopped gracefully")

	// The watch published, so a second replica can join.
	b := newReplica(t, "bbolt", "json", shared)
	assert.Contains(t, b.run(t, "sync", "todo"), "Joined todo")
}
