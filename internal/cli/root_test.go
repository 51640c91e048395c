package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replicaEnv is one replica's config file inside a temp directory.
type replicaEnv struct {
	dir    string
	config string
}

// newReplica writes a config with the given backend and codec. Replicas
// created with the same shared directory sync through it.
func newReplica(t *testing.T, backend, codecName, shared string) replicaEnv {
	t.Helper()
	dir := t.TempDir()
	src := fmt.Sprintf(`replica: dataDir: %q
storage: backend: %q
codec: %q
fanout: {
	root:         %q
	maxPartBytes: 65536
	maxParts:     4
	interval:     "50ms"
}
`, filepath.Join(dir, "data"), backend, codecName, shared)
	config := filepath.Join(dir, "docsync.cue")
	require.NoError(t, os.WriteFile(config, []byte(src), 0o644))
	return replicaEnv{dir: dir, config: config}
}

// execute runs the root command with args and returns stdout, stderr
// and the command error.
func execute(ctx context.Context, stdin []byte, args ...string) (string, string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	if stdin != nil {
		cmd.SetIn(bytes.NewReader(stdin))
	}
	cmd.SetArgs(args)
	if ctx == nil {
		ctx = context.Background()
	}
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// run executes a command against r and fails the test on error.
func (r replicaEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := execute(nil, nil, append([]string{"--config", r.config}, args...)...)
	require.NoError(t, err, "docsync %v\nstdout: %s\nstderr: %s", args, out, errOut)
	return out
}

// fail executes a command against r that must fail and returns its output
// and exit code.
func (r replicaEnv) fail(t *testing.T, args ...string) (string, int) {
	t.Helper()
	out, _, err := execute(nil, nil, append([]string{"--config", r.config}, args...)...)
	require.Error(t, err, "docsync %v should fail\nstdout: %s", args, out)
	return out, GetExitCode(err)
}

// runJSON executes a command with --format json and decodes the data.
func (r replicaEnv) runJSON(t *testing.T, data any, args ...string) {
	t.Helper()
	out := r.run(t, append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data), "data: %s", resp.Data)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "docsync", cmd.Use)
	assert.Contains(t, cmd.Long, "replicas")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "list", "get", "set", "remove", "push", "changes", "merge", "sync", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command  string
		flag     string
		defValue string
	}{
		{"init", "data", "{}"},
		{"get", "hash", "false"},
		{"push", "at", "-1"},
		{"changes", "peer", ""},
		{"changes", "since", ""},
		{"changes", "out", ""},
		{"sync", "watch", "false"},
		{"sync", "interval", "0s"},
		{"test", "update", "false"},
		{"test", "filter", ""},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.defValue, f.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(nil, nil, "--format", "xml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestInvalidConfig(t *testing.T) {
	config := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(config, []byte(`codec: "xml"`), 0o644))

	out, _, err := execute(nil, nil, "--config", config, "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: failed to load config")
}
