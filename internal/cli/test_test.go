package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: clone_edit
description: "An edit reaches a clone"
replicas: [a, b]
flow:
  - { replica: a, op: create, value: { title: "todo" } }
  - { replica: b, op: clone, from: a }
  - { replica: a, op: set, path: title, value: "done" }
  - { replica: a, op: send, to: b }
assertions:
  - type: converged
  - { type: final_state, replica: b, path: title, expect: "done" }
`

const failingScenario = `name: never_sent
description: "An edit that is never sent does not converge"
replicas: [a, b]
flow:
  - { replica: a, op: create, value: { title: "todo" } }
  - { replica: b, op: clone, from: a }
  - { replica: a, op: set, path: title, value: "done" }
assertions:
  - type: converged
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func runTestCommand(format string, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand("text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	out, err := runTestCommand("text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Contains(t, out, "Error [E005]")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand("text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand("json", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassing(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "clone_edit.yaml", passingScenario)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	out, err := runTestCommand("text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ clone_edit")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFailing(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "clone_edit.yaml", passingScenario)
	writeScenario(t, dir, "never_sent.yml", failingScenario)
	writeScenario(t, dir, "broken.yaml", "name: [")

	out, err := runTestCommand("text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ never_sent")
	assert.Contains(t, out, "converged")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
	assert.Contains(t, out, "Test Summary: 1 passed, 2 failed, 3 total")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "clone_edit.yaml", passingScenario)
	writeScenario(t, dir, "never_sent.yaml", failingScenario)

	out, err := runTestCommand("json", dir, "--filter", "clone_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "clone_edit", resp.Data.Scenarios[0].Name)

	_, err = runTestCommand("text", dir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to find scenarios")
}

func TestTestCommandGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "clone_edit.yaml", passingScenario)
	goldenPath := filepath.Join(dir, "golden", "clone_edit.golden")

	out, err := runTestCommand("text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ clone_edit (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"clone_edit"`)
	assert.Contains(t, string(golden), `"final":{"a":{"title":"done"},"b":{"title":"done"}}`)

	out, err = runTestCommand("text", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ clone_edit\n")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"clone_edit","trace":[]}`), 0o644))
	out, err = runTestCommand("text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommandRepositoryScenarios(t *testing.T) {
	out, err := runTestCommand("text", "../../testdata/scenarios")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ offline_edits")
	assert.Contains(t, out, "✓ folder_fanout")
	assert.Contains(t, out, "✓ last_writer_wins")
}
