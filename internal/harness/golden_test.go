package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenBasic() *Scenario {
	return &Scenario{
		Name:        "golden_basic",
		Description: "An edit reaches a clone through send",
		Replicas:    []string{"a", "b"},
		Flow: []Step{
			{Replica: "a", Op: OpCreate, Value: obj("title", "todo")},
			{Replica: "b", Op: OpClone, From: "a"},
			{Replica: "a", Op: OpSet, Path: "title", Value: "done"},
			{Replica: "a", Op: OpSend, To: "b"},
		},
		Assertions: []Assertion{{Type: AssertConverged}},
	}
}

func TestRunWithGolden_Basic(t *testing.T) {
	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_Basic -update
	result, err := RunWithGolden(t, goldenBasic())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Shape(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Seq: 1, Replica: "a", Op: OpCreate, Version: "-----0"})
	result.AddTrace(TraceEvent{Seq: 2, Op: OpTick})
	result.AddTrace(TraceEvent{Seq: 3, Replica: "a", Op: OpSet, Path: "x.y", Error: "NOT_FOUND"})
	result.Final["a"] = map[string]interface{}{"b": int64(1), "a": []interface{}{"é"}}
	result.Clients["a"] = "client-a0000001"

	data, err := Snapshot("shape", result)
	require.NoError(t, err)

	want := `{"final":{"a":{"a":["é"],"b":1}},"scenario_name":"shape","trace":[` +
		`{"op":"create","replica":"a","seq":1},` +
		`{"op":"tick","seq":2},` +
		`{"error":"NOT_FOUND","op":"set","path":"x.y","replica":"a","seq":3}]}`
	assert.Equal(t, want, string(data), "versions and client ids stay out of the snapshot")
}

func TestSnapshot_Deterministic(t *testing.T) {
	first, err := Run(goldenBasic())
	require.NoError(t, err)
	second, err := Run(goldenBasic())
	require.NoError(t, err)

	a, err := Snapshot("golden_basic", first)
	require.NoError(t, err)
	b, err := Snapshot("golden_basic", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Trace, second.Trace, "versions are reproducible too")
}
