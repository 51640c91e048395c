package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Replica: "a", Op: OpCreate},
		{Seq: 2, Replica: "b", Op: OpClone, Peer: "a"},
		{Seq: 3, Replica: "a", Op: OpSet, Path: "title"},
		{Seq: 4, Replica: "b", Op: OpSet, Path: "owner"},
		{Seq: 5, Op: OpSyncAll},
	}
}

func newDoc(t *testing.T, data string, prefix string) *doc.Document {
	t.Helper()
	v, err := ir.Unmarshal([]byte(data))
	require.NoError(t, err)
	d, err := doc.New(v, doc.WithGenerator(version.NewSequenceGenerator(prefix)))
	require.NoError(t, err)
	return d
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Op: OpSet, Replica: "b"})
	assert.NoError(t, err)

	err = assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Op: OpSyncAll})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Op: OpClone, Replica: "a"})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "trace_contains", assertErr.Type)
	assert.Equal(t, "op clone by a", assertErr.Expected)
	assert.Equal(t, "not found in trace", assertErr.Actual)
	assert.Len(t, assertErr.Trace, 5)
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		ops     []string
		wantErr string
	}{
		{"in order", []string{OpCreate, OpClone, OpSyncAll}, ""},
		{"gaps allowed", []string{OpCreate, OpSyncAll}, ""},
		{"reversed", []string{OpSyncAll, OpCreate}, "should be before"},
		{"missing", []string{OpCreate, OpSend}, "missing op: send"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Ops: tt.ops})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpSet, Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpSet, Replica: "a", Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpSend, Count: 0}))

	err := assertTraceCount(sampleTrace(), Assertion{Op: OpSet, Count: 3})
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "3 occurrences of set", assertErr.Expected)
	assert.Equal(t, "2 occurrences", assertErr.Actual)
}

func TestAssertConverged(t *testing.T) {
	a := newDoc(t, `{"x":[1,{"y":true}]}`, "a")
	b := newDoc(t, `{"x":[1,{"y":true}]}`, "b")
	c := newDoc(t, `{"x":[1]}`, "c")

	err := assertConverged(&AssertionContext{
		Docs:  map[string]*doc.Document{"a": a, "b": b},
		Order: []string{"a", "b"},
	})
	assert.NoError(t, err)

	err = assertConverged(&AssertionContext{
		Docs:  map[string]*doc.Document{"a": a, "b": b, "c": c},
		Order: []string{"a", "b", "c"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `c = {"x":[1]}`)

	err = assertConverged(&AssertionContext{})
	require.Error(t, err)
}

func TestAssertFinalState(t *testing.T) {
	actx := &AssertionContext{
		Docs:  map[string]*doc.Document{"a": newDoc(t, `{"title":"todo","n":2,"l":["x"]}`, "a")},
		Order: []string{"a"},
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"string", Assertion{Replica: "a", Path: "title", Expect: "todo"}, ""},
		{"int matches float", Assertion{Replica: "a", Path: "n", Expect: 2.0}, ""},
		{"nested", Assertion{Replica: "a", Path: "l[0]", Expect: "x"}, ""},
		{"root", Assertion{Replica: "a", Expect: map[string]interface{}{
			"title": "todo", "n": 2, "l": []interface{}{"x"}}}, ""},
		{"absent", Assertion{Replica: "a", Path: "gone", Absent: true}, ""},
		{"mismatch", Assertion{Replica: "a", Path: "title", Expect: "done"}, `"title" = "done"`},
		{"missing path", Assertion{Replica: "a", Path: "gone", Expect: 1}, "NOT_FOUND"},
		{"not absent", Assertion{Replica: "a", Path: "title", Absent: true}, `"title" absent`},
		{"unknown replica", Assertion{Replica: "z", Path: "title", Expect: 1}, "replica z to hold a document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(actx, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertLength(t *testing.T) {
	actx := &AssertionContext{
		Docs:  map[string]*doc.Document{"a": newDoc(t, `{"l":[1,2,3],"o":{}}`, "a")},
		Order: []string{"a"},
	}

	assert.NoError(t, assertLength(actx, Assertion{Type: AssertLength, Replica: "a", Path: "l", Count: 3}))

	err := assertLength(actx, Assertion{Type: AssertLength, Replica: "a", Path: "l", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1,2,3]")

	err = assertLength(actx, Assertion{Type: AssertLength, Replica: "a", Path: "o", Count: 0})
	require.Error(t, err, "an object is not an array")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: OpCreate},
		{Type: AssertTraceCount, Op: OpCreate, Count: 5},
		{Type: AssertConverged},
		{Type: "unknown"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "trace_count")
	assert.Contains(t, errs[1], "converged requires replica context")
	assert.Contains(t, errs[2], `unknown assertion type "unknown"`)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of send",
		Actual:   "0 occurrences",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 occurrences of send")
	assert.Contains(t, msg, "Actual: 0 occurrences")
	assert.Contains(t, msg, "[2] clone b -> a")
}
