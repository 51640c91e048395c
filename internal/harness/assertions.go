package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Op, event.Replica)
			if event.Path != "" {
				fmt.Fprintf(&buf, " %s", event.Path)
			}
			if event.Peer != "" {
				fmt.Fprintf(&buf, " -> %s", event.Peer)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

func matchesOp(event TraceEvent, op, replica string) bool {
	return event.Op == op && (replica == "" || event.Replica == replica)
}

// assertTraceContains checks that the trace contains the op, performed by
// the given replica if one is named.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchesOp(event, assertion.Op, assertion.Replica) {
			return nil
		}
	}

	expected := fmt.Sprintf("op %s", assertion.Op)
	if assertion.Replica != "" {
		expected += " by " + assertion.Replica
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops first appear in the specified order.
// Ops don't need to be consecutive (intervening ops are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev := assertion.Ops[i-1]
		curr := assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the op appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesOp(event, assertion.Op, assertion.Replica) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertConverged checks that every replica holds the same data.
func assertConverged(actx *AssertionContext) error {
	if len(actx.Order) == 0 {
		return &AssertionError{Type: AssertConverged, Expected: "at least one replica", Actual: "none"}
	}
	first := actx.Order[0]
	want := actx.Docs[first].Data()
	for _, name := range actx.Order[1:] {
		got := actx.Docs[name].Data()
		if !ir.Equal(want, got) {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s = %s", first, render(want)),
				Actual:   fmt.Sprintf("%s = %s", name, render(got)),
			}
		}
	}
	return nil
}

// assertFinalState checks the value at a path of one replica.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	d, err := actx.doc(assertion)
	if err != nil {
		return err
	}
	p, err := path.Parse(assertion.Path)
	if err != nil {
		return err
	}
	got, getErr := d.GetData(p)

	if assertion.Absent {
		if doc.IsPathError(getErr, doc.ErrCodeNotFound) {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s: %q absent", assertion.Replica, assertion.Path),
			Actual:   describe(got, getErr),
		}
	}

	want, err := ir.FromGo(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}
	if getErr != nil || !ir.Equal(want, got) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s: %q = %s", assertion.Replica, assertion.Path, render(want)),
			Actual:   describe(got, getErr),
		}
	}
	return nil
}

// assertLength checks the number of elements of an array.
func assertLength(actx *AssertionContext, assertion Assertion) error {
	d, err := actx.doc(assertion)
	if err != nil {
		return err
	}
	p, err := path.Parse(assertion.Path)
	if err != nil {
		return err
	}
	got, getErr := d.GetData(p)
	arr, ok := got.(ir.Array)
	if getErr != nil || !ok || len(arr) != assertion.Count {
		return &AssertionError{
			Type:     AssertLength,
			Expected: fmt.Sprintf("%s: %q has %d elements", assertion.Replica, assertion.Path, assertion.Count),
			Actual:   describe(got, getErr),
		}
	}
	return nil
}

func render(v ir.Value) string {
	data, err := ir.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func describe(v ir.Value, err error) string {
	if err != nil {
		return err.Error()
	}
	return render(v)
}

// AssertionContext provides the replicas assertions inspect.
type AssertionContext struct {
	// Docs maps replica names to their documents.
	Docs map[string]*doc.Document

	// Order lists the replicas in Docs in declared order.
	Order []string
}

func (a *AssertionContext) doc(assertion Assertion) (*doc.Document, error) {
	if a == nil {
		return nil, fmt.Errorf("%s requires replica context", assertion.Type)
	}
	d, ok := a.Docs[assertion.Replica]
	if !ok {
		return nil, &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("replica %s to hold a document", assertion.Replica),
			Actual:   "no document",
		}
	}
	return d, nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the replicas for data assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertConverged:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: converged requires replica context", i)
			} else {
				err = assertConverged(actx)
			}
		case AssertFinalState:
			err = assertFinalState(actx, assertion)
		case AssertLength:
			err = assertLength(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
