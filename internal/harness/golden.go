package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docsync/internal/ir"
)

// Snapshot is the golden form of a scenario run: the steps taken and the
// data every replica ended with. Document versions, part ids and client
// ids are left out so the snapshot depends only on the scenario.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		eventMap := map[string]any{
			"seq": event.Seq,
			"op":  event.Op,
		}
		if event.Replica != "" {
			eventMap["replica"] = event.Replica
		}
		if event.Path != "" {
			eventMap["path"] = event.Path
		}
		if event.Peer != "" {
			eventMap["peer"] = event.Peer
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		trace[i] = eventMap
	}

	final := make(map[string]any, len(result.Final))
	for name, data := range result.Final {
		final[name] = data
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"final":         final,
	})
}

// RunWithGolden executes a scenario and compares its Snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
