package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/store"
)

// Scenario defines a replication scenario.
// Scenarios drive a set of replicas through edits and exchanges and assert
// on the resulting trace and final data.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Transport is how sync_all moves changes: "direct" (envelopes handed
	// from replica to replica, the default) or "folder" (a shared fan-out
	// folder).
	Transport string `yaml:"transport,omitempty"`

	// Codec encodes every envelope that crosses between replicas.
	// Defaults to "json".
	Codec string `yaml:"codec,omitempty"`

	// Doc is the document id used in the shared folder. Defaults to "doc".
	Doc string `yaml:"doc,omitempty"`

	// Replicas names the replicas in a fixed order. The i-th replica gets
	// node ids with prefix testutil.ReplicaPrefix(i).
	Replicas []string `yaml:"replicas"`

	// Flow contains the steps, executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and data.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on one replica.
type Step struct {
	// Replica performs the operation. Unused by sync_all and tick.
	Replica string `yaml:"replica,omitempty"`

	// Op is the operation, one of the Op* constants.
	Op string `yaml:"op"`

	// Path addresses the edited value (set, remove, push, insert, unshift).
	Path string `yaml:"path,omitempty"`

	// Value is the document data (create) or the value to set (set).
	Value interface{} `yaml:"value,omitempty"`

	// Values are the elements to add (push, insert, unshift).
	Values []interface{} `yaml:"values,omitempty"`

	// Index is the insert position (insert).
	Index int `yaml:"index,omitempty"`

	// From is the source replica (clone).
	From string `yaml:"from,omitempty"`

	// To is the receiving replica (send).
	To string `yaml:"to,omitempty"`

	// Advance is how far the clock moves (tick), e.g. "30s".
	Advance string `yaml:"advance,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Operations.
const (
	OpCreate  = "create"   // new document from Value
	OpClone   = "clone"    // new replica from From's snapshot
	OpJoin    = "join"     // new replica from the shared folder
	OpSet     = "set"      // Set(Path, Value)
	OpRemove  = "remove"   // Remove(Path)
	OpPush    = "push"     // Push(Path, Values...)
	OpInsert  = "insert"   // Insert(Path, Index, Values...)
	OpUnshift = "unshift"  // Unshift(Path, Values...)
	OpSend    = "send"     // Replica's changes for To, merged by To
	OpSync    = "sync"     // one fan-out round of Replica
	OpSyncAll = "sync_all" // exchange until every replica has everything
	OpTick    = "tick"     // advance the clock
	OpReload  = "reload"   // persist Replica and load it back
)

// Transports.
const (
	TransportDirect = "direct"
	TransportFolder = "folder"
)

// Assertion validates the trace or the final data.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an op (optionally by Replica) appears in the trace
	// - "trace_order": ops appear in order
	// - "trace_count": an op appears exactly Count times
	// - "converged": every replica holds the same data
	// - "final_state": the value at Path on Replica equals Expect
	// - "length": the array at Path on Replica has Count elements
	Type string `yaml:"type"`

	// Op is the operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Replica selects a replica (trace_contains, final_state, length).
	Replica string `yaml:"replica,omitempty"`

	// Path addresses a value (final_state, length). Empty means the root.
	Path string `yaml:"path,omitempty"`

	// Expect is the expected value (final_state).
	Expect interface{} `yaml:"expect,omitempty"`

	// Absent asserts that Path does not exist (final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected number (trace_count, length).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertConverged     = "converged"
	AssertFinalState    = "final_state"
	AssertLength        = "length"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// applyDefaults fills in the optional fields.
func (s *Scenario) applyDefaults() {
	if s.Transport == "" {
		s.Transport = TransportDirect
	}
	if s.Codec == "" {
		s.Codec = "json"
	}
	if s.Doc == "" {
		s.Doc = "doc"
	}
}

// validateScenario checks that required fields are present and valid.
// Defaults are applied first.
func validateScenario(s *Scenario) error {
	s.applyDefaults()

	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Transport != TransportDirect && s.Transport != TransportFolder {
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
	if _, err := codec.ByName(s.Codec); err != nil {
		return err
	}
	if err := store.ValidateDocumentID(s.Doc); err != nil {
		return err
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if slices.Index(s.Replicas, name) != i {
			return fmt.Errorf("replicas[%d]: duplicate name %q", i, name)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := s.validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, assertion := range s.Assertions {
		if err := s.validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) validateStep(step *Step) error {
	needReplica := func(name, field string) error {
		if name == "" {
			return fmt.Errorf("%s is required for %s", field, step.Op)
		}
		if !slices.Contains(s.Replicas, name) {
			return fmt.Errorf("%s %q is not a declared replica", field, name)
		}
		return nil
	}

	switch step.Op {
	case OpSyncAll:
		return nil
	case OpTick:
		d, err := time.ParseDuration(step.Advance)
		if err != nil || d <= 0 {
			return fmt.Errorf("tick needs a positive advance, got %q", step.Advance)
		}
		return nil
	case OpCreate, OpJoin, OpReload:
	case OpClone:
		if err := needReplica(step.From, "from"); err != nil {
			return err
		}
	case OpSend:
		if err := needReplica(step.To, "to"); err != nil {
			return err
		}
		if step.To == step.Replica {
			return fmt.Errorf("send to self")
		}
	case OpSet, OpRemove, OpPush, OpInsert, OpUnshift:
		if _, err := path.Parse(step.Path); err != nil {
			return err
		}
		if step.Op == OpSet && step.Value == nil {
			return fmt.Errorf("value is required for set")
		}
		if (step.Op == OpPush || step.Op == OpInsert || step.Op == OpUnshift) && len(step.Values) == 0 {
			return fmt.Errorf("values are required for %s", step.Op)
		}
	case OpSync:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if (step.Op == OpJoin || step.Op == OpSync) && s.Transport != TransportFolder {
		return fmt.Errorf("%s needs the folder transport", step.Op)
	}
	return needReplica(step.Replica, "replica")
}

// validateAssertion validates a single assertion based on its type.
func (s *Scenario) validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertConverged:
	case AssertFinalState, AssertLength:
		if !slices.Contains(s.Replicas, a.Replica) {
			return fmt.Errorf("assertions[%d]: replica %q is not a declared replica", index, a.Replica)
		}
		if _, err := path.Parse(a.Path); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Type == AssertFinalState && a.Expect == nil && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
