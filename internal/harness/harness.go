package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/fanout"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/testutil"
	"github.com/roach88/docsync/internal/version"
)

// syncRounds is how many all-pairs rounds sync_all runs. One round
// delivers every edit; the second settles acknowledgements.
const syncRounds = 2

// Harness is the scenario execution engine.
// It runs scenarios with a manual clock and per-replica sequence ids.
type Harness struct {
	scenario *Scenario
	codec    codec.Codec
	clock    *testutil.ManualClock
	gens     map[string]*version.SequenceGenerator
	replicas map[string]*replica
	folder   store.Storage // shared fan-out folder
	local    store.Storage // persistence for reload
	logger   *slog.Logger
	seq      int64
}

type replica struct {
	name   string
	d      *doc.Document
	syncer *fanout.Syncer // created on first fan-out round
	state  fanout.State
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory stores. The clock starts at
// testutil.Epoch and advances one second before every edit, so conflict
// timestamps never tie.
//
// Execution flow:
// 1. Validate the scenario and apply defaults
// 2. Execute flow steps, checking expected errors
// 3. Record every replica's final data
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	c, err := codec.ByName(scenario.Codec)
	if err != nil {
		return nil, err
	}

	gens := testutil.NewGenerators(len(scenario.Replicas))
	h := &Harness{
		scenario: scenario,
		codec:    c,
		clock:    testutil.NewManualClock(),
		gens:     make(map[string]*version.SequenceGenerator, len(gens)),
		replicas: make(map[string]*replica),
		folder:   store.NewMemory(),
		local:    store.NewMemory(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	defer h.folder.Close()
	defer h.local.Close()
	for i, name := range scenario.Replicas {
		h.gens[name] = gens[i]
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step)
		ev.Seq = h.next()

		switch {
		case step.ExpectError == "" && err != nil:
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		case step.ExpectError == "":
		case err == nil:
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got none", i, step.Op, step.ExpectError))
		case !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got %q", i, step.Op, step.ExpectError, err))
		default:
			ev.Error = step.ExpectError
		}
		result.AddTrace(ev)

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"replica", step.Replica,
			"version", ev.Version,
		)
	}

	docs := make(map[string]*doc.Document, len(h.replicas))
	for name, r := range h.replicas {
		docs[name] = r.d
		result.Final[name] = ir.ToGo(r.d.Data())
		result.Clients[name] = r.d.ClientID()
	}

	actx := &AssertionContext{
		Docs:  docs,
		Order: h.existing(),
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) next() int64 {
	h.seq++
	return h.seq
}

func (h *Harness) docOptions(name string) []doc.Option {
	return []doc.Option{
		doc.WithGenerator(h.gens[name]),
		doc.WithNow(h.clock.Now),
		doc.WithLogger(h.logger),
	}
}

func (h *Harness) replica(name string) (*replica, error) {
	r, ok := h.replicas[name]
	if !ok {
		return nil, fmt.Errorf("replica %q has no document yet", name)
	}
	return r, nil
}

// existing returns the replicas holding a document, in declared order.
func (h *Harness) existing() []string {
	var names []string
	for _, name := range h.scenario.Replicas {
		if _, ok := h.replicas[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// add registers a new replica. A replica holds one document for its life.
func (h *Harness) add(name string, d *doc.Document, st fanout.State) *replica {
	r := &replica{name: name, d: d, state: st}
	h.replicas[name] = r
	return r
}

// execute runs one step. The returned event lacks Seq.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Replica: step.Replica, Op: step.Op, Path: step.Path}

	var r *replica
	var err error
	switch step.Op {
	case OpCreate, OpClone, OpJoin:
		if _, ok := h.replicas[step.Replica]; ok {
			return ev, fmt.Errorf("replica %q already has a document", step.Replica)
		}
		r, err = h.create(ctx, step)
		if step.Op == OpClone {
			ev.Peer = step.From
		}

	case OpSet, OpRemove, OpPush, OpInsert, OpUnshift:
		if r, err = h.replica(step.Replica); err != nil {
			return ev, err
		}
		h.clock.Advance(time.Second)
		err = h.edit(r.d, step)

	case OpSend:
		ev.Peer = step.To
		var dst *replica
		if dst, err = h.send(step.Replica, step.To); err == nil {
			ev.Version = string(dst.d.DocVersion())
		}
		return ev, err

	case OpSync:
		if r, err = h.replica(step.Replica); err != nil {
			return ev, err
		}
		ev.Merged, err = h.syncOnce(ctx, r)

	case OpSyncAll:
		ev.Merged, err = h.syncAll(ctx)
		return ev, err

	case OpTick:
		d, perr := time.ParseDuration(step.Advance)
		if perr != nil {
			return ev, perr
		}
		h.clock.Advance(d)
		return ev, nil

	case OpReload:
		if r, err = h.replica(step.Replica); err != nil {
			return ev, err
		}
		err = h.reload(ctx, r)

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	if r != nil {
		ev.Version = string(r.d.DocVersion())
	}
	return ev, err
}

func (h *Harness) create(ctx context.Context, step Step) (*replica, error) {
	opts := h.docOptions(step.Replica)
	switch step.Op {
	case OpCreate:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return nil, err
		}
		d, err := doc.New(v, opts...)
		if err != nil {
			return nil, err
		}
		return h.add(step.Replica, d, fanout.State{}), nil

	case OpClone:
		src, err := h.replica(step.From)
		if err != nil {
			return nil, err
		}
		env, err := h.transfer(src.d.GetChanges(""))
		if err != nil {
			return nil, err
		}
		d, err := doc.FromSnapshot(env, opts...)
		if err != nil {
			return nil, err
		}
		return h.add(step.Replica, d, fanout.State{}), nil

	default: // OpJoin
		d, st, err := fanout.Join(ctx, h.folder, h.scenario.Doc, h.codec, opts...)
		if err != nil {
			return nil, err
		}
		return h.add(step.Replica, d, st), nil
	}
}

func (h *Harness) edit(d *doc.Document, step Step) error {
	p, err := path.Parse(step.Path)
	if err != nil {
		return err
	}
	values := make([]ir.Value, 0, len(step.Values))
	for i, raw := range step.Values {
		v, err := ir.FromGo(raw)
		if err != nil {
			return fmt.Errorf("values[%d]: %w", i, err)
		}
		values = append(values, v)
	}

	switch step.Op {
	case OpSet:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return err
		}
		return d.Set(p, v)
	case OpRemove:
		return d.Remove(p)
	case OpPush:
		return d.Push(p, values...)
	case OpInsert:
		return d.Insert(p, step.Index, values...)
	default: // OpUnshift
		return d.Unshift(p, values...)
	}
}

// transfer passes env through the scenario codec, as a network would.
func (h *Harness) transfer(env *doc.Envelope) (*doc.Envelope, error) {
	data, err := h.codec.Marshal(env)
	if err != nil {
		return nil, err
	}
	return h.codec.Unmarshal(data)
}

// send merges what from has that to has not acknowledged into to.
func (h *Harness) send(from, to string) (*replica, error) {
	src, err := h.replica(from)
	if err != nil {
		return nil, err
	}
	dst, err := h.replica(to)
	if err != nil {
		return nil, err
	}
	env, err := h.transfer(src.d.GetChanges(dst.d.ClientID()))
	if err != nil {
		return nil, err
	}
	return dst, dst.d.MergeChanges(env)
}

func (h *Harness) syncOnce(ctx context.Context, r *replica) (int, error) {
	if r.syncer == nil {
		s, err := fanout.New(h.folder, h.scenario.Doc, r.d,
			fanout.WithCodec(h.codec),
			fanout.WithLogger(h.logger),
			fanout.WithState(r.state),
		)
		if err != nil {
			return 0, err
		}
		r.syncer = s
	}
	res, err := r.syncer.Sync(ctx)
	return res.Pull.Merged, err
}

func (h *Harness) syncAll(ctx context.Context) (int, error) {
	names := h.existing()
	merged := 0
	for round := 0; round < syncRounds; round++ {
		for _, from := range names {
			if h.scenario.Transport == TransportFolder {
				n, err := h.syncOnce(ctx, h.replicas[from])
				if err != nil {
					return merged, err
				}
				merged += n
				continue
			}
			for _, to := range names {
				if from == to {
					continue
				}
				if _, err := h.send(from, to); err != nil {
					return merged, fmt.Errorf("send %s to %s: %w", from, to, err)
				}
			}
		}
	}
	return merged, nil
}

// reload persists r and replaces its document with the one loaded back.
func (h *Harness) reload(ctx context.Context, r *replica) error {
	if err := store.SaveDocument(ctx, h.local, r.name, r.d, h.codec); err != nil {
		return err
	}
	d, found, err := store.LoadDocument(ctx, h.local, r.name, h.codec, h.docOptions(r.name)...)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("reload %s: document vanished", r.name)
	}
	if r.syncer != nil {
		r.state = r.syncer.State()
		r.syncer = nil
	}
	r.d = d
	return nil
}
