package doc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/version"
)

// Document is one replica of a synchronized JSON document.
//
// The document owns its whole tree. Nodes hold no reference back to the
// document; every mutation goes through a Document method, which asks
// the document clock for a new version exactly once.
//
// Thread-safety: Document is NOT safe for concurrent use. Callers that
// share a replica between goroutines must hold one lock around every call,
// including GetChanges and MergeChanges.
type Document struct {
	root       *Object
	clientID   string
	docVersion version.Version
	peers      map[string]*PeerState

	gen    version.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Document.
type Option func(*Document)

// WithGenerator sets the id source for nodes and the replica id.
//
// Default: version.NewTimeGenerator()
// Use version.NewSequenceGenerator("a") for deterministic tests.
func WithGenerator(g version.Generator) Option {
	return func(d *Document) {
		d.gen = g
	}
}

// WithNow sets the wall clock used for conflict timestamps.
func WithNow(now func() time.Time) Option {
	return func(d *Document) {
		d.now = now
	}
}

// WithLogger sets the logger for merge bookkeeping. Logs go nowhere by default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) {
		d.logger = l
	}
}

func newDocument(opts []Option) *Document {
	d := &Document{
		peers:  make(map[string]*PeerState),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.gen == nil {
		d.gen = version.NewTimeGenerator()
	}
	return d
}

// New creates a fresh document holding data, which must be an object or nil.
func New(data ir.Value, opts ...Option) (*Document, error) {
	var obj ir.Object
	switch v := data.(type) {
	case nil, ir.Null:
		obj = ir.Object{}
	case ir.Object:
		obj = v
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, data)
	}
	if containsReservedKey(obj) {
		return nil, fmt.Errorf("new document: %w: %q", ErrReservedKey, stateKey)
	}

	d := newDocument(opts)
	v := d.NextDocVersion()
	d.root = build(ir.Clone(obj), v, d.timestamp()).(*Object)
	return d, nil
}

// MustNew is like New but panics on error.
// Use only in tests or with constant data.
func MustNew(data ir.Value, opts ...Option) *Document {
	d, err := New(data, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// FromSnapshot creates a new replica from a full snapshot sent by another
// replica. The snapshot is merged into an empty document, so the new
// replica starts with the sender acknowledged.
func FromSnapshot(env *Envelope, opts ...Option) (*Document, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	if !env.IsSnapshot() {
		return nil, fmt.Errorf("from snapshot: %w", ErrNotSnapshot)
	}

	d := newDocument(opts)
	d.root = newObject("")
	if err := d.MergeChanges(env); err != nil {
		return nil, err
	}
	if d.root.state.fresh() {
		v := d.NextDocVersion()
		d.root.state.Updated = v
		d.root.state.Timestamp = d.timestamp()
		d.clientState(env.SentBy).LastAcknowledged = v
	}
	return d, nil
}

// Restore rebuilds a replica persisted with GetChanges(""). The tree, the
// replica id, the clock and the peer table are taken verbatim.
func Restore(env *Envelope, opts ...Option) (*Document, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	if !env.IsSnapshot() {
		return nil, fmt.Errorf("restore: %w", ErrNotSnapshot)
	}
	if env.Changes == nil {
		return nil, fmt.Errorf("restore: %w: missing root", ErrInvalidChanges)
	}

	d := newDocument(opts)
	d.root = restoreNode(env.Changes).(*Object)
	d.clientID = env.SentBy
	d.docVersion = env.FromVersion
	for _, ps := range env.ClientStates {
		if ps.PeerID == "" || ps.PeerID == d.clientID {
			continue
		}
		p := ps
		d.peers[ps.PeerID] = &p
	}
	return d, nil
}

func restoreNode(c *Change) Value {
	if !c.IsNode() {
		return Primitive{V: ir.Clone(primitiveValue(Primitive{V: c.Value}))}
	}
	st := c.State.clone()
	if st.IsArray {
		a := &Array{state: st, items: make([]Value, 0, len(c.Items))}
		for _, item := range c.Items {
			if item.IsNode() && item.State.IsRemoved() {
				if !a.state.hasTombstone(item.State.ID) {
					a.state.RemovedChildren = append(a.state.RemovedChildren,
						Tombstone{ID: item.State.ID, Removed: item.State.Removed})
				}
				continue
			}
			a.items = append(a.items, restoreNode(item))
		}
		return a
	}
	o := &Object{state: st, fields: make(map[string]Value, len(c.Fields))}
	for k, child := range c.Fields {
		o.fields[k] = restoreNode(child)
	}
	return o
}

// timestamp returns the current second in RFC 3339 UTC.
func (d *Document) timestamp() string {
	return d.now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ClientID returns this replica's id, assigning it on first use.
func (d *Document) ClientID() string {
	if d.clientID == "" {
		d.clientID = d.gen.NextLong()
	}
	return d.clientID
}

// DocVersion returns the current document clock.
func (d *Document) DocVersion() version.Version {
	return d.docVersion
}

// NextDocVersion advances the document clock and returns the new value.
func (d *Document) NextDocVersion() version.Version {
	d.docVersion = version.Next(d.docVersion, version.DocLength)
	return d.docVersion
}

// ClientState returns the bookkeeping for peerID, creating it if absent.
func (d *Document) ClientState(peerID string) PeerState {
	return *d.clientState(peerID)
}

func (d *Document) clientState(peerID string) *PeerState {
	ps, ok := d.peers[peerID]
	if !ok {
		ps = &PeerState{PeerID: peerID}
		d.peers[peerID] = ps
	}
	return ps
}

// PeerStates returns the peer table sorted by peer id.
func (d *Document) PeerStates() []PeerState {
	out := make([]PeerState, 0, len(d.peers))
	for _, ps := range d.peers {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(a, b PeerState) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return out
}

// Data returns the document content as plain data, without tombstoned nodes.
func (d *Document) Data() ir.Value {
	return Data(d.root)
}

// Root returns the root object node.
func (d *Document) Root() *Object {
	return d.root
}

// Get returns the value at p. It reports false when the path does not
// exist or passes through a tombstoned node.
func (d *Document) Get(p path.Path) (Value, bool) {
	v, err := d.lookup("get", p, false)
	return v, err == nil
}

// GetIncludingRemoved is like Get but also walks tombstoned nodes.
func (d *Document) GetIncludingRemoved(p path.Path) (Value, bool) {
	v, err := d.lookup("get", p, true)
	return v, err == nil
}

// GetData returns the plain data at p.
func (d *Document) GetData(p path.Path) (ir.Value, error) {
	v, err := d.lookup("get", p, false)
	if err != nil {
		return nil, err
	}
	return Data(v), nil
}

// State returns the metadata of the object or array at p, assigning its
// id on first access.
func (d *Document) State(p path.Path) (NodeState, error) {
	v, err := d.lookup("state", p, true)
	if err != nil {
		return NodeState{}, err
	}
	n, ok := v.(node)
	if !ok {
		return NodeState{}, &PathError{Op: "state", Path: p.String(), Code: ErrCodeNotNode}
	}
	st := n.nodeState()
	d.ensureID(st)
	return st.clone(), nil
}

func (d *Document) ensureID(st *NodeState) {
	if st.ID == "" {
		st.ID = d.gen.Next()
	}
}

// lookup walks p from the root.
func (d *Document) lookup(op string, p path.Path, includeRemoved bool) (Value, error) {
	var cur Value = d.root
	for i, step := range p {
		next, err := child(cur, step)
		if err != nil {
			err.Op = op
			err.Path = p[:i+1].String()
			return nil, err
		}
		if !includeRemoved && isRemoved(next) {
			return nil, &PathError{Op: op, Path: p[:i+1].String(), Code: ErrCodeNotFound, Detail: "removed"}
		}
		cur = next
	}
	return cur, nil
}

func child(v Value, step path.Step) (Value, *PathError) {
	switch n := v.(type) {
	case *Object:
		if step.IsIndex {
			return nil, &PathError{Code: ErrCodeKindMismatch, Detail: "index step on an object"}
		}
		c, ok := n.fields[step.Field]
		if !ok {
			return nil, &PathError{Code: ErrCodeNotFound}
		}
		return c, nil
	case *Array:
		if !step.IsIndex {
			return nil, &PathError{Code: ErrCodeKindMismatch, Detail: "field step on an array"}
		}
		if step.Index < 0 || step.Index >= len(n.items) {
			return nil, &PathError{Code: ErrCodeOutOfRange, Detail: fmt.Sprintf("index %d, length %d", step.Index, len(n.items))}
		}
		return n.items[step.Index], nil
	default:
		return nil, &PathError{Code: ErrCodeNotContainer}
	}
}

// container resolves the parent of p for a mutation. removed reports that
// the parent or one of its ancestors is tombstoned, which turns the
// mutation into a silent no-op.
func (d *Document) container(op string, p path.Path) (parent node, last path.Step, removed bool, err error) {
	parentPath, last, ok := p.Parent()
	if !ok {
		return nil, path.Step{}, false, &PathError{Op: op, Path: "", Code: ErrCodeNotFound, Detail: "root has no parent"}
	}
	v, err := d.walk(op, parentPath)
	if err != nil {
		return nil, last, false, err
	}
	n, ok := v.(node)
	if !ok {
		return nil, last, false, &PathError{Op: op, Path: parentPath.String(), Code: ErrCodeNotContainer}
	}
	return n, last, d.removedAlong(parentPath), nil
}

func (d *Document) walk(op string, p path.Path) (Value, error) {
	return d.lookup(op, p, true)
}

func (d *Document) removedAlong(p path.Path) bool {
	if d.root.state.IsRemoved() {
		return true
	}
	var cur Value = d.root
	for _, step := range p {
		next, err := child(cur, step)
		if err != nil {
			return false
		}
		if isRemoved(next) {
			return true
		}
		cur = next
	}
	return false
}

// array resolves p to an array for a mutation.
func (d *Document) array(op string, p path.Path) (*Array, bool, error) {
	v, err := d.walk(op, p)
	if err != nil {
		return nil, false, err
	}
	a, ok := v.(*Array)
	if !ok {
		return nil, false, &PathError{Op: op, Path: p.String(), Code: ErrCodeKindMismatch, Detail: "not an array"}
	}
	return a, d.removedAlong(p) || a.state.IsRemoved(), nil
}

func checkData(op string, p path.Path, values ...ir.Value) error {
	for _, v := range values {
		if containsReservedKey(v) {
			return fmt.Errorf("%s %q: %w", op, p.String(), ErrReservedKey)
		}
	}
	return nil
}

// touch stamps a container whose own properties changed.
func (d *Document) touch(st *NodeState) (version.Version, string) {
	v := d.NextDocVersion()
	ts := d.timestamp()
	st.Updated = v
	st.Timestamp = ts
	return v, ts
}

// Set stores value at p. On an object the last step names a key; on an
// array it names an index, where the array length appends.
// Setting inside a tombstoned node does nothing.
func (d *Document) Set(p path.Path, value ir.Value) error {
	if err := checkData("set", p, value); err != nil {
		return err
	}
	parent, last, removed, err := d.container("set", p)
	if err != nil {
		return err
	}
	if removed {
		return nil
	}

	switch c := parent.(type) {
	case *Object:
		if last.IsIndex {
			return &PathError{Op: "set", Path: p.String(), Code: ErrCodeKindMismatch, Detail: "index step on an object"}
		}
		if last.Field == stateKey {
			return fmt.Errorf("set %q: %w", p.String(), ErrReservedKey)
		}
		v, ts := d.touch(&c.state)
		c.fields[last.Field] = build(ir.Clone(value), v, ts)
	case *Array:
		if !last.IsIndex {
			return &PathError{Op: "set", Path: p.String(), Code: ErrCodeKindMismatch, Detail: "field step on an array"}
		}
		if last.Index < 0 || last.Index > len(c.items) {
			return &PathError{Op: "set", Path: p.String(), Code: ErrCodeOutOfRange,
				Detail: fmt.Sprintf("index %d, length %d", last.Index, len(c.items))}
		}
		v, ts := d.touch(&c.state)
		elem := build(ir.Clone(value), v, ts)
		if last.Index == len(c.items) {
			c.items = append(c.items, elem)
			return nil
		}
		d.tombstone(c, c.items[last.Index], v)
		c.items[last.Index] = elem
	}
	return nil
}

// tombstone records the removal of an array element that has an identity.
func (d *Document) tombstone(a *Array, elem Value, v version.Version) {
	n, ok := elem.(node)
	if !ok {
		return
	}
	st := n.nodeState()
	if st.ID == "" {
		// Never diffed, so no peer can know it.
		return
	}
	if !a.state.hasTombstone(st.ID) {
		a.state.RemovedChildren = append(a.state.RemovedChildren, Tombstone{ID: st.ID, Removed: v})
	}
}

// Remove deletes the value at p. An object or array under an object key
// is tombstoned in place; an array element is spliced out and recorded in
// the array's tombstones; a primitive under an object key is deleted.
// Removing something already removed does nothing.
func (d *Document) Remove(p path.Path) error {
	parent, last, removed, err := d.container("remove", p)
	if err != nil {
		return err
	}
	if removed {
		return nil
	}
	target, err := d.walk("remove", p)
	if err != nil {
		return err
	}

	switch c := parent.(type) {
	case *Object:
		if n, ok := target.(node); ok {
			st := n.nodeState()
			if st.IsRemoved() {
				return nil
			}
			d.ensureID(st)
			v := d.NextDocVersion()
			st.Removed = v
			st.Updated = v
			st.Timestamp = d.timestamp()
			return nil
		}
		d.touch(&c.state)
		delete(c.fields, last.Field)
	case *Array:
		if _, err := d.splice(c, last.Index, 1, nil); err != nil {
			return err
		}
	}
	return nil
}

// Push appends values to the array at p.
func (d *Document) Push(p path.Path, values ...ir.Value) error {
	return d.withArray("push", p, values, func(a *Array) error {
		_, err := d.splice(a, len(a.items), 0, values)
		return err
	})
}

// Unshift prepends values to the array at p.
func (d *Document) Unshift(p path.Path, values ...ir.Value) error {
	return d.withArray("unshift", p, values, func(a *Array) error {
		_, err := d.splice(a, 0, 0, values)
		return err
	})
}

// Insert inserts values before index in the array at p.
func (d *Document) Insert(p path.Path, index int, values ...ir.Value) error {
	return d.withArray("insert", p, values, func(a *Array) error {
		_, err := d.splice(a, index, 0, values)
		return err
	})
}

// RemoveAt removes the element at index from the array at p.
func (d *Document) RemoveAt(p path.Path, index int) error {
	return d.withArray("remove", p, nil, func(a *Array) error {
		_, err := d.splice(a, index, 1, nil)
		return err
	})
}

// Splice removes deleteCount elements at start from the array at p, inserts
// values in their place and returns the removed data.
func (d *Document) Splice(p path.Path, start, deleteCount int, values ...ir.Value) ([]ir.Value, error) {
	var out []ir.Value
	err := d.withArray("splice", p, values, func(a *Array) error {
		var err error
		out, err = d.splice(a, start, deleteCount, values)
		return err
	})
	return out, err
}

func (d *Document) withArray(op string, p path.Path, values []ir.Value, fn func(*Array) error) error {
	if err := checkData(op, p, values...); err != nil {
		return err
	}
	a, removed, err := d.array(op, p)
	if err != nil {
		return err
	}
	if removed {
		return nil
	}
	if err := fn(a); err != nil {
		var pe *PathError
		if errors.As(err, &pe) {
			pe.Op = op
			pe.Path = p.String()
		}
		return err
	}
	return nil
}

// splice is the single array mutation primitive. It validates before
// touching the clock.
func (d *Document) splice(a *Array, start, deleteCount int, values []ir.Value) ([]ir.Value, error) {
	if start < 0 || start > len(a.items) {
		return nil, &PathError{Code: ErrCodeOutOfRange, Detail: fmt.Sprintf("index %d, length %d", start, len(a.items))}
	}
	if deleteCount < 0 || start+deleteCount > len(a.items) {
		return nil, &PathError{Code: ErrCodeOutOfRange,
			Detail: fmt.Sprintf("delete %d at %d, length %d", deleteCount, start, len(a.items))}
	}

	v, ts := d.touch(&a.state)
	removed := make([]ir.Value, 0, deleteCount)
	for _, elem := range a.items[start : start+deleteCount] {
		removed = append(removed, Data(elem))
		d.tombstone(a, elem, v)
	}
	inserted := make([]Value, len(values))
	for i, val := range values {
		inserted[i] = build(ir.Clone(val), v, ts)
	}
	a.items = slices.Replace(a.items, start, start+deleteCount, inserted...)
	return removed, nil
}

// GetChanges returns the changes peerID has not acknowledged, or a full
// snapshot when peerID is empty. The envelope carries the whole peer table.
func (d *Document) GetChanges(peerID string) *Envelope {
	since := version.None
	if peerID != "" {
		since = d.clientState(peerID).LastAcknowledged
	}
	return d.GetChangesSince(since)
}

// GetChangesSince returns every change made after since.
func (d *Document) GetChangesSince(since version.Version) *Envelope {
	df := &differ{since: since, gen: d.gen}
	return &Envelope{
		Header:       newHeader(),
		SentBy:       d.ClientID(),
		FromVersion:  d.docVersion,
		ClientStates: d.PeerStates(),
		ChangesSince: since,
		Changes:      df.diff(d.root),
	}
}

// MergeChanges applies an envelope from another replica. Conflicts are
// resolved deterministically and never reported; only malformed envelopes
// fail, and they fail before anything is modified.
func (d *Document) MergeChanges(env *Envelope) error {
	if err := env.validate(); err != nil {
		return err
	}
	self := d.ClientID()
	if env.SentBy == self {
		d.logger.Debug("ignoring own changes", "client", self)
		return nil
	}

	ps := d.clientState(env.SentBy)
	received := ps.LastReceived
	for _, entry := range env.ClientStates {
		if entry.PeerID != self {
			continue
		}
		if version.IsNewer(entry.LastReceived, ps.LastAcknowledged) {
			d.logger.Debug("peer acknowledged",
				"peer", env.SentBy,
				"version", entry.LastReceived)
			ps.LastAcknowledged = entry.LastReceived
		}
		// Content the sender counts as acknowledged is not new to us,
		// even when it arrives again inside a snapshot.
		received = version.Latest(received, entry.LastAcknowledged)
	}
	allWasSent := version.Compare(ps.LastAcknowledged, d.docVersion) == 0

	m := &merger{d: d, peer: ps, since: env.ChangesSince, received: received}
	if env.Changes != nil {
		m.mergeObject(d.root, env.Changes)
	}
	if m.rejected {
		// lastReceived stays put until the sender has seen our edits.
		d.logger.Debug("kept newer local edits",
			"from", env.SentBy,
			"from_version", env.FromVersion)
	} else {
		ps.LastReceived = version.Latest(ps.LastReceived, env.FromVersion)
	}

	for _, entry := range env.ClientStates {
		if entry.PeerID == "" || entry.PeerID == self || entry.PeerID == env.SentBy {
			continue
		}
		third := d.clientState(entry.PeerID)
		third.LastReceived = version.Latest(third.LastReceived, entry.LastReceived)
		if allWasSent && entry.LastAcknowledged.IsSet() &&
			version.Compare(entry.LastAcknowledged, env.FromVersion) >= 0 {
			third.LastAcknowledged = d.docVersion
		}
	}
	if allWasSent {
		ps.LastAcknowledged = d.docVersion
	}

	d.logger.Debug("merged changes",
		"from", env.SentBy,
		"from_version", env.FromVersion,
		"changed", m.changed(),
		"doc_version", d.docVersion)
	return nil
}
