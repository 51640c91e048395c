package doc

import (
	"slices"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// NodeState is the metadata attached to every object and array node.
type NodeState struct {
	// ID is assigned on first state access and never changes.
	ID string
	// Updated is the document clock at the last change of this node's own
	// properties (not its descendants).
	Updated version.Version
	// Timestamp is a second-resolution UTC wall clock string, used only to
	// break ties between concurrent edits.
	Timestamp string
	// Removed is set iff the node is tombstoned.
	Removed version.Version
	IsArray bool
	// RemovedChildren records array elements spliced out of this array.
	RemovedChildren []Tombstone
}

// Tombstone records the identity of a spliced-out array element.
type Tombstone struct {
	ID      string
	Removed version.Version
}

// IsRemoved reports whether the node is tombstoned.
func (s NodeState) IsRemoved() bool {
	return s.Removed.IsSet()
}

// fresh reports whether the node was created by a merge and has not been
// stamped yet; every remote key is new to a fresh node.
func (s *NodeState) fresh() bool {
	return !s.Updated.IsSet()
}

func (s *NodeState) clone() NodeState {
	out := *s
	out.RemovedChildren = slices.Clone(s.RemovedChildren)
	return out
}

func (s *NodeState) hasTombstone(id string) bool {
	for _, t := range s.RemovedChildren {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Value is a node of the document tree: a Primitive, an *Object or an *Array.
type Value interface {
	docValue()
}

// Primitive wraps a leaf value (string, number, bool or null).
type Primitive struct {
	V ir.Value
}

func (Primitive) docValue() {}

// Object is an identity-bearing JSON object node.
// Children are owned by value; a node never appears twice in a tree.
type Object struct {
	state  NodeState
	fields map[string]Value
}

func (*Object) docValue() {}

// Array is an identity-bearing JSON array node.
type Array struct {
	state NodeState
	items []Value
}

func (*Array) docValue() {}

// node is implemented by *Object and *Array.
type node interface {
	Value
	nodeState() *NodeState
}

func (o *Object) nodeState() *NodeState { return &o.state }
func (a *Array) nodeState() *NodeState  { return &a.state }

// State returns a copy of the node's metadata. ID is empty until the
// owning document first accesses the node's state.
func (o *Object) State() NodeState { return o.state.clone() }

// State returns a copy of the node's metadata.
func (a *Array) State() NodeState { return a.state.clone() }

// Keys returns the object's keys in canonical order, including keys whose
// values are tombstoned nodes.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, ir.CompareKeys)
	return keys
}

// Field returns the raw child stored under key.
func (o *Object) Field(key string) (Value, bool) {
	v, ok := o.fields[key]
	return v, ok
}

// Len returns the number of elements, tombstoned elements included.
func (a *Array) Len() int { return len(a.items) }

// At returns the raw element at index i.
func (a *Array) At(i int) (Value, bool) {
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	return a.items[i], true
}

// Data returns the plain data under v, omitting tombstoned nodes.
func Data(v Value) ir.Value {
	switch n := v.(type) {
	case Primitive:
		if n.V == nil {
			return ir.Null{}
		}
		return n.V
	case *Object:
		out := make(ir.Object, len(n.fields))
		for k, child := range n.fields {
			if isRemoved(child) {
				continue
			}
			out[k] = Data(child)
		}
		return out
	case *Array:
		out := make(ir.Array, 0, len(n.items))
		for _, child := range n.items {
			if isRemoved(child) {
				continue
			}
			out = append(out, Data(child))
		}
		return out
	default:
		return ir.Null{}
	}
}

func isRemoved(v Value) bool {
	if n, ok := v.(node); ok {
		return n.nodeState().IsRemoved()
	}
	return false
}

// build converts plain data into nodes stamped with the given version and
// timestamp. Ids stay unassigned until first state access.
func build(v ir.Value, ver version.Version, ts string) Value {
	switch val := v.(type) {
	case ir.Object:
		o := &Object{
			state:  NodeState{Updated: ver, Timestamp: ts},
			fields: make(map[string]Value, len(val)),
		}
		for k, child := range val {
			o.fields[k] = build(child, ver, ts)
		}
		return o
	case ir.Array:
		a := &Array{
			state: NodeState{Updated: ver, Timestamp: ts, IsArray: true},
			items: make([]Value, len(val)),
		}
		for i, child := range val {
			a.items[i] = build(child, ver, ts)
		}
		return a
	case nil:
		return Primitive{V: ir.Null{}}
	default:
		return Primitive{V: val}
	}
}

// newObject returns an empty object node. A zero state marks it fresh.
func newObject(id string) *Object {
	return &Object{state: NodeState{ID: id}, fields: make(map[string]Value)}
}

// newArray returns an empty array node. A zero state marks it fresh.
func newArray(id string) *Array {
	return &Array{state: NodeState{ID: id, IsArray: true}}
}

// sameValue reports whether two children are interchangeable: the same
// node, or equal primitives.
func sameValue(a, b Value) bool {
	switch av := a.(type) {
	case Primitive:
		bv, ok := b.(Primitive)
		return ok && ir.Equal(av.V, bv.V)
	default:
		return a == b
	}
}

// containsReservedKey reports whether plain data uses the state key anywhere.
func containsReservedKey(v ir.Value) bool {
	switch val := v.(type) {
	case ir.Object:
		for k, child := range val {
			if k == stateKey || containsReservedKey(child) {
				return true
			}
		}
	case ir.Array:
		for _, child := range val {
			if containsReservedKey(child) {
				return true
			}
		}
	}
	return false
}
