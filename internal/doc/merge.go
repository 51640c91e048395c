package doc

import (
	"slices"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// merger applies one envelope's change tree to the local tree.
//
// Every node modified by the merge is stamped with a single document
// version, allocated on first use, so a merge that changes nothing leaves
// the document clock untouched.
type merger struct {
	d     *Document
	peer  *PeerState
	since version.Version
	mv    version.Version

	// received is the newest sender version we are known to have: our
	// lastReceived, or the sender's acknowledgment of us if that is newer.
	received version.Version

	// rejected is set when a concurrent remote edit lost to a newer local one.
	rejected bool
}

func (m *merger) version() version.Version {
	if !m.mv.IsSet() {
		m.mv = m.d.NextDocVersion()
	}
	return m.mv
}

// changed reports whether the merge modified anything.
func (m *merger) changed() bool {
	return m.mv.IsSet()
}

// otherIsNewer decides whether remote properties of a node win over local
// ones. A remote version we already have never wins. Otherwise the remote
// wins when we have nothing unsent on this node, or when its wall clock
// timestamp is not older than ours.
func (m *merger) otherIsNewer(local, remote *NodeState) bool {
	if remote == nil {
		return false
	}
	if local.fresh() {
		return true
	}
	if !version.IsNewer(remote.Updated, m.received) {
		return false
	}
	if !version.IsNewer(local.Updated, m.peer.LastAcknowledged) ||
		remote.Timestamp >= local.Timestamp {
		return true
	}
	m.rejected = true
	return false
}

// complete reports whether the sender listed every child of the node,
// as opposed to only the changed ones.
func (m *merger) complete(remote *NodeState) bool {
	return version.IsNewer(remote.Updated, m.since) || version.IsNewer(remote.Removed, m.since)
}

func (m *merger) mergeNode(n node, c *Change) {
	switch n := n.(type) {
	case *Object:
		m.mergeObject(n, c)
	case *Array:
		m.mergeArray(n, c)
	}
}

// remove tombstones a node in place.
func (m *merger) remove(st *NodeState, remote *NodeState) {
	v := m.version()
	st.Removed = v
	st.Updated = v
	st.Timestamp = remote.Timestamp
}

// adopt copies identity into a local node whose id was never read.
func adopt(st *NodeState, remote *NodeState) {
	if st.ID == "" {
		st.ID = remote.ID
	}
}

// stamp records that the merge changed the node's own properties.
func (m *merger) stamp(st *NodeState, remote *NodeState, newer bool) {
	st.Updated = m.version()
	if newer {
		st.Timestamp = remote.Timestamp
	}
}

func (m *merger) mergeObject(o *Object, c *Change) {
	st := &o.state
	if st.IsRemoved() {
		return
	}
	adopt(st, c.State)
	if c.State.IsRemoved() {
		m.remove(st, c.State)
		return
	}

	newer := m.otherIsNewer(st, c.State)
	changed := st.fresh()

	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, ir.CompareKeys)

	for _, k := range keys {
		rc := c.Fields[k]
		cur, exists := o.fields[k]

		if !rc.IsNode() {
			if !newer {
				continue
			}
			incoming := Primitive{V: ir.Clone(primitiveValue(Primitive{V: rc.Value}))}
			if exists && sameValue(cur, incoming) {
				continue
			}
			o.fields[k] = incoming
			changed = true
			continue
		}

		if local, ok := cur.(node); exists && ok && matches(local.nodeState(), rc.State) {
			m.mergeNode(local, rc)
			continue
		}
		if !newer {
			continue
		}
		fresh := freshNode(rc.State)
		o.fields[k] = fresh
		m.mergeNode(fresh, rc)
		changed = true
	}

	if newer && m.complete(c.State) {
		for k := range o.fields {
			if _, ok := c.Fields[k]; !ok {
				delete(o.fields, k)
				changed = true
			}
		}
	}

	if changed {
		m.stamp(st, c.State, newer)
	}
}

// matches reports whether a local node and a remote change describe the
// same node: the same kind, and the same id unless one side never had one.
func matches(local, remote *NodeState) bool {
	if local.IsArray != remote.IsArray {
		return false
	}
	return local.ID == "" || remote.ID == "" || local.ID == remote.ID
}

// freshNode returns an empty container that takes the remote identity.
// Its unset version makes every remote property win.
func freshNode(remote *NodeState) node {
	if remote.IsArray {
		return newArray(remote.ID)
	}
	return newObject(remote.ID)
}
