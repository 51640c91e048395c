package doc

import (
	"slices"
	"sort"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// interval is the remote content between two consecutive shared anchors.
// An empty after means the array start, an empty before the array end.
type interval struct {
	after  string
	before string
	values []*Change
}

// mergeArray reconciles a local array with a remote array change.
//
// Elements that are objects or arrays carry ids and act as anchors; the
// content between two anchors is merged as an unordered interval where
// remote content comes first and local-only insertions follow it.
func (m *merger) mergeArray(a *Array, c *Change) {
	st := &a.state
	if st.IsRemoved() {
		return
	}
	adopt(st, c.State)
	if c.State.IsRemoved() {
		m.remove(st, c.State)
		return
	}

	newer := m.otherIsNewer(st, c.State)
	complete := m.complete(c.State)
	localChanged := version.IsNewer(st.Updated, m.peer.LastAcknowledged)
	remoteChanged := st.fresh() || version.IsNewer(c.State.Updated, m.received)
	changed := st.fresh()

	if m.applyTombstones(a, c.State.RemovedChildren) {
		changed = true
	}

	m.assignIDs(a)
	localIDs := indexByID(a.items)

	for _, rc := range c.Items {
		if !rc.IsNode() {
			continue
		}
		i, ok := localIDs[rc.State.ID]
		if !ok {
			continue
		}
		local := a.items[i].(node)
		if !matches(local.nodeState(), rc.State) {
			continue
		}
		m.mergeNode(local, rc)
	}
	if m.spliceRemoved(a) {
		changed = true
		localIDs = indexByID(a.items)
	}

	if complete && remoteChanged {
		if m.reorder(a, c.Items, localIDs) {
			changed = true
		}
		if newer {
			if m.mergeIntervals(a, c.Items, localChanged) {
				changed = true
			}
		}
	}

	if changed {
		m.stamp(st, c.State, newer)
	}
}

// applyTombstones splices out every element the remote removed and records
// the tombstones locally. Tombstones of elements never seen here are kept
// so a late copy is not resurrected, but they do not modify the array.
func (m *merger) applyTombstones(a *Array, tombstones []Tombstone) bool {
	changed := false
	for _, t := range tombstones {
		if a.state.hasTombstone(t.ID) {
			continue
		}
		before := len(a.items)
		a.items = slices.DeleteFunc(a.items, func(v Value) bool {
			n, ok := v.(node)
			return ok && n.nodeState().ID == t.ID
		})
		if len(a.items) == before {
			a.state.RemovedChildren = append(a.state.RemovedChildren, t)
			continue
		}
		a.state.RemovedChildren = append(a.state.RemovedChildren, Tombstone{ID: t.ID, Removed: m.version()})
		changed = true
	}
	return changed
}

// spliceRemoved turns elements tombstoned in place into array tombstones.
func (m *merger) spliceRemoved(a *Array) bool {
	changed := false
	a.items = slices.DeleteFunc(a.items, func(v Value) bool {
		n, ok := v.(node)
		if !ok || !n.nodeState().IsRemoved() {
			return false
		}
		st := n.nodeState()
		a.state.RemovedChildren = append(a.state.RemovedChildren, Tombstone{ID: st.ID, Removed: st.Removed})
		changed = true
		return true
	})
	return changed
}

func (m *merger) assignIDs(a *Array) {
	for _, v := range a.items {
		if n, ok := v.(node); ok && n.nodeState().ID == "" {
			n.nodeState().ID = m.d.gen.Next()
		}
	}
}

func indexByID(items []Value) map[string]int {
	ids := make(map[string]int, len(items))
	for i, v := range items {
		if n, ok := v.(node); ok {
			ids[n.nodeState().ID] = i
		}
	}
	return ids
}

// reorder moves runs of local elements so shared anchors follow the remote
// order. Each run starts at a shared anchor and carries the local-only
// elements after it; the run before the first anchor stays in front.
func (m *merger) reorder(a *Array, remote []*Change, localIDs map[string]int) bool {
	remotePos := make(map[string]int, len(remote))
	for i, rc := range remote {
		if rc.IsNode() {
			if _, ok := localIDs[rc.State.ID]; ok {
				remotePos[rc.State.ID] = i
			}
		}
	}
	if len(remotePos) < 2 {
		return false
	}

	type chunk struct {
		pos   int
		items []Value
	}
	chunks := []chunk{{pos: -1}}
	for _, v := range a.items {
		if n, ok := v.(node); ok {
			if pos, shared := remotePos[n.nodeState().ID]; shared {
				chunks = append(chunks, chunk{pos: pos})
			}
		}
		last := &chunks[len(chunks)-1]
		last.items = append(last.items, v)
	}
	if sort.SliceIsSorted(chunks, func(i, j int) bool { return chunks[i].pos < chunks[j].pos }) {
		return false
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].pos < chunks[j].pos })

	items := make([]Value, 0, len(a.items))
	for _, ch := range chunks {
		items = append(items, ch.items...)
	}
	a.items = items
	return true
}

// extractIntervals splits the remote elements at every element whose id
// is present locally. Elements removed locally are dropped.
func (m *merger) extractIntervals(a *Array, remote []*Change) []interval {
	localIDs := indexByID(a.items)
	cur := interval{}
	var out []interval
	for _, rc := range remote {
		if rc.IsNode() {
			id := rc.State.ID
			if a.state.hasTombstone(id) || rc.State.IsRemoved() {
				continue
			}
			if _, shared := localIDs[id]; shared {
				cur.before = id
				out = append(out, cur)
				cur = interval{after: id}
				continue
			}
		}
		cur.values = append(cur.values, rc)
	}
	return append(out, cur)
}

// mergeIntervals replaces the local content of every gap between anchors
// with the remote content, followed by the local-only content of that gap.
// Local primitives survive only while the local array has unsent changes,
// and only those the remote gap does not already hold.
func (m *merger) mergeIntervals(a *Array, remote []*Change, localChanged bool) bool {
	intervals := m.extractIntervals(a, remote)
	changed := false
	for i := len(intervals) - 1; i >= 0; i-- {
		iv := intervals[i]
		localIDs := indexByID(a.items)
		start, end := 0, len(a.items)
		if iv.after != "" {
			start = localIDs[iv.after] + 1
		}
		if iv.before != "" {
			end = localIDs[iv.before]
		}
		if end < start {
			continue
		}

		gap := a.items[start:end]
		merged := m.buildInterval(iv.values)
		merged = append(merged, m.localOnly(gap, iv.values, localChanged)...)
		if sameItems(gap, merged) {
			continue
		}
		a.items = slices.Concat(a.items[:start:start], merged, a.items[end:])
		changed = true
	}
	return changed
}

func (m *merger) buildInterval(values []*Change) []Value {
	out := make([]Value, 0, len(values))
	for _, rc := range values {
		if !rc.IsNode() {
			out = append(out, Primitive{V: ir.Clone(primitiveValue(Primitive{V: rc.Value}))})
			continue
		}
		fresh := freshNode(rc.State)
		m.mergeNode(fresh, rc)
		out = append(out, fresh)
	}
	return out
}

func (m *merger) localOnly(gap []Value, remote []*Change, localChanged bool) []Value {
	var pending []ir.Value
	for _, rc := range remote {
		if !rc.IsNode() {
			pending = append(pending, primitiveValue(Primitive{V: rc.Value}))
		}
	}

	var out []Value
	for _, v := range gap {
		p, ok := v.(Primitive)
		if !ok {
			out = append(out, v)
			continue
		}
		if !localChanged {
			continue
		}
		if j := slices.IndexFunc(pending, func(r ir.Value) bool { return ir.Equal(r, p.V) }); j >= 0 {
			pending = slices.Delete(pending, j, j+1)
			continue
		}
		out = append(out, v)
	}
	return out
}

func sameItems(a, b []Value) bool {
	return slices.EqualFunc(a, b, sameValue)
}
