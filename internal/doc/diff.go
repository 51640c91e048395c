package doc

import (
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// differ walks the tree and collects everything changed after since.
// It assigns ids to nodes that never had their state read, since every
// node in a change tree must be addressable.
type differ struct {
	since version.Version
	gen   version.Generator
}

// diff returns nil when nothing under n changed after since.
//
// A node whose own properties changed lists all of its children: primitives
// verbatim, nodes as their own diff or as a stub when unchanged. A node
// whose own properties did not change lists only changed node children.
// Receivers tell the two apart by comparing the node version with the
// envelope's changesSince.
func (df *differ) diff(n node) *Change {
	st := n.nodeState()
	df.ensureID(st)
	own := version.IsNewer(st.Updated, df.since) || version.IsNewer(st.Removed, df.since)

	if st.IsRemoved() {
		if !own {
			return nil
		}
		return &Change{State: ptr(st.clone())}
	}

	switch n := n.(type) {
	case *Object:
		return df.diffObject(n, own)
	case *Array:
		return df.diffArray(n, own)
	default:
		return nil
	}
}

func (df *differ) diffObject(o *Object, own bool) *Change {
	var fields map[string]*Change
	if own {
		fields = make(map[string]*Change, len(o.fields))
	}
	for _, k := range o.Keys() {
		switch child := o.fields[k].(type) {
		case Primitive:
			if own {
				fields[k] = &Change{Value: primitiveValue(child)}
			}
		case node:
			c := df.diff(child)
			if c == nil && own {
				c = df.stub(child)
			}
			if c == nil {
				continue
			}
			if fields == nil {
				fields = make(map[string]*Change)
			}
			fields[k] = c
		}
	}
	if !own && len(fields) == 0 {
		return nil
	}
	return &Change{State: ptr(o.state.clone()), Fields: fields}
}

func (df *differ) diffArray(a *Array, own bool) *Change {
	var items []*Change
	if own {
		items = make([]*Change, 0, len(a.items))
	}
	for _, elem := range a.items {
		switch child := elem.(type) {
		case Primitive:
			if own {
				items = append(items, &Change{Value: primitiveValue(child)})
			}
		case node:
			c := df.diff(child)
			if c == nil && own {
				c = df.stub(child)
			}
			if c != nil {
				items = append(items, c)
			}
		}
	}
	if !own && len(items) == 0 {
		return nil
	}
	return &Change{State: ptr(a.state.clone()), Items: items}
}

// stub names an unchanged node without its content.
func (df *differ) stub(n node) *Change {
	st := n.nodeState()
	df.ensureID(st)
	return &Change{State: ptr(st.clone())}
}

func (df *differ) ensureID(st *NodeState) {
	if st.ID == "" {
		st.ID = df.gen.Next()
	}
}

func primitiveValue(p Primitive) ir.Value {
	if p.V == nil {
		return ir.Null{}
	}
	return p.V
}

func ptr[T any](v T) *T {
	return &v
}
