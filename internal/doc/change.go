package doc

import (
	"fmt"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// Reserved keys of the node-state envelope.
const (
	stateKey = "_s"
	itemsKey = "v"
)

// Change is one node of a sparse change tree.
//
// A primitive change has State == nil and carries Value. A node change
// carries State and either Fields (objects) or Items (arrays). A node
// change with no Fields/Items is a stub: it names the node without
// claiming anything about its content.
type Change struct {
	State  *NodeState
	Fields map[string]*Change
	Items  []*Change
	Value  ir.Value
}

// IsNode reports whether c describes an object or array node.
func (c *Change) IsNode() bool {
	return c.State != nil
}

// ToValue renders the change tree in its structured wire shape:
// {_s: {...}, key: ...} for objects and {_s: {...}, v: [...]} for arrays.
func (c *Change) ToValue() ir.Value {
	if c == nil {
		return ir.Null{}
	}
	if c.State == nil {
		if c.Value == nil {
			return ir.Null{}
		}
		return c.Value
	}

	out := ir.Object{stateKey: stateToValue(c.State)}
	if c.State.IsArray {
		if c.Items != nil {
			items := make(ir.Array, len(c.Items))
			for i, item := range c.Items {
				items[i] = item.ToValue()
			}
			out[itemsKey] = items
		}
		return out
	}
	for k, child := range c.Fields {
		out[k] = child.ToValue()
	}
	return out
}

func stateToValue(s *NodeState) ir.Object {
	out := ir.Object{
		"id": ir.String(s.ID),
		"u":  versionValue(s.Updated),
		"t":  ir.String(s.Timestamp),
	}
	if s.Removed.IsSet() {
		out["r"] = ir.String(s.Removed)
	}
	if s.IsArray {
		out["a"] = ir.Bool(true)
	}
	if len(s.RemovedChildren) > 0 {
		ri := make(ir.Array, len(s.RemovedChildren))
		for i, t := range s.RemovedChildren {
			ri[i] = ir.Object{"id": ir.String(t.ID), "r": versionValue(t.Removed)}
		}
		out["ri"] = ri
	}
	return out
}

func versionValue(v version.Version) ir.Value {
	if !v.IsSet() {
		return ir.Null{}
	}
	return ir.String(v)
}

// ChangeFromValue parses the structured wire shape produced by ToValue.
// Every object in a change tree must carry a state envelope.
func ChangeFromValue(v ir.Value) (*Change, error) {
	return changeFromValue(v, "changes")
}

func changeFromValue(v ir.Value, at string) (*Change, error) {
	switch val := v.(type) {
	case ir.Array:
		return nil, fmt.Errorf("%w: %s: bare array without node state", ErrInvalidChanges, at)
	case ir.Object:
		raw, ok := val[stateKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s: object without node state", ErrInvalidChanges, at)
		}
		st, err := stateFromValue(raw, at)
		if err != nil {
			return nil, err
		}
		c := &Change{State: st}
		if st.IsArray {
			if rawItems, ok := val[itemsKey]; ok {
				items, ok := rawItems.(ir.Array)
				if !ok {
					return nil, fmt.Errorf("%w: %s.v: not an array", ErrInvalidChanges, at)
				}
				c.Items = make([]*Change, len(items))
				for i, item := range items {
					child, err := changeFromValue(item, fmt.Sprintf("%s[%d]", at, i))
					if err != nil {
						return nil, err
					}
					c.Items[i] = child
				}
			}
			return c, nil
		}
		for k, child := range val {
			if k == stateKey {
				continue
			}
			if c.Fields == nil {
				c.Fields = make(map[string]*Change, len(val)-1)
			}
			cc, err := changeFromValue(child, at+"."+k)
			if err != nil {
				return nil, err
			}
			c.Fields[k] = cc
		}
		return c, nil
	case nil:
		return &Change{Value: ir.Null{}}, nil
	default:
		return &Change{Value: val}, nil
	}
}

func stateFromValue(v ir.Value, at string) (*NodeState, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s._s: not an object", ErrInvalidChanges, at)
	}
	st := &NodeState{}
	var err error
	if st.ID, err = stringField(obj, "id", at); err != nil {
		return nil, err
	}
	if st.Timestamp, err = stringField(obj, "t", at); err != nil {
		return nil, err
	}
	if st.Updated, err = versionField(obj, "u", at); err != nil {
		return nil, err
	}
	if st.Removed, err = versionField(obj, "r", at); err != nil {
		return nil, err
	}
	if a, ok := obj["a"]; ok {
		b, ok := a.(ir.Bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s._s.a: not a bool", ErrInvalidChanges, at)
		}
		st.IsArray = bool(b)
	}
	if ri, ok := obj["ri"]; ok {
		list, ok := ri.(ir.Array)
		if !ok {
			return nil, fmt.Errorf("%w: %s._s.ri: not an array", ErrInvalidChanges, at)
		}
		for i, entry := range list {
			eo, ok := entry.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("%w: %s._s.ri[%d]: not an object", ErrInvalidChanges, at, i)
			}
			id, err := stringField(eo, "id", at)
			if err != nil {
				return nil, err
			}
			rv, err := versionField(eo, "r", at)
			if err != nil {
				return nil, err
			}
			st.RemovedChildren = append(st.RemovedChildren, Tombstone{ID: id, Removed: rv})
		}
	}
	return st, nil
}

func stringField(obj ir.Object, key, at string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", nil
	}
	switch s := v.(type) {
	case ir.String:
		return string(s), nil
	case ir.Null:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %s._s.%s: not a string", ErrInvalidChanges, at, key)
	}
}

func versionField(obj ir.Object, key, at string) (version.Version, error) {
	s, err := stringField(obj, key, at)
	if err != nil {
		return version.None, err
	}
	v, err := version.Parse(s)
	if err != nil {
		return version.None, fmt.Errorf("%w: %s._s.%s: %v", ErrInvalidChanges, at, key, err)
	}
	return v, nil
}

// validate checks structural consistency of a Go-constructed change tree
// so that a merge never starts on input it cannot finish.
func (c *Change) validate(at string) error {
	if c == nil {
		return fmt.Errorf("%w: %s: nil change", ErrInvalidChanges, at)
	}
	if c.State == nil {
		if c.Fields != nil || c.Items != nil {
			return fmt.Errorf("%w: %s: children without node state", ErrInvalidChanges, at)
		}
		if !ir.IsPrimitive(c.Value) {
			return fmt.Errorf("%w: %s: container value without node state", ErrInvalidChanges, at)
		}
		return nil
	}
	if c.State.IsArray && c.Fields != nil {
		return fmt.Errorf("%w: %s: array change with fields", ErrInvalidChanges, at)
	}
	if !c.State.IsArray && c.Items != nil {
		return fmt.Errorf("%w: %s: object change with items", ErrInvalidChanges, at)
	}
	for k, child := range c.Fields {
		if k == stateKey {
			return fmt.Errorf("%w: %s: reserved key %q", ErrInvalidChanges, at, k)
		}
		if err := child.validate(at + "." + k); err != nil {
			return err
		}
	}
	for i, child := range c.Items {
		if err := child.validate(fmt.Sprintf("%s[%d]", at, i)); err != nil {
			return err
		}
	}
	return nil
}
