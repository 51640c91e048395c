// Package path parses document paths such as "a.b[2][0]" into typed steps.
//
// A Path is parsed once and then reused; the document never re-parses
// strings while walking the tree.
package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed path strings.
var ErrSyntax = errors.New("invalid path syntax")

// Step is one navigation step: either a field name or an array index.
type Step struct {
	Field   string
	Index   int
	IsIndex bool
}

// Field returns a field step.
func Field(name string) Step {
	return Step{Field: name}
}

// Index returns an index step.
func Index(i int) Step {
	return Step{Index: i, IsIndex: true}
}

// String renders the step as it appears inside a path.
func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Field
}

// Path is a parsed sequence of steps. The empty Path addresses the root.
type Path []Step

// Root is the empty path.
var Root = Path(nil)

// Parse parses dot-and-bracket notation.
//
//	""          -> root
//	"a.b"       -> Field a, Field b
//	"a[2][0].c" -> Field a, Index 2, Index 0, Field c
//	"[1]"       -> Index 1
func Parse(s string) (Path, error) {
	var p Path
	i := 0
	expectField := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed '[' at %d in %q", ErrSyntax, i, s)
			}
			n, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad index %q at %d in %q", ErrSyntax, s[i+1:i+end], i, s)
			}
			p = append(p, Index(n))
			i += end + 1
			expectField = false
		case c == '.':
			if i == 0 || i == len(s)-1 || expectField {
				return nil, fmt.Errorf("%w: unexpected '.' at %d in %q", ErrSyntax, i, s)
			}
			i++
			expectField = true
		default:
			if !expectField {
				return nil, fmt.Errorf("%w: missing '.' before %q at %d in %q", ErrSyntax, c, i, s)
			}
			end := strings.IndexAny(s[i:], ".[]")
			if end < 0 {
				end = len(s) - i
			}
			if c == ']' {
				return nil, fmt.Errorf("%w: unexpected ']' at %d in %q", ErrSyntax, i, s)
			}
			p = append(p, Field(s[i:i+end]))
			i += end
			expectField = false
		}
	}
	if expectField && len(p) > 0 {
		return nil, fmt.Errorf("%w: trailing '.' in %q", ErrSyntax, s)
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or for constant paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path in dot-and-bracket notation.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if !s.IsIndex && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// Parent returns the path without its last step and that last step.
// ok is false for the root path.
func (p Path) Parent() (parent Path, last Step, ok bool) {
	if len(p) == 0 {
		return nil, Step{}, false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Child returns a new path extended by steps; p is not modified.
func (p Path) Child(steps ...Step) Path {
	out := make(Path, 0, len(p)+len(steps))
	out = append(out, p...)
	return append(out, steps...)
}
