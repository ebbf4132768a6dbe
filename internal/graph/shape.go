package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Unbound marks a dimension whose size is only known at run time.
const Unbound int64 = -1

// Shape is a list of dimensions; Unbound entries are symbolic.
type Shape []int64

func (s Shape) Rank() int { return len(s) }

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) FullyDefined() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the element count of a fully defined shape.
func (s Shape) NumElements() (int64, error) {
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			return 0, fmt.Errorf("graph: shape %s is not fully defined", s)
		}
		n *= d
	}
	return n, nil
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Merge combines two shapes of equal rank: a known dimension wins over an
// Unbound one, and two known dimensions must agree.
func (s Shape) Merge(o Shape) (Shape, error) {
	if len(s) != len(o) {
		return nil, fmt.Errorf("graph: cannot merge shapes %s and %s: rank mismatch", s, o)
	}
	out := make(Shape, len(s))
	for i := range s {
		switch {
		case s[i] == Unbound:
			out[i] = o[i]
		case o[i] == Unbound || o[i] == s[i]:
			out[i] = s[i]
		default:
			return nil, fmt.Errorf("graph: cannot merge shapes %s and %s: dimension %d differs", s, o, i)
		}
	}
	return out, nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d == Unbound {
			parts[i] = "?"
		} else {
			parts[i] = strconv.FormatInt(d, 10)
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
