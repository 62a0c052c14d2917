package tree

import (
	"fmt"
	"reflect"
	"sort"
)

// Kind classifies a node-level difference
type Kind string

const (
	// Changed nodes share a component but differ in state or props
	Changed Kind = "changed"
	// Mismatch nodes render different components; they are not descended into
	Mismatch Kind = "mismatch"
	// Missing nodes exist locally but not in the shared tree
	Missing Kind = "missing"
	// Extra nodes exist only in the shared tree
	Extra Kind = "extra"
)

// LeafDiff is one differing value. Previous is the local value and Next
// the shared one. Added marks a key or index only the shared side has and
// Removed one only the local side has.
type LeafDiff struct {
	Path     string `json:"path"`
	Previous any    `json:"previous"`
	Next     any    `json:"next"`
	Added    bool   `json:"added,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

// StateAndProps is the compared part of a node
type StateAndProps struct {
	Component string         `json:"component"`
	State     map[string]any `json:"state,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

// NodeDiff describes how the node at Path differs between two trees
type NodeDiff struct {
	Path       string         `json:"path"`
	Kind       Kind           `json:"kind"`
	Current    *StateAndProps `json:"current,omitempty"`
	Shared     *StateAndProps `json:"shared,omitempty"`
	StateDiffs []LeafDiff     `json:"stateDiffs,omitempty"`
	PropsDiffs []LeafDiff     `json:"propsDiffs,omitempty"`
}

func summary(n *Node) *StateAndProps {
	if n == nil {
		return nil
	}
	return &StateAndProps{Component: n.Component, State: n.State, Props: n.Props}
}

// Diff compares the local tree with a shared one. An empty result means
// the trees are equivalent.
func Diff(current, shared *Node) []NodeDiff {
	var out []NodeDiff
	diffNode(current, shared, rootPath(current, shared), &out)
	return out
}

func rootPath(current, shared *Node) string {
	if current != nil {
		return current.Component
	}
	if shared != nil {
		return shared.Component
	}
	return ""
}

func diffNode(current, shared *Node, path string, out *[]NodeDiff) {
	switch {
	case current == nil && shared == nil:
		return
	case shared == nil:
		*out = append(*out, NodeDiff{Path: path, Kind: Missing, Current: summary(current)})
		return
	case current == nil:
		*out = append(*out, NodeDiff{Path: path, Kind: Extra, Shared: summary(shared)})
		return
	case current.Component != shared.Component:
		*out = append(*out, NodeDiff{Path: path, Kind: Mismatch, Current: summary(current), Shared: summary(shared)})
		return
	}

	var stateDiffs, propsDiffs []LeafDiff
	compareObjects("", current.State, shared.State, &stateDiffs)
	compareObjects("", current.Props, shared.Props, &propsDiffs)
	if len(stateDiffs) > 0 || len(propsDiffs) > 0 {
		*out = append(*out, NodeDiff{
			Path:       path,
			Kind:       Changed,
			Current:    summary(current),
			Shared:     summary(shared),
			StateDiffs: stateDiffs,
			PropsDiffs: propsDiffs,
		})
	}

	n := max(len(current.Children), len(shared.Children))
	for i := 0; i < n; i++ {
		c, s := childAt(current, i), childAt(shared, i)
		name := ""
		if c != nil {
			name = c.Component
		} else {
			name = s.Component
		}
		diffNode(c, s, fmt.Sprintf("%s > %s[%d]", path, name, i), out)
	}
}

func childAt(n *Node, i int) *Node {
	if i < len(n.Children) {
		return n.Children[i]
	}
	return nil
}

func compareObjects(prefix string, a, b map[string]any, out *[]LeafDiff) {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		x, inA := a[k]
		y, inB := b[k]
		compareValues(path, x, inA, y, inB, out)
	}
}

// compareValues records the leaves where a and b differ. inA and inB tell
// a JSON null apart from a missing key or index.
func compareValues(path string, a any, inA bool, b any, inB bool, out *[]LeafDiff) {
	if inA != inB {
		*out = append(*out, LeafDiff{Path: path, Previous: a, Next: b, Added: !inA, Removed: !inB})
		return
	}
	if am, ok := a.(map[string]any); ok {
		if bm, ok := b.(map[string]any); ok {
			compareObjects(path, am, bm, out)
			return
		}
	}
	if al, ok := a.([]any); ok {
		if bl, ok := b.([]any); ok {
			for i := 0; i < max(len(al), len(bl)); i++ {
				var x, y any
				if i < len(al) {
					x = al[i]
				}
				if i < len(bl) {
					y = bl[i]
				}
				compareValues(fmt.Sprintf("%s[%d]", path, i), x, i < len(al), y, i < len(bl), out)
			}
			return
		}
	}
	if !reflect.DeepEqual(a, b) {
		*out = append(*out, LeafDiff{Path: path, Previous: a, Next: b})
	}
}
