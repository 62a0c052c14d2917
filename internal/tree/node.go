// Package tree captures UI component trees and compares them.
package tree

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Node is one component of a captured tree. State and Props only hold
// JSON values: maps, slices, strings, float64, bool and nil.
type Node struct {
	Component string         `json:"component"`
	State     map[string]any `json:"state,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	Children  []*Node        `json:"children,omitempty"`
}

// NewNode builds a node from arbitrary state and props values, cleaning
// them first. Non-object values are kept under a "value" key.
func NewNode(component string, state, props any) *Node {
	return &Node{
		Component: component,
		State:     asObject(Clean(state)),
		Props:     asObject(Clean(props)),
	}
}

func asObject(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return map[string]any{"value": t}
	}
}

// Walk visits n and its descendants depth first. Returning false from fn
// stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node, depth first, whose component is name
func Find(root *Node, name string) *Node {
	var found *Node
	root.Walk(func(n *Node) bool {
		if n.Component == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// Encode marshals the tree for a treeSnapshot message
func Encode(n *Node) (json.RawMessage, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return data, nil
}

// Decode unmarshals a tree received in a treeSnapshot message
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}
	if n.Component == "" {
		return nil, fmt.Errorf("failed to decode tree: root has no component")
	}
	return &n, nil
}

// internalKey reports keys framework internals hide state behind
func internalKey(k string) bool {
	return strings.HasPrefix(k, "_") || strings.HasPrefix(k, "$$")
}

// Clean converts v into plain JSON values. Functions, channels, internal
// keys and back references to a value already being converted are dropped.
// Numbers become float64 so cleaned values compare equal to decoded JSON.
func Clean(v any) any {
	out, _ := clean(reflect.ValueOf(v), map[uintptr]bool{})
	return out
}

func clean(v reflect.Value, seen map[uintptr]bool) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return clean(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		p := v.Pointer()
		if seen[p] {
			return nil, false
		}
		seen[p] = true
		defer delete(seen, p)
		return clean(v.Elem(), seen)
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		p := v.Pointer()
		if seen[p] {
			return nil, false
		}
		seen[p] = true
		defer delete(seen, p)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if internalKey(k) {
				continue
			}
			if c, ok := clean(iter.Value(), seen); ok {
				out[k] = c
			}
		}
		return out, true
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Len() > 0 {
			p := v.Pointer()
			if seen[p] {
				return nil, false
			}
			seen[p] = true
			defer delete(seen, p)
		}
		return cleanList(v, seen), true
	case reflect.Array:
		return cleanList(v, seen), true
	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag == "-" {
				continue
			} else if tag != "" {
				name = tag
			}
			if internalKey(name) {
				continue
			}
			if c, ok := clean(v.Field(i), seen); ok {
				out[name] = c
			}
		}
		return out, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Bool:
		return v.Bool(), true
	case reflect.String:
		return v.String(), true
	}
	return nil, false
}

func cleanList(v reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		// dropped elements keep their slot so indexes still line up
		c, _ := clean(v.Index(i), seen)
		out = append(out, c)
	}
	return out
}
