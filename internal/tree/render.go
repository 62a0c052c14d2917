package tree

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Render formats diffs for the console. Each node is followed by its leaf
// differences and a unified diff of its state and props, local against
// shared.
func Render(diffs []NodeDiff, local, shared string) string {
	if len(diffs) == 0 {
		return "no differences\n"
	}

	var b strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&b, "%s (%s)\n", d.Path, d.Kind)
		if d.Kind == Mismatch {
			fmt.Fprintf(&b, "  %s renders %s, %s renders %s\n", local, d.Current.Component, shared, d.Shared.Component)
			continue
		}
		writeLeaves(&b, "state", d.StateDiffs)
		writeLeaves(&b, "props", d.PropsDiffs)

		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(pretty(d.Current)),
			B:        difflib.SplitLines(pretty(d.Shared)),
			FromFile: local,
			ToFile:   shared,
			Context:  2,
		})
		if err == nil && text != "" {
			for _, line := range strings.SplitAfter(strings.TrimRight(text, "\n"), "\n") {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func writeLeaves(b *strings.Builder, what string, leaves []LeafDiff) {
	for _, l := range leaves {
		fmt.Fprintf(b, "  %s.%s: %s -> %s\n", what, l.Path, compact(l.Previous, l.Added), compact(l.Next, l.Removed))
	}
}

func compact(v any, absent bool) string {
	if absent {
		return "undefined"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func pretty(s *StateAndProps) string {
	if s == nil {
		return ""
	}
	data, err := json.MarshalIndent(struct {
		State map[string]any `json:"state"`
		Props map[string]any `json:"props"`
	}{s.State, s.Props}, "", "  ")
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}
