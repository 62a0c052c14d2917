package dom

import (
	"errors"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// ErrInvalidStyle is returned when CSS text has no recognised declaration.
var ErrInvalidStyle = errors.New("no recognised CSS declaration")

// properties browsers apply from an inline style attribute. Anything else
// is dropped the way a browser drops it.
var properties = setOf(
	"align-content", "align-items", "align-self", "animation", "animation-delay",
	"animation-duration", "animation-name", "aspect-ratio", "background",
	"background-attachment", "background-clip", "background-color", "background-image",
	"background-position", "background-repeat", "background-size", "border",
	"border-bottom", "border-collapse", "border-color", "border-left", "border-radius",
	"border-right", "border-spacing", "border-style", "border-top", "border-width",
	"bottom", "box-shadow", "box-sizing", "caret-color", "clear", "clip-path", "color",
	"column-gap", "columns", "content", "cursor", "direction", "display", "fill",
	"filter", "flex", "flex-basis", "flex-direction", "flex-flow", "flex-grow",
	"flex-shrink", "flex-wrap", "float", "font", "font-family", "font-size",
	"font-style", "font-variant", "font-weight", "gap", "grid", "grid-area",
	"grid-column", "grid-row", "grid-template", "grid-template-areas",
	"grid-template-columns", "grid-template-rows", "height", "inset",
	"justify-content", "justify-items", "justify-self", "left", "letter-spacing",
	"line-height", "list-style", "list-style-type", "margin", "margin-bottom",
	"margin-left", "margin-right", "margin-top", "max-height", "max-width",
	"min-height", "min-width", "mix-blend-mode", "object-fit", "object-position",
	"opacity", "order", "outline", "outline-color", "outline-offset", "outline-style",
	"outline-width", "overflow", "overflow-wrap", "overflow-x", "overflow-y",
	"padding", "padding-bottom", "padding-left", "padding-right", "padding-top",
	"place-items", "pointer-events", "position", "resize", "right", "row-gap",
	"stroke", "stroke-width", "table-layout", "text-align", "text-decoration",
	"text-indent", "text-overflow", "text-shadow", "text-transform", "top",
	"transform", "transform-origin", "transition", "transition-delay",
	"transition-duration", "transition-property", "user-select", "vertical-align",
	"visibility", "white-space", "width", "word-break", "word-spacing", "word-wrap",
	"writing-mode", "z-index",
)

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func recognised(property string) bool {
	p := strings.ToLower(property)
	switch {
	case strings.HasPrefix(p, "-webkit-"), strings.HasPrefix(p, "-moz-"):
		return properties[p[strings.Index(p[1:], "-")+2:]]
	}
	return properties[p]
}

// ParseStyle parses CSS declarations and keeps the recognised ones. It
// fails with ErrInvalidStyle when none remain.
func ParseStyle(text string) ([]*css.Declaration, error) {
	decls, err := parser.ParseDeclarations(terminated(text))
	if err != nil {
		return nil, errors.Join(ErrInvalidStyle, err)
	}

	kept := decls[:0]
	for _, d := range decls {
		if d.Value == "" || !recognised(d.Property) {
			continue
		}
		d.Property = strings.ToLower(d.Property)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, ErrInvalidStyle
	}
	return kept, nil
}

// terminated closes the last declaration, which the parser otherwise drops
func terminated(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasSuffix(text, ";") {
		return text
	}
	return text + ";"
}

// ValidStyle reports whether text carries at least one recognised declaration
func ValidStyle(text string) bool {
	_, err := ParseStyle(text)
	return err == nil
}

// mergeStyle applies updates over an existing style attribute. Later
// declarations of a property replace earlier ones in place.
func mergeStyle(existing string, updates []*css.Declaration) string {
	var merged []*css.Declaration
	if existing != "" {
		if decls, err := parser.ParseDeclarations(terminated(existing)); err == nil {
			merged = decls
		}
	}

	for _, u := range updates {
		replaced := false
		for i, m := range merged {
			if strings.EqualFold(m.Property, u.Property) {
				merged[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, u)
		}
	}

	parts := make([]string, len(merged))
	for i, d := range merged {
		parts[i] = d.String()
	}
	return strings.Join(parts, " ")
}

// Positions accepted by InsertAdjacent
const (
	BeforeBegin = "beforebegin"
	AfterBegin  = "afterbegin"
	BeforeEnd   = "beforeend"
	AfterEnd    = "afterend"
)

// ValidPosition reports whether pos, compared case-insensitively, is an
// insert position.
func ValidPosition(pos string) bool {
	switch strings.ToLower(strings.TrimSpace(pos)) {
	case BeforeBegin, AfterBegin, BeforeEnd, AfterEnd:
		return true
	}
	return false
}
