package tree

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/golang/glog"
	"golang.org/x/net/html"

	"conchat/internal/dom"
)

// ErrNoComponents is returned when the page renders no component
var ErrNoComponents = errors.New("page has no components")

// Attributes a rendered component carries
const (
	ComponentAttr = "data-component"
	StateAttr     = "data-state"
	PropsAttr     = "data-props"
)

// RootComponent names the synthetic node that holds several top-level components
const RootComponent = "#root"

// Capturer returns the component tree currently rendered
type Capturer interface {
	Capture(ctx context.Context) (*Node, error)
}

// DOMCapturer reads components from elements marked with data-component,
// taking JSON state and props from data-state and data-props.
type DOMCapturer struct {
	doc *dom.Document
}

func NewDOMCapturer(doc *dom.Document) *DOMCapturer {
	return &DOMCapturer{doc: doc}
}

func (c *DOMCapturer) Capture(ctx context.Context) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var top []*Node
	c.doc.View(func(doc *goquery.Document) {
		for _, n := range doc.Nodes {
			top = append(top, collect(n)...)
		}
	})

	switch len(top) {
	case 0:
		return nil, ErrNoComponents
	case 1:
		return top[0], nil
	}
	return &Node{Component: RootComponent, Children: top}, nil
}

// collect returns the outermost components at or below n, each holding
// its own nested components as children.
func collect(n *html.Node) []*Node {
	var kids []*Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, collect(c)...)
	}
	if n.Type != html.ElementNode {
		return kids
	}

	name := attrValue(n, ComponentAttr)
	if name == "" {
		return kids
	}
	node := NewNode(name, decodeAttr(n, name, StateAttr), decodeAttr(n, name, PropsAttr))
	node.Children = kids
	return []*Node{node}
}

func decodeAttr(n *html.Node, component, key string) any {
	raw := attrValue(n, key)
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		glog.Warningf("⚠️ Component %s has unreadable %s: %v", component, key, err)
		return nil
	}
	return v
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
