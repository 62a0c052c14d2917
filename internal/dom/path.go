package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Locate returns the path of n. It depends only on tag names, ids and the
// position among same-tag siblings, so two copies of the same page agree:
//
//	id("main")            element with an id
//	/html/body            the body element
//	id("main")/UL[1]/LI[3] third LI child of the first UL child of #main
func Locate(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return `id("` + id + `")`
	}
	switch n.DataAtom {
	case atom.Html:
		return "/html"
	case atom.Body:
		return "/html/body"
	}

	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode {
		return ""
	}
	prefix := Locate(parent)
	if prefix == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s[%d]", prefix, strings.ToUpper(n.Data), sameTagIndex(n))
}

// sameTagIndex is the 1-based position of n among its same-tag element siblings
func sameTagIndex(n *html.Node) int {
	ix := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			ix++
		}
	}
	return ix
}

// resolve walks path from root, returning nil when any step is missing
func resolve(root *html.Node, path string) *html.Node {
	path = strings.TrimSpace(path)
	var cur *html.Node
	var rest string

	switch {
	case strings.HasPrefix(path, `id("`):
		end := strings.Index(path, `")`)
		if end < 0 {
			return nil
		}
		cur = findByID(root, path[len(`id("`):end])
		rest = path[end+2:]
	case path == "/html/body" || strings.HasPrefix(path, "/html/body/"):
		cur = findElement(root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
		rest = strings.TrimPrefix(path, "/html/body")
	case path == "/html" || strings.HasPrefix(path, "/html/"):
		cur = findElement(root, func(n *html.Node) bool { return n.DataAtom == atom.Html })
		rest = strings.TrimPrefix(path, "/html")
	default:
		return nil
	}

	for _, step := range strings.Split(rest, "/") {
		if cur == nil {
			return nil
		}
		if step == "" {
			continue
		}
		tag, ix, ok := parseStep(step)
		if !ok {
			return nil
		}
		cur = nthChild(cur, tag, ix)
	}
	return cur
}

// parseStep splits "DIV[2]" into ("div", 2)
func parseStep(step string) (string, int, bool) {
	open := strings.IndexByte(step, '[')
	if open <= 0 || !strings.HasSuffix(step, "]") {
		return "", 0, false
	}
	ix, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || ix < 1 {
		return "", 0, false
	}
	return strings.ToLower(step[:open]), ix, true
}

func nthChild(parent *html.Node, tag string, ix int) *html.Node {
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, tag) {
			seen++
			if seen == ix {
				return c
			}
		}
	}
	return nil
}

func findByID(root *html.Node, id string) *html.Node {
	return findElement(root, func(n *html.Node) bool { return attr(n, "id") == id })
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// IsPath reports whether s is written in path syntax rather than as a
// CSS selector.
func IsPath(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, `id("`) || strings.HasPrefix(s, "/html")
}
