// Package dom holds the local copy of the page that edits are replayed on
// and the path scheme used to address its elements across clients.
package dom

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrNotFound         = errors.New("element not found")
	ErrInvalidSelector  = errors.New("invalid selector")
	ErrInvalidPosition  = errors.New("invalid insert position")
	ErrInvalidAttribute = errors.New("invalid attribute name")
)

var attributeName = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)

// Document is a mutable page. All access is serialised.
type Document struct {
	mu       sync.Mutex
	original string
	doc      *goquery.Document
}

// Parse builds a document from HTML text
func Parse(source string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Document{original: source, doc: doc}, nil
}

// Load reads and parses an HTML file
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", path, err)
	}
	return Parse(string(data))
}

// Blank returns an empty page
func Blank() *Document {
	d, _ := Parse("<html><head></head><body></body></html>")
	return d
}

// HTML renders the current page
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, err := goquery.OuterHtml(d.doc.Selection.Children())
	if err != nil {
		return ""
	}
	return out
}

// View runs fn with the parsed document while holding the lock. fn must
// not keep references to it.
func (d *Document) View(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

// Reset discards every local edit
func (d *Document) Reset() error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.original))
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}
	d.mu.Lock()
	d.doc = doc
	d.mu.Unlock()
	return nil
}

// find resolves path. Callers hold the lock.
func (d *Document) find(path string) (*goquery.Selection, error) {
	n := resolve(d.doc.Get(0), path)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return d.doc.FindNodes(n), nil
}

// Resolve reports whether path addresses an element and returns its
// canonical path, which differs from path only when the element gained
// an id.
func (d *Document) Resolve(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return "", err
	}
	return Locate(sel.Get(0)), nil
}

// Select accepts a path or a CSS selector and returns the path of the
// first matching element.
func (d *Document) Select(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSelector)
	}
	if IsPath(query) {
		return d.Resolve(query)
	}

	matcher, err := cascadia.Compile(query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.FindMatcher(matcher).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, query)
	}
	path := Locate(sel.Get(0))
	if path == "" {
		return "", fmt.Errorf("%w: %s has no path", ErrNotFound, query)
	}
	return path, nil
}

// IsRoot reports whether path addresses the html or body element
func (d *Document) IsRoot(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return false
	}
	a := sel.Get(0).DataAtom
	return a == atom.Body || a == atom.Html
}

// Describe returns a short summary of the element at path
func (d *Document) Describe(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return "", err
	}
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", err
	}
	if len(out) > 120 {
		out = out[:117] + "..."
	}
	return out, nil
}

// Attr returns an attribute of the element at path
func (d *Document) Attr(path, name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return "", false
	}
	return sel.Attr(name)
}

// Text returns the text content of the element at path
func (d *Document) Text(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return "", err
	}
	return sel.Text(), nil
}

// ApplyStyle merges the recognised declarations of text into the style
// attribute of the element at path.
func (d *Document) ApplyStyle(path, text string) error {
	decls, err := ParseStyle(text)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return err
	}
	existing, _ := sel.Attr("style")
	sel.SetAttr("style", mergeStyle(existing, decls))
	return nil
}

// SetText replaces the content of the element at path with text
func (d *Document) SetText(path, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return err
	}
	sel.SetText(text)
	return nil
}

// SetAttribute sets one attribute on the element at path
func (d *Document) SetAttribute(path, name, value string) error {
	if !attributeName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidAttribute, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return err
	}
	sel.SetAttr(name, value)
	return nil
}

// InsertAdjacent parses markup and inserts it relative to the element at path
func (d *Document) InsertAdjacent(path, position, markup string) error {
	position = strings.ToLower(strings.TrimSpace(position))
	if !ValidPosition(position) {
		return fmt.Errorf("%w: %q", ErrInvalidPosition, position)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return err
	}
	target := sel.Get(0)
	if (position == BeforeBegin || position == AfterEnd) && (target.Parent == nil || target.Parent.Type != html.ElementNode) {
		return fmt.Errorf("%w: %s has no parent element", ErrInvalidPosition, path)
	}

	switch position {
	case BeforeBegin:
		sel.BeforeHtml(markup)
	case AfterBegin:
		sel.PrependHtml(markup)
	case BeforeEnd:
		sel.AppendHtml(markup)
	case AfterEnd:
		sel.AfterHtml(markup)
	}
	return nil
}

// Remove detaches the element at path
func (d *Document) Remove(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, err := d.find(path)
	if err != nil {
		return err
	}
	sel.Remove()
	return nil
}
