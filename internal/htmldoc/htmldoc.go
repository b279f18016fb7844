// Package htmldoc reads and edits index documents: script discovery for the
// bundler, tag injection and rendering.
package htmldoc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// IgnoreAttr marks a script the bundler must leave alone.
const IgnoreAttr = "bundler-ignore"

// Parse parses a full HTML document.
func Parse(src []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Script describes a <script src> element found in a document.
type Script struct {
	Src      string
	IsModule bool
	IsAsync  bool
}

// Scripts returns the bundleable scripts of doc in document order. Scripts
// carrying IgnoreAttr are skipped and the attribute is stripped from them.
func Scripts(doc *html.Node) []Script {
	var out []Script
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Script {
			return
		}
		if hasAttr(n, IgnoreAttr) {
			removeAttr(n, IgnoreAttr)
			return
		}
		var s Script
		for _, a := range n.Attr {
			if a.Namespace != "" {
				continue
			}
			switch {
			case a.Key == "src":
				s.Src = a.Val
			case a.Key == "type" && a.Val == "module":
				s.IsModule = true
			case a.Key == "async":
				s.IsAsync = true
			}
		}
		if s.Src != "" {
			out = append(out, s)
		}
	})
	return out
}

// ImportModule returns a JS module importing every bundleable script of doc.
func ImportModule(doc *html.Node) string {
	var b strings.Builder
	for _, s := range Scripts(doc) {
		fmt.Fprintf(&b, "import %q\n", s.Src)
	}
	return b.String()
}

// AddModuleScript appends <script type="module" src=path> to <body>.
func AddModuleScript(doc *html.Node, path string) error {
	body := find(doc, atom.Body)
	if body == nil {
		return fmt.Errorf("missing <body> element")
	}
	body.AppendChild(element(atom.Script,
		html.Attribute{Key: "src", Val: path},
		html.Attribute{Key: "type", Val: "module"},
	))
	return nil
}

// AddInlineScript appends an inline classic script to <body>.
func AddInlineScript(doc *html.Node, code string) error {
	body := find(doc, atom.Body)
	if body == nil {
		return fmt.Errorf("missing <body> element")
	}
	s := element(atom.Script)
	s.AppendChild(&html.Node{Type: html.TextNode, Data: code})
	body.AppendChild(s)
	return nil
}

// AddStylesheet appends <link rel=stylesheet href=path> to <head>.
func AddStylesheet(doc *html.Node, path string) error {
	head := find(doc, atom.Head)
	if head == nil {
		return fmt.Errorf("missing <head> element")
	}
	head.AppendChild(element(atom.Link,
		html.Attribute{Key: "href", Val: path},
		html.Attribute{Key: "rel", Val: "stylesheet"},
	))
	return nil
}

// Render serializes doc.
func Render(doc *html.Node) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := html.Render(buf, doc); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil && c.Type == html.ElementNode && c.DataAtom == a {
			found = c
		}
	})
	return found
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
