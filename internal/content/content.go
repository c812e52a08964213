// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package content exposes an HTML tree as the plain text a reader sees and
// as the text fragments that text is made of.
//
// Offsets are byte offsets into PlainText. Text inside <script>, <style>,
// raw-text elements such as <textarea> and <title>, and any element flagged
// data-no-annotate (or the older data-no-suggestions) is not part of the
// plain text.
package content

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrOutOfRange is returned when an offset falls outside the plain text.
var ErrOutOfRange = errors.New("offset out of range")

// RootAttr marks the element whose subtree is annotatable.
const RootAttr = "data-annotate-root"

// NoAnnotateAttrs opt a subtree out of selection and matching.
var NoAnnotateAttrs = []string{"data-no-annotate", "data-no-suggestions"}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// ParseString is Parse for an in-memory document.
func ParseString(s string) (*html.Node, error) {
	return html.Parse(strings.NewReader(s))
}

// Container returns the annotatable root of doc: the first element carrying
// RootAttr, else <body>, else doc itself.
func Container(doc *html.Node) *html.Node {
	if n := find(doc, func(n *html.Node) bool {
		_, ok := Attr(n, RootAttr)
		return n.Type == html.ElementNode && ok
	}); n != nil {
		return n
	}
	if n := find(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	}); n != nil {
		return n
	}
	return doc
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// Excluded reports whether n itself hides its subtree from the plain text.
func Excluded(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	// Raw text and RCDATA elements render children verbatim, so a marker
	// inside them would show up as literal tag text.
	case atom.Textarea, atom.Title, atom.Xmp, atom.Iframe, atom.Noembed, atom.Noframes, atom.Plaintext:
		return true
	}
	for _, key := range NoAnnotateAttrs {
		if _, ok := Attr(n, key); ok {
			return true
		}
	}
	return false
}

// WithinExcluded reports whether n or any ancestor up to (and including)
// root is excluded.
func WithinExcluded(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if Excluded(p) {
			return true
		}
		if p == root {
			return false
		}
	}
	return false
}

// Fragment is one text node of the plain text and where it starts.
type Fragment struct {
	Node  *html.Node
	Start int
}

// End is the offset just past the fragment.
func (f Fragment) End() int { return f.Start + len(f.Node.Data) }

// Fragments lists the text nodes under root in document order.
func Fragments(root *html.Node) []Fragment {
	var out []Fragment
	offset := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if Excluded(n) {
			return
		}
		if n.Type == html.TextNode {
			if n.Data != "" {
				out = append(out, Fragment{Node: n, Start: offset})
			}
			offset += len(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root.Type == html.TextNode {
		walk(root)
		return out
	}
	if Excluded(root) {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// PlainText is the concatenation of every fragment under root.
func PlainText(root *html.Node) string {
	var b strings.Builder
	for _, f := range Fragments(root) {
		b.WriteString(f.Node.Data)
	}
	return b.String()
}

// OffsetOf converts a DOM-style point to a plain-text offset. For a text
// node, off is a byte offset into its data; for an element, off is a child
// index. A point inside excluded content maps to the offset where that
// content sits. ok is false if node is not under root.
func OffsetOf(root, node *html.Node, off int) (int, bool) {
	var boundary *html.Node
	if node.Type != html.TextNode {
		boundary = node.FirstChild
		for i := 0; i < off && boundary != nil; i++ {
			boundary = boundary.NextSibling
		}
	}

	count := 0
	found := false
	result := 0
	var walk func(n *html.Node, excluded bool) bool
	walk = func(n *html.Node, excluded bool) bool {
		if n == node && node.Type == html.TextNode {
			found = true
			result = count
			if !excluded {
				result += min(max(off, 0), len(n.Data))
			}
			return true
		}
		if boundary != nil && n == boundary {
			found = true
			result = count
			return true
		}
		excluded = excluded || Excluded(n)
		if n.Type == html.TextNode && !excluded {
			count += len(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c, excluded) {
				return true
			}
		}
		if boundary == nil && n == node {
			// Point after the last child of an element.
			found = true
			result = count
			return true
		}
		return false
	}
	rootExcluded := Excluded(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if walk(c, rootExcluded) {
			break
		}
	}
	if !found && node == root {
		return count, true
	}
	return result, found
}

// PointAt returns the text node and in-node byte offset holding plain-text
// offset off. An offset on a fragment boundary resolves to the end of the
// earlier fragment when atEnd is true, else to the start of the later one.
func PointAt(root *html.Node, off int, atEnd bool) (*html.Node, int, error) {
	frags := Fragments(root)
	if off < 0 {
		return nil, 0, ErrOutOfRange
	}
	for i, f := range frags {
		if off < f.Start {
			continue
		}
		if off < f.End() || (off == f.End() && (atEnd || i == len(frags)-1)) {
			return f.Node, off - f.Start, nil
		}
	}
	return nil, 0, ErrOutOfRange
}

// SplitText splits text node n at byte offset off, leaving [0,off) in n
// and inserting a new sibling holding the rest, which it returns.
func SplitText(n *html.Node, off int) *html.Node {
	rest := &html.Node{Type: html.TextNode, Data: n.Data[off:]}
	n.Data = n.Data[:off]
	n.Parent.InsertBefore(rest, n.NextSibling)
	return rest
}

// Normalize merges adjacent text nodes under n and drops empty ones.
func Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode {
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				after := next.NextSibling
				n.RemoveChild(next)
				next = after
			}
			if c.Data == "" {
				n.RemoveChild(c)
			}
		} else {
			Normalize(c)
		}
		c = next
	}
}

// Unwrap replaces element n with its children.
func Unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for n.FirstChild != nil {
		c := n.FirstChild
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

// Render serialises n.
func Render(w io.Writer, n *html.Node) error {
	return html.Render(w, n)
}

// RenderString serialises n to a string.
func RenderString(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Clone deep-copies n and its subtree.
func Clone(n *html.Node) *html.Node {
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(Clone(c))
	}
	return out
}
