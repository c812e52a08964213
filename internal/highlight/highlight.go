// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package highlight wraps resolved spans of a content tree in <mark>
// elements and removes them again.
//
// Every pass starts from an unmarked tree: Clear unwraps all markers and
// re-merges the text they split, then Apply lays down a fresh set. Spans
// that resolve to the same range share one set of <mark> elements whose
// id list names every annotation on it.
package highlight

import (
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/content"
)

// IDsAttr holds the space-separated annotation ids of a marker element.
const IDsAttr = "data-annotation-ids"

// Marker is one logical highlight: the span it covers and every <mark>
// element it was laid down as. A span crossing fragment boundaries is
// wrapped piecewise, so a marker may own several elements.
type Marker struct {
	IDs      []string
	Start    int
	End      int
	Text     string
	Elements []*html.Node
}

// Compositor owns the markers of the current pass.
type Compositor struct {
	logger  *slog.Logger
	markers []*Marker
	byID    map[string]*Marker
}

// New returns a compositor with no markers.
func New(logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{
		logger: logger.With("component", "highlight"),
		byID:   make(map[string]*Marker),
	}
}

// IsMarker reports whether n is a marker element.
func IsMarker(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Mark {
		return false
	}
	_, ok := content.Attr(n, IDsAttr)
	return ok
}

// IDsOf returns the annotation ids tagged on marker element n.
func IDsOf(n *html.Node) []string {
	v, _ := content.Attr(n, IDsAttr)
	return strings.Fields(v)
}

// EnclosingMarker returns the nearest marker element at or above n.
func EnclosingMarker(n *html.Node) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if IsMarker(p) {
			return p
		}
	}
	return nil
}

// Clear unwraps every marker element under root, merges the text it split
// and forgets the previous pass.
func (c *Compositor) Clear(root *html.Node) {
	var marks []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if IsMarker(n) {
			marks = append(marks, n)
		}
	}
	walk(root)

	// Post-order, so nested markers go before their ancestors.
	for _, m := range marks {
		content.Unwrap(m)
	}
	content.Normalize(root)

	c.markers = nil
	c.byID = make(map[string]*Marker)
}

// Apply wraps each span under root and returns the resulting markers.
// selected maps annotation id to its selected text; a span whose range no
// longer holds that text (or lies outside the plain text) is skipped for
// this pass. Spans are applied in increasing annotation id order.
func (c *Compositor) Apply(root *html.Node, spans []anchor.Span, selected map[string]string) []*Marker {
	text := content.PlainText(root)

	ordered := slices.Clone(spans)
	slices.SortStableFunc(ordered, func(a, b anchor.Span) int {
		return strings.Compare(a.AnnotationID, b.AnnotationID)
	})

	for _, span := range ordered {
		if span.Start < 0 || span.End > len(text) || span.Start >= span.End {
			c.logger.Debug("skipping stale span", "id", span.AnnotationID, "start", span.Start, "end", span.End, "text_len", len(text))
			continue
		}
		want, ok := selected[span.AnnotationID]
		if !ok {
			want = text[span.Start:span.End]
		}
		if text[span.Start:span.End] != want {
			c.logger.Debug("skipping span whose text moved", "id", span.AnnotationID)
			continue
		}
		if _, dup := c.byID[span.AnnotationID]; dup {
			continue
		}

		if m := c.find(span.Start, span.End, want); m != nil {
			c.tag(m, span.AnnotationID)
			continue
		}

		m := &Marker{Start: span.Start, End: span.End, Text: want}
		c.wrap(root, m, span.AnnotationID)
		if len(m.Elements) == 0 {
			c.logger.Debug("span is covered by other markers", "id", span.AnnotationID)
			continue
		}
		m.IDs = []string{span.AnnotationID}
		c.markers = append(c.markers, m)
		c.byID[span.AnnotationID] = m
	}
	return c.Markers()
}

// find returns the marker already covering exactly [start, end) with text.
func (c *Compositor) find(start, end int, text string) *Marker {
	for _, m := range c.markers {
		if m.Start == start && m.End == end && m.Text == text {
			return m
		}
	}
	return nil
}

// tag adds id to marker m and to each of its elements.
func (c *Compositor) tag(m *Marker, id string) {
	m.IDs = append(m.IDs, id)
	for _, el := range m.Elements {
		addID(el, id)
	}
	c.byID[id] = m
}

func addID(el *html.Node, id string) {
	ids := IDsOf(el)
	if slices.Contains(ids, id) {
		return
	}
	content.SetAttr(el, IDsAttr, strings.Join(append(ids, id), " "))
}

// wrap walks the text fragments under root and wraps the part of each that
// overlaps m's range. Text already inside a marker keeps that marker; if
// the whole of such a marker's text lies inside the range it is tagged
// with id too, otherwise it is left alone.
func (c *Compositor) wrap(root *html.Node, m *Marker, id string) {
	type piece struct {
		node       *html.Node
		start, end int
	}
	var pieces []piece
	var covered []*html.Node

	for _, f := range content.Fragments(root) {
		if f.End() <= m.Start {
			continue
		}
		if f.Start >= m.End {
			break
		}
		if mark := EnclosingMarker(f.Node); mark != nil {
			if f.Start >= m.Start && f.End() <= m.End && !slices.Contains(covered, mark) {
				covered = append(covered, mark)
			}
			continue
		}
		pieces = append(pieces, piece{
			node:  f.Node,
			start: max(0, m.Start-f.Start),
			end:   min(len(f.Node.Data), m.End-f.Start),
		})
	}

	for _, mark := range covered {
		addID(mark, id)
		m.Elements = append(m.Elements, mark)
	}

	for _, p := range pieces {
		target := p.node
		if p.start > 0 {
			target = content.SplitText(target, p.start)
		}
		if p.end-p.start < len(target.Data) {
			content.SplitText(target, p.end-p.start)
		}
		mark := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Mark,
			Data:     "mark",
			Attr:     []html.Attribute{{Key: IDsAttr, Val: id}},
		}
		target.Parent.InsertBefore(mark, target)
		target.Parent.RemoveChild(target)
		mark.AppendChild(target)
		m.Elements = append(m.Elements, mark)
	}
}

// Markers returns the markers of the current pass in application order.
func (c *Compositor) Markers() []*Marker {
	return slices.Clone(c.markers)
}

// MarkerFor returns the marker annotation id is shown in, if any.
func (c *Compositor) MarkerFor(id string) *Marker {
	return c.byID[id]
}
