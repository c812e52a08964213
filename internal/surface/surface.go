// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package surface holds the reader-facing state around markers: the hover
// preview, the annotation panel with its edit and remove actions, and
// dragging the panel around.
package surface

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/capture"
	"github.com/mtreilly/arc-marginalia/internal/highlight"
)

const (
	// ExcerptLength is how many characters of selected text the panel header shows.
	ExcerptLength = 60

	// PanelGap is the vertical distance between a marker's bottom edge and its panel.
	PanelGap = 8.0
)

// Modifier is a bitmask of keyboard modifiers held during a key press.
type Modifier uint8

const (
	Shift Modifier = 1 << iota
	Ctrl
	Alt
	Meta
)

// Preview is the hover tooltip over a marker.
type Preview struct {
	X, Y  float64
	Count int
	Text  string
	// HTML is the note rendered from Markdown and sanitised. Empty when
	// Count > 1.
	HTML string
}

// Panel is the open annotation list for one marker.
type Panel struct {
	X, Y    float64
	IDs     []string
	Header  string
	Editing string
	Draft   string
}

// Surface is the interaction state for one content container. It is not
// safe for concurrent use.
type Surface struct {
	store  annotation.Store
	logger *slog.Logger
	policy *bluemonday.Policy

	preview *Preview
	panel   *Panel

	dragging         bool
	dragX, dragY     float64
	originX, originY float64
}

// New returns a Surface acting on store.
func New(store annotation.Store, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		store:  store,
		logger: logger.With("component", "surface"),
		policy: bluemonday.UGCPolicy(),
	}
}

// Preview returns the current hover preview, or nil.
func (s *Surface) Preview() *Preview {
	if s.preview == nil {
		return nil
	}
	p := *s.preview
	return &p
}

// Panel returns the open panel, or nil.
func (s *Surface) Panel() *Panel {
	if s.panel == nil {
		return nil
	}
	p := *s.panel
	p.IDs = slices.Clone(s.panel.IDs)
	return &p
}

// Dragging reports whether a panel drag is in progress.
func (s *Surface) Dragging() bool { return s.dragging }

// Hover shows the preview for marker element el.
func (s *Surface) Hover(el *html.Node, markerRect, containerRect capture.Rect) *Preview {
	ids := highlight.IDsOf(el)
	if !highlight.IsMarker(el) || len(ids) == 0 {
		return nil
	}
	p, err := s.PreviewFor(ids)
	if err != nil {
		s.logger.Warn("preview failed", "ids", ids, "error", err)
		return nil
	}
	if p == nil {
		return nil
	}
	p.X = markerRect.Left - containerRect.Left + markerRect.Width/2
	p.Y = markerRect.Top - containerRect.Top
	s.preview = p
	return s.Preview()
}

// PreviewFor builds the preview for a marker tagged with ids, without
// geometry. It returns nil if none of the ids exist.
func (s *Surface) PreviewFor(ids []string) (*Preview, error) {
	if len(ids) > 1 {
		return &Preview{Count: len(ids), Text: fmt.Sprintf("%d notes — click to view", len(ids))}, nil
	}
	a, err := s.store.Get(ids[0])
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	return &Preview{Count: 1, Text: a.Note, HTML: s.RenderNote(a.Note)}, nil
}

// Leave hides the hover preview.
func (s *Surface) Leave() {
	s.preview = nil
}

// RenderNote renders a note's Markdown to sanitised HTML.
func (s *Surface) RenderNote(note string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(note), &buf); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		return html.EscapeString(note)
	}
	return string(s.policy.SanitizeBytes(buf.Bytes()))
}

// Click opens the panel for marker element el, anchored below it. Ids
// that no longer exist are left out; if none remain no panel opens.
func (s *Surface) Click(el *html.Node, markerRect, containerRect capture.Rect) (*Panel, error) {
	if !highlight.IsMarker(el) {
		return nil, nil
	}
	var ids []string
	header := ""
	for _, id := range highlight.IDsOf(el) {
		a, err := s.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("open panel: %w", err)
		}
		if a == nil {
			continue
		}
		if header == "" {
			header = Excerpt(a.SelectedText, ExcerptLength)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	s.preview = nil
	s.dragging = false
	s.panel = &Panel{
		X:      markerRect.Left - containerRect.Left,
		Y:      markerRect.Top + markerRect.Height - containerRect.Top + PanelGap,
		IDs:    ids,
		Header: header,
	}
	return s.Panel(), nil
}

// ClickOutside closes the panel. Hosts call it for clicks that hit
// neither the panel nor a marker.
func (s *Surface) ClickOutside() {
	s.closePanel()
}

func (s *Surface) closePanel() {
	s.panel = nil
	s.dragging = false
}

// Entries returns the annotations listed in the open panel.
func (s *Surface) Entries() ([]*annotation.Annotation, error) {
	if s.panel == nil {
		return nil, nil
	}
	out := make([]*annotation.Annotation, 0, len(s.panel.IDs))
	for _, id := range s.panel.IDs {
		a, err := s.store.Get(id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// BeginEdit switches panel entry id into editing mode with its current note.
func (s *Surface) BeginEdit(id string) error {
	if s.panel == nil || !slices.Contains(s.panel.IDs, id) {
		return fmt.Errorf("edit %s: %w", id, annotation.ErrNotFound)
	}
	a, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("edit %s: %w", id, annotation.ErrNotFound)
	}
	s.panel.Editing = id
	s.panel.Draft = a.Note
	return nil
}

// SetDraft replaces the text of the entry being edited.
func (s *Surface) SetDraft(text string) {
	if s.panel != nil && s.panel.Editing != "" {
		s.panel.Draft = text
	}
}

// KeyDown handles a key in the edit field. Enter with no modifier commits,
// Shift+Enter adds a newline and Escape cancels. A failed commit leaves
// the entry in editing mode.
func (s *Surface) KeyDown(key string, mods Modifier) error {
	if s.panel == nil || s.panel.Editing == "" {
		return nil
	}
	switch {
	case key == "Escape":
		s.panel.Editing, s.panel.Draft = "", ""
	case key == "Enter" && mods == Shift:
		s.panel.Draft += "\n"
	case key == "Enter" && mods == 0:
		return s.Commit()
	}
	return nil
}

// Commit saves the draft of the entry being edited.
func (s *Surface) Commit() error {
	if s.panel == nil || s.panel.Editing == "" {
		return nil
	}
	id := s.panel.Editing
	if err := s.store.Update(id, s.panel.Draft); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if s.panel != nil {
		s.panel.Editing, s.panel.Draft = "", ""
	}
	return nil
}

// Remove deletes annotation id and drops it from the panel, closing the
// panel once it lists nothing.
func (s *Surface) Remove(id string) error {
	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	s.drop(id)
	return nil
}

func (s *Surface) drop(id string) {
	if s.panel == nil {
		return
	}
	s.panel.IDs = slices.DeleteFunc(s.panel.IDs, func(x string) bool { return x == id })
	if s.panel.Editing == id {
		s.panel.Editing, s.panel.Draft = "", ""
	}
	if len(s.panel.IDs) == 0 {
		s.closePanel()
	}
}

// Sync drops panel entries whose annotations are gone from the store.
// Hosts call it after each render pass.
func (s *Surface) Sync() error {
	if s.panel == nil {
		return nil
	}
	for _, id := range slices.Clone(s.panel.IDs) {
		a, err := s.store.Get(id)
		if err != nil {
			return err
		}
		if a == nil {
			s.drop(id)
		}
	}
	return nil
}

// PointerDown starts a panel drag when pressed on the header, unless the
// press landed on one of its controls.
func (s *Surface) PointerDown(x, y float64, onHeader, onControl bool) bool {
	if s.panel == nil || !onHeader || onControl {
		return false
	}
	s.dragging = true
	s.dragX, s.dragY = x, y
	s.originX, s.originY = s.panel.X, s.panel.Y
	return true
}

// PointerMove moves a dragged panel by the pointer delta since PointerDown.
func (s *Surface) PointerMove(x, y float64) {
	if !s.dragging || s.panel == nil {
		return
	}
	s.panel.X = s.originX + x - s.dragX
	s.panel.Y = s.originY + y - s.dragY
}

// PointerUp ends a drag.
func (s *Surface) PointerUp() {
	s.dragging = false
}

// Excerpt shortens text to at most n characters, marking a cut with "…".
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimRight(string(r[:n]), " ") + "…"
}
