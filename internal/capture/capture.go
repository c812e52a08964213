// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package capture turns a reader's text selection into a pending
// annotation and saves it when the reader submits a note.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/content"
)

var (
	// ErrNoPopover is returned by Save when no selection is pending.
	ErrNoPopover = errors.New("no pending selection")

	// ErrEmptyNote is returned by Save when the note field is blank.
	ErrEmptyNote = errors.New("note is empty")

	// ErrSelectionTooShort is returned by Select for selections below the minimum length.
	ErrSelectionTooShort = errors.New("selection too short")

	// ErrExcluded is returned by Select when the selection starts in no-annotate content.
	ErrExcluded = errors.New("selection starts in excluded content")
)

// Rect is a client-space box, as reported by the host for a range or element.
type Rect struct {
	Left, Top, Width, Height float64
}

// Point is a DOM-style boundary point: a text node and byte offset, or an
// element and child index.
type Point struct {
	Node   *html.Node
	Offset int
}

// Selection is the reader's live selection. A nil selection or one whose
// ends coincide is collapsed.
type Selection struct {
	Start Point
	End   Point
}

// PointerUp describes a pointer release inside the content container.
type PointerUp struct {
	InPopover     bool
	Selection     *Selection
	SelectionRect Rect
	ContainerRect Rect
}

// Popover is the pending "new annotation" editor.
type Popover struct {
	X, Y         float64
	SelectedText string
	Prefix       string
	Suffix       string
	Input        string
}

// Outcome says what a pointer release did.
type Outcome int

const (
	Ignored Outcome = iota
	Closed
	Opened
)

func (o Outcome) String() string {
	switch o {
	case Closed:
		return "closed"
	case Opened:
		return "opened"
	default:
		return "ignored"
	}
}

// Capture holds the popover state for one content container.
type Capture struct {
	root       func() *html.Node
	store      annotation.Store
	contextLen int
	minLen     int
	logger     *slog.Logger

	// ClearSelection is called after a successful save so the host can
	// drop the live selection.
	ClearSelection func()

	popover *Popover
}

// New returns a Capture reading the container from root (called on every
// event, since the tree may be rebuilt between events) and saving to store.
func New(root func() *html.Node, store annotation.Store, contextLen, minLen int, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	if minLen < annotation.MinSelectedText {
		minLen = annotation.MinSelectedText
	}
	return &Capture{
		root:       root,
		store:      store,
		contextLen: contextLen,
		minLen:     minLen,
		logger:     logger.With("component", "capture"),
	}
}

// Popover returns the open popover, or nil.
func (c *Capture) Popover() *Popover {
	if c.popover == nil {
		return nil
	}
	p := *c.popover
	return &p
}

// Close discards the popover.
func (c *Capture) Close() {
	c.popover = nil
}

// PointerUp inspects the selection after a pointer release.
func (c *Capture) PointerUp(ev PointerUp) Outcome {
	if ev.InPopover {
		return Ignored
	}
	if ev.Selection == nil || collapsed(ev.Selection) {
		if c.popover != nil {
			c.popover = nil
			return Closed
		}
		return Ignored
	}

	p, err := c.Select(ev.Selection)
	if err != nil {
		c.logger.Debug("selection ignored", "reason", err)
		return Ignored
	}
	p.X = ev.SelectionRect.Left - ev.ContainerRect.Left + ev.SelectionRect.Width/2
	p.Y = ev.SelectionRect.Top - ev.ContainerRect.Top
	c.popover = p
	return Opened
}

func collapsed(s *Selection) bool {
	return s.Start.Node == s.End.Node && s.Start.Offset == s.End.Offset
}

// Select computes the pending annotation for sel without opening it.
func (c *Capture) Select(sel *Selection) (*Popover, error) {
	root := c.root()
	if root == nil {
		return nil, ErrNoPopover
	}
	if content.WithinExcluded(root, sel.Start.Node) {
		return nil, ErrExcluded
	}
	start, ok := content.OffsetOf(root, sel.Start.Node, sel.Start.Offset)
	if !ok {
		return nil, fmt.Errorf("selection start outside container")
	}
	end, ok := content.OffsetOf(root, sel.End.Node, sel.End.Offset)
	if !ok {
		return nil, fmt.Errorf("selection end outside container")
	}
	if end < start {
		start, end = end, start
	}
	return c.SelectRange(content.PlainText(root), start, end)
}

// SelectRange computes the pending annotation for plain-text offsets
// [start, end) of text. Surrounding whitespace is trimmed from the
// selection before the context is cut, so the saved context sits directly
// against the saved text.
func (c *Capture) SelectRange(text string, start, end int) (*Popover, error) {
	if start < 0 || end > len(text) || start > end {
		return nil, content.ErrOutOfRange
	}
	raw := text[start:end]
	trimmedLeft := strings.TrimLeftFunc(raw, unicode.IsSpace)
	start += len(raw) - len(trimmedLeft)
	trimmed := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
	end = start + len(trimmed)

	if utf8.RuneCountInString(trimmed) < c.minLen {
		return nil, ErrSelectionTooShort
	}
	prefix, suffix := anchor.Context(text, start, end, c.contextLen)
	return &Popover{SelectedText: trimmed, Prefix: prefix, Suffix: suffix}, nil
}

// Open makes p the pending popover, replacing any other.
func (c *Capture) Open(p *Popover) {
	cp := *p
	c.popover = &cp
}

// SetInput replaces the note text being typed.
func (c *Capture) SetInput(s string) {
	if c.popover != nil {
		c.popover.Input = s
	}
}

// KeyDown handles a key in the note field. Enter saves.
func (c *Capture) KeyDown(key string) (*annotation.Annotation, error) {
	if key != "Enter" {
		return nil, nil
	}
	return c.Save()
}

// Save stores the pending annotation, closes the popover and clears the
// live selection. A blank note creates nothing and keeps the popover open.
func (c *Capture) Save() (*annotation.Annotation, error) {
	if c.popover == nil {
		return nil, ErrNoPopover
	}
	note := strings.TrimSpace(c.popover.Input)
	if note == "" {
		return nil, ErrEmptyNote
	}
	a, err := c.store.Create(annotation.Draft{
		SelectedText: c.popover.SelectedText,
		Note:         note,
		Prefix:       c.popover.Prefix,
		Suffix:       c.popover.Suffix,
	})
	if err != nil {
		return nil, fmt.Errorf("save annotation: %w", err)
	}
	c.popover = nil
	if c.ClearSelection != nil {
		c.ClearSelection()
	}
	return a, nil
}
