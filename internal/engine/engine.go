// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package engine runs the render cycle: read the annotation store, resolve
// every annotation against the container's current text, and lay markers
// down over it. A pass runs after every store mutation and every re-render
// of the container.
package engine

import (
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/content"
	"github.com/mtreilly/arc-marginalia/internal/highlight"
)

// maxRestarts bounds how often one pass restarts because the container was
// replaced while it ran.
const maxRestarts = 8

// Result is what one pass produced.
type Result struct {
	Spans      []anchor.Span       `json:"spans"`
	Unanchored []string            `json:"unanchored"`
	Markers    []*highlight.Marker `json:"-"`
}

// Engine owns one content document and its markers. It is not safe for
// concurrent use; hosts that share it across goroutines serialise calls.
type Engine struct {
	store  annotation.Store
	comp   *highlight.Compositor
	logger *slog.Logger

	doc  *html.Node
	root *html.Node

	running bool
	dirty   bool
	last    Result
	hooks   []func(Result)
	cancel  func()
}

// New returns an engine over doc that re-renders whenever store changes.
// Call Close to stop listening.
func New(doc *html.Node, store annotation.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:  store,
		comp:   highlight.New(logger),
		logger: logger.With("component", "engine"),
	}
	e.setDocument(doc)
	e.cancel = store.Subscribe(func() {
		if _, err := e.Pass(); err != nil {
			e.logger.Warn("pass after store change failed", "error", err)
		}
	})
	return e
}

func (e *Engine) setDocument(doc *html.Node) {
	e.doc = doc
	e.root = content.Container(doc)
}

// Close stops reacting to store changes.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// OnPass registers fn to run after every completed pass.
func (e *Engine) OnPass(fn func(Result)) {
	e.hooks = append(e.hooks, fn)
}

// Document returns the whole document, markers included.
func (e *Engine) Document() *html.Node { return e.doc }

// Root returns the content container.
func (e *Engine) Root() *html.Node { return e.root }

// Text returns the container's plain text. Markers never change it.
func (e *Engine) Text() string { return content.PlainText(e.root) }

// Last returns the result of the most recent pass.
func (e *Engine) Last() Result { return e.last }

// MarkerFor returns the marker showing annotation id in the last pass.
func (e *Engine) MarkerFor(id string) *highlight.Marker {
	return e.comp.MarkerFor(id)
}

// Render writes the document with its current markers.
func (e *Engine) Render(w io.Writer) error {
	return content.Render(w, e.doc)
}

// Rerender replaces the document, as when the host rebuilds its content,
// and runs a pass over it. During a pass the replacement restarts that
// pass instead.
func (e *Engine) Rerender(doc *html.Node) (Result, error) {
	e.setDocument(doc)
	return e.Pass()
}

// Pass rebuilds every marker from the current store contents. A pass
// requested while one is running marks it dirty and returns; the running
// pass then starts over.
func (e *Engine) Pass() (Result, error) {
	if e.running {
		e.dirty = true
		return e.last, nil
	}
	e.running = true
	res, err := e.run()
	e.running = false
	if err != nil {
		return Result{}, err
	}
	for _, fn := range e.hooks {
		fn(res)
	}
	return res, nil
}

func (e *Engine) run() (Result, error) {
	for restarts := 0; ; restarts++ {
		e.dirty = false
		anns, err := e.store.List()
		if err != nil {
			return Result{}, fmt.Errorf("list annotations: %w", err)
		}
		if e.dirty && restarts < maxRestarts {
			continue
		}
		res := e.composite(anns)
		if !e.dirty || restarts >= maxRestarts {
			if e.dirty {
				e.logger.Warn("pass kept restarting, using latest result", "restarts", restarts)
			}
			e.last = res
			return res, nil
		}
		e.logger.Debug("container changed during pass, restarting")
	}
}

func (e *Engine) composite(anns []*annotation.Annotation) Result {
	e.comp.Clear(e.root)
	text := content.PlainText(e.root)

	resolved := anchor.ResolveAll(anns, text)
	selected := make(map[string]string, len(anns))
	for _, a := range anns {
		selected[a.ID] = a.SelectedText
	}
	for _, id := range resolved.Unanchored {
		e.logger.Debug("annotation unanchored", "id", id)
	}
	markers := e.comp.Apply(e.root, resolved.Spans, selected)

	e.logger.Debug("pass complete",
		"annotations", len(anns),
		"spans", len(resolved.Spans),
		"unanchored", len(resolved.Unanchored),
		"markers", len(markers))
	return Result{
		Spans:      resolved.Spans,
		Unanchored: resolved.Unanchored,
		Markers:    markers,
	}
}
