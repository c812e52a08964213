// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/content"
	"github.com/mtreilly/arc-marginalia/internal/kv"
)

const page = `<main data-annotate-root><p>The gateway routes agents to tools.</p><p data-no-annotate>Skip me please</p><p>Second paragraph here.</p></main>`

type fixture struct {
	root    *html.Node
	first   *html.Node
	skipped *html.Node
	last    *html.Node
	store   *annotation.KVStore
	cap     *Capture
	cleared int
}

func setup(t *testing.T) *fixture {
	t.Helper()
	doc, err := content.ParseString(page)
	require.NoError(t, err)
	root := content.Container(doc)

	store, err := annotation.NewKVStore(kv.NewMemoryStore(), "test")
	require.NoError(t, err)

	f := &fixture{
		root:    root,
		first:   root.FirstChild.FirstChild,
		skipped: root.FirstChild.NextSibling.FirstChild,
		last:    root.LastChild.FirstChild,
		store:   store,
	}
	f.cap = New(func() *html.Node { return root }, store, 10, annotation.MinSelectedText, nil)
	f.cap.ClearSelection = func() { f.cleared++ }
	return f
}

func sel(startNode *html.Node, startOff int, endNode *html.Node, endOff int) *Selection {
	return &Selection{Start: Point{startNode, startOff}, End: Point{endNode, endOff}}
}

func TestPointerUpOpensPopover(t *testing.T) {
	f := setup(t)

	out := f.cap.PointerUp(PointerUp{
		Selection:     sel(f.first, 12, f.first, 18),
		SelectionRect: Rect{Left: 150, Top: 220, Width: 40, Height: 18},
		ContainerRect: Rect{Left: 100, Top: 200, Width: 600, Height: 800},
	})
	require.Equal(t, Opened, out)

	p := f.cap.Popover()
	require.NotNil(t, p)
	assert.Equal(t, "routes", p.SelectedText)
	assert.Equal(t, "e gateway ", p.Prefix)
	assert.Equal(t, " agents to", p.Suffix)
	assert.Equal(t, 70.0, p.X)
	assert.Equal(t, 20.0, p.Y)
}

func TestSelectionIsTrimmedWithContext(t *testing.T) {
	f := setup(t)

	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 11, f.first, 19)}))
	p := f.cap.Popover()
	assert.Equal(t, "routes", p.SelectedText)
	assert.Equal(t, "e gateway ", p.Prefix)
	assert.Equal(t, " agents to", p.Suffix)

	f.cap.SetInput("check this")
	a, err := f.cap.Save()
	require.NoError(t, err)

	span, ok := anchor.Resolve(a, content.PlainText(f.root))
	require.True(t, ok)
	assert.Equal(t, 12, span.Start)
	assert.Equal(t, 18, span.End)
}

func TestSelectionAcrossExcludedContent(t *testing.T) {
	f := setup(t)

	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 29, f.last, 6)}))
	assert.Equal(t, "tools.Second", f.cap.Popover().SelectedText)
}

func TestBackwardSelection(t *testing.T) {
	f := setup(t)

	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 18, f.first, 12)}))
	assert.Equal(t, "routes", f.cap.Popover().SelectedText)
}

func TestPointerUpIgnored(t *testing.T) {
	tests := []struct {
		name string
		ev   func(f *fixture) PointerUp
	}{
		{"too short", func(f *fixture) PointerUp { return PointerUp{Selection: sel(f.first, 12, f.first, 14)} }},
		{"short after trim", func(f *fixture) PointerUp { return PointerUp{Selection: sel(f.first, 11, f.first, 14)} }},
		{"starts in excluded", func(f *fixture) PointerUp { return PointerUp{Selection: sel(f.skipped, 0, f.last, 6)} }},
		{"collapsed", func(f *fixture) PointerUp { return PointerUp{Selection: sel(f.first, 4, f.first, 4)} }},
		{"no selection", func(f *fixture) PointerUp { return PointerUp{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			assert.Equal(t, Ignored, f.cap.PointerUp(tt.ev(f)))
			assert.Nil(t, f.cap.Popover())
		})
	}
}

func TestCollapsedSelectionClosesPopover(t *testing.T) {
	f := setup(t)
	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 12, f.first, 18)}))

	assert.Equal(t, Closed, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 3, f.first, 3)}))
	assert.Nil(t, f.cap.Popover())
}

func TestPointerUpInsidePopoverKeepsState(t *testing.T) {
	f := setup(t)
	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 12, f.first, 18)}))
	f.cap.SetInput("draft")

	assert.Equal(t, Ignored, f.cap.PointerUp(PointerUp{InPopover: true}))
	require.NotNil(t, f.cap.Popover())
	assert.Equal(t, "draft", f.cap.Popover().Input)
}

func TestSaveEmptyNoteKeepsPopover(t *testing.T) {
	f := setup(t)
	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 12, f.first, 18)}))
	f.cap.SetInput("   ")

	_, err := f.cap.KeyDown("Enter")
	assert.ErrorIs(t, err, ErrEmptyNote)
	assert.NotNil(t, f.cap.Popover())
	assert.Zero(t, f.cleared)

	list, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEnterSavesAndCloses(t *testing.T) {
	f := setup(t)
	require.Equal(t, Opened, f.cap.PointerUp(PointerUp{Selection: sel(f.first, 12, f.first, 18)}))

	a, err := f.cap.KeyDown("x")
	assert.NoError(t, err)
	assert.Nil(t, a)

	f.cap.SetInput("  who decides the routing?  ")
	a, err = f.cap.KeyDown("Enter")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "who decides the routing?", a.Note)
	assert.Equal(t, "routes", a.SelectedText)
	assert.Nil(t, f.cap.Popover())
	assert.Equal(t, 1, f.cleared)

	list, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestSaveWithoutPopover(t *testing.T) {
	f := setup(t)
	_, err := f.cap.Save()
	assert.ErrorIs(t, err, ErrNoPopover)
}

func TestSelectRangeBounds(t *testing.T) {
	f := setup(t)
	text := content.PlainText(f.root)

	_, err := f.cap.SelectRange(text, 5, len(text)+1)
	assert.ErrorIs(t, err, content.ErrOutOfRange)

	p, err := f.cap.SelectRange(text, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "The", p.SelectedText)
	assert.Empty(t, p.Prefix)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "opened", Opened.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "ignored", Ignored.String())
}
