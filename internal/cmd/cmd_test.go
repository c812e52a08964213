// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/engine"
	"github.com/mtreilly/arc-marginalia/internal/kv"
)

const manifesto = `<!DOCTYPE html><html><head><title>Manifesto</title></head><body>` +
	`<article data-annotate-root><h1>Manifesto</h1>` +
	`<p>Software should be grown by agents, not written by hand.</p>` +
	`<p>Agents read the docs so you do not have to.</p></article></body></html>`

type cli struct {
	dir     string
	content string
	store   *annotation.KVStore
	logger  *slog.Logger
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifesto.html")
	require.NoError(t, os.WriteFile(path, []byte(manifesto), 0o644))

	n := 0
	store, err := annotation.NewKVStore(kv.NewMemoryStore(), config.DefaultStorageKey,
		annotation.WithIDGenerator(func() (string, error) {
			n++
			return fmt.Sprintf("id-%08d", n), nil
		}))
	require.NoError(t, err)

	return &cli{
		dir:     dir,
		content: path,
		store:   store,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// run executes one command line against a fresh config, as main would.
func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(config.Default(), c.store, c.logger)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (c *cli) add(t *testing.T, text, note string) {
	t.Helper()
	c.mustRun(t, "-c", c.content, "annotate", "add", text, note)
}

func TestAnnotateAddAndList(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(t, "-c", c.content, "annotate", "add", "grown by agents", "Says who?")
	assert.Equal(t, "Added note 00000001 on \"grown by agents\" (offset 28-43)\n", out)

	a, err := c.store.Get("id-00000001")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Says who?", a.Note)
	assert.Equal(t, "ManifestoSoftware should be ", a.Prefix)
	assert.Equal(t, ", not written by hand.Agents r", a.Suffix)

	out = c.mustRun(t, "annotate", "list")
	assert.Contains(t, out, "00000001")
	assert.Contains(t, out, "grown by agents")
	assert.Contains(t, out, "Says who?")
	assert.Contains(t, out, "Total: 1 annotation(s)")
	assert.NotContains(t, out, "Status")

	out = c.mustRun(t, "-c", c.content, "annotate", "list")
	assert.Contains(t, out, "Status")
	assert.Contains(t, out, "anchored")

	out = c.mustRun(t, "annotate", "ls", "-o", "json")
	var list []annotation.Annotation
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "id-00000001", list[0].ID)
}

func TestAnnotateAddErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no content", []string{"annotate", "add", "grown", "note"}, "no content page"},
		{"missing text", []string{"-c", c.content, "annotate", "add", "gardened", "note"}, "not found"},
		{"too short", []string{"-c", c.content, "annotate", "add", "by", "note"}, "at least 3 characters"},
		{"blank note", []string{"-c", c.content, "annotate", "add", "grown", "   "}, "note is empty"},
		{"bad occurrence", []string{"-c", c.content, "annotate", "add", "grown", "note", "-n", "2"}, "occurs only 1 time(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	list, err := c.store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNthIndex(t *testing.T) {
	i, err := nthIndex("a b a b a", "a", 3)
	require.NoError(t, err)
	assert.Equal(t, 8, i)

	i, err = nthIndex("aaa", "aa", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, i, "overlapping occurrences count")

	_, err = nthIndex("a b a", "a", 0)
	assert.Error(t, err)
	_, err = nthIndex("a b a", " ", 1)
	assert.Error(t, err)
}

func TestAnnotateEditDeleteClear(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")
	c.add(t, "read the docs", "Which docs?")

	out := c.mustRun(t, "annotate", "edit", "00000001", "Citation needed")
	assert.Equal(t, "Updated note 00000001.\n", out)
	a, err := c.store.Get("id-00000001")
	require.NoError(t, err)
	assert.Equal(t, "Citation needed", a.Note)

	_, err = c.run(t, "annotate", "edit", "id-0", "ambiguous")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = c.run(t, "annotate", "edit", "00000001", "  ")
	assert.ErrorIs(t, err, annotation.ErrInvalid)

	_, err = c.run(t, "annotate", "rm", "nope")
	assert.ErrorIs(t, err, annotation.ErrNotFound)

	out = c.mustRun(t, "annotate", "rm", "id-00000002")
	assert.Equal(t, "Annotation deleted.\n", out)

	_, err = c.run(t, "annotate", "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out = c.mustRun(t, "annotate", "clear", "--force")
	assert.Equal(t, "Deleted 1 annotation(s).\n", out)

	out = c.mustRun(t, "annotate", "list")
	assert.Contains(t, out, "No annotations yet.")
}

func TestResolveFollowsContentEdits(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")
	c.add(t, "read the docs", "Which docs?")

	var res engine.Result
	out := c.mustRun(t, "-c", c.content, "resolve", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Spans, 2)
	assert.Empty(t, res.Unanchored)

	edited := `<html><body><article data-annotate-root><h1>Manifesto, revised</h1>` +
		`<p>Some software should be grown by agents.</p></article></body></html>`
	require.NoError(t, os.WriteFile(c.content, []byte(edited), 0o644))

	out = c.mustRun(t, "-c", c.content, "resolve", "-o", "json")
	res = engine.Result{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "id-00000001", res.Spans[0].AnnotationID)
	assert.Equal(t, []string{"id-00000002"}, res.Unanchored)

	out = c.mustRun(t, "-c", c.content, "resolve")
	assert.Contains(t, out, "grown by agents")
	assert.Contains(t, out, "00000002")
	assert.Contains(t, out, "1 anchored, 1 unanchored, 1 marker(s)")

	list, err := c.store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2, "unanchored notes stay stored")
}

func TestRender(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")

	out := c.mustRun(t, "-c", c.content, "render")
	assert.Contains(t, out, `<mark data-annotation-ids="id-00000001">grown by agents</mark>`)

	dest := filepath.Join(c.dir, "annotated.html")
	assert.Empty(t, c.mustRun(t, "-c", c.content, "render", "-o", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))

	raw, err := os.ReadFile(c.content)
	require.NoError(t, err)
	assert.Equal(t, manifesto, string(raw), "render never touches the source page")
}

func TestExport(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?\nCite it.")
	_, err := c.store.Create(annotation.Draft{SelectedText: "vanished text", Note: "Gone"})
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		out := c.mustRun(t, "-c", c.content, "export")
		var records []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &records))
		require.Len(t, records, 2)
		assert.Equal(t, "grown by agents", records[0]["selectedText"])
		assert.Equal(t, true, records[0]["anchored"])
		assert.EqualValues(t, 28, records[0]["start"])
		assert.EqualValues(t, 43, records[0]["end"])
		assert.Equal(t, false, records[1]["anchored"])
		assert.NotContains(t, records[1], "start")
	})

	t.Run("json without content", func(t *testing.T) {
		out := c.mustRun(t, "export")
		assert.NotContains(t, out, "anchored")
	})

	t.Run("yaml", func(t *testing.T) {
		out := c.mustRun(t, "export", "--format", "yaml")
		assert.Contains(t, out, "selected_text: grown by agents")
		assert.Contains(t, out, "note: Gone")
	})

	t.Run("markdown", func(t *testing.T) {
		out := c.mustRun(t, "-c", c.content, "export", "-f", "md")
		assert.Contains(t, out, "# Manifesto")
		assert.Contains(t, out, "## Notes")
		assert.Contains(t, out, "1. **\"grown by agents\"**\n   > Says who?\n   > Cite it.\n")
		assert.Contains(t, out, "2. **\"vanished text\"** _(unanchored)_\n")

		_, err := c.run(t, "export", "-f", "markdown")
		assert.ErrorIs(t, err, errNoContent)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := c.run(t, "export", "-f", "csv")
		assert.Error(t, err)
	})
}

func TestImportRoundTrip(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")
	c.add(t, "read the docs", "Which docs?")

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			file := filepath.Join(c.dir, "notes."+format)
			c.mustRun(t, "export", "-f", format, "-o", file)

			out := c.mustRun(t, "import", file)
			assert.Contains(t, out, "Imported 0 annotation(s), skipped 2 already present.")

			c.mustRun(t, "annotate", "clear", "--force")
			out = c.mustRun(t, "import", file, "--dry-run")
			assert.Contains(t, out, "Would import: \"grown by agents\"")
			list, err := c.store.List()
			require.NoError(t, err)
			assert.Empty(t, list)

			out = c.mustRun(t, "import", file)
			assert.Contains(t, out, "Imported 2 annotation(s), skipped 0 already present.")

			out = c.mustRun(t, "-c", c.content, "resolve", "-o", "json")
			var res engine.Result
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Len(t, res.Spans, 2)
		})
	}

	_, err := c.run(t, "import", filepath.Join(c.dir, "missing.json"))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")
	c.add(t, "read the docs", "Which docs?")

	out := c.mustRun(t, "search", "WHO")
	assert.Contains(t, out, "Found 1 result(s)")
	assert.Contains(t, out, "grown by agents")

	out = c.mustRun(t, "search", "docs", "-o", "json")
	var got []annotation.Annotation
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "id-00000002", got[0].ID)

	out = c.mustRun(t, "search", "nothing", "-o", "json")
	assert.Equal(t, "[]\n", out)

	out = c.mustRun(t, "search", "nothing")
	assert.Contains(t, out, `No annotations found matching "nothing"`)
}

func TestStats(t *testing.T) {
	c := newCLI(t)
	c.add(t, "grown by agents", "Says who?")
	c.add(t, "agents", "Same passage")
	_, err := c.store.Create(annotation.Draft{SelectedText: "vanished text", Note: "Gone"})
	require.NoError(t, err)

	out := c.mustRun(t, "stats", "-o", "json")
	var s stats
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Annotations)
	assert.Nil(t, s.Anchored)

	out = c.mustRun(t, "-c", c.content, "stats", "-o", "json")
	s = stats{}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.NotNil(t, s.Anchored)
	assert.Equal(t, 2, *s.Anchored)
	assert.Equal(t, 1, *s.Unanchored)
	require.NotNil(t, s.Oldest)
	require.NotNil(t, s.Newest)

	out = c.mustRun(t, "-c", c.content, "stats")
	assert.Contains(t, out, "Annotations:   3")
	assert.Contains(t, out, "Unanchored:    1")
}

func TestOutputFormatValidation(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "annotate", "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestTruncateAndShortID(t *testing.T) {
	assert.Equal(t, "a b c", truncate("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "89abcdef", shortID("01234567-89abcdef"))
	assert.Equal(t, "short", shortID("short"))
}

func TestWatchFileDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>v0</p>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), func() {
			calls.Add(1)
		})
	}()

	// Writes to a neighbour in the same directory are ignored.
	other := filepath.Join(dir, "other.html")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	i := 0
	require.Eventually(t, func() bool {
		i++
		_ = os.WriteFile(path, []byte(fmt.Sprintf("<p>v%d</p>", i)), 0o644)
		return calls.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchFile did not stop after cancel")
	}
}
