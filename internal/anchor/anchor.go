// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package anchor relocates annotations in the current plain text using the
// context captured when they were created.
package anchor

import (
	"strings"
	"unicode/utf8"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
)

// Span is where an annotation points in one render, as byte offsets
// [Start, End) into the plain text it was resolved against.
type Span struct {
	AnnotationID string `json:"annotationId"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
}

// Len is the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Result is the outcome of resolving a set of annotations against one text.
type Result struct {
	Spans      []Span   `json:"spans"`
	Unanchored []string `json:"unanchored,omitempty"`
}

// Resolve finds a's span in text.
//
// The exact prefix+selection+suffix string wins when present. Otherwise
// every occurrence of the selected text is scored by how many characters of
// its surroundings agree with the saved context, and the best one is used;
// equal scores go to the earliest occurrence. ok is false when the selected
// text no longer occurs at all.
func Resolve(a *annotation.Annotation, text string) (Span, bool) {
	sel := a.SelectedText
	if sel == "" {
		return Span{}, false
	}

	if i := strings.Index(text, a.Prefix+sel+a.Suffix); i >= 0 {
		start := i + len(a.Prefix)
		return Span{AnnotationID: a.ID, Start: start, End: start + len(sel)}, true
	}

	best, bestScore := -1, -1
	for from := 0; from <= len(text)-len(sel); {
		j := strings.Index(text[from:], sel)
		if j < 0 {
			break
		}
		j += from
		if score := Score(text, j, j+len(sel), a.Prefix, a.Suffix); score > bestScore {
			best, bestScore = j, score
		}
		from = j + 1
	}
	if best < 0 {
		return Span{}, false
	}
	return Span{AnnotationID: a.ID, Start: best, End: best + len(sel)}, true
}

// Score counts context agreement around text[start:end]: characters of
// prefix that match the text before start when both are right-aligned, plus
// characters of suffix that match the text after end when left-aligned.
func Score(text string, start, end int, prefix, suffix string) int {
	score := 0

	before := text[:start]
	for p := prefix; p != "" && before != ""; {
		want, pw := utf8.DecodeLastRuneInString(p)
		got, bw := utf8.DecodeLastRuneInString(before)
		if want == got {
			score++
		}
		p, before = p[:len(p)-pw], before[:len(before)-bw]
	}

	after := text[end:]
	for s := suffix; s != "" && after != ""; {
		want, sw := utf8.DecodeRuneInString(s)
		got, aw := utf8.DecodeRuneInString(after)
		if want == got {
			score++
		}
		s, after = s[sw:], after[aw:]
	}
	return score
}

// ResolveAll resolves every annotation in order. Annotations whose text is
// gone are listed in Unanchored and produce no span.
func ResolveAll(anns []*annotation.Annotation, text string) Result {
	var res Result
	for _, a := range anns {
		if span, ok := Resolve(a, text); ok {
			res.Spans = append(res.Spans, span)
			continue
		}
		res.Unanchored = append(res.Unanchored, a.ID)
	}
	return res
}

// Context returns up to n characters of text immediately before start and
// immediately after end, clamped at the text bounds.
func Context(text string, start, end, n int) (prefix, suffix string) {
	start = clamp(start, 0, len(text))
	end = clamp(end, start, len(text))

	p := start
	for i := 0; i < n && p > 0; i++ {
		_, w := utf8.DecodeLastRuneInString(text[:p])
		p -= w
	}
	s := end
	for i := 0; i < n && s < len(text); i++ {
		_, w := utf8.DecodeRuneInString(text[s:])
		s += w
	}
	return text[p:start], text[end:s]
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
