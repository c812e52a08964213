// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package annotation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MinSelectedText is the shortest selection, in characters, that may be annotated.
// Shorter selections anchor ambiguously.
const MinSelectedText = 3

// Annotation is a reader's note attached to a span of page text.
//
// Prefix and Suffix hold the text immediately around the selection at
// creation time. They are only used to re-anchor the note and never change.
type Annotation struct {
	ID           string    `json:"id" yaml:"id"`
	SelectedText string    `json:"selectedText" yaml:"selected_text"`
	Note         string    `json:"note" yaml:"note"`
	Prefix       string    `json:"prefix" yaml:"prefix"`
	Suffix       string    `json:"suffix" yaml:"suffix"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
}

// Draft carries the fields a reader supplies when saving a new annotation.
type Draft struct {
	SelectedText string `json:"selectedText"`
	Note         string `json:"note"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
}

// Validate reports ErrInvalid if the draft would break a stored invariant.
func (d Draft) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(d.SelectedText)) < MinSelectedText {
		return invalidf("selected text must be at least %d characters", MinSelectedText)
	}
	if strings.TrimSpace(d.Note) == "" {
		return invalidf("note is empty")
	}
	return nil
}

// record is the persisted shape. Field names match the browser store the
// list was first written by, so existing saves load unchanged.
type record struct {
	ID           string `json:"id"`
	SelectedText string `json:"selectedText"`
	Suggestion   string `json:"suggestion"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
	CreatedAt    int64  `json:"createdAt"` // epoch millis
}

// envelope wraps the list the same way the browser persistence layer did.
type envelope struct {
	State struct {
		Suggestions []record `json:"suggestions"`
	} `json:"state"`
	Version int `json:"version"`
}

func toRecord(a *Annotation) record {
	return record{
		ID:           a.ID,
		SelectedText: a.SelectedText,
		Suggestion:   a.Note,
		Prefix:       a.Prefix,
		Suffix:       a.Suffix,
		CreatedAt:    a.CreatedAt.UnixMilli(),
	}
}

func fromRecord(r record) *Annotation {
	return &Annotation{
		ID:           r.ID,
		SelectedText: r.SelectedText,
		Note:         r.Suggestion,
		Prefix:       r.Prefix,
		Suffix:       r.Suffix,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
}
