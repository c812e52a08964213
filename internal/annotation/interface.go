// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package annotation holds the ordered, durable collection of reader notes.
package annotation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by mutations that name an unknown id.
	ErrNotFound = errors.New("annotation not found")

	// ErrInvalid is returned when a draft or edit would break a record invariant.
	ErrInvalid = errors.New("invalid annotation")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Store is the interface for persisting and retrieving annotations.
// List order is insertion order.
type Store interface {
	Create(d Draft) (*Annotation, error)
	Get(id string) (*Annotation, error)
	List() ([]*Annotation, error)
	Update(id, note string) error
	Delete(id string) error
	ClearAll() error

	// Subscribe registers fn to run after every persisted mutation and
	// returns a function that removes it.
	Subscribe(fn func()) (cancel func())
}
