// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtreilly/arc-marginalia/internal/kv"
)

// KVStore implements Store by serialising the whole ordered list under a
// single key of a kv.Store. The list is loaded on first use and rewritten
// after every mutation.
type KVStore struct {
	kv     kv.Store
	key    string
	logger *slog.Logger

	now   func() time.Time
	newID func() (string, error)

	mu        sync.Mutex
	loaded    bool
	items     []*Annotation
	listeners map[int]func()
	nextSub   int
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *KVStore) { s.logger = l }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *KVStore) { s.now = now }
}

// WithIDGenerator overrides id assignment.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *KVStore) { s.newID = fn }
}

// NewKVStore creates an annotation store persisting under key in kv.
func NewKVStore(store kv.Store, key string, opts ...Option) (*KVStore, error) {
	if store == nil {
		return nil, errors.New("nil kv store")
	}
	if key == "" {
		return nil, errors.New("empty storage key")
	}
	s := &KVStore{
		kv:        store,
		key:       key,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     newUUIDv7,
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "annotation-store")
	return s, nil
}

// newUUIDv7 returns a time-ordered id, so lexical id order follows creation order.
func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ensureLoaded reads the persisted list once. A missing key starts empty;
// an unreadable value is logged and also starts empty, so a corrupt save
// never prevents the page from rendering.
func (s *KVStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := s.kv.Get(context.Background(), s.key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		s.items = nil
	case err != nil:
		return fmt.Errorf("load annotations: %w", err)
	default:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("discarding unreadable annotation list", "key", s.key, "error", err)
			break
		}
		seen := make(map[string]bool, len(env.State.Suggestions))
		for _, r := range env.State.Suggestions {
			if r.ID == "" || seen[r.ID] {
				s.logger.Warn("skipping annotation with missing or duplicate id", "id", r.ID)
				continue
			}
			seen[r.ID] = true
			s.items = append(s.items, fromRecord(r))
		}
	}
	s.loaded = true
	s.logger.Debug("annotations loaded", "key", s.key, "count", len(s.items))
	return nil
}

// persist writes items and, only on success, makes them current.
func (s *KVStore) persist(items []*Annotation) error {
	var env envelope
	env.State.Suggestions = make([]record, 0, len(items))
	for _, a := range items {
		env.State.Suggestions = append(env.State.Suggestions, toRecord(a))
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	if err := s.kv.Set(context.Background(), s.key, data); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	s.items = items
	return nil
}

// mutate runs fn under the lock, persists its result and notifies listeners.
func (s *KVStore) mutate(fn func(items []*Annotation) ([]*Annotation, error)) error {
	s.mu.Lock()
	if err := s.ensureLoaded(); err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := fn(s.items)
	if err == nil {
		err = s.persist(next)
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, l := range listeners {
		l()
	}
	return nil
}

func (s *KVStore) snapshotListeners() []func() {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

// Create appends a new annotation built from d.
func (s *KVStore) Create(d Draft) (*Annotation, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	a := &Annotation{
		ID:           id,
		SelectedText: d.SelectedText,
		Note:         strings.TrimSpace(d.Note),
		Prefix:       d.Prefix,
		Suffix:       d.Suffix,
		CreatedAt:    s.now(),
	}

	err = s.mutate(func(items []*Annotation) ([]*Annotation, error) {
		for _, existing := range items {
			if existing.ID == a.ID {
				return nil, fmt.Errorf("duplicate annotation id %s", a.ID)
			}
		}
		next := make([]*Annotation, len(items), len(items)+1)
		copy(next, items)
		return append(next, a), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("annotation created", "id", a.ID)
	clone := *a
	return &clone, nil
}

// Get returns the annotation with id, or nil if there is none.
func (s *KVStore) Get(id string) (*Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	for _, a := range s.items {
		if a.ID == id {
			clone := *a
			return &clone, nil
		}
	}
	return nil, nil
}

// List returns copies of every annotation in insertion order.
func (s *KVStore) List() ([]*Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*Annotation, 0, len(s.items))
	for _, a := range s.items {
		clone := *a
		out = append(out, &clone)
	}
	return out, nil
}

// Update replaces the note text of id. Position in the list is unchanged.
func (s *KVStore) Update(id, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return invalidf("note is empty")
	}
	return s.mutate(func(items []*Annotation) ([]*Annotation, error) {
		next := make([]*Annotation, len(items))
		found := false
		for i, a := range items {
			if a.ID == id {
				edited := *a
				edited.Note = note
				next[i] = &edited
				found = true
				continue
			}
			next[i] = a
		}
		if !found {
			return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		return next, nil
	})
}

// Delete removes id from the list.
func (s *KVStore) Delete(id string) error {
	return s.mutate(func(items []*Annotation) ([]*Annotation, error) {
		next := make([]*Annotation, 0, len(items))
		for _, a := range items {
			if a.ID != id {
				next = append(next, a)
			}
		}
		if len(next) == len(items) {
			return nil, fmt.Errorf("delete %s: %w", id, ErrNotFound)
		}
		return next, nil
	})
}

// ClearAll removes every annotation.
func (s *KVStore) ClearAll() error {
	return s.mutate(func([]*Annotation) ([]*Annotation, error) {
		return []*Annotation{}, nil
	})
}

// Subscribe registers fn to run after each successful mutation.
func (s *KVStore) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
