// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtreilly/arc-marginalia/internal/kv"
)

const testKey = "manifesto-suggestions"

func newTestStore(t *testing.T, store kv.Store) *KVStore {
	t.Helper()
	n := 0
	s, err := NewKVStore(store, testKey,
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }),
		WithIDGenerator(func() (string, error) {
			n++
			return fmt.Sprintf("id-%02d", n), nil
		}),
	)
	require.NoError(t, err)
	return s
}

func draft(sel, note string) Draft {
	return Draft{SelectedText: sel, Note: note, Prefix: "before ", Suffix: " after"}
}

func TestKVStoreCRUD(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	a, err := s.Create(draft("agents", "define this"))
	require.NoError(t, err)
	assert.Equal(t, "id-01", a.ID)
	assert.Equal(t, int64(1_700_000_000_000), a.CreatedAt.UnixMilli())

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "define this", got.Note)
	assert.Equal(t, "before ", got.Prefix)

	require.NoError(t, s.Update(a.ID, "  reworded  "))
	got, err = s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "reworded", got.Note)
	assert.Equal(t, "before ", got.Prefix, "context is immutable")

	require.NoError(t, s.Delete(a.ID))
	got, err = s.Get(a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKVStoreRejectsInvalidDrafts(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	_, err := s.Create(draft("ab", "too short"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Create(draft("  ab  ", "trimmed too short"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Create(draft("long enough", "   "))
	assert.ErrorIs(t, err, ErrInvalid)

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestKVStoreMissingIDs(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	assert.ErrorIs(t, s.Update("nope", "x"), ErrNotFound)
	assert.ErrorIs(t, s.Delete("nope"), ErrNotFound)
}

func TestKVStorePreservesInsertionOrder(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		a, err := s.Create(draft(text, "note on "+text))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	require.NoError(t, s.Update(ids[0], "edited"))
	require.NoError(t, s.Update(ids[2], "edited too"))
	require.NoError(t, s.Delete(ids[1]))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)

	// The removed id never comes back on re-listing.
	list, err = s.List()
	require.NoError(t, err)
	for _, a := range list {
		assert.NotEqual(t, ids[1], a.ID)
	}
}

func TestKVStoreListReturnsCopies(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())
	_, err := s.Create(draft("immutable", "n"))
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	list[0].Note = "mutated by caller"

	fresh, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, "n", fresh[0].Note)
}

func TestKVStorePersistsAcrossInstances(t *testing.T) {
	backing := kv.NewMemoryStore()
	s := newTestStore(t, backing)
	a, err := s.Create(draft("durable", "survives reload"))
	require.NoError(t, err)

	reopened, err := NewKVStore(backing, testKey)
	require.NoError(t, err)
	list, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, "survives reload", list[0].Note)
	assert.Equal(t, a.CreatedAt.UnixMilli(), list[0].CreatedAt.UnixMilli())
}

func TestKVStorePersistedFormat(t *testing.T) {
	backing := kv.NewMemoryStore()
	s := newTestStore(t, backing)
	_, err := s.Create(draft("format", "check"))
	require.NoError(t, err)

	data, err := backing.Get(context.Background(), testKey)
	require.NoError(t, err)

	var raw struct {
		State struct {
			Suggestions []map[string]any `json:"suggestions"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.State.Suggestions, 1)
	rec := raw.State.Suggestions[0]
	assert.Equal(t, "format", rec["selectedText"])
	assert.Equal(t, "check", rec["suggestion"])
	assert.EqualValues(t, 1_700_000_000_000, rec["createdAt"])
}

func TestKVStoreLoadsBrowserSave(t *testing.T) {
	backing := kv.NewMemoryStore()
	saved := `{"state":{"suggestions":[
		{"id":"1700000000000-abc123","selectedText":"shared context","suggestion":"expand","prefix":"the ","suffix":" layer","createdAt":1700000000000},
		{"id":"1700000000000-abc123","selectedText":"duplicate","suggestion":"dropped","prefix":"","suffix":"","createdAt":1700000000001}
	]},"version":0}`
	require.NoError(t, backing.Set(context.Background(), testKey, []byte(saved)))

	s, err := NewKVStore(backing, testKey)
	require.NoError(t, err)
	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "expand", list[0].Note)
	assert.Equal(t, "the ", list[0].Prefix)
}

func TestKVStoreCorruptSaveStartsEmpty(t *testing.T) {
	backing := kv.NewMemoryStore()
	require.NoError(t, backing.Set(context.Background(), testKey, []byte("{not json")))

	s := newTestStore(t, backing)
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestKVStoreClearAll(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())
	for _, text := range []string{"one1", "two2"} {
		_, err := s.Create(draft(text, "n"))
		require.NoError(t, err)
	}
	require.NoError(t, s.ClearAll())

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestKVStoreSubscribe(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	var calls []string
	cancel := s.Subscribe(func() { calls = append(calls, "first") })
	s.Subscribe(func() { calls = append(calls, "second") })

	a, err := s.Create(draft("watched", "n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)

	cancel()
	require.NoError(t, s.Update(a.ID, "m"))
	assert.Equal(t, []string{"first", "second", "second"}, calls)

	// Failed mutations do not notify.
	_ = s.Delete("missing")
	assert.Len(t, calls, 3)
}

type failingKV struct {
	*kv.MemoryStore
	failSet bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestKVStoreFailedPersistLeavesStateUnchanged(t *testing.T) {
	backing := &failingKV{MemoryStore: kv.NewMemoryStore()}
	s := newTestStore(t, backing)
	a, err := s.Create(draft("stable", "n"))
	require.NoError(t, err)

	backing.failSet = true
	assert.Error(t, s.Delete(a.ID))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestUUIDv7IDsSortByCreation(t *testing.T) {
	s, err := NewKVStore(kv.NewMemoryStore(), testKey)
	require.NoError(t, err)

	var prev string
	for i := 0; i < 20; i++ {
		a, err := s.Create(draft(fmt.Sprintf("text %d", i), "n"))
		require.NoError(t, err)
		assert.Greater(t, a.ID, prev)
		prev = a.ID
	}
}
