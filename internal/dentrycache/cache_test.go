/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package dentrycache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
)

type fakeLoader struct {
	pages map[string][]*api.DentryMsg // startAfter -> page
}

func (f *fakeLoader) ListDentry(fsId uint32, parentInodeId uint64, startAfter string, limit int) ([]*api.DentryMsg, api.Status) {
	return f.pages[startAfter], api.StatusOk
}

func TestInsertGetDelete(t *testing.T) {
	c := New(10, &fakeLoader{}, 100, 2)
	c.InsertOrReplace(1, 10, &api.DentryMsg{Name: "a", InodeId: 100})
	entry, st := c.Get(1, 10, "a")
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 100, entry.InodeId)

	c.Delete(1, 10, "a")
	_, st = c.Get(1, 10, "a")
	assert.Equal(t, api.StatusNotFound, st)
}

func TestPrefetchWalksPagesUpToThreadBound(t *testing.T) {
	loader := &fakeLoader{pages: map[string][]*api.DentryMsg{
		"":  {{Name: "a"}, {Name: "b"}},
		"b": {{Name: "c"}, {Name: "d"}},
		"d": {{Name: "e"}, {Name: "f"}},
	}}
	c := New(10, loader, 2, 2) // page depth bound = 2
	st := c.Prefetch(context.Background(), 1, 10)
	assert.Equal(t, api.StatusOk, st)

	entries := c.List(1, 10)
	assert.Len(t, entries, 4) // only pages "" and "b" fetched (depth bound 2)
}

func TestDeleteCacheDropsWholeDirectory(t *testing.T) {
	c := New(10, &fakeLoader{}, 100, 2)
	c.InsertOrReplace(1, 10, &api.DentryMsg{Name: "a"})
	c.DeleteCache(1, 10)
	assert.Empty(t, c.List(1, 10))
}
