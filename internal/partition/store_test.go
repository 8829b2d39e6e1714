/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
)

func TestCreateGetDeleteInode(t *testing.T) {
	p := New(1, 100)
	msg := &api.InodeMsg{FsId: 100, InodeId: 1, Mode: 0100644, Nlink: 1}
	assert.Equal(t, api.StatusOk, p.CreateInode(msg))
	assert.Equal(t, api.StatusExists, p.CreateInode(msg))

	got, st := p.GetInode(100, 1)
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 1, got.Nlink)

	st = p.UpdateInode(100, 1, func(m *api.InodeMsg) api.Status {
		m.Nlink = 2
		return api.StatusOk
	})
	assert.Equal(t, api.StatusOk, st)
	got, _ = p.GetInode(100, 1)
	assert.EqualValues(t, 2, got.Nlink)

	assert.Equal(t, api.StatusOk, p.DeleteInode(100, 1))
	_, st = p.GetInode(100, 1)
	assert.Equal(t, api.StatusNotFound, st)
}

func TestDentryLifecycleAndListing(t *testing.T) {
	p := New(1, 100)
	for _, name := range []string{"a", "b", "c"} {
		st := p.CreateDentry(&api.DentryMsg{FsId: 100, ParentInodeId: 1, Name: name, InodeId: 2})
		assert.Equal(t, api.StatusOk, st)
	}
	entries, st := p.ListDentry(100, 1, "", 0)
	assert.Equal(t, api.StatusOk, st)
	assert.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Name)

	page, _ := p.ListDentry(100, 1, "a", 1)
	assert.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Name)

	assert.Equal(t, api.StatusOk, p.DeleteDentry(100, 1, "b"))
	_, st = p.GetDentry(100, 1, "b", false)
	assert.Equal(t, api.StatusNotFound, st)
}

func TestPartitionDeletingRejectsWrites(t *testing.T) {
	p := New(1, 100)
	p.SetStatus(StatusDeleting)
	st := p.CreateInode(&api.InodeMsg{FsId: 100, InodeId: 1})
	assert.Equal(t, api.StatusPartitionDeleting, st)
}

func TestFillChunkGapsFillsGaps(t *testing.T) {
	entries := []*api.ChunkInfoMsg{
		{OffsetInChunk: 100, Length: 50},
	}
	padded := FillChunkGaps(entries, 256)
	assert.Len(t, padded, 3)
	assert.True(t, padded[0].Zero)
	assert.EqualValues(t, 0, padded[0].OffsetInChunk)
	assert.EqualValues(t, 100, padded[0].Length)
	assert.False(t, padded[1].Zero)
	assert.True(t, padded[2].Zero)
	assert.EqualValues(t, 150, padded[2].OffsetInChunk)
	assert.EqualValues(t, 106, padded[2].Length)
}

func TestModifyS3ChunkInfoListAddRemove(t *testing.T) {
	p := New(1, 100)
	add := &api.ChunkInfoListMsg{ChunkIndex: 0, Add: []*api.ChunkInfoMsg{{ChunkId: 1, OffsetInChunk: 0, Length: 10}}}
	assert.Equal(t, api.StatusOk, p.ModifyS3ChunkInfoList(100, 1, add))
	list, _ := p.ListChunkInfo(100, 1, 0)
	assert.Len(t, list, 1)

	remove := &api.ChunkInfoListMsg{ChunkIndex: 0, Remove: []uint64{1}}
	assert.Equal(t, api.StatusOk, p.ModifyS3ChunkInfoList(100, 1, remove))
	list, _ = p.ListChunkInfo(100, 1, 0)
	assert.Len(t, list, 0)
}
