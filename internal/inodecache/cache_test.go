/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package inodecache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
)

type fakeFlusher struct {
	mu          sync.Mutex
	attrFlushes int
	chunkFlushes int
}

func (f *fakeFlusher) FlushAttr(inode *api.InodeMsg) api.Status {
	f.mu.Lock()
	f.attrFlushes++
	f.mu.Unlock()
	return api.StatusOk
}

func (f *fakeFlusher) FlushChunkInfo(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
	f.mu.Lock()
	f.chunkFlushes++
	f.mu.Unlock()
	return api.StatusOk
}

func TestGetLoadsOnMissAndCachesAfter(t *testing.T) {
	f := &fakeFlusher{}
	c := New(10, f, time.Hour)
	defer c.Close()

	loads := 0
	load := func() (*api.InodeMsg, api.Status) {
		loads++
		return &api.InodeMsg{FsId: 1, InodeId: 5}, api.StatusOk
	}
	w1, st := c.Get(1, 5, load)
	assert.Equal(t, api.StatusOk, st)
	w2, st := c.Get(1, 5, load)
	assert.Equal(t, api.StatusOk, st)
	assert.Same(t, w1, w2)
	assert.Equal(t, 1, loads)
}

func TestFlushAllPersistsDirtyBits(t *testing.T) {
	f := &fakeFlusher{}
	c := New(10, f, time.Hour)
	defer c.Close()

	w, _ := c.Get(1, 5, func() (*api.InodeMsg, api.Status) {
		return &api.InodeMsg{FsId: 1, InodeId: 5}, api.StatusOk
	})
	w.MarkAttrDirty()
	w.AddChunkDelta(&api.ChunkInfoListMsg{ChunkIndex: 0, Add: []*api.ChunkInfoMsg{{ChunkId: 1}}})

	c.FlushAll()
	assert.Equal(t, 1, f.attrFlushes)
	assert.Equal(t, 1, f.chunkFlushes)

	c.FlushAll() // nothing dirty now, no extra flush calls
	assert.Equal(t, 1, f.attrFlushes)
}

func TestEvictionSkipsPinnedEntries(t *testing.T) {
	f := &fakeFlusher{}
	c := New(1, f, time.Hour)
	defer c.Close()

	w1, _ := c.Get(1, 1, func() (*api.InodeMsg, api.Status) { return &api.InodeMsg{InodeId: 1}, api.StatusOk })
	w1.OpenCnt = 1 // pinned, must survive eviction pressure

	_, _ = c.Get(1, 2, func() (*api.InodeMsg, api.Status) { return &api.InodeMsg{InodeId: 2}, api.StatusOk })

	w1Again, _ := c.Get(1, 1, func() (*api.InodeMsg, api.Status) {
		t.Fatal("pinned entry should not have been evicted")
		return nil, api.StatusInternal
	})
	assert.Same(t, w1, w1Again)
}
