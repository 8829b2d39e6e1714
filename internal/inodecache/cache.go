/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package inodecache is the client-side inode cache (C4): an LRU of
// *Wrapper, each wrapping one inode's attributes plus its open-count and
// dirty-attr/dirty-chunk-info state so writes coalesce in memory before a
// batched flush. Grounded on the teacher's DirtyMgr (internal/dirty.go),
// which tracks the same kind of "dirty since last flush" bitmask for
// WorkingMeta, adapted here into a bounded LRU with an explicit flush loop
// instead of the teacher's raft-replicated dirty set.
package inodecache

import (
	"container/list"
	"sync"
	"time"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("inodecache")

// DirtyBits names which parts of a Wrapper differ from the partition's
// authoritative copy.
type DirtyBits uint32

const (
	DirtyNone       DirtyBits = 0
	DirtyAttr       DirtyBits = 1 << 0
	DirtyChunkInfo  DirtyBits = 1 << 1
)

// Wrapper is one cached inode plus its client-local dirty/open-count state.
type Wrapper struct {
	mu       sync.Mutex
	Inode    *api.InodeMsg
	OpenCnt  int32
	Dirty    DirtyBits
	pendingChunkDelta map[int64]*api.ChunkInfoListMsg // chunkIndex -> accumulated delta

	elem *list.Element
}

// MarkAttrDirty flags the wrapper's attribute fields as needing a flush.
func (w *Wrapper) MarkAttrDirty() {
	w.mu.Lock()
	w.Dirty |= DirtyAttr
	w.mu.Unlock()
}

// AddChunkDelta merges a chunk-info delta into the wrapper's pending flush
// batch, coalescing repeated writes to the same chunk index into one
// eventual RPC.
func (w *Wrapper) AddChunkDelta(delta *api.ChunkInfoListMsg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Dirty |= DirtyChunkInfo
	if w.pendingChunkDelta == nil {
		w.pendingChunkDelta = make(map[int64]*api.ChunkInfoListMsg)
	}
	existing, ok := w.pendingChunkDelta[delta.ChunkIndex]
	if !ok {
		w.pendingChunkDelta[delta.ChunkIndex] = delta
		return
	}
	existing.Add = append(existing.Add, delta.Add...)
	existing.Remove = append(existing.Remove, delta.Remove...)
}

// takeDirty snapshots and clears the wrapper's dirty state for a flush pass.
func (w *Wrapper) takeDirty() (DirtyBits, *api.InodeMsg, map[int64]*api.ChunkInfoListMsg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bits := w.Dirty
	w.Dirty = DirtyNone
	deltas := w.pendingChunkDelta
	w.pendingChunkDelta = nil
	return bits, w.Inode, deltas
}

// Flusher persists a wrapper's dirty state; internal/fs supplies an
// implementation that dispatches through internal/executor to the owning
// partition.
type Flusher interface {
	FlushAttr(inode *api.InodeMsg) api.Status
	FlushChunkInfo(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status
}

// Cache is a bounded LRU of *Wrapper with a background flush loop.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*Wrapper
	lru      *list.List // front = most recently used

	flusher      Flusher
	flushPeriod  time.Duration
	stopCh       chan struct{}
}

func key(fsId uint32, inodeId uint64) uint64 {
	return uint64(fsId)<<32 ^ inodeId
}

// New constructs a Cache with the given LRU capacity (spec.md §6
// icache_lru_size) and starts its background flush loop at flushPeriod
// (spec.md §6 flush_period_sec).
func New(capacity int, flusher Flusher, flushPeriod time.Duration) *Cache {
	c := &Cache{
		capacity:    capacity,
		entries:     make(map[uint64]*Wrapper),
		lru:         list.New(),
		flusher:     flusher,
		flushPeriod: flushPeriod,
		stopCh:      make(chan struct{}),
	}
	go c.flushLoop()
	return c
}

// Close stops the background flush loop. Callers should FlushAll first if
// they need a final synchronous drain.
func (c *Cache) Close() {
	close(c.stopCh)
}

// Get returns the cached wrapper for (fsId, inodeId), loading it via load
// on a miss and evicting the least-recently-used clean entry if the cache
// is full. Entries with OpenCnt > 0 or unflushed dirty bits are never
// evicted, matching spec.md §5's "in-use inodes are pinned" rule.
func (c *Cache) Get(fsId uint32, inodeId uint64, load func() (*api.InodeMsg, api.Status)) (*Wrapper, api.Status) {
	k := key(fsId, inodeId)
	c.mu.Lock()
	if w, ok := c.entries[k]; ok {
		c.lru.MoveToFront(w.elem)
		c.mu.Unlock()
		return w, api.StatusOk
	}
	c.mu.Unlock()

	inode, st := load()
	if st != api.StatusOk {
		return nil, st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.entries[k]; ok {
		c.lru.MoveToFront(w.elem)
		return w, api.StatusOk
	}
	w := &Wrapper{Inode: inode}
	w.elem = c.lru.PushFront(k)
	c.entries[k] = w
	c.evictLocked()
	return w, api.StatusOk
}

// evictLocked drops least-recently-used clean, unpinned entries until the
// cache is back under capacity. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	if c.capacity <= 0 {
		return
	}
	for len(c.entries) > c.capacity {
		elem := c.lru.Back()
		if elem == nil {
			return
		}
		k := elem.Value.(uint64)
		w := c.entries[k]
		w.mu.Lock()
		evictable := w.OpenCnt == 0 && w.Dirty == DirtyNone
		w.mu.Unlock()
		if !evictable {
			// walk backwards past pinned entries instead of thrashing on
			// the same tail element every call
			for elem = elem.Prev(); elem != nil; elem = elem.Prev() {
				k = elem.Value.(uint64)
				w = c.entries[k]
				w.mu.Lock()
				evictable = w.OpenCnt == 0 && w.Dirty == DirtyNone
				w.mu.Unlock()
				if evictable {
					break
				}
			}
			if elem == nil {
				return
			}
		}
		c.lru.Remove(elem)
		delete(c.entries, k)
	}
}

// Clear drops every cache entry unconditionally, used by internal/fs's
// Rename after it overwrites an existing destination.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*Wrapper)
	c.lru.Init()
}

func (c *Cache) flushLoop() {
	ticker := time.NewTicker(c.flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.FlushAll()
		}
	}
}

// FlushAll walks every cached wrapper and persists its dirty state.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	wrappers := make([]*Wrapper, 0, len(c.entries))
	for _, w := range c.entries {
		wrappers = append(wrappers, w)
	}
	c.mu.Unlock()

	for _, w := range wrappers {
		c.flushOne(w)
	}
}

func (c *Cache) flushOne(w *Wrapper) {
	bits, inode, deltas := w.takeDirty()
	if bits == DirtyNone {
		return
	}
	if bits&DirtyAttr != 0 {
		if st := c.flusher.FlushAttr(inode); st != api.StatusOk {
			log.Errorf("Failed: inodecache.flushOne, FlushAttr, inodeId=%v, status=%v", inode.InodeId, st)
			w.mu.Lock()
			w.Dirty |= DirtyAttr
			w.mu.Unlock()
		}
	}
	for _, delta := range deltas {
		if st := c.flusher.FlushChunkInfo(inode.FsId, inode.InodeId, delta); st != api.StatusOk {
			log.Errorf("Failed: inodecache.flushOne, FlushChunkInfo, inodeId=%v, chunkIndex=%v, status=%v", inode.InodeId, delta.ChunkIndex, st)
			w.AddChunkDelta(delta)
		}
	}
}
