/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package s3data

import (
	"container/list"
	"sync"

	"github.com/distfs/corefs/api"
)

// chunkKey addresses one in-memory write-cache entry.
type chunkKey struct {
	fsId       uint32
	inodeId    uint64
	chunkIndex int64
}

type writeChunk struct {
	key   chunkKey
	data  []byte // sparse within [0, chunkSize); unwritten bytes read as zero
	dirty bool
	elem  *list.Element
}

// run records the offset/length of one write for later chunk-info
// generation without keeping a full per-byte bitmap.
type run struct {
	offset int64
	length int64
}

// WriteCache is the size-bounded, FIFO-by-dirty-age write-back cache keyed
// by (inode, chunk_index) that spec.md §4.7 describes: writes land here
// first, then flush to the object store and the partition's chunk-info
// table either eagerly (close-to-open) or on a background drain
// (write-back, the default).
type WriteCache struct {
	mu          sync.Mutex
	maxBytes    int64
	usedBytes   int64
	chunkSize   int64
	nextSeq     uint64
	chunks      map[chunkKey]*writeChunk
	runsByChunk map[chunkKey][]run
	order       *list.List // FIFO by dirty age, front = oldest

	store   ObjectStore
	updater func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status
}

// NewWriteCache constructs a WriteCache. updater is called on every flush
// to ship the resulting chunk-info delta to the owning partition (directly
// or, in a real deployment, through internal/executor).
func NewWriteCache(maxBytes, chunkSize int64, store ObjectStore, updater func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status) *WriteCache {
	return &WriteCache{
		maxBytes:    maxBytes,
		chunkSize:   chunkSize,
		chunks:      make(map[chunkKey]*writeChunk),
		runsByChunk: make(map[chunkKey][]run),
		order:       list.New(),
		store:       store,
		updater:     updater,
	}
}

// Write buffers buf at offsetInChunk within (fsId, inodeId, chunkIndex),
// growing the in-memory chunk buffer as needed. It evicts the oldest dirty
// chunks (FIFO) if the cache is over its byte budget after this write.
func (w *WriteCache) Write(fsId uint32, inodeId uint64, chunkIndex int64, offsetInChunk int64, buf []byte) {
	k := chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.chunks[k]
	if !ok {
		c = &writeChunk{key: k}
		c.elem = w.order.PushBack(k)
		w.chunks[k] = c
	} else {
		w.order.MoveToBack(c.elem)
	}
	need := offsetInChunk + int64(len(buf))
	if need > int64(len(c.data)) {
		grown := make([]byte, need)
		copy(grown, c.data)
		w.usedBytes += need - int64(len(c.data))
		c.data = grown
	}
	copy(c.data[offsetInChunk:], buf)
	c.dirty = true
	w.runsByChunk[k] = append(w.runsByChunk[k], run{offset: offsetInChunk, length: int64(len(buf))})

	w.evictIfOverBudgetLocked()
}

// evictIfOverBudgetLocked flushes the oldest dirty chunks until the cache
// is back under maxBytes. Caller must hold w.mu; flushing releases and
// re-acquires it since it calls out to the object store and partition.
func (w *WriteCache) evictIfOverBudgetLocked() {
	for w.maxBytes > 0 && w.usedBytes > w.maxBytes {
		elem := w.order.Front()
		if elem == nil {
			return
		}
		k := elem.Value.(chunkKey)
		w.mu.Unlock()
		w.FlushChunk(k.fsId, k.inodeId, k.chunkIndex)
		w.mu.Lock()
	}
}

// FlushChunk uploads a chunk's buffered writes as one object and ships the
// resulting chunk-info delta to the owning partition, removing the chunk
// from the write cache on success. It is safe to call even if the chunk
// isn't dirty (no-op).
func (w *WriteCache) FlushChunk(fsId uint32, inodeId uint64, chunkIndex int64) api.Status {
	k := chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	w.mu.Lock()
	c, ok := w.chunks[k]
	if !ok || !c.dirty {
		w.mu.Unlock()
		return api.StatusOk
	}
	data := c.data
	runs := w.runsByChunk[k]
	w.nextSeq++
	seq := w.nextSeq
	w.mu.Unlock()

	objKey := chunkObjectKey(fsId, inodeId, chunkIndex, seq)
	if err := w.store.PutObject(objKey, data); err != nil {
		return api.StatusInternal
	}

	delta := &api.ChunkInfoListMsg{ChunkIndex: chunkIndex}
	for _, r := range mergeRuns(runs) {
		delta.Add = append(delta.Add, &api.ChunkInfoMsg{
			ChunkId: seq, OffsetInChunk: r.offset, Length: r.length, Size: r.length, Seq: seq,
		})
	}
	if st := w.updater(fsId, inodeId, delta); st != api.StatusOk {
		return st
	}

	w.mu.Lock()
	w.usedBytes -= int64(len(c.data))
	w.order.Remove(c.elem)
	delete(w.chunks, k)
	delete(w.runsByChunk, k)
	w.mu.Unlock()
	return api.StatusOk
}

// mergeRuns coalesces overlapping/adjacent write runs so a flush emits the
// smallest possible set of contiguous chunk-info entries.
func mergeRuns(runs []run) []run {
	if len(runs) == 0 {
		return nil
	}
	sorted := append([]run{}, runs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].offset > sorted[j].offset; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	merged := []run{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.offset <= last.offset+last.length {
			if end := r.offset + r.length; end > last.offset+last.length {
				last.length = end - last.offset
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Truncate implements spec.md §4.7's truncate semantics: shrinking writes a
// zero-run covering the removed range of the chunk holding newSize;
// growing touches nothing (the gap reads as zero via FillChunkGaps).
func (w *WriteCache) Truncate(fsId uint32, inodeId uint64, chunkIndex int64, offsetInChunk int64, shrink bool) {
	if !shrink {
		return
	}
	w.mu.Lock()
	w.runsByChunk[chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}] = append(
		w.runsByChunk[chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}],
		run{offset: offsetInChunk, length: w.chunkSize - offsetInChunk},
	)
	if c, ok := w.chunks[chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}]; ok {
		if offsetInChunk < int64(len(c.data)) {
			c.data = c.data[:offsetInChunk]
		}
		c.dirty = true
	} else {
		c := &writeChunk{key: chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}, dirty: true}
		c.elem = w.order.PushBack(c.key)
		w.chunks[c.key] = c
	}
	w.mu.Unlock()
}

// FlushInode flushes every dirty chunk belonging to inodeId, the call
// enable_cto's synchronous flush path makes before returning.
func (w *WriteCache) FlushInode(fsId uint32, inodeId uint64) api.Status {
	w.mu.Lock()
	var keys []chunkKey
	for k, c := range w.chunks {
		if k.fsId == fsId && k.inodeId == inodeId && c.dirty {
			keys = append(keys, k)
		}
	}
	w.mu.Unlock()
	for _, k := range keys {
		if st := w.FlushChunk(k.fsId, k.inodeId, k.chunkIndex); st != api.StatusOk {
			return st
		}
	}
	return api.StatusOk
}
