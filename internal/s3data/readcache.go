/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package s3data

import (
	"container/list"
	"sort"
	"sync"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/partition"
)

// DiskCache is the local persisted-block cache a ReadCache consults between
// the in-memory write cache and the object store. internal/diskcache
// implements it; tests use an in-memory fake.
type DiskCache interface {
	Read(fsId uint32, inodeId uint64, chunkIndex int64, offset, length int64) ([]byte, bool)
	Write(fsId uint32, inodeId uint64, chunkIndex int64, offset int64, data []byte)
	// Usage reports the cache's current occupancy against its configured
	// ceiling, folded into internal/fs's statfs free-space projection.
	Usage() (usedBytes, maxUsableBytes int64)
}

// ChunkInfoSource answers a chunk's add/remove range list on a cache miss.
// A co-located metaserver satisfies this directly with *partition.Partition;
// a mount-point client satisfies it with an adapter that calls
// metaserver.Client.ListChunkInfo over the wire.
type ChunkInfoSource interface {
	ListChunkInfo(fsId uint32, inodeId uint64, chunkIndex int64) ([]*api.ChunkInfoMsg, api.Status)
}

type readEntry struct {
	key  chunkKey
	data []byte
	elem *list.Element
}

// ReadCache is the size-bounded LRU overlay spec.md §4.7 describes: reads
// first check the write cache (freshest, possibly not yet durable),
// then the disk cache, then fall through to the object store and its own
// LRU of recently-read whole chunks.
type ReadCache struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	chunkSize int64
	entries   map[chunkKey]*readEntry
	order     *list.List

	write     *WriteCache
	disk      DiskCache
	store     ObjectStore
	chunkInfo ChunkInfoSource
}

// NewReadCache constructs a ReadCache. chunkInfo resolves chunk-info
// metadata for a chunk so the cache knows which sequence of add/remove
// ranges to assemble into the read result (FillChunkGaps backfills any
// gaps).
func NewReadCache(maxBytes, chunkSize int64, write *WriteCache, disk DiskCache, store ObjectStore, chunkInfo ChunkInfoSource) *ReadCache {
	return &ReadCache{
		maxBytes:  maxBytes,
		chunkSize: chunkSize,
		entries:   make(map[chunkKey]*readEntry),
		order:     list.New(),
		write:     write,
		disk:      disk,
		store:     store,
		chunkInfo: chunkInfo,
	}
}

// Read returns length bytes at offset within (fsId, inodeId, chunkIndex).
// It consults, in order: the write cache's own buffered bytes for any
// sub-range they cover, the disk cache, this cache's LRU of assembled
// chunks, and finally the object store (assembling from chunk-info and
// populating the LRU on success).
func (r *ReadCache) Read(fsId uint32, inodeId uint64, chunkIndex int64, offset, length int64) ([]byte, api.Status) {
	if buf, ok := r.write.readIfBuffered(fsId, inodeId, chunkIndex, offset, length); ok {
		return buf, api.StatusOk
	}
	if buf, ok := r.disk.Read(fsId, inodeId, chunkIndex, offset, length); ok {
		return buf, api.StatusOk
	}

	k := chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	r.mu.Lock()
	if e, ok := r.entries[k]; ok {
		r.order.MoveToBack(e.elem)
		buf := sliceOrPad(e.data, offset, length)
		r.mu.Unlock()
		return buf, api.StatusOk
	}
	r.mu.Unlock()

	infos, st := r.chunkInfo.ListChunkInfo(fsId, inodeId, chunkIndex)
	if st != api.StatusOk {
		return nil, st
	}
	padded := partition.FillChunkGaps(infos, r.chunkSize)
	// Apply contributions oldest first so the newest write wins overlaps.
	sort.SliceStable(padded, func(i, j int) bool { return padded[i].Seq < padded[j].Seq })

	assembled := make([]byte, r.chunkSize)
	for _, ci := range padded {
		if ci.Zero {
			continue
		}
		objKey := chunkObjectKey(fsId, inodeId, chunkIndex, ci.Seq)
		data, err := r.store.GetObject(objKey, 0, 0)
		if err != nil {
			return nil, api.StatusInternal
		}
		// An object holds its chunk buffer from offset 0; bytes of this
		// entry's range past the object's end read as zero.
		seg := assembled[ci.OffsetInChunk:min(ci.OffsetInChunk+ci.Length, r.chunkSize)]
		n := 0
		if ci.OffsetInChunk < int64(len(data)) {
			n = copy(seg, data[ci.OffsetInChunk:])
		}
		clear(seg[n:])
	}

	r.insert(k, assembled)
	r.disk.Write(fsId, inodeId, chunkIndex, 0, assembled)
	return sliceOrPad(assembled, offset, length), api.StatusOk
}

// Invalidate drops a chunk's cached assembly, used after a write flush
// changes the chunk's persisted contents so a later read reassembles it.
func (r *ReadCache) Invalidate(fsId uint32, inodeId uint64, chunkIndex int64) {
	k := chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[k]; ok {
		r.usedBytes -= int64(len(e.data))
		r.order.Remove(e.elem)
		delete(r.entries, k)
	}
}

func (r *ReadCache) insert(k chunkKey, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[k]; ok {
		r.usedBytes -= int64(len(old.data))
		r.order.Remove(old.elem)
	}
	e := &readEntry{key: k, data: data}
	e.elem = r.order.PushBack(k)
	r.entries[k] = e
	r.usedBytes += int64(len(data))

	for r.maxBytes > 0 && r.usedBytes > r.maxBytes {
		front := r.order.Front()
		if front == nil {
			break
		}
		evictKey := front.Value.(chunkKey)
		if evictKey == k {
			break // never evict the entry we just inserted
		}
		if victim, ok := r.entries[evictKey]; ok {
			r.usedBytes -= int64(len(victim.data))
			delete(r.entries, evictKey)
		}
		r.order.Remove(front)
	}
}

// sliceOrPad returns data[offset:offset+length], padding with zeros for any
// portion of the requested range past the end of data (a chunk shorter
// than a full read due to a prior truncate or sparse tail).
func sliceOrPad(data []byte, offset, length int64) []byte {
	if offset >= int64(len(data)) {
		return make([]byte, length)
	}
	end := offset + length
	if end > int64(len(data)) {
		out := make([]byte, length)
		copy(out, data[offset:])
		return out
	}
	return append([]byte{}, data[offset:end]...)
}

// readIfBuffered serves a read directly out of the write cache's
// not-yet-flushed buffer for the sub-range it currently holds, giving
// writers read-your-writes visibility before any flush happens.
func (w *WriteCache) readIfBuffered(fsId uint32, inodeId uint64, chunkIndex int64, offset, length int64) ([]byte, bool) {
	k := chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.chunks[k]
	if !ok || int64(len(c.data)) < offset+length {
		return nil, false
	}
	return append([]byte{}, c.data[offset:offset+length]...), true
}
