/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package s3data

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/partition"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (f *fakeStore) PutObject(key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, data...)
	f.objects[key] = cp
	return nil
}

func (f *fakeStore) GetObject(key string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.objects[key]
	if length <= 0 {
		return append([]byte{}, data[offset:]...), nil
	}
	return append([]byte{}, data[offset:offset+length]...), nil
}

func (f *fakeStore) DeleteObject(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeDisk struct {
	mu   sync.Mutex
	data map[chunkKey][]byte
}

func newFakeDisk() *fakeDisk { return &fakeDisk{data: make(map[chunkKey][]byte)} }

func (d *fakeDisk) Read(fsId uint32, inodeId uint64, chunkIndex int64, offset, length int64) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.data[chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}]
	if !ok || int64(len(buf)) < offset+length {
		return nil, false
	}
	return append([]byte{}, buf[offset:offset+length]...), true
}

func (d *fakeDisk) Usage() (usedBytes, maxUsableBytes int64) { return 0, 0 }

func (d *fakeDisk) Write(fsId uint32, inodeId uint64, chunkIndex int64, offset int64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[chunkKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}] = append([]byte{}, data...)
}

func TestWriteCacheFlushProducesChunkInfoDelta(t *testing.T) {
	store := newFakeStore()
	var gotDelta *api.ChunkInfoListMsg
	wc := NewWriteCache(0, 4<<20, store, func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
		gotDelta = delta
		return api.StatusOk
	})
	wc.Write(1, 100, 0, 10, []byte("hello"))
	st := wc.FlushChunk(1, 100, 0)
	assert.Equal(t, api.StatusOk, st)
	assert.NotNil(t, gotDelta)
	assert.Len(t, gotDelta.Add, 1)
	assert.EqualValues(t, 10, gotDelta.Add[0].OffsetInChunk)
	assert.EqualValues(t, 5, gotDelta.Add[0].Length)
}

func TestWriteCacheEvictsOldestWhenOverBudget(t *testing.T) {
	store := newFakeStore()
	flushed := make(map[int64]bool)
	wc := NewWriteCache(8, 4<<20, store, func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
		flushed[delta.ChunkIndex] = true
		return api.StatusOk
	})
	wc.Write(1, 100, 0, 0, []byte("12345678"))
	wc.Write(1, 100, 1, 0, []byte("abcdefgh"))
	assert.True(t, flushed[0], "oldest chunk should have been evicted+flushed once budget exceeded")
}

func TestWriteCacheReadIfBufferedServesUnflushedBytes(t *testing.T) {
	store := newFakeStore()
	wc := NewWriteCache(0, 4<<20, store, func(uint32, uint64, *api.ChunkInfoListMsg) api.Status { return api.StatusOk })
	wc.Write(1, 100, 0, 0, []byte("hello world"))
	buf, ok := wc.readIfBuffered(1, 100, 0, 6, 5)
	assert.True(t, ok)
	assert.Equal(t, "world", string(buf))
}

func TestReadCacheAssemblesFromObjectStoreAndCaches(t *testing.T) {
	store := newFakeStore()
	disk := newFakeDisk()
	part := partition.New(1, 1)
	wc := NewWriteCache(0, 4<<20, store, func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
		return part.ModifyS3ChunkInfoList(fsId, inodeId, delta)
	})
	wc.Write(1, 100, 0, 0, []byte("hello"))
	assert.Equal(t, api.StatusOk, wc.FlushChunk(1, 100, 0))

	rc := NewReadCache(0, 4<<20, wc, disk, store, part)
	buf, st := rc.Read(1, 100, 0, 0, 5)
	assert.Equal(t, api.StatusOk, st)
	assert.Equal(t, "hello", string(buf))

	// Second read should be served from the disk cache the first read
	// populated, without touching the store.
	store.mu.Lock()
	delete(store.objects, chunkObjectKey(1, 100, 0, 1))
	store.mu.Unlock()
	buf2, st2 := rc.Read(1, 100, 0, 0, 5)
	assert.Equal(t, api.StatusOk, st2)
	assert.Equal(t, "hello", string(buf2))
}

func TestReadCachePadsPastEndOfData(t *testing.T) {
	out := sliceOrPad([]byte("ab"), 0, 5)
	assert.Len(t, out, 5)
	assert.Equal(t, byte('a'), out[0])
	assert.Equal(t, byte(0), out[4])
}
