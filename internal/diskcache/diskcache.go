/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package diskcache is the local persisted-block tier (C9) that sits
// between internal/s3data's in-memory caches and the object store: every
// flushed chunk is written under a write/ directory, hard-linked into
// read/ once durable, and asynchronously uploaded and dropped once space
// runs short. Grounded on the teacher's internal/disk.go — a btree-ordered
// on-disk log with an LRU-like eviction discipline under one lock/cond
// pair — generalized here from one append-only WAL into a directory of
// per-chunk blob files, since S3-tiered corefs needs individually
// evictable, individually re-fetchable units rather than one contiguous
// replicated log.
package diskcache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("diskcache")

type blockKey struct {
	fsId       uint32
	inodeId    uint64
	chunkIndex int64
}

func (k blockKey) fileName() string {
	return fmt.Sprintf("%d-%d-%d.blk", k.fsId, k.inodeId, k.chunkIndex)
}

type blockEntry struct {
	key     blockKey
	size    int64
	dirty   bool // present in write/, not yet hard-linked+uploaded
	elem    *list.Element
}

// Uploader is the interface diskcache calls to drain a chunk it has
// persisted to the write/ directory into the object store, the seam
// internal/s3data's WriteCache/ObjectStore pairing implements.
type Uploader interface {
	PutObject(key string, data []byte) error
}

// Cache is the on-disk, size-bounded block cache. writeDir holds blocks not
// yet confirmed uploaded; readDir holds a hard-linked copy of every block
// kept for local re-reads. Config keys diskCacheMaxUsableSpaceBytes,
// diskCacheFullRatio and diskCacheSafeRatio (spec.md §4.8) drive the
// trimmer.
type Cache struct {
	mu    sync.Mutex
	dir   string
	entries map[blockKey]*blockEntry
	lru   *list.List
	usedBytes int64

	maxUsableBytes  int64
	fullWatermark   float64
	safeWatermark   float64

	uploadCh chan blockKey
	stopCh   chan struct{}
	upload   Uploader
	objKeyFn func(fsId uint32, inodeId uint64, chunkIndex int64) string
}

// New constructs a Cache rooted at dir (dir/write and dir/read are created
// if absent) and starts its background uploader/trimmer goroutines.
func New(dir string, maxUsableBytes int64, fullWatermark, safeWatermark float64, upload Uploader, objKeyFn func(fsId uint32, inodeId uint64, chunkIndex int64) string) (*Cache, error) {
	for _, sub := range []string{"write", "read"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, err
		}
	}
	c := &Cache{
		dir:            dir,
		entries:        make(map[blockKey]*blockEntry),
		lru:            list.New(),
		maxUsableBytes: maxUsableBytes,
		fullWatermark:  fullWatermark,
		safeWatermark:  safeWatermark,
		uploadCh:       make(chan blockKey, 1024),
		stopCh:         make(chan struct{}),
		upload:         upload,
		objKeyFn:       objKeyFn,
	}
	go c.uploadLoop()
	go c.watermarkLoop()
	return c, nil
}

func (c *Cache) Close() { close(c.stopCh) }

func (c *Cache) writePath(k blockKey) string { return filepath.Join(c.dir, "write", k.fileName()) }
func (c *Cache) readPath(k blockKey) string  { return filepath.Join(c.dir, "read", k.fileName()) }

// Write persists a full chunk buffer to write/, schedules it for upload,
// and hard-links it into read/ so this cache can serve it before the
// upload completes. Implements internal/s3data.DiskCache.
func (c *Cache) Write(fsId uint32, inodeId uint64, chunkIndex int64, offset int64, data []byte) {
	k := blockKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	if offset != 0 {
		// Partial-chunk writes go straight to read/ as a cache refresh; only
		// whole-chunk flushes from internal/s3data need durable write/ staging.
		c.refreshReadCopy(k, data)
		return
	}
	wp := c.writePath(k)
	if err := os.WriteFile(wp, data, 0644); err != nil {
		log.Errorf("Failed: Cache.Write, WriteFile, path=%v, err=%v", wp, err)
		return
	}
	rp := c.readPath(k)
	_ = os.Remove(rp)
	if err := os.Link(wp, rp); err != nil {
		log.Errorf("Failed: Cache.Write, Link, from=%v, to=%v, err=%v", wp, rp, err)
	}

	c.mu.Lock()
	c.insertLocked(k, int64(len(data)), true)
	c.mu.Unlock()

	select {
	case c.uploadCh <- k:
	default:
		log.Warnf("Dropped: Cache.Write, uploadCh full, key=%v", k)
	}
}

func (c *Cache) refreshReadCopy(k blockKey, data []byte) {
	rp := c.readPath(k)
	if err := os.WriteFile(rp, data, 0644); err != nil {
		log.Errorf("Failed: Cache.refreshReadCopy, WriteFile, path=%v, err=%v", rp, err)
		return
	}
	c.mu.Lock()
	c.insertLocked(k, int64(len(data)), false)
	c.mu.Unlock()
}

func (c *Cache) insertLocked(k blockKey, size int64, dirty bool) {
	if e, ok := c.entries[k]; ok {
		c.usedBytes += size - e.size
		e.size = size
		e.dirty = e.dirty || dirty
		c.lru.MoveToBack(e.elem)
		return
	}
	e := &blockEntry{key: k, size: size, dirty: dirty}
	e.elem = c.lru.PushBack(k)
	c.entries[k] = e
	c.usedBytes += size
}

// Read serves length bytes at offset from the read/ hard-link if present.
// Implements internal/s3data.DiskCache.
func (c *Cache) Read(fsId uint32, inodeId uint64, chunkIndex int64, offset, length int64) ([]byte, bool) {
	k := blockKey{fsId: fsId, inodeId: inodeId, chunkIndex: chunkIndex}
	c.mu.Lock()
	e, ok := c.entries[k]
	if ok {
		c.lru.MoveToBack(e.elem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	f, err := os.Open(c.readPath(k))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, false
	}
	return buf[:n], true
}

func (c *Cache) uploadLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case k := <-c.uploadCh:
			c.uploadOne(k)
		}
	}
}

func (c *Cache) uploadOne(k blockKey) {
	wp := c.writePath(k)
	data, err := os.ReadFile(wp)
	if err != nil {
		return // already trimmed or never written
	}
	if err := c.upload.PutObject(c.objKeyFn(k.fsId, k.inodeId, k.chunkIndex), data); err != nil {
		log.Errorf("Failed: Cache.uploadOne, PutObject, key=%v, err=%v", k, err)
		return
	}
	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.dirty = false
	}
	c.mu.Unlock()
	_ = os.Remove(wp) // read/ keeps the hard-linked copy for local serving
}

func (c *Cache) watermarkLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkWatermark()
		}
	}
}

// checkWatermark polls disk usage the way OnDiskLog's writers/syncing
// counters gate the teacher's WAL, but here trims cold, non-dirty entries
// once usage crosses fullWatermark, stopping once it's back under
// safeWatermark.
func (c *Cache) checkWatermark() {
	free, total, err := diskFree(c.dir)
	if err != nil {
		log.Errorf("Failed: Cache.checkWatermark, diskFree, dir=%v, err=%v", c.dir, err)
		return
	}
	used := total - free
	usable := c.maxUsableBytes
	if usable <= 0 {
		usable = total
	}
	ratio := float64(used) / float64(usable)
	if ratio < c.fullWatermark {
		return
	}
	log.Warnf("Cache.checkWatermark, usage=%v/%v (%.1f%%), trimming toward safe watermark", humanize.Bytes(uint64(used)), humanize.Bytes(uint64(usable)), ratio*100)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		free, total, err = diskFree(c.dir)
		if err != nil {
			return
		}
		if float64(total-free)/float64(usable) < c.safeWatermark {
			return
		}
		elem := c.lru.Front()
		if elem == nil {
			return
		}
		k := elem.Value.(blockKey)
		e := c.entries[k]
		if e.dirty {
			// not yet uploaded; skip past it rather than lose data
			c.lru.MoveToBack(elem)
			continue
		}
		_ = os.Remove(c.readPath(k))
		c.usedBytes -= e.size
		delete(c.entries, k)
		c.lru.Remove(elem)
	}
}

// Usage reports the cache's current occupancy and configured ceiling,
// letting a caller (internal/fs's statfs projection) fold the local
// tier's real headroom into a filesystem-wide free-space report.
func (c *Cache) Usage() (usedBytes, maxUsableBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes, c.maxUsableBytes
}

// DiskFree reports the free and total bytes of the filesystem backing dir,
// sampled the same way the trimmer samples it. internal/fs's statfs
// projection does not call it; that projection uses Usage only.
func DiskFree(dir string) (free, total int64, err error) {
	return diskFree(dir)
}

func diskFree(dir string) (free, total int64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}
	free = int64(st.Bfree) * int64(st.Bsize)
	total = int64(st.Blocks) * int64(st.Bsize)
	return free, total, nil
}
