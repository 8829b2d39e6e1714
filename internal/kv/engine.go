/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package kv is the local key/value engine backing one metadata partition
// (C1). It exposes an ordered column family for range scans (dentry listing,
// chunk-info scans by offset) and an unordered column family for point
// lookups (inode records), a pending-writes journal so a caller can batch a
// group of puts/deletes and apply them atomically, and admission-control
// sampling of process RSS and store size the way the teacher samples disk
// usage before admitting new writes.
package kv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/spaolacci/murmur3"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("kv")

// ColumnFamily names the logical namespaces multiplexed onto one Engine.
// A partition (internal/partition) owns one Engine and addresses its tables
// through these families rather than opening one store per table.
type ColumnFamily uint8

const (
	CFInode ColumnFamily = iota
	CFDentry
	CFChunkInfo
	CFTx
	CFTrash
	numColumnFamilies
)

// Key is the engine's addressing unit: a column family tag plus the raw
// sortable key bytes. Ordering within a family is byte-lexicographic, which
// is why callers that need numeric range scans (chunk offsets, inode ids)
// big-endian-encode them before calling Put.
type Key struct {
	CF  ColumnFamily
	Raw []byte
}

func less(a, b Key) bool {
	if a.CF != b.CF {
		return a.CF < b.CF
	}
	return string(a.Raw) < string(b.Raw)
}

type kvItem struct {
	key   Key
	value []byte
}

func (i kvItem) Less(than btree.Item) bool {
	return less(i.key, than.(kvItem).key)
}

// Engine is a single-node, in-process, crash-consistent-within-process
// key/value store. It keeps everything in memory in an ordered btree.BTree
// (grounded on the teacher's use of google/btree for its on-disk log index
// in internal/disk.go) plus a murmur3-hashed shard map for the point-lookup
// fast path used by inode reads, which dominate the request mix.
type Engine struct {
	mu      sync.RWMutex
	tree    *btree.BTree
	shards  []map[string][]byte
	nshards uint32

	stats Stats

	// Admission-control watermarks (spec.md §4.1); zero disables the
	// corresponding check. Set via SetQuota, sampled by admitLocked.
	maxMemoryBytes int64
	maxDiskBytes   int64
	diskDir        string
}

// NewEngine constructs an Engine. nshards controls the fan-out of the
// unordered point-lookup shard map; the ordered btree is always a single
// instance since range scans need one global order.
func NewEngine(nshards int) *Engine {
	if nshards <= 0 {
		nshards = 16
	}
	e := &Engine{
		tree:    btree.New(32),
		shards:  make([]map[string][]byte, nshards),
		nshards: uint32(nshards),
	}
	for i := range e.shards {
		e.shards[i] = make(map[string][]byte)
	}
	return e
}

func (e *Engine) shardFor(raw []byte) map[string][]byte {
	h := murmur3.Sum32(raw)
	return e.shards[h%e.nshards]
}

// pointLookupFamily reports whether cf should be served by the sharded map
// rather than the ordered tree. Only families that are never range-scanned
// qualify; everything else must stay in the tree to preserve iteration order.
func pointLookupFamily(cf ColumnFamily) bool {
	return cf == CFInode
}

// Get returns the value stored at key, or ok=false if absent.
func (e *Engine) Get(key Key) (value []byte, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if pointLookupFamily(key.CF) {
		v, found := e.shardFor(key.Raw)[string(key.Raw)]
		return v, found
	}
	item := e.tree.Get(kvItem{key: key})
	if item == nil {
		return nil, false
	}
	return item.(kvItem).value, true
}

// SetQuota configures admission control: once sampled process RSS crosses
// maxMemoryBytes or free space under diskDir drops below maxDiskBytes,
// writes are refused with StatusResourceExhausted rather than risking OOM
// or filling the disk (spec.md §4.1). A zero limit disables that check;
// diskDir is unused when maxDiskBytes is zero.
func (e *Engine) SetQuota(maxMemoryBytes, maxDiskBytes int64, diskDir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxMemoryBytes = maxMemoryBytes
	e.maxDiskBytes = maxDiskBytes
	e.diskDir = diskDir
}

// admitLocked reports StatusResourceExhausted if a configured watermark
// would be exceeded. Caller must hold e.mu.
func (e *Engine) admitLocked() api.Status {
	if e.maxMemoryBytes > 0 {
		if rss, err := readRSS(); err == nil && rss > e.maxMemoryBytes {
			log.Warnf("Failed: Engine.admitLocked, rss=%v exceeds maxMemoryBytes=%v", rss, e.maxMemoryBytes)
			return api.StatusResourceExhausted
		}
	}
	if e.maxDiskBytes > 0 && e.diskDir != "" {
		if free, _, err := DiskFree(e.diskDir); err == nil && free < e.maxDiskBytes {
			log.Warnf("Failed: Engine.admitLocked, diskFree=%v below maxDiskBytes=%v, dir=%v", free, e.maxDiskBytes, e.diskDir)
			return api.StatusResourceExhausted
		}
	}
	return api.StatusOk
}

// Admit reports whether the engine currently has headroom to accept a new
// write, without staging one — internal/partition's write paths call this
// ahead of building a request payload it would otherwise have to discard.
func (e *Engine) Admit() api.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admitLocked()
}

// Put writes value at key, replacing any existing value. Returns
// StatusResourceExhausted instead of writing if a configured quota
// (SetQuota) is currently exceeded.
func (e *Engine) Put(key Key, value []byte) api.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.admitLocked(); st != api.StatusOk {
		return st
	}
	e.putLocked(key, value)
	return api.StatusOk
}

func (e *Engine) putLocked(key Key, value []byte) {
	if pointLookupFamily(key.CF) {
		shard := e.shardFor(key.Raw)
		if old, existed := shard[string(key.Raw)]; !existed {
			e.stats.addKeys(1)
		} else {
			e.stats.addBytes(-int64(len(old)))
		}
		shard[string(key.Raw)] = value
		e.stats.addBytes(int64(len(value)))
		return
	}
	item := kvItem{key: key, value: value}
	if old := e.tree.ReplaceOrInsert(item); old == nil {
		e.stats.addKeys(1)
	} else {
		e.stats.addBytes(-int64(len(old.(kvItem).value)))
	}
	e.stats.addBytes(int64(len(value)))
}

// Delete removes key. It is a no-op if the key does not exist.
func (e *Engine) Delete(key Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleteLocked(key)
}

func (e *Engine) deleteLocked(key Key) {
	if pointLookupFamily(key.CF) {
		shard := e.shardFor(key.Raw)
		if v, existed := shard[string(key.Raw)]; existed {
			delete(shard, string(key.Raw))
			e.stats.addKeys(-1)
			e.stats.addBytes(-int64(len(v)))
		}
		return
	}
	if old := e.tree.Delete(kvItem{key: key}); old != nil {
		e.stats.addKeys(-1)
		e.stats.addBytes(-int64(len(old.(kvItem).value)))
	}
}

// ScanPrefix visits every key in cf whose raw bytes start with prefix, in
// ascending order, until fn returns false. It is only meaningful for
// tree-backed families; calling it against CFInode returns immediately.
func (e *Engine) ScanPrefix(cf ColumnFamily, prefix []byte, fn func(raw []byte, value []byte) bool) {
	if pointLookupFamily(cf) {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pivot := kvItem{key: Key{CF: cf, Raw: prefix}}
	e.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		it := i.(kvItem)
		if it.key.CF != cf {
			return false
		}
		if len(it.key.Raw) < len(prefix) || string(it.key.Raw[:len(prefix)]) != string(prefix) {
			return false
		}
		return fn(it.key.Raw, it.value)
	})
}

// ScanRange visits every key in cf with startRaw <= key < endRaw (endRaw nil
// means unbounded), the pattern internal/partition's dentry listing and
// chunk-index scans use.
func (e *Engine) ScanRange(cf ColumnFamily, startRaw, endRaw []byte, limit int, fn func(raw []byte, value []byte) bool) {
	if pointLookupFamily(cf) {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	pivot := kvItem{key: Key{CF: cf, Raw: startRaw}}
	e.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		it := i.(kvItem)
		if it.key.CF != cf {
			return false
		}
		if endRaw != nil && string(it.key.Raw) >= string(endRaw) {
			return false
		}
		if !fn(it.key.Raw, it.value) {
			return false
		}
		n++
		return limit <= 0 || n < limit
	})
}

// Stats returns a snapshot of the engine's live key/byte counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// ClearTable deletes every key in cf whose raw bytes start with prefix in
// one call — spec.md §4.1's clear-table operation, a single range-delete by
// table-tag prefix, used to drop a whole partition's table without tearing
// down the Engine that hosts other partitions' data too.
func (e *Engine) ClearTable(cf ColumnFamily, prefix []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pointLookupFamily(cf) {
		for _, shard := range e.shards {
			for k, v := range shard {
				if len(prefix) > 0 && !bytes.HasPrefix([]byte(k), prefix) {
					continue
				}
				delete(shard, k)
				e.stats.addKeys(-1)
				e.stats.addBytes(-int64(len(v)))
			}
		}
		return
	}
	var toDelete []Key
	pivot := kvItem{key: Key{CF: cf, Raw: prefix}}
	e.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		it := i.(kvItem)
		if it.key.CF != cf {
			return false
		}
		if len(prefix) > 0 && !bytes.HasPrefix(it.key.Raw, prefix) {
			return false
		}
		toDelete = append(toDelete, it.key)
		return true
	})
	for _, k := range toDelete {
		e.deleteLocked(k)
	}
}

// Save writes every live record to path as a stream of (tag, length, bytes)
// tuples — spec.md §6's engine snapshot format: one byte column-family tag,
// a 4-byte big-endian payload length, then a payload of a 4-byte big-endian
// key length, the key, and the value. Load is its exact inverse.
func (e *Engine) Save(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	writeRecord := func(cf ColumnFamily, key, value []byte) error {
		payload := make([]byte, 4+len(key)+len(value))
		binary.BigEndian.PutUint32(payload[0:4], uint32(len(key)))
		copy(payload[4:], key)
		copy(payload[4+len(key):], value)
		if err := w.WriteByte(byte(cf)); err != nil {
			return err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	}

	var saveErr error
	e.tree.Ascend(func(i btree.Item) bool {
		it := i.(kvItem)
		if err := writeRecord(it.key.CF, it.key.Raw, it.value); err != nil {
			saveErr = err
			return false
		}
		return true
	})
	if saveErr != nil {
		return saveErr
	}
	for _, shard := range e.shards {
		for k, v := range shard {
			if err := writeRecord(CFInode, []byte(k), v); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// Load resets the engine's contents and replays a stream previously written
// by Save. Existing quota settings (SetQuota) are left untouched.
func (e *Engine) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tree = btree.New(32)
	for i := range e.shards {
		e.shards[i] = make(map[string][]byte)
	}
	e.stats = Stats{}

	for {
		tag, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return err
		}
		payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		if len(payload) < 4 {
			return fmt.Errorf("kv.Engine.Load: truncated record in %s", path)
		}
		keyLen := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)-4) < keyLen {
			return fmt.Errorf("kv.Engine.Load: truncated key in %s", path)
		}
		key := append([]byte{}, payload[4:4+keyLen]...)
		value := append([]byte{}, payload[4+keyLen:]...)
		e.putLocked(Key{CF: ColumnFamily(tag), Raw: key}, value)
	}
}
