/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package metacache is the client-side meta-cache (C3): it resolves
// (fsID, inodeID) to the (partitionID, copysetID, leader) triple the task
// executor needs to address a request, tracks the highest applied Raft
// index seen per copyset and the highest tx-id seen per partition, and
// de-duplicates concurrent cache misses for the same key into one
// mapping-service round trip. It also keeps a consistent-hash ring of
// registered copysets (after the teacher's hashring-based GetGroupForMeta
// in internal/raft_group.go), but Lookup does not consult that ring: every
// miss goes to the Resolver.
package metacache

import (
	"strconv"
	"sync"

	"github.com/serialx/hashring"
	"golang.org/x/sync/singleflight"

	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("metacache")

// Location is where a partition's authoritative copy currently lives.
type Location struct {
	PartitionId uint32
	CopysetId   uint32
	LeaderAddr  string
}

// Resolver is the mapping-service lookup the cache falls back to on a miss.
// internal/fs implements this by adapting mapping.Client.ResolvePartition;
// tests supply an in-memory fake.
type Resolver interface {
	ResolveInode(fsId uint32, inodeId uint64) (Location, error)
}

// Cache is the client meta-cache. One Cache is shared by every mount-point
// goroutine talking to a given filesystem.
type Cache struct {
	resolver Resolver
	group    singleflight.Group

	mu   sync.RWMutex
	ring *hashring.HashRing
	loc  map[uint64]Location // key: cacheKey(fsId, inodeId)

	appliedIndex map[uint32]uint64 // copysetId -> highest seen applied index
	txHighWater  map[uint32]uint64 // partitionId -> highest seen tx id
}

// New constructs an empty Cache. Lookup works without any AddCopyset call:
// a cold entry is always fetched from resolver.
func New(resolver Resolver) *Cache {
	return &Cache{
		resolver:     resolver,
		ring:         hashring.New(nil),
		loc:          make(map[uint64]Location),
		appliedIndex: make(map[uint32]uint64),
		txHighWater:  make(map[uint32]uint64),
	}
}

// AddCopyset adds a copyset to the consistent-hash ring. The ring does not
// affect Lookup, which still asks the resolver on every cache miss, and
// leaderAddr is not stored.
func (c *Cache) AddCopyset(copysetId uint32, leaderAddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = c.ring.AddNode(strconv.FormatUint(uint64(copysetId), 36))
	_ = leaderAddr // leader addresses are carried in Location entries, not the ring itself
}

func cacheKey(fsId uint32, inodeId uint64) uint64 {
	return uint64(fsId)<<32 | (inodeId & 0xffffffff) ^ (inodeId >> 32)
}

// Lookup resolves an inode's current partition/copyset/leader, using the
// cache if warm, otherwise collapsing concurrent misses for the same key
// into a single Resolver.ResolveInode call via singleflight.
func (c *Cache) Lookup(fsId uint32, inodeId uint64) (Location, error) {
	key := cacheKey(fsId, inodeId)
	c.mu.RLock()
	if loc, ok := c.loc[key]; ok {
		c.mu.RUnlock()
		return loc, nil
	}
	c.mu.RUnlock()

	sfKey := strconv.FormatUint(key, 36)
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		loc, err := c.resolver.ResolveInode(fsId, inodeId)
		if err != nil {
			return Location{}, err
		}
		c.mu.Lock()
		c.loc[key] = loc
		c.mu.Unlock()
		return loc, nil
	})
	if err != nil {
		return Location{}, err
	}
	return v.(Location), nil
}

// Invalidate drops a cached location, forcing the next Lookup to consult
// the mapping service. The executor calls this on StatusRedirect.
func (c *Cache) Invalidate(fsId uint32, inodeId uint64) {
	c.mu.Lock()
	delete(c.loc, cacheKey(fsId, inodeId))
	c.mu.Unlock()
}

// RecordAppliedIndex updates the high-water mark for copysetId, ignoring
// out-of-order deliveries (spec.md §5's monotonicity requirement for stale
// detection).
func (c *Cache) RecordAppliedIndex(copysetId uint32, index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index > c.appliedIndex[copysetId] {
		c.appliedIndex[copysetId] = index
	}
}

// AppliedIndex returns the highest applied index observed for copysetId.
func (c *Cache) AppliedIndex(copysetId uint32) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appliedIndex[copysetId]
}

// RecordTxId updates the tx-id high-water mark for a partition, ignoring a
// lower value. internal/executor does not consult it; a StatusStaleTx reply
// is retried there regardless of this mark.
func (c *Cache) RecordTxId(partitionId uint32, txId uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if txId > c.txHighWater[partitionId] {
		c.txHighWater[partitionId] = txId
	}
}

// TxHighWater returns the highest tx-id observed for a partition.
func (c *Cache) TxHighWater(partitionId uint32) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txHighWater[partitionId]
}
