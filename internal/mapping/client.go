/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package mapping is the client for the mapping service: the linearizable
// coordination point spec.md §1 keeps deliberately out of scope for real
// consensus, exposing only mount lifecycle, chunk-id allocation, and the
// commit_tx call that is rename's single linearization point (spec.md §4.6).
// Client is the interface internal/rename and internal/fs consume;
// FakeClient is an in-process implementation for tests, grounded on the
// same "linearizable KV, no real replication" contract the teacher's own
// coordinator.go assumes of its Raft layer.
package mapping

import (
	"fmt"
	"sync"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("mapping")

// FsInfo is the mapping service's per-filesystem metadata.
type FsInfo struct {
	FsId      uint32
	RootInode uint64
	ChunkSize int64
}

// Client is the mapping-service RPC surface named in SPEC_FULL.md §3.
type Client interface {
	MountFs(name string) (FsInfo, api.Status)
	UmountFs(fsId uint32) api.Status
	GetFsInfo(fsId uint32) (FsInfo, api.Status)
	AllocateChunkId(fsId uint32, count int) (start uint64, status api.Status)
	// AllocateInodeId reserves count consecutive inode ids for fsId, the same
	// monotonic-counter shape as AllocateChunkId but drawn from a separate
	// namespace so a chunk id and an inode id are never confused on the wire.
	AllocateInodeId(fsId uint32, count int) (start uint64, status api.Status)
	GetLatestTxId(partitionId uint32) (uint64, api.Status)
	CommitTx(batch *api.CommitTxBatchMsg) api.Status
	// ResolvePartition answers the routing query internal/metacache falls
	// back to on a cache miss: which partition (and its current leader)
	// owns inodeId's (fs_id, parent_inode_id) range.
	ResolvePartition(fsId uint32, inodeId uint64) (partitionId, copysetId uint32, leaderAddr string, status api.Status)
	// UsageInfo reports usedInodes (ids handed out so far by
	// AllocateInodeId) against maxInodes (the reserved id-space ceiling for
	// fsId), the per-fs half of statfs's inode-count projection
	// (SPEC_FULL.md's statfs free-space aggregation).
	UsageInfo(fsId uint32) (usedInodes, maxInodes uint64, status api.Status)
}

// FakeClient is a single-process, mutex-guarded stand-in for the mapping
// service used by tests and by internal/rename's own package tests. It
// enforces the same monotonic tx-id and single-linearization-point
// invariants the real service would, without any network or replication.
type FakeClient struct {
	mu sync.Mutex

	fsByName map[string]uint32
	fsInfo   map[uint32]FsInfo
	nextFsId uint32

	nextChunkId uint64
	nextInodeId uint64
	txId        map[uint32]uint64 // partitionId -> current tx id

	numPartitions uint32
	leaderAddr    map[uint32]string
}

// NewFakeClient constructs an empty FakeClient with a single partition and
// no known leader address (ResolvePartition always returns partition 0
// with an empty address) — enough for tests that only exercise CommitTx/
// GetLatestTxId directly and never route through metacache.
func NewFakeClient() *FakeClient {
	return NewFakeClientWithPartitions(1, nil)
}

// NewFakeClientWithPartitions constructs a FakeClient that distributes
// inodes across numPartitions shards, each fronted by the address
// leaderAddr(partitionId) returns; tests typically point every partition
// at one in-process metaserver.Server.
func NewFakeClientWithPartitions(numPartitions uint32, leaderAddr func(partitionId uint32) string) *FakeClient {
	c := &FakeClient{
		fsByName:      make(map[string]uint32),
		fsInfo:        make(map[uint32]FsInfo),
		nextChunkId:   1,
		nextInodeId:   2, // 1 is reserved for the filesystem root
		txId:          make(map[uint32]uint64),
		numPartitions: numPartitions,
		leaderAddr:    make(map[uint32]string),
	}
	if numPartitions == 0 {
		c.numPartitions = 1
	}
	for i := uint32(0); i < c.numPartitions; i++ {
		if leaderAddr != nil {
			c.leaderAddr[i] = leaderAddr(i)
		}
	}
	return c
}

func (c *FakeClient) MountFs(name string) (FsInfo, api.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.fsByName[name]; ok {
		return c.fsInfo[id], api.StatusOk
	}
	c.nextFsId++
	info := FsInfo{FsId: c.nextFsId, RootInode: 1, ChunkSize: 64 << 20}
	c.fsByName[name] = info.FsId
	c.fsInfo[info.FsId] = info
	log.Infof("Success: FakeClient.MountFs, name=%v, fsId=%v", name, info.FsId)
	return info, api.StatusOk
}

func (c *FakeClient) UmountFs(fsId uint32) api.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fsInfo[fsId]; !ok {
		return api.StatusNotFound
	}
	delete(c.fsInfo, fsId)
	for name, id := range c.fsByName {
		if id == fsId {
			delete(c.fsByName, name)
		}
	}
	return api.StatusOk
}

func (c *FakeClient) GetFsInfo(fsId uint32) (FsInfo, api.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.fsInfo[fsId]
	if !ok {
		return FsInfo{}, api.StatusNotFound
	}
	return info, api.StatusOk
}

// fakeMaxInodesPerFs bounds the id-space UsageInfo reports for any mounted
// filesystem — large enough that no real workload approaches it, mirroring
// how the actual mapping service would report a per-fs id-range ceiling far
// past its allocator's practical lifetime.
const fakeMaxInodesPerFs = 1 << 32

func (c *FakeClient) UsageInfo(fsId uint32) (usedInodes, maxInodes uint64, status api.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fsInfo[fsId]; !ok {
		return 0, 0, api.StatusNotFound
	}
	return c.nextInodeId, fakeMaxInodesPerFs, api.StatusOk
}

func (c *FakeClient) AllocateChunkId(fsId uint32, count int) (uint64, api.Status) {
	if count <= 0 {
		return 0, api.StatusInvalidParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.nextChunkId
	c.nextChunkId += uint64(count)
	return start, api.StatusOk
}

func (c *FakeClient) AllocateInodeId(fsId uint32, count int) (uint64, api.Status) {
	if count <= 0 {
		return 0, api.StatusInvalidParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.nextInodeId
	c.nextInodeId += uint64(count)
	return start, api.StatusOk
}

func (c *FakeClient) GetLatestTxId(partitionId uint32) (uint64, api.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txId[partitionId], api.StatusOk
}

// ResolvePartition assigns inodeId to one of numPartitions shards by a
// simple modulo hash and reports that partition's copyset (one copyset
// per partition in this fake) and last-registered leader address.
func (c *FakeClient) ResolvePartition(fsId uint32, inodeId uint64) (uint32, uint32, string, api.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid := uint32(inodeId % uint64(c.numPartitions))
	return pid, pid, c.leaderAddr[pid], api.StatusOk
}

// CommitTx atomically advances every named partition's tx-id to the
// requested value, but only if every requested value is greater than that
// partition's current tx-id — the mapping service's linearization point
// (spec.md §4.6). If any entry fails that check the whole batch is aborted
// with StatusStaleTx and no partition's tx-id changes.
func (c *FakeClient) CommitTx(batch *api.CommitTxBatchMsg) api.Status {
	if len(batch.PartitionId) != len(batch.NewTxId) {
		return api.StatusInvalidParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pid := range batch.PartitionId {
		newTx := batch.NewTxId[i]
		if newTx <= c.txId[pid] {
			return api.StatusStaleTx
		}
	}
	for i, pid := range batch.PartitionId {
		c.txId[pid] = batch.NewTxId[i]
	}
	log.Debugf("Success: FakeClient.CommitTx, batch=%v", fmt.Sprintf("%+v", batch))
	return api.StatusOk
}
