/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package fs is the client-side POSIX operation surface (the vocabulary
// spec.md §6 names: lookup, open, create, mknod, mkdir, unlink, rmdir,
// opendir, readdir, releasedir, rename, getattr, setattr, symlink, link,
// readlink, read, write, release, fsync, flush, getxattr, listxattr,
// statfs). It is the glue layer wiring internal/metacache,
// internal/executor, internal/inodecache, internal/dentrycache and
// internal/s3data into one client a FUSE shim (cmd/corefs-mount) drives.
// Cross-shard rename coordination and directory summary bookkeeping live
// server-side in internal/metaserver, reached here over one RPC apiece.
// Grounded on the teacher's FileSystemMonitorClient/fs.go, which plays the
// exact same role over objcache's raft-replicated meta store.
package fs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
	"github.com/distfs/corefs/internal/dentrycache"
	"github.com/distfs/corefs/internal/executor"
	"github.com/distfs/corefs/internal/inodecache"
	"github.com/distfs/corefs/internal/mapping"
	"github.com/distfs/corefs/internal/metacache"
	"github.com/distfs/corefs/internal/metaserver"
	"github.com/distfs/corefs/internal/s3data"
)

var log = common.GetLogger("mount")

// mappingResolver adapts mapping.Client's ResolvePartition into the
// metacache.Resolver interface, folding the copyset/leader triple it
// returns into a metacache.Location.
type mappingResolver struct {
	client mapping.Client
}

func (r mappingResolver) ResolveInode(fsId uint32, inodeId uint64) (metacache.Location, error) {
	pid, cid, addr, st := r.client.ResolvePartition(fsId, inodeId)
	if st != api.StatusOk {
		return metacache.Location{}, errors.New(st.String())
	}
	return metacache.Location{PartitionId: pid, CopysetId: cid, LeaderAddr: addr}, nil
}

// Client is one mounted filesystem's client-side state.
type Client struct {
	fsInfo  mapping.FsInfo
	mapping mapping.Client
	cache   *metacache.Cache
	exec    *executor.Executor

	inodes   *inodecache.Cache
	dentries *dentrycache.Cache
	write    *s3data.WriteCache
	read     *s3data.ReadCache
	disk     s3data.DiskCache

	cfg *common.Config

	connMu sync.Mutex
	conns  map[string]*metaserver.Client

	handleMu sync.Mutex
	nextFh   uint64
	handles  map[uint64]*fileHandle

	dirHandleMu sync.Mutex
	nextDh      uint64
	dirHandles  map[uint64]*dirHandle
}

type fileHandle struct {
	fsId    uint32
	inodeId uint64
}

type dirHandle struct {
	fsId          uint32
	parentInodeId uint64
}

// Mount opens fsName against the mapping service and wires up every cache
// and background loop the client needs before returning.
func Mount(cfg *common.Config, mapClient mapping.Client, store s3data.ObjectStore, disk s3data.DiskCache, fsName string) (*Client, error) {
	info, st := mapClient.MountFs(fsName)
	if st != api.StatusOk {
		return nil, errors.New(st.String())
	}
	c := &Client{
		fsInfo:     info,
		mapping:    mapClient,
		cfg:        cfg,
		disk:       disk,
		conns:      make(map[string]*metaserver.Client),
		handles:    make(map[uint64]*fileHandle),
		dirHandles: make(map[uint64]*dirHandle),
	}
	c.cache = metacache.New(mappingResolver{client: mapClient})
	c.exec = executor.New(c.cache, cfg.RpcMaxRetry, cfg.RpcBackoffDuration)

	flushPeriod := time.Duration(cfg.FlushPeriodSec) * time.Second
	c.inodes = inodecache.New(cfg.ICacheLruSize, inodeFlusher{c}, flushPeriod)
	c.dentries = dentrycache.New(cfg.DCacheLruSize, dentryLoader{c}, cfg.ListDentryLimit, cfg.ListDentryThreads)

	updater := func(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
		return c.callModifyChunkInfo(context.Background(), fsId, inodeId, delta)
	}
	c.write = s3data.NewWriteCache(cfg.S3WriteCacheMaxBytes, info.ChunkSize, store, updater)
	c.read = s3data.NewReadCache(cfg.S3ReadCacheMaxBytes, info.ChunkSize, c.write, disk, store, chunkInfoSource{c})

	log.Infof("Success: fs.Mount, fsName=%v, fsId=%v, rootInode=%v", fsName, info.FsId, info.RootInode)
	return c, nil
}

func (c *Client) FsId() uint32      { return c.fsInfo.FsId }
func (c *Client) RootInode() uint64 { return c.fsInfo.RootInode }
func (c *Client) ChunkSize() int64  { return c.fsInfo.ChunkSize }

// Close flushes every dirty inode and tears down background loops.
func (c *Client) Close() {
	c.inodes.FlushAll()
	c.inodes.Close()
	c.connMu.Lock()
	for _, cc := range c.conns {
		_ = cc.Close()
	}
	c.connMu.Unlock()
}

// conn returns (dialing if necessary) the metaserver.Client for addr.
func (c *Client) conn(addr string) (*metaserver.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := metaserver.Dial(addr)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = cc
	return cc, nil
}

// dial resolves loc's leader address into a live metaserver.Client,
// translating an unaddressable or unreachable leader into a Status the
// executor's retry loop recognizes.
func (c *Client) dial(loc metacache.Location) (*metaserver.Client, api.Status) {
	if loc.LeaderAddr == "" {
		return nil, api.StatusPartitionNotFound
	}
	cc, err := c.conn(loc.LeaderAddr)
	if err != nil {
		log.Errorf("Failed: fs.Client.dial, addr=%v, err=%v", loc.LeaderAddr, err)
		return nil, api.StatusRpcStreamError
	}
	return cc, api.StatusOk
}

func (c *Client) header(loc metacache.Location) api.RequestHeader {
	return api.RequestHeader{
		PartitionId:  loc.PartitionId,
		CopysetId:    loc.CopysetId,
		FsId:         c.fsInfo.FsId,
		AppliedIndex: c.cache.AppliedIndex(loc.CopysetId),
	}
}

func (c *Client) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.RpcTimeoutDuration)
}
