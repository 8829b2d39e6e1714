/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metaserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
	"github.com/distfs/corefs/internal/mapping"
	"github.com/distfs/corefs/internal/partition"
	"github.com/distfs/corefs/internal/rename"
	"github.com/distfs/corefs/internal/xattr"
)

var log = common.GetLogger("metaserver")

// Server hosts every locally-owned partition.Partition and answers gRPC
// calls against them. Grounded on the teacher's per-node dispatch in
// internal/raft.go (RaftInstance owning a set of WorkingMeta shards),
// generalized from Raft-replicated shards to partitions whose replication
// is out of this core's scope (spec.md §1).
type Server struct {
	mu          sync.RWMutex
	partitions  map[uint32]*partition.Partition
	sweeper     *rename.Sweeper
	renameCoord *rename.Coordinator
	enableSum   bool
	grpcServer  *grpc.Server
}

// EnableSummary turns on the incremental directory-summary bookkeeping
// (curve.dir.r* counters) that CreateDentry/DeleteDentry/Rename maintain as
// they mutate the namespace, per spec.md §4.9's enable_sum_in_dir mode.
func (s *Server) EnableSummary(enabled bool) {
	s.enableSum = enabled
}

// bumpChildSummary applies a +/-1 entries delta (plus files/subdirs/bytes,
// as appropriate to childInodeId's type) to parentInodeId's ancestor chain.
// Best-effort: a lookup or apply failure is logged and otherwise ignored,
// since summary counters are advisory (spec.md §4.9).
func (s *Server) bumpChildSummary(fsId uint32, parentInodeId, childInodeId uint64, sign int64) {
	child := s.LookupPartition(fsId, childInodeId)
	if child == nil {
		return
	}
	inode, st := child.GetInode(fsId, childInodeId)
	if st != api.StatusOk {
		return
	}
	delta := xattr.Delta{Entries: sign}
	if inode.Type == api.InodeTypeDirectory {
		delta.Subdirs = sign
	} else {
		delta.Files = sign
		delta.Bytes = sign * int64(inode.Length)
	}
	if st := xattr.ApplyDelta(s.LookupPartition, fsId, parentInodeId, delta); st != api.StatusOk {
		log.Warnf("Failed: metaserver.Server.bumpChildSummary, parentInodeId=%v, childInodeId=%v, err=%v", parentInodeId, childInodeId, st)
	}
}

// serverPartitionLookup adapts Server.LookupPartition into
// rename.PartitionLookup, the narrower contract the rename protocol needs.
type serverPartitionLookup struct{ s *Server }

func (l serverPartitionLookup) ResolveDentryPartition(fsId uint32, parentInodeId uint64) (*partition.Partition, error) {
	p := l.s.LookupPartition(fsId, parentInodeId)
	if p == nil {
		return nil, errors.New(api.StatusPartitionNotFound.String())
	}
	return p, nil
}

// EnableRename wires up cross-shard rename coordination for every partition
// this server currently hosts or will host, addressed at the mapping
// service given by mapClient (spec.md §4.6).
func (s *Server) EnableRename(mapClient mapping.Client, enableMultiMountPointRename bool) {
	s.renameCoord = rename.New(serverPartitionLookup{s}, mapClient, enableMultiMountPointRename)
}

// New constructs a Server with no partitions hosted yet; AddPartition
// registers each one as the mapping service assigns it.
func New() *Server {
	s := &Server{partitions: make(map[uint32]*partition.Partition)}
	return s
}

func (s *Server) AddPartition(p *partition.Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[p.Id()] = p
}

func (s *Server) RemovePartition(partitionId uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, partitionId)
}

// StartSweeper launches the stale-rename-prepare sweeper over every
// partition this server currently hosts, using interval/horizon durations
// from common.Config's rename.prepare_gc_interval_sec.
func (s *Server) StartSweeper(interval, horizon time.Duration) {
	s.sweeper = rename.NewSweeper(s.Partitions, interval, horizon)
	s.sweeper.Start()
}

func (s *Server) Partitions() []*partition.Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*partition.Partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		out = append(out, p)
	}
	return out
}

// LookupPartition implements partition.PartitionLookupFunc for
// locally-hosted partitions, the seam internal/rename and internal/xattr
// use when they run inside this process (co-located rename/summary
// coordination, no extra RPC hop for partitions this server itself owns).
func (s *Server) LookupPartition(fsId uint32, inodeId uint64) *partition.Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.partitions {
		if p.FsId() == fsId {
			if _, st := p.GetInode(fsId, inodeId); st == api.StatusOk {
				return p
			}
		}
	}
	return nil
}

func (s *Server) partitionFor(header api.RequestHeader) (*partition.Partition, api.Status) {
	s.mu.RLock()
	p, ok := s.partitions[header.PartitionId]
	s.mu.RUnlock()
	if !ok {
		return nil, api.StatusPartitionNotFound
	}
	return p, api.StatusOk
}

// Serve starts the grpc.Server on listener lis, wiring the
// go-grpc-prometheus interceptor for request-count/latency metrics
// (spec.md §7's metrics-sink integration point).
func (s *Server) Serve(lis net.Listener) error {
	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	grpc_prometheus.Register(s.grpcServer)
	RegisterPartitionServiceServer(s.grpcServer, s)
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	for _, p := range s.Partitions() {
		p.Close()
	}
}

func respHeader(st api.Status) api.ResponseHeader {
	return api.ResponseHeader{Status: int32(st)}
}

func (s *Server) Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &LookupResponse{Header: respHeader(st)}, nil
	}
	dentry, st := p.GetDentry(req.Header.FsId, req.ParentInodeId, req.Name, false)
	if st != api.StatusOk {
		return &LookupResponse{Header: respHeader(st)}, nil
	}
	inode, st := p.GetInode(req.Header.FsId, dentry.InodeId)
	return &LookupResponse{Header: respHeader(st), Dentry: dentry, Inode: inode}, nil
}

func (s *Server) CreateInode(ctx context.Context, req *CreateInodeRequest) (*CreateInodeResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &CreateInodeResponse{Header: respHeader(st)}, nil
	}
	return &CreateInodeResponse{Header: respHeader(p.CreateInode(req.Inode))}, nil
}

func (s *Server) GetInode(ctx context.Context, req *GetInodeRequest) (*GetInodeResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &GetInodeResponse{Header: respHeader(st)}, nil
	}
	inode, st := p.GetInode(req.Header.FsId, req.InodeId)
	return &GetInodeResponse{Header: respHeader(st), Inode: inode}, nil
}

func (s *Server) CreateDentry(ctx context.Context, req *CreateDentryRequest) (*CreateDentryResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &CreateDentryResponse{Header: respHeader(st)}, nil
	}
	st = p.CreateDentry(req.Dentry)
	if st == api.StatusOk && s.enableSum {
		s.bumpChildSummary(req.Header.FsId, req.Dentry.ParentInodeId, req.Dentry.InodeId, 1)
	}
	return &CreateDentryResponse{Header: respHeader(st)}, nil
}

func (s *Server) DeleteDentry(ctx context.Context, req *DeleteDentryRequest) (*DeleteDentryResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &DeleteDentryResponse{Header: respHeader(st)}, nil
	}
	var childInodeId uint64
	if s.enableSum {
		if d, dst := p.GetDentry(req.Header.FsId, req.ParentInodeId, req.Name, false); dst == api.StatusOk {
			childInodeId = d.InodeId
		}
	}
	st = p.DeleteDentry(req.Header.FsId, req.ParentInodeId, req.Name)
	if st == api.StatusOk && s.enableSum && childInodeId != 0 {
		s.bumpChildSummary(req.Header.FsId, req.ParentInodeId, childInodeId, -1)
	}
	return &DeleteDentryResponse{Header: respHeader(st)}, nil
}

func (s *Server) ListDentry(ctx context.Context, req *ListDentryRequest) (*ListDentryResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &ListDentryResponse{Header: respHeader(st)}, nil
	}
	entries, st := p.ListDentry(req.Header.FsId, req.ParentInodeId, req.StartAfter, int(req.Limit))
	return &ListDentryResponse{Header: respHeader(st), Entries: entries}, nil
}

func (s *Server) ModifyS3ChunkInfoList(ctx context.Context, req *ModifyS3ChunkInfoListRequest) (*ModifyS3ChunkInfoListResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &ModifyS3ChunkInfoListResponse{Header: respHeader(st)}, nil
	}
	return &ModifyS3ChunkInfoListResponse{Header: respHeader(p.ModifyS3ChunkInfoList(req.Header.FsId, req.InodeId, req.Delta))}, nil
}

func (s *Server) ListChunkInfo(ctx context.Context, req *ListChunkInfoRequest) (*ListChunkInfoResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &ListChunkInfoResponse{Header: respHeader(st)}, nil
	}
	entries, st := p.ListChunkInfo(req.Header.FsId, req.InodeId, req.ChunkIndex)
	return &ListChunkInfoResponse{Header: respHeader(st), Entries: entries}, nil
}

func (s *Server) HandleRenameTx(ctx context.Context, req *HandleRenameTxRequest) (*HandleRenameTxResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &HandleRenameTxResponse{Header: respHeader(st)}, nil
	}
	return &HandleRenameTxResponse{Header: respHeader(p.HandleRenameTx(req.Tx))}, nil
}

// Rename runs the full two-phase rename protocol from this node, acting as
// coordinator for req.OldParentInodeId's partition (spec.md §4.6). The
// caller addresses whichever leader currently owns the source parent; this
// node resolves the destination partition itself, remotely or locally
// depending on where EnableRename's PartitionLookup finds it.
func (s *Server) Rename(ctx context.Context, req *RenameRequest) (*RenameResponse, error) {
	if s.renameCoord == nil {
		return &RenameResponse{Header: respHeader(api.StatusInternal)}, nil
	}
	moved, overwritten, st := s.renameCoord.Rename(rename.Request{
		FsId:         req.Header.FsId,
		OldParentIno: req.OldParentInodeId,
		OldName:      req.OldName,
		NewParentIno: req.NewParentInodeId,
		NewName:      req.NewName,
	})
	if st == api.StatusOk && s.enableSum && req.OldParentInodeId != req.NewParentInodeId {
		if child := s.LookupPartition(req.Header.FsId, moved); child != nil {
			if inode, gst := child.GetInode(req.Header.FsId, moved); gst == api.StatusOk {
				delta := xattr.Delta{Entries: 1}
				if inode.Type == api.InodeTypeDirectory {
					delta.Subdirs = 1
				} else {
					delta.Files = 1
					delta.Bytes = int64(inode.Length)
				}
				xattr.RenameFixup(s.LookupPartition, req.Header.FsId, req.OldParentInodeId, req.NewParentInodeId, delta)
			}
		}
	}
	return &RenameResponse{Header: respHeader(st), MovedInodeId: moved, OverwrittenInodeId: overwritten}, nil
}

func (s *Server) SetAttr(ctx context.Context, req *SetAttrRequest) (*SetAttrResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &SetAttrResponse{Header: respHeader(st)}, nil
	}
	st = p.UpdateInode(req.Header.FsId, req.Inode.InodeId, func(cur *api.InodeMsg) api.Status {
		*cur = *req.Inode
		return api.StatusOk
	})
	return &SetAttrResponse{Header: respHeader(st)}, nil
}

func (s *Server) GetXattr(ctx context.Context, req *GetXattrRequest) (*GetXattrResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &GetXattrResponse{Header: respHeader(st)}, nil
	}
	value, st := p.GetXattr(req.Header.FsId, req.InodeId, req.Name)
	return &GetXattrResponse{Header: respHeader(st), Value: value}, nil
}

func (s *Server) SetXattr(ctx context.Context, req *SetXattrRequest) (*SetXattrResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &SetXattrResponse{Header: respHeader(st)}, nil
	}
	return &SetXattrResponse{Header: respHeader(p.SetXattr(req.Header.FsId, req.InodeId, req.Name, req.Value, req.Remove))}, nil
}

func (s *Server) DeleteInode(ctx context.Context, req *DeleteInodeRequest) (*DeleteInodeResponse, error) {
	p, st := s.partitionFor(req.Header)
	if st != api.StatusOk {
		return &DeleteInodeResponse{Header: respHeader(st)}, nil
	}
	return &DeleteInodeResponse{Header: respHeader(p.DeleteInode(req.Header.FsId, req.InodeId))}, nil
}
