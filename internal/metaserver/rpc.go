/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package metaserver exposes one partition server's inode/dentry/chunk-info
// operations over gRPC. Grounded on the teacher's internal/transport.go
// (request/response framing) and internal/rpc.go (per-command dispatch
// table), restated with a real google.golang.org/grpc service instead of
// the teacher's hand-rolled binary wire format, following the grpc-based
// RPC layer cubefs-inodedb/server/rpcserver.go shows for a comparable
// sharded-metadata service: one grpc.ServiceDesc with a handler per
// operation. Messages travel through the encoding/gob codec in codec.go,
// not the api.Marshal/api.Unmarshal form the partitions persist, so the
// wire form and the on-disk form are separate encodings.
package metaserver

import (
	"github.com/distfs/corefs/api"
)

// LookupRequest/Response resolve one dentry.
type LookupRequest struct {
	Header        api.RequestHeader
	ParentInodeId uint64
	Name          string
}

type LookupResponse struct {
	Header api.ResponseHeader
	Dentry *api.DentryMsg
	Inode  *api.InodeMsg
}

// CreateInodeRequest/Response create a fresh inode record.
type CreateInodeRequest struct {
	Header api.RequestHeader
	Inode  *api.InodeMsg
}

type CreateInodeResponse struct {
	Header api.ResponseHeader
}

// GetInodeRequest/Response fetch one inode's attributes.
type GetInodeRequest struct {
	Header  api.RequestHeader
	InodeId uint64
}

type GetInodeResponse struct {
	Header api.ResponseHeader
	Inode  *api.InodeMsg
}

// CreateDentryRequest/Response add a directory entry.
type CreateDentryRequest struct {
	Header api.RequestHeader
	Dentry *api.DentryMsg
}

type CreateDentryResponse struct {
	Header api.ResponseHeader
}

// DeleteDentryRequest/Response remove a directory entry.
type DeleteDentryRequest struct {
	Header        api.RequestHeader
	ParentInodeId uint64
	Name          string
}

type DeleteDentryResponse struct {
	Header api.ResponseHeader
}

// ListDentryRequest/Response paginate a directory's entries.
type ListDentryRequest struct {
	Header        api.RequestHeader
	ParentInodeId uint64
	StartAfter    string
	Limit         int32
}

type ListDentryResponse struct {
	Header  api.ResponseHeader
	Entries []*api.DentryMsg
}

// ModifyS3ChunkInfoListRequest/Response ship a write-flush's chunk-info
// delta to the owning partition.
type ModifyS3ChunkInfoListRequest struct {
	Header  api.RequestHeader
	InodeId uint64
	Delta   *api.ChunkInfoListMsg
}

type ModifyS3ChunkInfoListResponse struct {
	Header api.ResponseHeader
}

// ListChunkInfoRequest/Response fetch one chunk index's contribution list.
type ListChunkInfoRequest struct {
	Header     api.RequestHeader
	InodeId    uint64
	ChunkIndex int64
}

type ListChunkInfoResponse struct {
	Header  api.ResponseHeader
	Entries []*api.ChunkInfoMsg
}

// HandleRenameTxRequest/Response apply the prepare phase of a rename.
type HandleRenameTxRequest struct {
	Header api.RequestHeader
	Tx     *api.RenameTxMsg
}

type HandleRenameTxResponse struct {
	Header api.ResponseHeader
}

// RenameRequest/Response drive the full two-phase rename protocol from
// whichever leader hosts the source parent directory, so a mount client
// issues one RPC instead of orchestrating prepare/commit itself.
type RenameRequest struct {
	Header           api.RequestHeader
	OldParentInodeId uint64
	OldName          string
	NewParentInodeId uint64
	NewName          string
}

type RenameResponse struct {
	Header              api.ResponseHeader
	MovedInodeId        uint64
	OverwrittenInodeId  uint64
}

// SetAttrRequest/Response overwrite an existing inode's attribute fields,
// the RPC internal/inodecache's flush loop uses to persist a dirty Wrapper.
type SetAttrRequest struct {
	Header api.RequestHeader
	Inode  *api.InodeMsg
}

type SetAttrResponse struct {
	Header api.ResponseHeader
}

// GetXattrRequest/Response fetch one extended attribute.
type GetXattrRequest struct {
	Header  api.RequestHeader
	InodeId uint64
	Name    string
}

type GetXattrResponse struct {
	Header api.ResponseHeader
	Value  []byte
}

// SetXattrRequest/Response set (or, with Remove, delete) one attribute.
type SetXattrRequest struct {
	Header  api.RequestHeader
	InodeId uint64
	Name    string
	Value   []byte
	Remove  bool
}

type SetXattrResponse struct {
	Header api.ResponseHeader
}

// DeleteInodeRequest/Response reclaim an inode whose link count and open
// count have both dropped to zero.
type DeleteInodeRequest struct {
	Header  api.RequestHeader
	InodeId uint64
}

type DeleteInodeResponse struct {
	Header api.ResponseHeader
}
