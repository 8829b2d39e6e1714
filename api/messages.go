/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package api

import (
	"fmt"

	legacyproto "github.com/golang/protobuf/proto"
)

// The types below are the wire/persistence messages named in spec.md §6:
// metadata RPC request/response headers, the inode/dentry/chunk-info records
// that cross the partition-store boundary, and the rename prepare/commit
// batch. They are declared by hand (no protoc run in this environment) using
// the pre-APIv2 struct-tag convention; github.com/golang/protobuf/proto's
// legacy compatibility layer marshals/unmarshals them by reflecting over the
// `protobuf:"..."` tags, the same mechanism protoc-gen-go used to emit before
// message API v2. Only Reset/String/ProtoMessage are required to satisfy the
// legacy proto.Message interface these helpers wrap.

// RequestHeader carries the routing/idempotency fields of spec.md §6 on
// every metadata RPC.
type RequestHeader struct {
	PoolId      uint32 `protobuf:"varint,1,opt,name=pool_id,json=poolId,proto3" json:"pool_id,omitempty"`
	CopysetId   uint32 `protobuf:"varint,2,opt,name=copyset_id,json=copysetId,proto3" json:"copyset_id,omitempty"`
	PartitionId uint32 `protobuf:"varint,3,opt,name=partition_id,json=partitionId,proto3" json:"partition_id,omitempty"`
	FsId        uint32 `protobuf:"varint,4,opt,name=fs_id,json=fsId,proto3" json:"fs_id,omitempty"`
	TxId        uint64 `protobuf:"varint,5,opt,name=tx_id,json=txId,proto3" json:"tx_id,omitempty"`
	AppliedIndex uint64 `protobuf:"varint,6,opt,name=applied_index,json=appliedIndex,proto3" json:"applied_index,omitempty"`
	RequestId   string `protobuf:"bytes,7,opt,name=request_id,json=requestId,proto3" json:"request_id,omitempty"`
}

func (m *RequestHeader) Reset()         { *m = RequestHeader{} }
func (m *RequestHeader) String() string { return fmt.Sprintf("%+v", *m) }
func (*RequestHeader) ProtoMessage()    {}

// ResponseHeader is the reply-side twin of RequestHeader.
type ResponseHeader struct {
	Status       int32  `protobuf:"varint,1,opt,name=status,proto3" json:"status,omitempty"`
	AppliedIndex uint64 `protobuf:"varint,2,opt,name=applied_index,json=appliedIndex,proto3" json:"applied_index,omitempty"`
	LeaderId     uint32 `protobuf:"varint,3,opt,name=leader_id,json=leaderId,proto3" json:"leader_id,omitempty"`
	LeaderAddr   string `protobuf:"bytes,4,opt,name=leader_addr,json=leaderAddr,proto3" json:"leader_addr,omitempty"`
	NewTxId      uint64 `protobuf:"varint,5,opt,name=new_tx_id,json=newTxId,proto3" json:"new_tx_id,omitempty"`
}

func (m *ResponseHeader) Reset()         { *m = ResponseHeader{} }
func (m *ResponseHeader) String() string { return fmt.Sprintf("%+v", *m) }
func (*ResponseHeader) ProtoMessage()    {}

// TimespecMsg is a wire nanosecond-precision timestamp (spec.md §3 a/c/mtime).
type TimespecMsg struct {
	Sec  int64 `protobuf:"varint,1,opt,name=sec,proto3" json:"sec,omitempty"`
	Nsec int32 `protobuf:"varint,2,opt,name=nsec,proto3" json:"nsec,omitempty"`
}

func (m *TimespecMsg) Reset()         { *m = TimespecMsg{} }
func (m *TimespecMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*TimespecMsg) ProtoMessage()    {}

// ChunkInfoMsg is one contribution to a chunk-index (spec.md §3).
type ChunkInfoMsg struct {
	ChunkId       uint64 `protobuf:"varint,1,opt,name=chunk_id,json=chunkId,proto3" json:"chunk_id,omitempty"`
	OffsetInChunk int64  `protobuf:"varint,2,opt,name=offset_in_chunk,json=offsetInChunk,proto3" json:"offset_in_chunk,omitempty"`
	Length        int64  `protobuf:"varint,3,opt,name=length,proto3" json:"length,omitempty"`
	Size          int64  `protobuf:"varint,4,opt,name=size,proto3" json:"size,omitempty"`
	Zero          bool   `protobuf:"varint,5,opt,name=zero,proto3" json:"zero,omitempty"`
	Seq           uint64 `protobuf:"varint,6,opt,name=seq,proto3" json:"seq,omitempty"`
}

func (m *ChunkInfoMsg) Reset()         { *m = ChunkInfoMsg{} }
func (m *ChunkInfoMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*ChunkInfoMsg) ProtoMessage()    {}

// ChunkInfoListMsg is the delta payload of modify_s3_chunk_info_list
// (spec.md §4.2): entries to append and entries to remove.
type ChunkInfoListMsg struct {
	ChunkIndex int64           `protobuf:"varint,1,opt,name=chunk_index,json=chunkIndex,proto3" json:"chunk_index,omitempty"`
	Add        []*ChunkInfoMsg `protobuf:"bytes,2,rep,name=add,proto3" json:"add,omitempty"`
	Remove     []uint64        `protobuf:"varint,3,rep,packed,name=remove,proto3" json:"remove,omitempty"`
}

func (m *ChunkInfoListMsg) Reset()         { *m = ChunkInfoListMsg{} }
func (m *ChunkInfoListMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*ChunkInfoListMsg) ProtoMessage()    {}

// InodeMsg is the wire/persistence form of the inode data model (spec.md §3).
type InodeMsg struct {
	FsId          uint32          `protobuf:"varint,1,opt,name=fs_id,json=fsId,proto3" json:"fs_id,omitempty"`
	InodeId       uint64          `protobuf:"varint,2,opt,name=inode_id,json=inodeId,proto3" json:"inode_id,omitempty"`
	Length        uint64          `protobuf:"varint,3,opt,name=length,proto3" json:"length,omitempty"`
	Mode          uint32          `protobuf:"varint,4,opt,name=mode,proto3" json:"mode,omitempty"`
	Uid           uint32          `protobuf:"varint,5,opt,name=uid,proto3" json:"uid,omitempty"`
	Gid           uint32          `protobuf:"varint,6,opt,name=gid,proto3" json:"gid,omitempty"`
	Atime         *TimespecMsg    `protobuf:"bytes,7,opt,name=atime,proto3" json:"atime,omitempty"`
	Ctime         *TimespecMsg    `protobuf:"bytes,8,opt,name=ctime,proto3" json:"ctime,omitempty"`
	Mtime         *TimespecMsg    `protobuf:"bytes,9,opt,name=mtime,proto3" json:"mtime,omitempty"`
	Nlink         uint32          `protobuf:"varint,10,opt,name=nlink,proto3" json:"nlink,omitempty"`
	Type          uint32          `protobuf:"varint,11,opt,name=type,proto3" json:"type,omitempty"`
	Rdev          uint64          `protobuf:"varint,12,opt,name=rdev,proto3" json:"rdev,omitempty"`
	SymlinkTarget string          `protobuf:"bytes,13,opt,name=symlink_target,json=symlinkTarget,proto3" json:"symlink_target,omitempty"`
	Parents       []uint64        `protobuf:"varint,14,rep,packed,name=parents,proto3" json:"parents,omitempty"`
	Xattr         map[string][]byte `protobuf:"bytes,15,rep,name=xattr,proto3" json:"xattr,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	ChunkInfoBytes int64          `protobuf:"varint,16,opt,name=chunk_info_bytes,json=chunkInfoBytes,proto3" json:"chunk_info_bytes,omitempty"`
}

func (m *InodeMsg) Reset()         { *m = InodeMsg{} }
func (m *InodeMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*InodeMsg) ProtoMessage()    {}

// InodeMsg.Type values (spec.md §3).
const (
	InodeTypeFile uint32 = iota
	InodeTypeDirectory
	InodeTypeSymlink
)

// DentryMsg is the wire/persistence form of a directory entry (spec.md §3).
type DentryMsg struct {
	FsId           uint32 `protobuf:"varint,1,opt,name=fs_id,json=fsId,proto3" json:"fs_id,omitempty"`
	ParentInodeId  uint64 `protobuf:"varint,2,opt,name=parent_inode_id,json=parentInodeId,proto3" json:"parent_inode_id,omitempty"`
	Name           string `protobuf:"bytes,3,opt,name=name,proto3" json:"name,omitempty"`
	TxId           uint64 `protobuf:"varint,4,opt,name=tx_id,json=txId,proto3" json:"tx_id,omitempty"`
	InodeId        uint64 `protobuf:"varint,5,opt,name=inode_id,json=inodeId,proto3" json:"inode_id,omitempty"`
	Flags          uint32 `protobuf:"varint,6,opt,name=flags,proto3" json:"flags,omitempty"`
}

func (m *DentryMsg) Reset()         { *m = DentryMsg{} }
func (m *DentryMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*DentryMsg) ProtoMessage()    {}

// Dentry bit flags (spec.md §3).
const (
	DentryFlagDeleteMark        uint32 = 1 << 0
	DentryFlagTransactionPrepare uint32 = 1 << 1
	DentryFlagFileType          uint32 = 1 << 2
)

// RenameTxMsg is the payload of handle_rename_tx (spec.md §4.2): the set of
// dentries one partition must write atomically as part of a rename prepare.
type RenameTxMsg struct {
	Dentries []*DentryMsg `protobuf:"bytes,1,rep,name=dentries,proto3" json:"dentries,omitempty"`
}

func (m *RenameTxMsg) Reset()         { *m = RenameTxMsg{} }
func (m *RenameTxMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*RenameTxMsg) ProtoMessage()    {}

// CommitTxBatchMsg is the mapping service's commit_tx request (spec.md §6):
// the linearization point of a cross-partition rename.
type CommitTxBatchMsg struct {
	PartitionId []uint32 `protobuf:"varint,1,rep,packed,name=partition_id,json=partitionId,proto3" json:"partition_id,omitempty"`
	NewTxId     []uint64 `protobuf:"varint,2,rep,packed,name=new_tx_id,json=newTxId,proto3" json:"new_tx_id,omitempty"`
}

func (m *CommitTxBatchMsg) Reset()         { *m = CommitTxBatchMsg{} }
func (m *CommitTxBatchMsg) String() string { return fmt.Sprintf("%+v", *m) }
func (*CommitTxBatchMsg) ProtoMessage()    {}

// Marshal/Unmarshal go through github.com/golang/protobuf/proto's legacy
// compatibility path, which wraps a struct satisfying the three-method
// proto.Message interface via reflection over its `protobuf:"..."` tags.
func Marshal(m legacyproto.Message) ([]byte, error) {
	return legacyproto.Marshal(m)
}

func Unmarshal(buf []byte, m legacyproto.Message) error {
	return legacyproto.Unmarshal(buf, m)
}
