/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package api holds the wire vocabulary shared by every RPC surface: the
// status taxonomy of spec.md §7 and the request/response message shapes of
// spec.md §6, kept deliberately small since the real transport, replication
// and service-discovery layers are external collaborators (spec.md §1).
package api

import (
	"golang.org/x/sys/unix"
)

// Status is the tagged result kind every fallible operation returns.
// Values below StatusExt map 1:1 onto spec.md §7; StatusExt and above are
// local extensions (never sent over RPC) analogous to the teacher's
// ObjCacheReplyErrBase/FuseReplyErrBase split.
type Status int32

const (
	StatusOk Status = iota
	StatusNotFound
	StatusExists
	StatusNameTooLong
	StatusNotEmpty
	StatusNoPermission
	StatusIsDir
	StatusNotDir
	StatusOutOfRange
	StatusNoData
	StatusInvalidParam
	StatusMountPointExist
	StatusMountFailed
	StatusStaleTx
	StatusRedirect
	StatusPartitionNotFound
	StatusPartitionDeleting
	StatusResourceExhausted
	StatusRpcStreamError
	StatusDeadlineExceeded
	StatusInternal
	// StatusInodeS3MetaTooLarge is returned by padding_s3_chunk_info
	// (spec.md §4.2) when an inode's chunk-info list has grown past the
	// caller's byte budget: the client must fall back to streaming reads
	// of individual chunks instead of caching the whole map.
	StatusInodeS3MetaTooLarge

	// StatusExt begins the block reserved for errno-derived statuses; any
	// unix.Errno e maps to StatusExt+int32(e), mirroring the teacher's
	// FuseReplyErrBase encoding so a Status can always be turned back into
	// the errno the kernel shim actually wants.
	StatusExt Status = 1 << 16
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusExists:
		return "EXISTS"
	case StatusNameTooLong:
		return "NAMETOOLONG"
	case StatusNotEmpty:
		return "NOT_EMPTY"
	case StatusNoPermission:
		return "NO_PERMISSION"
	case StatusIsDir:
		return "IS_DIR"
	case StatusNotDir:
		return "NOT_DIR"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	case StatusNoData:
		return "NO_DATA"
	case StatusInvalidParam:
		return "INVALID_PARAM"
	case StatusMountPointExist:
		return "MOUNT_POINT_EXIST"
	case StatusMountFailed:
		return "MOUNT_FAILED"
	case StatusStaleTx:
		return "STALE_TX"
	case StatusRedirect:
		return "REDIRECT"
	case StatusPartitionNotFound:
		return "PARTITION_NOT_FOUND"
	case StatusPartitionDeleting:
		return "PARTITION_DELETING"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusRpcStreamError:
		return "RPC_STREAM_ERROR"
	case StatusDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case StatusInternal:
		return "INTERNAL"
	case StatusInodeS3MetaTooLarge:
		return "INODE_S3_META_TOO_LARGE"
	}
	if s >= StatusExt {
		return "ERRNO(" + unix.Errno(s-StatusExt).Error() + ")"
	}
	return "UNKNOWN"
}

// NeedRetry reports whether the task executor (internal/executor) should
// transparently retry an operation that returned this status.
func (s Status) NeedRetry() bool {
	return s == StatusStaleTx || s == StatusRedirect || isNetworkErrno(s)
}

func isNetworkErrno(s Status) bool {
	return s == ErrnoToStatus(unix.ECONNREFUSED) ||
		s == ErrnoToStatus(unix.ETIMEDOUT) ||
		s == ErrnoToStatus(unix.EPIPE)
}

// ErrnoToStatus wraps a raw errno as an extended Status value.
func ErrnoToStatus(err error) Status {
	if err == nil {
		return StatusOk
	}
	if errno, ok := err.(unix.Errno); ok {
		return StatusExt + Status(errno)
	}
	return StatusInternal
}

// StatusToErrno converts a Status back into the errno the FUSE shim expects.
// Non-extended statuses are mapped onto their closest POSIX equivalent so
// every code path the kernel sees ends in a plain errno.
func StatusToErrno(s Status) error {
	if s >= StatusExt {
		return unix.Errno(s - StatusExt)
	}
	switch s {
	case StatusOk:
		return nil
	case StatusNotFound:
		return unix.ENOENT
	case StatusExists:
		return unix.EEXIST
	case StatusNameTooLong:
		return unix.ENAMETOOLONG
	case StatusNotEmpty:
		return unix.ENOTEMPTY
	case StatusNoPermission:
		return unix.EACCES
	case StatusIsDir:
		return unix.EISDIR
	case StatusNotDir:
		return unix.ENOTDIR
	case StatusOutOfRange:
		return unix.ERANGE
	case StatusNoData:
		return unix.ENODATA
	case StatusInvalidParam:
		return unix.EINVAL
	case StatusStaleTx, StatusRedirect, StatusResourceExhausted, StatusRpcStreamError:
		return unix.EAGAIN
	case StatusDeadlineExceeded:
		return unix.ETIMEDOUT
	case StatusPartitionNotFound, StatusPartitionDeleting:
		return unix.ENXIO
	case StatusInodeS3MetaTooLarge:
		return unix.EFBIG
	default:
		return unix.EIO
	}
}
