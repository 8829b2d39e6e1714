/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package fs

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/takeshi-yoshimura/fuse/fuseops"
	"github.com/takeshi-yoshimura/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/distfs/corefs/api"
)

// FileSystem adapts Client's POSIX operation surface to
// github.com/takeshi-yoshimura/fuse/fuseops.FileSystem, the interface
// fuseutil.NewFileSystemServer wraps into a kernel-facing FUSE server.
// Grounded on the teacher's ObjcacheFileSystem (internal/fs.go), but far
// thinner: every op here is a direct translation into one Client call
// rather than its own inode/handle bookkeeping, since Client's
// inodecache/dentrycache already own that state.
type FileSystem struct {
	c        *Client
	uid, gid uint32

	// dirCache holds each OpenDir's up-front listing by handle. The kernel
	// addresses ReadDir pages by integer offset into this fixed snapshot,
	// so entries created after OpenDir don't appear until the next open —
	// the same "readdir sees a point-in-time view" behavior the teacher's
	// own in-memory children map gives for free.
	dirMu    sync.Mutex
	dirCache map[uint64][]*api.DentryMsg
}

// NewFileSystem wraps c for FUSE, reporting every inode as owned by
// uid/gid regardless of what its InodeMsg.Uid/Gid carries — the same
// single-owner overlay the teacher's ObjcacheFileSystem.GetAttr(fs.uid,
// fs.gid) applies, appropriate for a filesystem mounted by one user.
func NewFileSystem(c *Client, uid, gid uint32) *FileSystem {
	return &FileSystem{c: c, uid: uid, gid: gid, dirCache: make(map[uint64][]*api.DentryMsg)}
}

// dirListingLimit caps how many entries one OpenDir lists, in a single
// listing call. ReadDir serves only that snapshot, so entries of a
// directory past the first dirListingLimit names are not returned.
const dirListingLimit = 1 << 16

func errno(st api.Status) error {
	return api.StatusToErrno(st)
}

func toTime(ts *api.TimespecMsg) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// toFileMode splits an InodeMsg's POSIX mode_t-style Mode/Type fields
// into the os.FileMode bit layout fuseops.InodeAttributes wants.
func toFileMode(inode *api.InodeMsg) os.FileMode {
	perm := os.FileMode(inode.Mode & 0777)
	switch inode.Type {
	case api.InodeTypeDirectory:
		return perm | os.ModeDir
	case api.InodeTypeSymlink:
		return perm | os.ModeSymlink
	}
	switch inode.Mode & unix.S_IFMT {
	case unix.S_IFCHR:
		return perm | os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		return perm | os.ModeDevice
	case unix.S_IFIFO:
		return perm | os.ModeNamedPipe
	case unix.S_IFSOCK:
		return perm | os.ModeSocket
	}
	return perm
}

// fromFileMode is toFileMode's inverse, used when the kernel hands us a
// mode for mknod/mkdir/chmod.
func fromFileMode(m os.FileMode) (mode uint32, inodeType uint32) {
	mode = uint32(m.Perm())
	switch {
	case m&os.ModeDir != 0:
		return mode, api.InodeTypeDirectory
	case m&os.ModeSymlink != 0:
		return mode, api.InodeTypeSymlink
	case m&os.ModeCharDevice != 0:
		return mode | unix.S_IFCHR, api.InodeTypeFile
	case m&os.ModeDevice != 0:
		return mode | unix.S_IFBLK, api.InodeTypeFile
	case m&os.ModeNamedPipe != 0:
		return mode | unix.S_IFIFO, api.InodeTypeFile
	case m&os.ModeSocket != 0:
		return mode | unix.S_IFSOCK, api.InodeTypeFile
	}
	return mode | unix.S_IFREG, api.InodeTypeFile
}

func (fs *FileSystem) toAttr(inode *api.InodeMsg) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   inode.Length,
		Nlink:  inode.Nlink,
		Mode:   toFileMode(inode),
		Atime:  toTime(inode.Atime),
		Mtime:  toTime(inode.Mtime),
		Ctime:  toTime(inode.Ctime),
		Crtime: toTime(inode.Ctime),
		Uid:    fs.uid,
		Gid:    fs.gid,
	}
}

const attrExpiration = time.Minute

// unlimitedBlocks stands in for a filesystem block count when no local
// quota is configured (MaxUsableBytes == 0): the object store itself has
// no fixed capacity, so "free" is reported as effectively unbounded rather
// than zero.
const unlimitedBlocks = 1 << 40

func (fs *FileSystem) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	usage, st := fs.c.StatFS()
	if st != api.StatusOk {
		return errno(st)
	}
	op.BlockSize = uint32(fs.c.ChunkSize())
	op.IoSize = uint32(fs.c.ChunkSize())

	if usage.MaxUsableBytes > 0 {
		op.Blocks = uint64(usage.MaxUsableBytes) / uint64(op.BlockSize)
		usedBlocks := uint64(usage.UsedBytes) / uint64(op.BlockSize)
		if usedBlocks < op.Blocks {
			op.BlocksFree = op.Blocks - usedBlocks
		}
	} else {
		op.Blocks = unlimitedBlocks
		op.BlocksFree = unlimitedBlocks
	}
	op.BlocksAvailable = op.BlocksFree

	op.Inodes = usage.MaxInodes
	if usage.UsedInodes < op.Inodes {
		op.InodesFree = op.Inodes - usage.UsedInodes
	}
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	inode, st := fs.c.Lookup(ctx, fs.c.FsId(), uint64(op.Parent), op.Name)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	inode, st := fs.c.GetAttr(ctx, fs.c.FsId(), uint64(op.Inode))
	if st != api.StatusOk {
		return errno(st)
	}
	op.Attributes = fs.toAttr(inode)
	op.AttributesExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if op.Size != nil {
		// Truncation of buffered/S3-backed data is not modeled here; only
		// the attribute is adjusted, matching the teacher's own carve-out
		// for growth-only truncation via write().
		inode, st := fs.c.SetAttr(ctx, fs.c.FsId(), uint64(op.Inode), func(m *api.InodeMsg) {
			m.Length = *op.Size
		})
		if st != api.StatusOk {
			return errno(st)
		}
		op.Attributes = fs.toAttr(inode)
	}
	var inode *api.InodeMsg
	var st api.Status
	if op.Mode != nil || op.Mtime != nil {
		inode, st = fs.c.SetAttr(ctx, fs.c.FsId(), uint64(op.Inode), func(m *api.InodeMsg) {
			if op.Mode != nil {
				perm, _ := fromFileMode(*op.Mode)
				m.Mode = perm | (m.Mode &^ 0777)
			}
			if op.Mtime != nil {
				m.Mtime = &api.TimespecMsg{Sec: op.Mtime.Unix(), Nsec: int32(op.Mtime.Nanosecond())}
			}
		})
	} else {
		inode, st = fs.c.GetAttr(ctx, fs.c.FsId(), uint64(op.Inode))
	}
	if st != api.StatusOk {
		return errno(st)
	}
	op.Attributes = fs.toAttr(inode)
	op.AttributesExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) ForgetInode(_ context.Context, _ *fuseops.ForgetInodeOp) error {
	// Client's inodecache runs its own LRU independent of the kernel's
	// dentry-cache lookup count, so a forget carries no information this
	// client needs to act on.
	return nil
}

func (fs *FileSystem) BatchForget(_ context.Context, _ *fuseops.BatchForgetOp) error {
	return nil
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	inode, st := fs.c.Mkdir(ctx, fs.c.FsId(), uint64(op.Parent), op.Name, uint32(op.Mode.Perm()))
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	mode, _ := fromFileMode(op.Mode)
	inode, st := fs.c.Mknod(ctx, fs.c.FsId(), uint64(op.Parent), op.Name, mode, 0)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	mode, _ := fromFileMode(op.Mode)
	inode, fh, st := fs.c.Create(ctx, fs.c.FsId(), uint64(op.Parent), op.Name, mode)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	op.Handle = fuseops.HandleID(fh)
	return nil
}

func (fs *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	inode, st := fs.c.Symlink(ctx, fs.c.FsId(), uint64(op.Parent), op.Name, op.Target)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	inode, st := fs.c.Link(ctx, fs.c.FsId(), uint64(op.Target), uint64(op.Parent), op.Name)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Entry.Child = fuseops.InodeID(inode.InodeId)
	op.Entry.Attributes = fs.toAttr(inode)
	op.Entry.AttributesExpiration = time.Now().Add(attrExpiration)
	op.Entry.EntryExpiration = time.Now().Add(attrExpiration)
	return nil
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	target, st := fs.c.Readlink(ctx, fs.c.FsId(), uint64(op.Inode))
	if st != api.StatusOk {
		return errno(st)
	}
	op.Target = target
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	st := fs.c.Rename(ctx, fs.c.FsId(), uint64(op.OldParent), op.OldName, uint64(op.NewParent), op.NewName)
	return errno(st)
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return errno(fs.c.Unlink(ctx, fs.c.FsId(), uint64(op.Parent), op.Name))
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return errno(fs.c.Rmdir(ctx, fs.c.FsId(), uint64(op.Parent), op.Name))
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	dh, st := fs.c.OpenDir(ctx, fs.c.FsId(), uint64(op.Inode))
	if st != api.StatusOk {
		return errno(st)
	}
	entries, st := fs.c.ReadDir(ctx, dh, "", dirListingLimit)
	if st != api.StatusOk {
		_ = fs.c.ReleaseDir(ctx, dh)
		return errno(st)
	}
	fs.dirMu.Lock()
	fs.dirCache[dh] = entries
	fs.dirMu.Unlock()
	op.Handle = fuseops.HandleID(dh)
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.dirMu.Lock()
	entries := fs.dirCache[uint64(op.Handle)]
	fs.dirMu.Unlock()

	n := 0
	for i := int(op.Offset); i < len(entries); i++ {
		e := entries[i]
		inode, ist := fs.c.GetAttr(ctx, fs.c.FsId(), e.InodeId)
		dt := fuseutil.DT_File
		if ist == api.StatusOk && inode.Type == api.InodeTypeDirectory {
			dt = fuseutil.DT_Directory
		}
		written := fuseutil.WriteDirent(op.Dst[n:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(e.InodeId),
			Name:   e.Name,
			Type:   dt,
		})
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.dirMu.Lock()
	delete(fs.dirCache, uint64(op.Handle))
	fs.dirMu.Unlock()
	return errno(fs.c.ReleaseDir(ctx, uint64(op.Handle)))
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fh, st := fs.c.Open(ctx, fs.c.FsId(), uint64(op.Inode))
	if st != api.StatusOk {
		return errno(st)
	}
	op.KeepPageCache = false
	op.Handle = fuseops.HandleID(fh)
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	buf, st := fs.c.Read(ctx, uint64(op.Handle), op.Offset, op.Size)
	if st != api.StatusOk {
		return errno(st)
	}
	op.Data = [][]byte{buf}
	op.BytesRead = len(buf)
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, st := fs.c.Write(ctx, uint64(op.Handle), op.Offset, op.Data)
	return errno(st)
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return errno(fs.c.Fsync(ctx, uint64(op.Handle)))
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return errno(fs.c.Flush(ctx, uint64(op.Handle)))
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return errno(fs.c.Release(ctx, uint64(op.Handle)))
}

func (fs *FileSystem) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	if op.Name == "security.capability" {
		// Same suppression the teacher applies: answering ENOSYS once stops
		// the kernel from probing this attribute before every write.
		return unix.ENOSYS
	}
	value, st := fs.c.GetXattr(ctx, fs.c.FsId(), uint64(op.Inode), op.Name)
	if st != api.StatusOk {
		return errno(st)
	}
	if len(op.Dst) < len(value) {
		if op.Dst == nil {
			op.BytesRead = len(value)
			return nil
		}
		return unix.ERANGE
	}
	op.BytesRead = copy(op.Dst, value)
	return nil
}

func (fs *FileSystem) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	names, st := fs.c.ListXattr(ctx, fs.c.FsId(), uint64(op.Inode))
	if st != api.StatusOk {
		return errno(st)
	}
	buf := make([]byte, 0)
	for _, n := range names {
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	if len(op.Dst) < len(buf) {
		if op.Dst == nil {
			op.BytesRead = len(buf)
			return nil
		}
		return unix.ERANGE
	}
	op.BytesRead = copy(op.Dst, buf)
	return nil
}

func (fs *FileSystem) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return errno(fs.c.SetXattr(ctx, fs.c.FsId(), uint64(op.Inode), op.Name, op.Value, false))
}

func (fs *FileSystem) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return errno(fs.c.SetXattr(ctx, fs.c.FsId(), uint64(op.Inode), op.Name, nil, true))
}

func (fs *FileSystem) Fallocate(_ context.Context, _ *fuseops.FallocateOp) error {
	return unix.ENOSYS
}

func (fs *FileSystem) Destroy() {
	fs.c.Close()
}

func (fs *FileSystem) PostOp(_ context.Context, _ interface{}) {
}
