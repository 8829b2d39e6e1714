/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package fs

import (
	"context"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/dentrycache"
	"github.com/distfs/corefs/internal/executor"
	"github.com/distfs/corefs/internal/inodecache"
	"github.com/distfs/corefs/internal/metacache"
	"github.com/distfs/corefs/internal/metaserver"
)

// inodeFlusher adapts Client into inodecache.Flusher, persisting a dirty
// wrapper's attributes or chunk-info delta through the executor.
type inodeFlusher struct{ c *Client }

func (f inodeFlusher) FlushAttr(inode *api.InodeMsg) api.Status {
	return f.c.callSetAttr(context.Background(), inode)
}

func (f inodeFlusher) FlushChunkInfo(fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
	return f.c.callModifyChunkInfo(context.Background(), fsId, inodeId, delta)
}

var _ inodecache.Flusher = inodeFlusher{}

// dentryLoader adapts Client into dentrycache.Loader.
type dentryLoader struct{ c *Client }

func (l dentryLoader) ListDentry(fsId uint32, parentInodeId uint64, startAfter string, limit int) ([]*api.DentryMsg, api.Status) {
	return l.c.callListDentry(context.Background(), fsId, parentInodeId, startAfter, limit)
}

var _ dentrycache.Loader = dentryLoader{}

// chunkInfoSource adapts Client into s3data.ChunkInfoSource, fetching a
// chunk's contribution list from the owning partition over RPC.
type chunkInfoSource struct{ c *Client }

func (s chunkInfoSource) ListChunkInfo(fsId uint32, inodeId uint64, chunkIndex int64) ([]*api.ChunkInfoMsg, api.Status) {
	return s.c.callListChunkInfo(context.Background(), fsId, inodeId, chunkIndex)
}

func (c *Client) callGetInode(ctx context.Context, fsId uint32, inodeId uint64) (*api.InodeMsg, api.Status) {
	var out *api.InodeMsg
	st := c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.GetInode(ctx, &metaserver.GetInodeRequest{Header: c.header(loc), InodeId: inodeId})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				out = resp.Inode
			}
			return api.Status(resp.Header.Status)
		},
	})
	return out, st
}

func (c *Client) callCreateInode(ctx context.Context, inode *api.InodeMsg) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: inode.FsId, InodeId: inode.InodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.CreateInode(ctx, &metaserver.CreateInodeRequest{Header: c.header(loc), Inode: inode})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callDeleteInode(ctx context.Context, fsId uint32, inodeId uint64) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.DeleteInode(ctx, &metaserver.DeleteInodeRequest{Header: c.header(loc), InodeId: inodeId})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callSetAttr(ctx context.Context, inode *api.InodeMsg) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: inode.FsId, InodeId: inode.InodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.SetAttr(ctx, &metaserver.SetAttrRequest{Header: c.header(loc), Inode: inode})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callLookup(ctx context.Context, fsId uint32, parentInodeId uint64, name string) (*api.DentryMsg, *api.InodeMsg, api.Status) {
	var dentry *api.DentryMsg
	var inode *api.InodeMsg
	st := c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: parentInodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.Lookup(ctx, &metaserver.LookupRequest{Header: c.header(loc), ParentInodeId: parentInodeId, Name: name})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				dentry, inode = resp.Dentry, resp.Inode
			}
			return api.Status(resp.Header.Status)
		},
	})
	return dentry, inode, st
}

func (c *Client) callCreateDentry(ctx context.Context, dentry *api.DentryMsg) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: dentry.FsId, InodeId: dentry.ParentInodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.CreateDentry(ctx, &metaserver.CreateDentryRequest{Header: c.header(loc), Dentry: dentry})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callDeleteDentry(ctx context.Context, fsId uint32, parentInodeId uint64, name string) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: parentInodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.DeleteDentry(ctx, &metaserver.DeleteDentryRequest{Header: c.header(loc), ParentInodeId: parentInodeId, Name: name})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callListDentry(ctx context.Context, fsId uint32, parentInodeId uint64, startAfter string, limit int) ([]*api.DentryMsg, api.Status) {
	var entries []*api.DentryMsg
	st := c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: parentInodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.ListDentry(ctx, &metaserver.ListDentryRequest{Header: c.header(loc), ParentInodeId: parentInodeId, StartAfter: startAfter, Limit: int32(limit)})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				entries = resp.Entries
			}
			return api.Status(resp.Header.Status)
		},
	})
	return entries, st
}

func (c *Client) callModifyChunkInfo(ctx context.Context, fsId uint32, inodeId uint64, delta *api.ChunkInfoListMsg) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.ModifyS3ChunkInfoList(ctx, &metaserver.ModifyS3ChunkInfoListRequest{Header: c.header(loc), InodeId: inodeId, Delta: delta})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

func (c *Client) callListChunkInfo(ctx context.Context, fsId uint32, inodeId uint64, chunkIndex int64) ([]*api.ChunkInfoMsg, api.Status) {
	var entries []*api.ChunkInfoMsg
	st := c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.ListChunkInfo(ctx, &metaserver.ListChunkInfoRequest{Header: c.header(loc), InodeId: inodeId, ChunkIndex: chunkIndex})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				entries = resp.Entries
			}
			return api.Status(resp.Header.Status)
		},
	})
	return entries, st
}

func (c *Client) callGetXattr(ctx context.Context, fsId uint32, inodeId uint64, name string) ([]byte, api.Status) {
	var value []byte
	st := c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.GetXattr(ctx, &metaserver.GetXattrRequest{Header: c.header(loc), InodeId: inodeId, Name: name})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				value = resp.Value
			}
			return api.Status(resp.Header.Status)
		},
	})
	return value, st
}

func (c *Client) callListXattrNames(ctx context.Context, fsId uint32, inodeId uint64) ([]string, api.Status) {
	inode, st := c.callGetInode(ctx, fsId, inodeId)
	if st != api.StatusOk {
		return nil, st
	}
	names := make([]string, 0, len(inode.Xattr))
	for name := range inode.Xattr {
		names = append(names, name)
	}
	return names, api.StatusOk
}

func (c *Client) callSetXattr(ctx context.Context, fsId uint32, inodeId uint64, name string, value []byte, remove bool) api.Status {
	return c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: inodeId,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.SetXattr(ctx, &metaserver.SetXattrRequest{Header: c.header(loc), InodeId: inodeId, Name: name, Value: value, Remove: remove})
			if err != nil {
				return api.StatusRpcStreamError
			}
			return api.Status(resp.Header.Status)
		},
	})
}

// callRename addresses the source parent's leader and lets that node run
// the full two-phase protocol server-side (metaserver.Server.Rename).
func (c *Client) callRename(ctx context.Context, fsId uint32, oldParentIno uint64, oldName string, newParentIno uint64, newName string) (movedInodeId, overwrittenInodeId uint64, status api.Status) {
	status = c.exec.Run(ctx, executor.Task{
		FsId: fsId, InodeId: oldParentIno,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			cc, dst := c.dial(loc)
			if dst != api.StatusOk {
				return dst
			}
			resp, err := cc.Rename(ctx, &metaserver.RenameRequest{
				Header: c.header(loc), OldParentInodeId: oldParentIno, OldName: oldName,
				NewParentInodeId: newParentIno, NewName: newName,
			})
			if err != nil {
				return api.StatusRpcStreamError
			}
			if api.Status(resp.Header.Status) == api.StatusOk {
				movedInodeId, overwrittenInodeId = resp.MovedInodeId, resp.OverwrittenInodeId
			}
			return api.Status(resp.Header.Status)
		},
	})
	return
}
