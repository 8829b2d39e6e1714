/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package xattr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/partition"
)

func setup(t *testing.T) *partition.Partition {
	p := partition.New(1, 1)
	assert.Equal(t, api.StatusOk, p.CreateInode(&api.InodeMsg{FsId: 1, InodeId: 1, Type: api.InodeTypeDirectory}))
	assert.Equal(t, api.StatusOk, p.CreateInode(&api.InodeMsg{FsId: 1, InodeId: 2, Type: api.InodeTypeDirectory, Parents: []uint64{1}}))
	assert.Equal(t, api.StatusOk, p.CreateInode(&api.InodeMsg{FsId: 1, InodeId: 3, Type: api.InodeTypeFile, Length: 100, Parents: []uint64{2}}))
	assert.Equal(t, api.StatusOk, p.CreateDentry(&api.DentryMsg{FsId: 1, ParentInodeId: 1, Name: "sub", InodeId: 2}))
	assert.Equal(t, api.StatusOk, p.CreateDentry(&api.DentryMsg{FsId: 1, ParentInodeId: 2, Name: "f.txt", InodeId: 3}))
	return p
}

func lookupAll(p *partition.Partition) partition.PartitionLookupFunc {
	return func(fsId uint32, inodeId uint64) *partition.Partition { return p }
}

func TestApplyDeltaPropagatesUpAncestorChain(t *testing.T) {
	p := setup(t)
	st := ApplyDelta(lookupAll(p), 1, 2, Delta{Entries: 1, Files: 1, Bytes: 100})
	assert.Equal(t, api.StatusOk, st)

	inode2, _ := p.GetInode(1, 2)
	assert.EqualValues(t, 1, readCounter(inode2.Xattr, KeyEntries))
	assert.EqualValues(t, 100, readCounter(inode2.Xattr, KeyBytes))

	inode1, _ := p.GetInode(1, 1)
	assert.EqualValues(t, 1, readCounter(inode1.Xattr, KeyEntries))
	assert.EqualValues(t, 100, readCounter(inode1.Xattr, KeyBytes))
}

func TestRenameFixupDebitsOldAndCreditsNew(t *testing.T) {
	p := setup(t)
	assert.Equal(t, api.StatusOk, p.CreateInode(&api.InodeMsg{FsId: 1, InodeId: 4, Type: api.InodeTypeDirectory, Parents: []uint64{1}}))
	ApplyDelta(lookupAll(p), 1, 2, Delta{Entries: 1, Files: 1, Bytes: 100})

	RenameFixup(lookupAll(p), 1, 2, 4, Delta{Entries: 1, Files: 1, Bytes: 100})

	oldParent, _ := p.GetInode(1, 2)
	assert.EqualValues(t, 0, readCounter(oldParent.Xattr, KeyEntries))
	newParent, _ := p.GetInode(1, 4)
	assert.EqualValues(t, 1, readCounter(newParent.Xattr, KeyEntries))
	assert.EqualValues(t, 100, readCounter(newParent.Xattr, KeyBytes))
}

func TestRecursiveSummaryWalksSubtree(t *testing.T) {
	p := setup(t)
	sum, st := RecursiveSummary(p, 1, 1)
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 2, sum.Entries) // "sub" dir + "f.txt" file
	assert.EqualValues(t, 1, sum.Files)
	assert.EqualValues(t, 1, sum.Subdirs)
	assert.EqualValues(t, 100, sum.Bytes)
}
