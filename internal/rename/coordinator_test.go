/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package rename

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/mapping"
	"github.com/distfs/corefs/internal/partition"
)

type staticLookup struct {
	byParent map[uint64]*partition.Partition
}

func (l *staticLookup) ResolveDentryPartition(fsId uint32, parentInodeId uint64) (*partition.Partition, error) {
	return l.byParent[parentInodeId], nil
}

func setupDir(t *testing.T, part *partition.Partition, fsId uint32, parent uint64, name string, inodeId uint64) {
	st := part.CreateDentry(&api.DentryMsg{FsId: fsId, ParentInodeId: parent, Name: name, InodeId: inodeId})
	assert.Equal(t, api.StatusOk, st)
}

func TestRenameSamePartitionMovesEntry(t *testing.T) {
	part := partition.New(1, 100)
	setupDir(t, part, 100, 1, "a.txt", 42)

	coord := New(&staticLookup{byParent: map[uint64]*partition.Partition{1: part, 2: part}}, mapping.NewFakeClient(), true)
	moved, overwritten, st := coord.Rename(Request{FsId: 100, OldParentIno: 1, OldName: "a.txt", NewParentIno: 2, NewName: "b.txt"})
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 42, moved)
	assert.EqualValues(t, 0, overwritten)

	_, st = part.GetDentry(100, 1, "a.txt", false)
	assert.Equal(t, api.StatusNotFound, st)
	entry, st := part.GetDentry(100, 2, "b.txt", false)
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 42, entry.InodeId)
}

func TestRenameCrossPartitionCommitsBothSides(t *testing.T) {
	src := partition.New(1, 100)
	dst := partition.New(2, 100)
	setupDir(t, src, 100, 1, "a.txt", 42)

	mapClient := mapping.NewFakeClient()
	coord := New(&staticLookup{byParent: map[uint64]*partition.Partition{1: src, 2: dst}}, mapClient, true)
	moved, _, st := coord.Rename(Request{FsId: 100, OldParentIno: 1, OldName: "a.txt", NewParentIno: 2, NewName: "b.txt"})
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 42, moved)

	_, st = src.GetDentry(100, 1, "a.txt", false)
	assert.Equal(t, api.StatusNotFound, st)
	entry, st := dst.GetDentry(100, 2, "b.txt", false)
	assert.Equal(t, api.StatusOk, st)
	assert.EqualValues(t, 42, entry.InodeId)
}

func TestRenameCrossPartitionRefusedWhenDisabled(t *testing.T) {
	src := partition.New(1, 100)
	dst := partition.New(2, 100)
	setupDir(t, src, 100, 1, "a.txt", 42)

	coord := New(&staticLookup{byParent: map[uint64]*partition.Partition{1: src, 2: dst}}, mapping.NewFakeClient(), false)
	_, _, st := coord.Rename(Request{FsId: 100, OldParentIno: 1, OldName: "a.txt", NewParentIno: 2, NewName: "b.txt"})
	assert.Equal(t, api.StatusInvalidParam, st)
}

func TestRenameSamePathIsNoop(t *testing.T) {
	part := partition.New(1, 100)
	setupDir(t, part, 100, 1, "a.txt", 42)
	coord := New(&staticLookup{byParent: map[uint64]*partition.Partition{1: part}}, mapping.NewFakeClient(), true)
	_, _, st := coord.Rename(Request{FsId: 100, OldParentIno: 1, OldName: "a.txt", NewParentIno: 1, NewName: "a.txt"})
	assert.Equal(t, api.StatusOk, st)
}
