/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metaserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/partition"
)

func TestServerCreateAndGetInode(t *testing.T) {
	s := New()
	s.AddPartition(partition.New(1, 100))
	ctx := context.Background()

	header := api.RequestHeader{PartitionId: 1, FsId: 100}
	_, err := s.CreateInode(ctx, &CreateInodeRequest{Header: header, Inode: &api.InodeMsg{FsId: 100, InodeId: 5}})
	assert.NoError(t, err)

	resp, err := s.GetInode(ctx, &GetInodeRequest{Header: header, InodeId: 5})
	assert.NoError(t, err)
	assert.Equal(t, int32(api.StatusOk), resp.Header.Status)
	assert.EqualValues(t, 5, resp.Inode.InodeId)
}

func TestServerUnknownPartitionReturnsNotFoundStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	resp, err := s.GetInode(ctx, &GetInodeRequest{Header: api.RequestHeader{PartitionId: 99}, InodeId: 1})
	assert.NoError(t, err)
	assert.Equal(t, int32(api.StatusPartitionNotFound), resp.Header.Status)
}

func TestServerLookupUpChainAndDentryFlow(t *testing.T) {
	s := New()
	p := partition.New(1, 100)
	s.AddPartition(p)
	ctx := context.Background()
	header := api.RequestHeader{PartitionId: 1, FsId: 100}

	_, err := s.CreateInode(ctx, &CreateInodeRequest{Header: header, Inode: &api.InodeMsg{FsId: 100, InodeId: 5}})
	assert.NoError(t, err)
	_, err = s.CreateDentry(ctx, &CreateDentryRequest{Header: header, Dentry: &api.DentryMsg{FsId: 100, ParentInodeId: 1, Name: "a.txt", InodeId: 5}})
	assert.NoError(t, err)

	resp, err := s.Lookup(ctx, &LookupRequest{Header: header, ParentInodeId: 1, Name: "a.txt"})
	assert.NoError(t, err)
	assert.Equal(t, int32(api.StatusOk), resp.Header.Status)
	assert.EqualValues(t, 5, resp.Dentry.InodeId)
	assert.EqualValues(t, 5, resp.Inode.InodeId)
}

func TestLookupPartitionFindsHostingPartition(t *testing.T) {
	s := New()
	p := partition.New(1, 100)
	s.AddPartition(p)
	assert.Equal(t, api.StatusOk, p.CreateInode(&api.InodeMsg{FsId: 100, InodeId: 7}))

	found := s.LookupPartition(100, 7)
	assert.Same(t, p, found)
	assert.Nil(t, s.LookupPartition(100, 999))
}
