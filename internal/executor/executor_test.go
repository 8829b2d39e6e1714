/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/metacache"
)

type staticResolver struct{ loc metacache.Location }

func (s staticResolver) ResolveInode(fsId uint32, inodeId uint64) (metacache.Location, error) {
	return s.loc, nil
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	cache := metacache.New(staticResolver{loc: metacache.Location{PartitionId: 1}})
	e := New(cache, 3, time.Millisecond)
	calls := 0
	st := e.Run(context.Background(), Task{
		FsId: 1, InodeId: 1,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			calls++
			return api.StatusOk
		},
	})
	assert.Equal(t, api.StatusOk, st)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesOnRedirectThenSucceeds(t *testing.T) {
	cache := metacache.New(staticResolver{loc: metacache.Location{PartitionId: 1}})
	e := New(cache, 3, time.Millisecond)
	calls := 0
	st := e.Run(context.Background(), Task{
		FsId: 1, InodeId: 1,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			calls++
			if calls == 1 {
				return api.StatusRedirect
			}
			return api.StatusOk
		},
	})
	assert.Equal(t, api.StatusOk, st)
	assert.Equal(t, 2, calls)
}

func TestRunReturnsHardErrorImmediately(t *testing.T) {
	cache := metacache.New(staticResolver{loc: metacache.Location{PartitionId: 1}})
	e := New(cache, 5, time.Millisecond)
	calls := 0
	st := e.Run(context.Background(), Task{
		FsId: 1, InodeId: 1,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			calls++
			return api.StatusNotFound
		},
	})
	assert.Equal(t, api.StatusNotFound, st)
	assert.Equal(t, 1, calls)
}

func TestRunGivesUpAfterMaxRetry(t *testing.T) {
	cache := metacache.New(staticResolver{loc: metacache.Location{PartitionId: 1}})
	e := New(cache, 2, time.Millisecond)
	calls := 0
	st := e.Run(context.Background(), Task{
		FsId: 1, InodeId: 1,
		Do: func(ctx context.Context, loc metacache.Location) api.Status {
			calls++
			return api.StatusStaleTx
		},
	})
	assert.Equal(t, api.StatusStaleTx, st)
	assert.Equal(t, 2, calls)
}
