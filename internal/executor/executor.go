/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package executor is the client-side task dispatcher (C7): it resolves an
// inode's owning partition through internal/metacache, invokes the caller's
// closure against that target, and maps the returned api.Status into retry,
// redirect, or hard-failure per spec.md §4.3. The retry loop is grounded on
// the teacher's RpcMgr.__callAny in internal/rpc.go — same
// resolve/invoke/classify/backoff shape, generalized from a raft leader
// lookup to a meta-cache partition lookup.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/common"
	"github.com/distfs/corefs/internal/metacache"
)

var log = common.GetLogger("executor")

// Task is the unit of work the executor dispatches: resolve a target for
// (fsId, inodeId), then call Do against it. Do returns the status the
// backing RPC or in-process call produced; the executor decides whether
// that status warrants a retry.
type Task struct {
	FsId      uint32
	InodeId   uint64
	IdempKey  string
	Do        func(ctx context.Context, loc metacache.Location) api.Status
}

// Executor dispatches Tasks against a Cache-resolved target with bounded
// retry and backoff.
type Executor struct {
	cache      *metacache.Cache
	limiter    *rate.Limiter
	maxRetry   int
	backoff    time.Duration
}

// New constructs an Executor. maxRetry and backoff come from
// common.Config's RpcMaxRetry/RpcBackoffMs (spec.md §6).
func New(cache *metacache.Cache, maxRetry int, backoff time.Duration) *Executor {
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &Executor{
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Every(backoff), 1),
		maxRetry: maxRetry,
		backoff:  backoff,
	}
}

// NewIdempotencyKey returns a fresh idempotency token for a task the caller
// is about to submit; retries of the same logical operation should reuse
// the same key so the metadata service can de-duplicate a replayed mutation.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// Run dispatches t, retrying on redirect/stale/resource-exhausted statuses
// up to e.maxRetry times, backing off between attempts via e.limiter. It
// gives up early on ctx cancellation or a hard-error status.
func (e *Executor) Run(ctx context.Context, t Task) api.Status {
	if t.IdempKey == "" {
		t.IdempKey = NewIdempotencyKey()
	}
	var last api.Status
	for attempt := 0; attempt < e.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return api.StatusDeadlineExceeded
		}
		loc, err := e.cache.Lookup(t.FsId, t.InodeId)
		if err != nil {
			log.Errorf("Failed: Executor.Run, Lookup, fsId=%v, inodeId=%v, attempt=%v, err=%v", t.FsId, t.InodeId, attempt, err)
			last = api.StatusPartitionNotFound
			if !e.wait(ctx) {
				return api.StatusDeadlineExceeded
			}
			continue
		}

		st := t.Do(ctx, loc)
		switch st {
		case api.StatusOk:
			return api.StatusOk
		case api.StatusRedirect:
			log.Debugf("Executor.Run, redirect, fsId=%v, inodeId=%v, attempt=%v", t.FsId, t.InodeId, attempt)
			e.cache.Invalidate(t.FsId, t.InodeId)
			last = st
		case api.StatusStaleTx:
			log.Debugf("Executor.Run, stale, fsId=%v, inodeId=%v, attempt=%v", t.FsId, t.InodeId, attempt)
			last = st
		case api.StatusResourceExhausted, api.StatusRpcStreamError:
			last = st
		default:
			// hard error: PartitionNotFound/Deleting and everything else in
			// api.Status is surfaced to the caller unchanged, matching
			// spec.md §4.3's "single pending retry per task" invariant —
			// only the statuses above get transparently retried.
			return st
		}
		if !e.wait(ctx) {
			return api.StatusDeadlineExceeded
		}
	}
	log.Errorf("Failed: Executor.Run, exhausted retries, fsId=%v, inodeId=%v, last=%v", t.FsId, t.InodeId, last)
	return last
}

// wait blocks for the executor's backoff pacing, returning false if ctx was
// cancelled first.
func (e *Executor) wait(ctx context.Context) bool {
	return e.limiter.Wait(ctx) == nil
}
