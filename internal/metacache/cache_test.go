/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metacache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	calls int32
	loc   Location
}

func (f *fakeResolver) ResolveInode(fsId uint32, inodeId uint64) (Location, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.loc, nil
}

func TestLookupCachesAndDedupsMisses(t *testing.T) {
	r := &fakeResolver{loc: Location{PartitionId: 1, CopysetId: 2, LeaderAddr: "10.0.0.1:8638"}}
	c := New(r)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := c.Lookup(1, 42)
			assert.NoError(t, err)
			assert.Equal(t, uint32(1), loc.PartitionId)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, r.calls)

	loc, err := c.Lookup(1, 42)
	assert.NoError(t, err)
	assert.Equal(t, r.loc, loc)
	assert.EqualValues(t, 1, r.calls) // still warm from cache
}

func TestInvalidateForcesResolve(t *testing.T) {
	r := &fakeResolver{loc: Location{PartitionId: 1}}
	c := New(r)
	_, _ = c.Lookup(1, 42)
	c.Invalidate(1, 42)
	_, _ = c.Lookup(1, 42)
	assert.EqualValues(t, 2, r.calls)
}

func TestAppliedIndexAndTxHighWaterAreMonotonic(t *testing.T) {
	c := New(&fakeResolver{})
	c.RecordAppliedIndex(5, 10)
	c.RecordAppliedIndex(5, 3)
	assert.EqualValues(t, 10, c.AppliedIndex(5))

	c.RecordTxId(7, 100)
	c.RecordTxId(7, 50)
	assert.EqualValues(t, 100, c.TxHighWater(7))
}
