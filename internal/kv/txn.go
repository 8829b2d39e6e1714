/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package kv

import "github.com/distfs/corefs/api"

// Batch accumulates a group of Put/Delete operations to apply atomically
// against an Engine. It plays the role the teacher's dirty-page list plays
// in internal/dirty.go: mutations are staged, then committed under a single
// critical section so a reader never observes a partial rename or a partial
// chunk-info update. Batch has no Get and no rollback semantics beyond
// "never call Apply" — callers that need read-your-own-writes within one
// atomic unit want Txn below instead.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    Key
	value  []byte
	delete bool
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put stages a write.
func (b *Batch) Put(key Key, value []byte) *Batch {
	b.ops = append(b.ops, batchOp{key: key, value: value})
	return b
}

// Delete stages a removal.
func (b *Batch) Delete(key Key) *Batch {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
	return b
}

// Len returns the number of staged operations.
func (b *Batch) Len() int { return len(b.ops) }

// Apply commits every staged operation to e under a single lock acquisition,
// so a concurrent scanner either sees all of the batch's writes or none of
// them. Returns StatusResourceExhausted instead of writing if a configured
// quota (Engine.SetQuota) is currently exceeded.
func (e *Engine) Apply(b *Batch) api.Status {
	if b == nil || len(b.ops) == 0 {
		return api.StatusOk
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.hasPuts() {
		if st := e.admitLocked(); st != api.StatusOk {
			return st
		}
	}
	for _, op := range b.ops {
		if op.delete {
			e.deleteLocked(op.key)
		} else {
			e.putLocked(op.key, op.value)
		}
	}
	return api.StatusOk
}

// hasPuts reports whether the batch stages any write, as opposed to being
// pure deletes. A delete-only batch — internal/partition's trash reclaim,
// for instance — must never be refused for lack of headroom: it only frees
// space.
func (b *Batch) hasPuts() bool {
	for _, op := range b.ops {
		if !op.delete {
			return true
		}
	}
	return false
}

// pendingOp is one write staged inside a Txn, keyed by txnKey(key) so a
// second write to the same key overwrites rather than duplicates the first.
type pendingOp struct {
	key    Key
	value  []byte
	delete bool
}

// Txn is a snapshot-isolated read/write handle: Get observes both the
// Engine's committed state and this transaction's own uncommitted writes
// (read-your-own-writes), and nothing it does is visible to any other
// reader until Commit returns (spec.md §4.1 begin-transaction). It holds
// the Engine's write lock for its entire lifetime rather than attempting a
// copy-on-write snapshot, the same "write path held open, mutate must not
// block" discipline Partition.UpdateInode already documents.
type Txn struct {
	e       *Engine
	pending map[string]pendingOp
	done    bool
}

func txnKey(k Key) string {
	return string([]byte{byte(k.CF)}) + string(k.Raw)
}

// BeginTransaction acquires e's write lock and returns a handle for staging
// a group of get/put/delete operations that all commit — or all roll
// back — together. The caller must call Commit or Rollback exactly once.
func (e *Engine) BeginTransaction() *Txn {
	e.mu.Lock()
	return &Txn{e: e, pending: make(map[string]pendingOp)}
}

// Get reads key, preferring this transaction's own uncommitted writes over
// the Engine's committed value (read-your-own-writes).
func (t *Txn) Get(key Key) (value []byte, ok bool) {
	if op, staged := t.pending[txnKey(key)]; staged {
		if op.delete {
			return nil, false
		}
		return op.value, true
	}
	if pointLookupFamily(key.CF) {
		v, found := t.e.shardFor(key.Raw)[string(key.Raw)]
		return v, found
	}
	item := t.e.tree.Get(kvItem{key: key})
	if item == nil {
		return nil, false
	}
	return item.(kvItem).value, true
}

// Put stages a write, visible to this Txn's own subsequent Get calls but
// not to any other reader until Commit.
func (t *Txn) Put(key Key, value []byte) {
	t.pending[txnKey(key)] = pendingOp{key: key, value: value}
}

// Delete stages a removal, the mirror of Put.
func (t *Txn) Delete(key Key) {
	t.pending[txnKey(key)] = pendingOp{key: key, delete: true}
}

// Commit applies every staged write to the Engine and releases the write
// lock Begin acquired. Returns StatusResourceExhausted, leaving every
// staged write unapplied, if a configured quota is currently exceeded.
func (t *Txn) Commit() api.Status {
	if t.done {
		return api.StatusOk
	}
	t.done = true
	defer t.e.mu.Unlock()
	if t.hasPuts() {
		if st := t.e.admitLocked(); st != api.StatusOk {
			return st
		}
	}
	for _, op := range t.pending {
		if op.delete {
			t.e.deleteLocked(op.key)
		} else {
			t.e.putLocked(op.key, op.value)
		}
	}
	return api.StatusOk
}

// hasPuts reports whether any staged operation is a write rather than a
// delete, mirroring Batch.hasPuts for the same reason: a transaction that
// only deletes must never be refused for lack of headroom.
func (t *Txn) hasPuts() bool {
	for _, op := range t.pending {
		if !op.delete {
			return true
		}
	}
	return false
}

// Rollback discards every staged write and releases the write lock Begin
// acquired, leaving the Engine exactly as it was.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.e.mu.Unlock()
}
