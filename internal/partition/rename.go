/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package partition

import (
	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/kv"
)

// HandleRenameTx applies one partition's slice of a cross-shard rename
// (spec.md §4.2/§4.6): the coordinator sends every dentry this partition
// must write — typically the old-name delete-mark and/or the new-name
// insert — each already stamped with its own new TxId, and this call writes
// every one of them under its own dedicated versioned key
// (fs_id, parent_inode_id, name, tx_id) rather than the row a lookup
// currently resolves to. That is what makes prepare crash-safe (spec.md §8
// scenario 6): the pre-rename row is never touched, so a crash between this
// call and CommitRenameTx leaves the old name fully intact and the new
// version simply invisible, since its tx id sits above the partition's
// committed watermark. The whole batch is applied under one kv.Batch so a
// concurrent lookup never observes only half of it.
func (p *Partition) HandleRenameTx(tx *api.RenameTxMsg) api.Status {
	if !p.mutationAllowed() {
		return api.StatusPartitionDeleting
	}
	batch := kv.NewBatch()
	for _, d := range tx.Dentries {
		buf, err := api.Marshal(d)
		if err != nil {
			return api.StatusInternal
		}
		batch.Put(dentryKey(d.FsId, d.ParentInodeId, d.Name, d.TxId), buf)
	}
	return p.engine.Apply(batch)
}

// CommitRenameTx clears TRANSACTION_PREPARE (and, for the deleted side,
// finalizes DELETE_MARK) on every dentry version written under its own
// entry's TxId, then advances the partition's committed watermark past the
// highest of those tx ids — the single step that makes the whole batch
// visible to ordinary lookups at once. Each entry's key already fully
// disambiguates the exact row it prepared, so no staleness check against
// the "current" row is needed: an entry addresses its own row directly. It
// is idempotent: replaying commit for an already-committed txId re-applies
// the same content and re-advances the watermark to the same value, which
// lets the coordinator retry a lost commit_tx reply without double-effect.
func (p *Partition) CommitRenameTx(fsId uint32, entries []RenameTxEntry) api.Status {
	txn := p.engine.BeginTransaction()
	var maxTxId uint64
	for _, e := range entries {
		key := dentryKey(fsId, e.ParentInodeId, e.Name, e.TxId)
		v, ok := txn.Get(key)
		if !ok {
			continue // reclaimed or never written; nothing to finalize
		}
		d := &api.DentryMsg{}
		if err := api.Unmarshal(v, d); err != nil {
			txn.Rollback()
			return api.StatusInternal
		}
		d.Flags &^= api.DentryFlagTransactionPrepare
		if e.Delete {
			d.Flags |= api.DentryFlagDeleteMark
		}
		buf, err := api.Marshal(d)
		if err != nil {
			txn.Rollback()
			return api.StatusInternal
		}
		txn.Put(key, buf)
		if e.TxId > maxTxId {
			maxTxId = e.TxId
		}
	}
	if st := txn.Commit(); st != api.StatusOk {
		return st
	}
	if maxTxId > 0 {
		p.commitTxId(maxTxId)
	}
	return api.StatusOk
}

// RenameTxEntry names one dentry a CommitRenameTx or AbortRenameTx call
// should finalize or roll back.
type RenameTxEntry struct {
	ParentInodeId uint64
	Name          string
	TxId          uint64
	Delete        bool
}

// AbortRenameTx rolls back a prepare that never committed (the stale-prepare
// sweeper's job): each entry addresses its own dedicated versioned key
// directly, so deleting it can never disturb the still-present, still-
// visible lower-tx-id row the prepare was going to supersede. The
// TRANSACTION_PREPARE check guards against a lost-then-retried abort racing
// a commit that already landed — an already-committed row is left alone.
func (p *Partition) AbortRenameTx(fsId uint32, entries []RenameTxEntry) api.Status {
	for _, e := range entries {
		key := dentryKey(fsId, e.ParentInodeId, e.Name, e.TxId)
		v, ok := p.engine.Get(key)
		if !ok {
			continue
		}
		d := &api.DentryMsg{}
		if err := api.Unmarshal(v, d); err != nil {
			continue
		}
		if d.Flags&api.DentryFlagTransactionPrepare != 0 {
			p.engine.Delete(key)
		}
	}
	return api.StatusOk
}
