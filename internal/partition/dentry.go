/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package partition

import (
	"sort"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/kv"
)

// CreateDentry inserts a new directory entry. StatusExists is returned if an
// entry with the same (parent, name) is already visible (i.e. not marked
// deleted). The new entry is written under a freshly committed tx id
// (writeTxId), so it becomes visible the instant this call returns.
func (p *Partition) CreateDentry(msg *api.DentryMsg) api.Status {
	if !p.mutationAllowed() {
		return api.StatusPartitionDeleting
	}
	if _, st := p.GetDentry(msg.FsId, msg.ParentInodeId, msg.Name, false); st == api.StatusOk {
		return api.StatusExists
	}
	txId := p.writeTxId()
	msg.TxId = txId
	buf, err := api.Marshal(msg)
	if err != nil {
		return api.StatusInternal
	}
	return p.engine.Put(dentryKey(msg.FsId, msg.ParentInodeId, msg.Name, txId), buf)
}

// GetDentry looks up one directory entry by (parent, name), resolving
// across every stored tx_id version of that name (spec.md §3): the primary
// key is (fs_id, parent_inode_id, name, tx_id_desc), and the visible
// version is the one with the highest tx_id at or below the partition's
// committed watermark. includeHidden, which internal/rename uses to inspect
// its own in-flight prepares, instead returns the single highest version
// regardless of whether it has committed yet.
func (p *Partition) GetDentry(fsId uint32, parentInodeId uint64, name string, includeHidden bool) (*api.DentryMsg, api.Status) {
	prefix := dentryNamePrefix(fsId, parentInodeId, name)
	watermark := p.currentTxId()
	var found *api.DentryMsg
	p.engine.ScanPrefix(kv.CFDentry, prefix, func(raw, value []byte) bool {
		msg := &api.DentryMsg{}
		if err := api.Unmarshal(value, msg); err != nil {
			return true
		}
		if !includeHidden && msg.TxId > watermark {
			return true // prepared but not yet committed; an older version may still be visible
		}
		found = msg
		return false // ScanPrefix walks tx_id descending; the first match wins
	})
	if found == nil {
		return nil, api.StatusNotFound
	}
	if !includeHidden && found.Flags&api.DentryFlagDeleteMark != 0 {
		return nil, api.StatusNotFound
	}
	return found, api.StatusOk
}

// DeleteDentry retires a directory entry by writing a new, freshly
// committed tombstone version rather than removing the current row outright
// (spec.md §3): an older, still-stored version of the same name — left
// behind by a prior rename overwrite, for instance — must never resurface
// as visible once the newest version is gone.
func (p *Partition) DeleteDentry(fsId uint32, parentInodeId uint64, name string) api.Status {
	if !p.mutationAllowed() {
		return api.StatusPartitionDeleting
	}
	cur, st := p.GetDentry(fsId, parentInodeId, name, false)
	if st != api.StatusOk {
		return api.StatusNotFound
	}
	txId := p.writeTxId()
	tomb := &api.DentryMsg{
		FsId: fsId, ParentInodeId: parentInodeId, Name: name,
		TxId: txId, InodeId: cur.InodeId, Flags: cur.Flags | api.DentryFlagDeleteMark,
	}
	buf, err := api.Marshal(tomb)
	if err != nil {
		return api.StatusInternal
	}
	return p.engine.Put(dentryKey(fsId, parentInodeId, name, txId), buf)
}

// ListDentry returns up to limit visible entries for parentInodeId with name
// strictly greater than startAfter (empty string for the first page),
// ascending by name, the pagination contract spec.md §4.2/§6 describes for
// readdir. Each name's whole run of tx_id versions is walked in one pass;
// the first version at or below the committed watermark is that name's
// resolved entry, and the rest of its versions are skipped.
func (p *Partition) ListDentry(fsId uint32, parentInodeId uint64, startAfter string, limit int) ([]*api.DentryMsg, api.Status) {
	prefix := dentryPrefix(fsId, parentInodeId)
	watermark := p.currentTxId()

	start := prefix
	if startAfter != "" {
		start = prefixUpperBound(dentryNamePrefix(fsId, parentInodeId, startAfter))
	}
	end := prefixUpperBound(prefix)

	var out []*api.DentryMsg
	lastName, resolved := "", false
	p.engine.ScanRange(kv.CFDentry, start, end, 0, func(raw, value []byte) bool {
		name := decodeDentryName(raw, len(prefix))
		if name != lastName {
			lastName, resolved = name, false
		}
		if resolved {
			return true // already found this name's visible version; skip its older ones
		}
		msg := &api.DentryMsg{}
		if err := api.Unmarshal(value, msg); err != nil {
			return true
		}
		if msg.TxId > watermark {
			return true // prepared but not yet committed
		}
		resolved = true
		if msg.Flags&api.DentryFlagDeleteMark != 0 {
			return true
		}
		out = append(out, msg)
		return limit <= 0 || len(out) < limit
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, api.StatusOk
}

// ScanTransactionPrepare visits every dentry version currently marked
// TRANSACTION_PREPARE across the whole partition, regardless of parent or
// commit status, for internal/rename's stale-prepare sweeper.
func (p *Partition) ScanTransactionPrepare(fn func(parentInodeId uint64, name string, txId uint64)) {
	prefixLen := 12 // fsId(4) + parentInodeId(8)
	p.engine.ScanPrefix(kv.CFDentry, nil, func(raw, value []byte) bool {
		if len(raw) < prefixLen {
			return true
		}
		msg := &api.DentryMsg{}
		if err := api.Unmarshal(value, msg); err != nil {
			return true
		}
		if msg.Flags&api.DentryFlagTransactionPrepare != 0 {
			fn(msg.ParentInodeId, msg.Name, msg.TxId)
		}
		return true
	})
}

// prefixUpperBound returns the smallest byte string that is strictly
// greater than every string with the given prefix, used to bound a
// range scan to just that prefix's key space.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes: unbounded above
}
