/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package rename

import (
	"fmt"
	"time"

	"github.com/distfs/corefs/internal/partition"
)

// Sweeper garbage-collects dentries left in TRANSACTION_PREPARE past a
// configured horizon: the crash-recovery mechanism spec.md §4.6 names
// without specifying cadence. SPEC_FULL.md §4 grounds this on the original
// implementation's practice of running it on the same timer as trash
// collection (config key rename.prepare_gc_interval_sec).
type Sweeper struct {
	partitions func() []*partition.Partition
	horizon    time.Duration
	interval   time.Duration
	stopCh     chan struct{}

	// prepareSeenAt tracks when a still-pending prepare was first observed,
	// keyed by partition id, parent inode id, name and tx id, so a prepare isn't reclaimed
	// before it has had horizon time to either commit or be superseded.
	prepareSeenAt map[string]time.Time
	now           func() time.Time
}

// NewSweeper constructs a Sweeper. partitions returns the current set of
// locally-hosted partitions to scan; interval and horizon come from
// common.Config's RenamePrepareGCIntervalSec.
func NewSweeper(partitions func() []*partition.Partition, interval, horizon time.Duration) *Sweeper {
	return &Sweeper{
		partitions:    partitions,
		horizon:       horizon,
		interval:      interval,
		stopCh:        make(chan struct{}),
		prepareSeenAt: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Start launches the sweeper's background loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the background loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	now := s.now()
	for _, part := range s.partitions() {
		var stale []partition.RenameTxEntry
		part.ScanTransactionPrepare(func(parentInodeId uint64, name string, txId uint64) {
			seenKey := fmt.Sprint(part.Id(), "/", parentInodeId, "/", name, "/", txId)
			first, ok := s.prepareSeenAt[seenKey]
			if !ok {
				s.prepareSeenAt[seenKey] = now
				return
			}
			if now.Sub(first) >= s.horizon {
				stale = append(stale, partition.RenameTxEntry{ParentInodeId: parentInodeId, Name: name, TxId: txId})
				delete(s.prepareSeenAt, seenKey)
			}
		})
		if len(stale) > 0 {
			part.AbortRenameTx(part.FsId(), stale)
		}
	}
}
