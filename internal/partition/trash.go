/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package partition

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/distfs/corefs/internal/kv"
)

// trashKey identifies one inode queued for asynchronous reclaim.
type trashKey struct {
	fsId    uint32
	inodeId uint64
}

// trashWorker drains inodes whose nlink dropped to zero while still open,
// reclaiming their chunk-info and inode records off the write path. This is
// the deferred-delete queue the original curvefs metaserver runs per
// partition (SPEC_FULL.md §4); the distilled spec only says reclamation is
// asynchronous without naming a mechanism.
type trashWorker struct {
	p *Partition

	mu      sync.Mutex
	pending []trashKey
	wakeCh  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	limiter *rate.Limiter
}

func newTrashWorker(p *Partition) *trashWorker {
	w := &trashWorker{
		p:       p,
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(200), 200), // 200 reclaims/sec
	}
	go w.run()
	return w
}

// stop signals run's loop to exit and blocks until it has, guaranteeing no
// in-flight reclaim outlives the call. (internal/inodecache.Cache.Close and
// internal/diskcache.Cache.Close only signal their loops and do not wait.)
func (w *trashWorker) stop() {
	close(w.stopCh)
	<-w.done
}

func (w *trashWorker) enqueue(fsId uint32, inodeId uint64) {
	w.mu.Lock()
	w.pending = append(w.pending, trashKey{fsId: fsId, inodeId: inodeId})
	w.mu.Unlock()
	w.wake()
}

func (w *trashWorker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *trashWorker) run() {
	defer close(w.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.wakeCh:
			w.drainOnce()
		case <-ticker.C:
			w.drainOnce()
		}
	}
}

func (w *trashWorker) drainOnce() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		key := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		_ = w.limiter.Wait(context.Background())
		w.reclaim(key)
	}
}

func chunkInfoPrefixForInode(fsId uint32, inodeId uint64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], fsId)
	binary.BigEndian.PutUint64(buf[4:12], inodeId)
	return buf
}

func (w *trashWorker) reclaim(key trashKey) {
	prefix := chunkInfoPrefixForInode(key.fsId, key.inodeId)
	var toDelete [][]byte
	w.p.engine.ScanPrefix(kv.CFChunkInfo, prefix, func(raw, value []byte) bool {
		toDelete = append(toDelete, append([]byte{}, raw...))
		return true
	})
	batch := kv.NewBatch()
	for _, raw := range toDelete {
		batch.Delete(kv.Key{CF: kv.CFChunkInfo, Raw: raw})
	}
	batch.Delete(inodeKey(key.fsId, key.inodeId))
	w.p.engine.Apply(batch)
	log.Debugf("Success: trashWorker.reclaim, fsId=%v, inodeId=%v", key.fsId, key.inodeId)
}
