/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package kv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnginePutGetDelete(t *testing.T) {
	e := NewEngine(4)
	k := Key{CF: CFInode, Raw: []byte("inode-1")}
	_, ok := e.Get(k)
	assert.False(t, ok)

	e.Put(k, []byte("v1"))
	v, ok := e.Get(k)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
	assert.EqualValues(t, 1, e.Stats().Keys())

	e.Delete(k)
	_, ok = e.Get(k)
	assert.False(t, ok)
	assert.EqualValues(t, 0, e.Stats().Keys())
}

func TestEngineScanRangeOrdering(t *testing.T) {
	e := NewEngine(4)
	for i := 0; i < 10; i++ {
		e.Put(Key{CF: CFDentry, Raw: []byte(fmt.Sprintf("d%02d", i))}, []byte{byte(i)})
	}
	var seen []byte
	e.ScanRange(CFDentry, []byte("d03"), []byte("d07"), 0, func(raw, value []byte) bool {
		seen = append(seen, value[0])
		return true
	})
	assert.Equal(t, []byte{3, 4, 5, 6}, seen)
}

func TestEngineScanPrefixStopsAtBoundary(t *testing.T) {
	e := NewEngine(4)
	e.Put(Key{CF: CFChunkInfo, Raw: []byte("a/1")}, []byte("x"))
	e.Put(Key{CF: CFChunkInfo, Raw: []byte("a/2")}, []byte("y"))
	e.Put(Key{CF: CFChunkInfo, Raw: []byte("b/1")}, []byte("z"))

	var count int
	e.ScanPrefix(CFChunkInfo, []byte("a/"), func(raw, value []byte) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
}

func TestBatchApplyIsAtomicSnapshot(t *testing.T) {
	e := NewEngine(4)
	b := NewBatch().
		Put(Key{CF: CFInode, Raw: []byte("i1")}, []byte("a")).
		Put(Key{CF: CFDentry, Raw: []byte("d1")}, []byte("b")).
		Delete(Key{CF: CFInode, Raw: []byte("i1")})
	e.Apply(b)

	_, ok := e.Get(Key{CF: CFInode, Raw: []byte("i1")})
	assert.False(t, ok)
	v, ok := e.Get(Key{CF: CFDentry, Raw: []byte("d1")})
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), v)
}
