/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package diskcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeUploader struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func newFakeUploader() *fakeUploader { return &fakeUploader{puts: make(map[string][]byte)} }

func (f *fakeUploader) PutObject(key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = append([]byte{}, data...)
	return nil
}

func objKey(fsId uint32, inodeId uint64, chunkIndex int64) string {
	return "obj"
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	up := newFakeUploader()
	c, err := New(dir, 0, 0.9, 0.7, up, objKey)
	assert.NoError(t, err)
	defer c.Close()

	c.Write(1, 100, 0, 0, []byte("hello world"))
	buf, ok := c.Read(1, 100, 0, 0, 5)
	assert.True(t, ok)
	assert.Equal(t, "hello", string(buf))
}

func TestWriteSchedulesUpload(t *testing.T) {
	dir := t.TempDir()
	up := newFakeUploader()
	c, err := New(dir, 0, 0.9, 0.7, up, objKey)
	assert.NoError(t, err)
	defer c.Close()

	c.Write(1, 100, 0, 0, []byte("payload"))
	assert.Eventually(t, func() bool {
		up.mu.Lock()
		defer up.mu.Unlock()
		return len(up.puts) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReadMissReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	up := newFakeUploader()
	c, err := New(dir, 0, 0.9, 0.7, up, objKey)
	assert.NoError(t, err)
	defer c.Close()

	_, ok := c.Read(1, 999, 0, 0, 5)
	assert.False(t, ok)
}
