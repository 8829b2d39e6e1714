/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// Package s3data is the S3-backed data path (C8): a chunked write cache
// keyed by (inode, chunk_index), a read overlay over write-cache/disk-cache/
// object-store, close-to-open vs write-back flush semantics, and truncate
// handling. The object-store client itself is grounded on the teacher's
// ObjCacheBackend (internal/backend_multi.go), which wraps aws-sdk-go's S3
// API behind Get/Put-blob calls per named bucket; here that's narrowed to
// one bucket per filesystem, addressed by inode and chunk index instead of
// a free-form path.
package s3data

import (
	"bytes"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/distfs/corefs/common"
)

var log = common.GetLogger("s3")

// ObjectStore is the object-store surface the write/read caches need.
// Adapter implements it against a real S3 bucket; tests use an in-memory
// fake.
type ObjectStore interface {
	PutObject(key string, data []byte) error
	GetObject(key string, offset, length int64) ([]byte, error)
	DeleteObject(key string) error
}

// Adapter is the aws-sdk-go-backed ObjectStore implementation.
type Adapter struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewAdapter constructs an Adapter for one bucket using the ambient AWS
// session/credential chain, the same session.NewSession entrypoint the
// teacher's S3Config.Init uses.
func NewAdapter(bucket string, endpoint string, anonymous bool) (*Adapter, error) {
	cfg := aws.NewConfig()
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if anonymous {
		cfg = cfg.WithCredentials(nil)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		bucket:   bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func chunkObjectKey(fsId uint32, inodeId uint64, chunkIndex int64, seq uint64) string {
	return fmt.Sprintf("%d/%d/%d.%d", fsId, inodeId, chunkIndex, seq)
}

// PutObject uploads data at key via the multipart-aware uploader, so large
// chunk flushes (spec.md §4.7) never need manual multipart bookkeeping.
func (a *Adapter) PutObject(key string, data []byte) error {
	_, err := a.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.Errorf("Failed: Adapter.PutObject, key=%v, bucket=%v, err=%v", key, a.bucket, err)
	}
	return err
}

// GetObject fetches a byte range of an object. length<=0 fetches to EOF.
func (a *Adapter) GetObject(key string, offset, length int64) ([]byte, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)}
	if length > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := a.client.GetObject(input)
	if err != nil {
		log.Errorf("Failed: Adapter.GetObject, key=%v, bucket=%v, err=%v", key, a.bucket, err)
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// DeleteObject removes an object. Nothing in corefs calls it: objects of a
// chunk whose contributions a later flush supersedes stay in the bucket.
func (a *Adapter) DeleteObject(key string) error {
	_, err := a.client.DeleteObject(&s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	return err
}
