/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/takeshi-yoshimura/fuse"
	"github.com/takeshi-yoshimura/fuse/fuseutil"

	"github.com/distfs/corefs/common"
	"github.com/distfs/corefs/internal/diskcache"
	"github.com/distfs/corefs/internal/fs"
	"github.com/distfs/corefs/internal/mapping"
	"github.com/distfs/corefs/internal/s3data"
)

var args common.CmdlineArgs

func init() {
	args.SetCmdArgs()
	_ = flag.Set("logtostderr", "true")
}

var (
	fsName         = flag.String("fsName", "default", "filesystem name to mount")
	numPartitions  = flag.Uint("partitions", 4, "number of partitions the metaserver hosts")
	metaserverAddr = flag.String("metaserverAddr", "127.0.0.1:8638", "corefs-metaserver address")
	s3Bucket       = flag.String("s3Bucket", "corefs", "S3 bucket backing this filesystem")
	s3Endpoint     = flag.String("s3Endpoint", "", "S3-compatible endpoint override, blank uses AWS's own resolver")
	s3Anonymous    = flag.Bool("s3Anonymous", false, "use anonymous S3 credentials (for endpoints like MinIO in dev)")
)

func main() {
	flag.Parse()
	log := common.GetLogger("corefs-mount")

	cfg := common.NewConfig(args.ConfigFile)

	// The mapping service's own replication is out of this core's scope
	// (spec.md §1). Every partition here is fronted by the single
	// metaserver process this client was pointed at; a real deployment
	// would resolve each partition's leader through a network mapping
	// service instead of this in-process fake.
	mapClient := mapping.NewFakeClientWithPartitions(uint32(*numPartitions), func(uint32) string {
		return *metaserverAddr
	})

	store, err := s3data.NewAdapter(*s3Bucket, *s3Endpoint, *s3Anonymous)
	if err != nil {
		log.Fatalf("Failed: s3data.NewAdapter, bucket=%v, err=%v", *s3Bucket, err)
	}

	disk, err := diskcache.New(
		filepath.Join(args.RootDir, "disk-cache"),
		cfg.DiskCacheMaxUsableSpaceBytes,
		cfg.DiskCacheFullRatio,
		cfg.DiskCacheSafeRatio,
		store,
		func(fsId uint32, inodeId uint64, chunkIndex int64) string {
			return fmt.Sprintf("%d/%d/%d", fsId, inodeId, chunkIndex)
		},
	)
	if err != nil {
		log.Fatalf("Failed: diskcache.New, rootDir=%v, err=%v", args.RootDir, err)
	}

	client, err := fs.Mount(&cfg, mapClient, store, disk, *fsName)
	if err != nil {
		log.Fatalf("Failed: fs.Mount, fsName=%v, err=%v", *fsName, err)
	}

	fsAdapter := fs.NewFileSystem(client, uint32(os.Getuid()), uint32(os.Getgid()))

	mountCfg := &fuse.MountConfig{
		FSName:      "corefs",
		ErrorLogger: common.GetStdLogger(common.NewLogger("fuse"), logrus.ErrorLevel),
	}
	mfs, _, err := fuse.MountAndGetNotifier(args.MountPoint, fuseutil.NewFileSystemServer(fsAdapter), mountCfg)
	if err != nil {
		log.Fatalf("Failed: fuse.MountAndGetNotifier, mountPoint=%v, err=%v", args.MountPoint, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Infof("Received %v, attempting to unmount, mountPoint=%v", s, args.MountPoint)
		if err := fuse.Unmount(args.MountPoint); err != nil {
			log.Errorf("Failed: fuse.Unmount, mountPoint=%v, err=%v", args.MountPoint, err)
		}
	}()

	log.Infof("Success: corefs-mount running, mountPoint=%v, fsName=%v, metaserverAddr=%v", args.MountPoint, *fsName, *metaserverAddr)
	if err := mfs.Join(context.Background()); err != nil {
		log.Errorf("Failed: MountedFileSystem.Join, err=%v", err)
	}
	client.Close()
}
