/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/distfs/corefs/common"
	"github.com/distfs/corefs/internal/mapping"
	"github.com/distfs/corefs/internal/metaserver"
	"github.com/distfs/corefs/internal/partition"
)

var args common.CmdlineArgs

func init() {
	args.SetCmdArgs()
	_ = flag.Set("logtostderr", "true")
}

// numPartitions is the number of partitions this single-process
// metaserver hosts. A real deployment shards a filesystem's inode space
// across many of these processes; this core has no cluster membership
// story of its own (spec.md §1's mapping-service boundary), so one
// process here plays every partition it is handed.
var numPartitions = flag.Uint("partitions", 4, "number of partitions this server hosts")
var fsId = flag.Uint("fsId", 1, "filesystem id these partitions belong to")

func main() {
	flag.Parse()
	log := common.GetLogger("corefs-metaserver")

	cfg := common.NewConfig(args.ConfigFile)

	server := metaserver.New()
	for i := uint32(0); i < uint32(*numPartitions); i++ {
		p := partition.New(i, uint32(*fsId))
		p.SetQuota(cfg.KVMaxMemoryBytesValue, cfg.KVMaxDiskBytesValue, args.RootDir)
		server.AddPartition(p)
	}

	// The mapping service's own replication is out of this core's scope
	// (spec.md §1); a real deployment points this at a network client
	// satisfying mapping.Client. This process embeds the in-process fake
	// directly so rename coordination and startup have something to
	// commit tx batches against.
	mapClient := mapping.NewFakeClientWithPartitions(uint32(*numPartitions), func(uint32) string {
		return fmt.Sprintf("%s:%d", args.ListenIp, args.RpcPort)
	})
	server.EnableRename(mapClient, cfg.EnableMultiMountPointRename)
	server.EnableSummary(cfg.EnableSumInDir)
	server.StartSweeper(
		time.Duration(cfg.RenamePrepareGCIntervalSec)*time.Second,
		time.Duration(cfg.RenamePrepareGCIntervalSec)*time.Second*10,
	)

	addr := fmt.Sprintf("%s:%d", args.ListenIp, args.RpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed: net.Listen, addr=%v, err=%v", addr, err)
	}

	go func() {
		log.Infof("Success: corefs-metaserver listening, addr=%v, partitions=%v, fsId=%v", addr, *numPartitions, *fsId)
		if err := server.Serve(lis); err != nil {
			log.Errorf("Failed: metaserver.Server.Serve, err=%v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("corefs-metaserver shutting down")
	server.Stop()
}
