/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */

// corefs-admin is an operator CLI to inspect a partition server directly by
// address, bypassing the mapping-service routing a mount client would go
// through. Grounded on andrewchambers-hafs/cmd/hafs-ls-clients's
// flag-then-subcommand-then-tabby shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cheynewallace/tabby"

	"github.com/distfs/corefs/api"
	"github.com/distfs/corefs/internal/metaserver"
)

var (
	addr    = flag.String("addr", "127.0.0.1:8638", "corefs-metaserver address")
	fsId    = flag.Uint("fsId", 1, "filesystem id")
	timeout = flag.Duration("timeout", 5*time.Second, "RPC timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [flags] <command> [args]

commands:
  getinode <inodeId>                 show one inode's attributes
  listdentry <parentInodeId>         list a directory's entries
  lookup <parentInodeId> <name>      resolve one name in a directory

`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c, err := metaserver.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial %s: %s\n", *addr, err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	header := api.RequestHeader{FsId: uint32(*fsId)}

	switch flag.Arg(0) {
	case "getinode":
		if flag.NArg() != 2 {
			usage()
			os.Exit(2)
		}
		inodeId := mustParseUint(flag.Arg(1))
		resp, err := c.GetInode(ctx, &metaserver.GetInodeRequest{Header: header, InodeId: inodeId})
		checkErr(err)
		checkStatus(resp.Header)
		printInode(resp.Inode)
	case "listdentry":
		if flag.NArg() != 2 {
			usage()
			os.Exit(2)
		}
		parentId := mustParseUint(flag.Arg(1))
		resp, err := c.ListDentry(ctx, &metaserver.ListDentryRequest{Header: header, ParentInodeId: parentId, Limit: 1 << 16})
		checkErr(err)
		checkStatus(resp.Header)
		printDentries(resp.Entries)
	case "lookup":
		if flag.NArg() != 3 {
			usage()
			os.Exit(2)
		}
		parentId := mustParseUint(flag.Arg(1))
		resp, err := c.Lookup(ctx, &metaserver.LookupRequest{Header: header, ParentInodeId: parentId, Name: flag.Arg(2)})
		checkErr(err)
		checkStatus(resp.Header)
		printDentries([]*api.DentryMsg{resp.Dentry})
		printInode(resp.Inode)
	default:
		usage()
		os.Exit(2)
	}
}

func mustParseUint(s string) uint64 {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %q is not a valid id: %s\n", s, err)
		os.Exit(2)
	}
	return v
}

func checkErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: rpc: %s\n", err)
		os.Exit(1)
	}
}

func checkStatus(h api.ResponseHeader) {
	if h.Status != int32(api.StatusOk) {
		fmt.Fprintf(os.Stderr, "error: %s\n", api.Status(h.Status))
		os.Exit(1)
	}
}

func printInode(inode *api.InodeMsg) {
	if inode == nil {
		return
	}
	t := tabby.New()
	t.AddHeader("INODE", "TYPE", "MODE", "UID", "GID", "NLINK", "LENGTH")
	t.AddLine(inode.InodeId, inode.Type, fmt.Sprintf("%o", inode.Mode), inode.Uid, inode.Gid, inode.Nlink, inode.Length)
	t.Print()
}

func printDentries(entries []*api.DentryMsg) {
	t := tabby.New()
	t.AddHeader("NAME", "INODE", "PARENT", "TXID", "FLAGS")
	for _, e := range entries {
		if e == nil {
			continue
		}
		t.AddLine(e.Name, e.InodeId, e.ParentInodeId, e.TxId, e.Flags)
	}
	t.Print()
}
