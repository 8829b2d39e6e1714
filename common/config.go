/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package common

import (
	"flag"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/api/resource"
)

// CmdlineArgs holds per-process flags; Config (below) holds settings shared
// across a mount point / partition server and is normally loaded from yaml.
type CmdlineArgs struct {
	ServerId    uint
	ServerIdStr string
	ListenIp    string
	ExternalIp  string
	RpcPort     int
	ProfilePort int
	RootDir     string
	LogFile     string
	MountPoint  string
	ConfigFile  string
	ClientMode  bool
}

func (c *CmdlineArgs) SetCmdArgs() {
	flag.StringVar(&c.ServerIdStr, "serverId", "1", "identity number for this node")
	flag.StringVar(&c.ListenIp, "listenIp", "0.0.0.0", "listen address")
	flag.StringVar(&c.ExternalIp, "externalIp", "", "address advertised to peers")
	flag.IntVar(&c.RpcPort, "rpcPort", 8638, "metadata/mapping RPC port")
	flag.IntVar(&c.ProfilePort, "profilePort", 0, "pprof port, 0 disables")
	flag.StringVar(&c.RootDir, "rootDir", "/var/lib/corefs", "local state and disk cache root")
	flag.StringVar(&c.LogFile, "logFile", "", "log file path (blank means stderr)")
	flag.StringVar(&c.MountPoint, "mountPoint", "/mnt/corefs", "FUSE mount point")
	flag.StringVar(&c.ConfigFile, "configFile", "", "yaml Config file")
	flag.BoolVar(&c.ClientMode, "clientMode", false, "run as a mount client instead of a metadata server")
}

// Config is the yaml-loaded set of options named in spec.md §6. String
// fields carry the user-facing byte-size/duration spelling ("16Mi", "150ms");
// the parsed *Bytes/*Duration twins are filled in by NewConfig.
type Config struct {
	MaxNameLength     int  `yaml:"maxNameLength"`
	ListDentryLimit   int  `yaml:"listDentryLimit"`
	ListDentryThreads int  `yaml:"listDentryThreads"`
	AttrTimeout       string `yaml:"attrTimeout"`
	EntryTimeout      string `yaml:"entryTimeout"`
	FlushPeriodSec    int  `yaml:"flushPeriodSec"`

	EnableCTO                   bool `yaml:"enableCto"`
	EnableSumInDir               bool `yaml:"enableSumInDir"`
	EnableMultiMountPointRename bool `yaml:"enableMultiMountPointRename"`

	ICacheLruSize int `yaml:"iCacheLruSize"`
	DCacheLruSize int `yaml:"dCacheLruSize"`

	S3ReadCacheMaxByte  string `yaml:"s3ReadCacheMaxByte"`
	S3WriteCacheMaxByte string `yaml:"s3WriteCacheMaxByte"`

	DiskCacheFullRatio          float64 `yaml:"diskCacheFullRatio"`
	DiskCacheSafeRatio          float64 `yaml:"diskCacheSafeRatio"`
	DiskCacheMaxUsableSpace     string  `yaml:"diskCacheMaxUsableSpaceBytes"`
	DiskCacheTrimCheckInterval  int     `yaml:"diskCacheTrimCheckIntervalSec"`
	DiskCacheAsyncLoadPeriodMs  int     `yaml:"diskCacheAsyncLoadPeriodMs"`

	RpcTimeoutMs           int `yaml:"rpcTimeoutMs"`
	RpcMaxRetry            int `yaml:"rpcMaxRetry"`
	RpcBackoffMs           int `yaml:"rpcBackoffMs"`
	RpcStreamIdleTimeoutMs int `yaml:"rpcStreamIdleTimeoutMs"`

	KVBlockCacheCapacity  string `yaml:"kvBlockCacheCapacity"`
	KVWriteBufferSize     string `yaml:"kvWriteBufferSize"`
	KVMaxWriteBufferNum   int    `yaml:"kvMaxWriteBufferNumber"`
	KVMaxMemoryBytes      string `yaml:"kvMaxMemoryBytes"`
	KVMaxDiskBytes        string `yaml:"kvMaxDiskBytes"`

	RenamePrepareGCIntervalSec int `yaml:"renamePrepareGcIntervalSec"`

	// derived, not user-supplied
	AttrTimeoutDuration    time.Duration `yaml:"-"`
	EntryTimeoutDuration   time.Duration `yaml:"-"`
	S3ReadCacheMaxBytes    int64         `yaml:"-"`
	S3WriteCacheMaxBytes   int64         `yaml:"-"`
	DiskCacheMaxUsableSpaceBytes int64   `yaml:"-"`
	RpcTimeoutDuration     time.Duration `yaml:"-"`
	RpcBackoffDuration     time.Duration `yaml:"-"`
	KVMaxMemoryBytesValue  int64         `yaml:"-"`
	KVMaxDiskBytesValue    int64         `yaml:"-"`
}

func setDefaultString(str *string, defaultStr string) {
	if str == nil || *str == "" {
		*str = defaultStr
	}
}

func setDefaultInt(v *int, defaultVal int) {
	if *v == 0 {
		*v = defaultVal
	}
}

func setDefaultFloat(v *float64, defaultVal float64) {
	if *v == 0 {
		*v = defaultVal
	}
}

// NewConfig loads yaml from yamlFile (or all-defaults if blank) and fills in
// every derived duration/byte-count field.
func NewConfig(yamlFile string) Config {
	var buf []byte
	if yamlFile != "" {
		f, err := os.Open(yamlFile)
		if err != nil {
			log.Fatalf("Failed: NewConfig, Open, yamlFile=%v, err=%v", yamlFile, err)
		}
		b, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			log.Fatalf("Failed: NewConfig, ReadAll, err=%v", err)
		}
		buf = b
	}
	c, err := NewConfigFromByteArray(buf)
	if err != nil {
		log.Fatalf("Failed: NewConfig, NewConfigFromByteArray, err=%v", err)
	}
	return c
}

func parseBytes(name, s string, dst *int64) error {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		log.Errorf("Failed: parseBytes, ParseQuantity, name=%v, value=%v, err=%v", name, s, err)
		return err
	}
	*dst = q.Value()
	return nil
}

func NewConfigFromByteArray(buf []byte) (c Config, err error) {
	if buf != nil {
		if err = yaml.UnmarshalStrict(buf, &c); err != nil {
			return
		}
	}
	setDefaultInt(&c.MaxNameLength, 255)
	setDefaultInt(&c.ListDentryLimit, 1000)
	setDefaultInt(&c.ListDentryThreads, 4)
	setDefaultString(&c.AttrTimeout, "1s")
	setDefaultString(&c.EntryTimeout, "1s")
	setDefaultInt(&c.FlushPeriodSec, 5)
	setDefaultInt(&c.ICacheLruSize, 1_000_000)
	setDefaultInt(&c.DCacheLruSize, 1_000_000)
	setDefaultString(&c.S3ReadCacheMaxByte, "256Mi")
	setDefaultString(&c.S3WriteCacheMaxByte, "256Mi")
	setDefaultFloat(&c.DiskCacheFullRatio, 0.9)
	setDefaultFloat(&c.DiskCacheSafeRatio, 0.7)
	setDefaultString(&c.DiskCacheMaxUsableSpace, "30Gi")
	setDefaultInt(&c.DiskCacheTrimCheckInterval, 10)
	setDefaultInt(&c.DiskCacheAsyncLoadPeriodMs, 100)
	setDefaultInt(&c.RpcTimeoutMs, 3000)
	setDefaultInt(&c.RpcMaxRetry, 100)
	setDefaultInt(&c.RpcBackoffMs, 10)
	setDefaultInt(&c.RpcStreamIdleTimeoutMs, 30000)
	setDefaultString(&c.KVBlockCacheCapacity, "256Mi")
	setDefaultString(&c.KVWriteBufferSize, "64Mi")
	setDefaultInt(&c.KVMaxWriteBufferNum, 4)
	setDefaultString(&c.KVMaxMemoryBytes, "4Gi")
	setDefaultString(&c.KVMaxDiskBytes, "200Gi")
	setDefaultInt(&c.RenamePrepareGCIntervalSec, 60)

	if c.AttrTimeoutDuration, err = time.ParseDuration(c.AttrTimeout); err != nil {
		return
	}
	if c.EntryTimeoutDuration, err = time.ParseDuration(c.EntryTimeout); err != nil {
		return
	}
	if err = parseBytes("s3ReadCacheMaxByte", c.S3ReadCacheMaxByte, &c.S3ReadCacheMaxBytes); err != nil {
		return
	}
	if err = parseBytes("s3WriteCacheMaxByte", c.S3WriteCacheMaxByte, &c.S3WriteCacheMaxBytes); err != nil {
		return
	}
	if err = parseBytes("diskCacheMaxUsableSpaceBytes", c.DiskCacheMaxUsableSpace, &c.DiskCacheMaxUsableSpaceBytes); err != nil {
		return
	}
	c.RpcTimeoutDuration = time.Duration(c.RpcTimeoutMs) * time.Millisecond
	c.RpcBackoffDuration = time.Duration(c.RpcBackoffMs) * time.Millisecond
	if err = parseBytes("kvMaxMemoryBytes", c.KVMaxMemoryBytes, &c.KVMaxMemoryBytesValue); err != nil {
		return
	}
	if err = parseBytes("kvMaxDiskBytes", c.KVMaxDiskBytes, &c.KVMaxDiskBytesValue); err != nil {
		return
	}
	return
}
