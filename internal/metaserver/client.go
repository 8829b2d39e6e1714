/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metaserver

import (
	"context"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin RPC stub for one metaserver leader address, the seam
// internal/executor's Task.Do closures call into.
type Client struct {
	addr string
	cc   *grpc.ClientConn
}

// Dial connects to a metaserver listening at addr. mTLS is out of scope
// here (spec.md's Non-goals for the retrieval-pack scope); production
// deployments would swap insecure.NewCredentials() for a real
// credentials.TransportCredentials.
func Dial(addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
	)
	if err != nil {
		return nil, err
	}
	return &Client{addr: addr, cc: cc}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error) {
	out := new(LookupResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Lookup", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateInode(ctx context.Context, req *CreateInodeRequest) (*CreateInodeResponse, error) {
	out := new(CreateInodeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CreateInode", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetInode(ctx context.Context, req *GetInodeRequest) (*GetInodeResponse, error) {
	out := new(GetInodeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetInode", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateDentry(ctx context.Context, req *CreateDentryRequest) (*CreateDentryResponse, error) {
	out := new(CreateDentryResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CreateDentry", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteDentry(ctx context.Context, req *DeleteDentryRequest) (*DeleteDentryResponse, error) {
	out := new(DeleteDentryResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/DeleteDentry", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDentry(ctx context.Context, req *ListDentryRequest) (*ListDentryResponse, error) {
	out := new(ListDentryResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListDentry", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ModifyS3ChunkInfoList(ctx context.Context, req *ModifyS3ChunkInfoListRequest) (*ModifyS3ChunkInfoListResponse, error) {
	out := new(ModifyS3ChunkInfoListResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ModifyS3ChunkInfoList", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListChunkInfo(ctx context.Context, req *ListChunkInfoRequest) (*ListChunkInfoResponse, error) {
	out := new(ListChunkInfoResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListChunkInfo", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) HandleRenameTx(ctx context.Context, req *HandleRenameTxRequest) (*HandleRenameTxResponse, error) {
	out := new(HandleRenameTxResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/HandleRenameTx", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Rename(ctx context.Context, req *RenameRequest) (*RenameResponse, error) {
	out := new(RenameResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Rename", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetAttr(ctx context.Context, req *SetAttrRequest) (*SetAttrResponse, error) {
	out := new(SetAttrResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/SetAttr", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetXattr(ctx context.Context, req *GetXattrRequest) (*GetXattrResponse, error) {
	out := new(GetXattrResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetXattr", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetXattr(ctx context.Context, req *SetXattrRequest) (*SetXattrResponse, error) {
	out := new(SetXattrResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/SetXattr", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteInode(ctx context.Context, req *DeleteInodeRequest) (*DeleteInodeResponse, error) {
	out := new(DeleteInodeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/DeleteInode", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
