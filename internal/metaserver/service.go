/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metaserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "corefs.metaserver.PartitionService"

// Backend is the local partition-serving surface a metaserver process
// dispatches gRPC calls to. internal/partition.Partition plus a lookup by
// header.PartitionId satisfies it via the Server type below.
type Backend interface {
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error)
	CreateInode(ctx context.Context, req *CreateInodeRequest) (*CreateInodeResponse, error)
	GetInode(ctx context.Context, req *GetInodeRequest) (*GetInodeResponse, error)
	CreateDentry(ctx context.Context, req *CreateDentryRequest) (*CreateDentryResponse, error)
	DeleteDentry(ctx context.Context, req *DeleteDentryRequest) (*DeleteDentryResponse, error)
	ListDentry(ctx context.Context, req *ListDentryRequest) (*ListDentryResponse, error)
	ModifyS3ChunkInfoList(ctx context.Context, req *ModifyS3ChunkInfoListRequest) (*ModifyS3ChunkInfoListResponse, error)
	ListChunkInfo(ctx context.Context, req *ListChunkInfoRequest) (*ListChunkInfoResponse, error)
	HandleRenameTx(ctx context.Context, req *HandleRenameTxRequest) (*HandleRenameTxResponse, error)
	Rename(ctx context.Context, req *RenameRequest) (*RenameResponse, error)
	SetAttr(ctx context.Context, req *SetAttrRequest) (*SetAttrResponse, error)
	GetXattr(ctx context.Context, req *GetXattrRequest) (*GetXattrResponse, error)
	SetXattr(ctx context.Context, req *SetXattrRequest) (*SetXattrResponse, error)
	DeleteInode(ctx context.Context, req *DeleteInodeRequest) (*DeleteInodeResponse, error)
}

func _PartitionService_Lookup_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LookupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Lookup"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).Lookup(ctx, req.(*LookupRequest))
	})
}

func _PartitionService_CreateInode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateInodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).CreateInode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CreateInode"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).CreateInode(ctx, req.(*CreateInodeRequest))
	})
}

func _PartitionService_GetInode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetInodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).GetInode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetInode"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).GetInode(ctx, req.(*GetInodeRequest))
	})
}

func _PartitionService_CreateDentry_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateDentryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).CreateDentry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CreateDentry"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).CreateDentry(ctx, req.(*CreateDentryRequest))
	})
}

func _PartitionService_DeleteDentry_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteDentryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).DeleteDentry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/DeleteDentry"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).DeleteDentry(ctx, req.(*DeleteDentryRequest))
	})
}

func _PartitionService_ListDentry_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListDentryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).ListDentry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ListDentry"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).ListDentry(ctx, req.(*ListDentryRequest))
	})
}

func _PartitionService_ModifyS3ChunkInfoList_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ModifyS3ChunkInfoListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).ModifyS3ChunkInfoList(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ModifyS3ChunkInfoList"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).ModifyS3ChunkInfoList(ctx, req.(*ModifyS3ChunkInfoListRequest))
	})
}

func _PartitionService_ListChunkInfo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListChunkInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).ListChunkInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ListChunkInfo"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).ListChunkInfo(ctx, req.(*ListChunkInfoRequest))
	})
}

func _PartitionService_HandleRenameTx_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HandleRenameTxRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).HandleRenameTx(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/HandleRenameTx"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).HandleRenameTx(ctx, req.(*HandleRenameTxRequest))
	})
}

func _PartitionService_Rename_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RenameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).Rename(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Rename"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).Rename(ctx, req.(*RenameRequest))
	})
}

func _PartitionService_SetAttr_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetAttrRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).SetAttr(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SetAttr"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).SetAttr(ctx, req.(*SetAttrRequest))
	})
}

func _PartitionService_GetXattr_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetXattrRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).GetXattr(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetXattr"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).GetXattr(ctx, req.(*GetXattrRequest))
	})
}

func _PartitionService_SetXattr_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetXattrRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).SetXattr(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SetXattr"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).SetXattr(ctx, req.(*SetXattrRequest))
	})
}

func _PartitionService_DeleteInode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteInodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Backend).DeleteInode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/DeleteInode"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).DeleteInode(ctx, req.(*DeleteInodeRequest))
	})
}

// ServiceDesc is the grpc.ServiceDesc a hand-written protoc plugin would
// have emitted for the operations above.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: _PartitionService_Lookup_Handler},
		{MethodName: "CreateInode", Handler: _PartitionService_CreateInode_Handler},
		{MethodName: "GetInode", Handler: _PartitionService_GetInode_Handler},
		{MethodName: "CreateDentry", Handler: _PartitionService_CreateDentry_Handler},
		{MethodName: "DeleteDentry", Handler: _PartitionService_DeleteDentry_Handler},
		{MethodName: "ListDentry", Handler: _PartitionService_ListDentry_Handler},
		{MethodName: "ModifyS3ChunkInfoList", Handler: _PartitionService_ModifyS3ChunkInfoList_Handler},
		{MethodName: "ListChunkInfo", Handler: _PartitionService_ListChunkInfo_Handler},
		{MethodName: "HandleRenameTx", Handler: _PartitionService_HandleRenameTx_Handler},
		{MethodName: "Rename", Handler: _PartitionService_Rename_Handler},
		{MethodName: "SetAttr", Handler: _PartitionService_SetAttr_Handler},
		{MethodName: "GetXattr", Handler: _PartitionService_GetXattr_Handler},
		{MethodName: "SetXattr", Handler: _PartitionService_SetXattr_Handler},
		{MethodName: "DeleteInode", Handler: _PartitionService_DeleteInode_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corefs/metaserver.proto",
}

// RegisterPartitionServiceServer wires a Backend implementation into a
// running *grpc.Server.
func RegisterPartitionServiceServer(s grpc.ServiceRegistrar, srv Backend) {
	s.RegisterService(&ServiceDesc, srv)
}
