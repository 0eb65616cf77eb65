package poegrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/poe/types"
)

const serviceName = "poe.v1.RegistryService"

// RegistryServiceServer is the server-side interface for the gRPC service.
type RegistryServiceServer interface {
	Handshake(context.Context, *types.HandshakeRequest) (*types.HandshakeResponse, error)
	CheckTx(context.Context, *CheckTxRequest) (*types.GateVerdict, error)
	ExecuteBlock(context.Context, *types.FinalizedBlock) (*ExecuteBlockResponse, error)
	Commit(context.Context, *CommitRequest) (*types.CommitResult, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	AvailableSnapshots(context.Context, *AvailableSnapshotsRequest) (*AvailableSnapshotsResponse, error)
	ExportSnapshot(*ExportSnapshotRequest, grpc.ServerStream) error
	ImportSnapshot(grpc.ServerStream) error
	Simulate(context.Context, *SimulateRequest) (*types.TxOutcome, error)
}

// RegisterRegistryServiceServer registers srv on a gRPC server.
func RegisterRegistryServiceServer(s *grpc.Server, srv RegistryServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary adapts a typed unary method to a grpc.MethodDesc handler,
// running it through the server's interceptor chain.
func unary[Req any, Resp any](method string, call func(RegistryServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RegistryServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, req, info, handler)
		},
	}
}

func handlerExportSnapshot(srv any, stream grpc.ServerStream) error {
	req := new(ExportSnapshotRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RegistryServiceServer).ExportSnapshot(req, stream)
}

func handlerImportSnapshot(srv any, stream grpc.ServerStream) error {
	return srv.(RegistryServiceServer).ImportSnapshot(stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RegistryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Handshake", RegistryServiceServer.Handshake),
		unary("CheckTx", RegistryServiceServer.CheckTx),
		unary("ExecuteBlock", RegistryServiceServer.ExecuteBlock),
		unary("Commit", RegistryServiceServer.Commit),
		unary("Query", RegistryServiceServer.Query),
		unary("AvailableSnapshots", RegistryServiceServer.AvailableSnapshots),
		unary("Simulate", RegistryServiceServer.Simulate),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExportSnapshot",
			Handler:       handlerExportSnapshot,
			ServerStreams: true,
		},
		{
			StreamName:    "ImportSnapshot",
			Handler:       handlerImportSnapshot,
			ClientStreams: true,
		},
	},
	Metadata: "poe/v1/service.cram",
}
