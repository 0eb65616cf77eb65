package poegrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/server"
	"github.com/blockberries/poe/types"
)

// Compile-time interface check.
var _ RegistryServiceServer = (*GRPCServer)(nil)

// GRPCServer exposes an application over gRPC. Wire types are
// serialized directly via cramberry.
type GRPCServer struct {
	srv    *server.Server
	logger *slog.Logger
}

// NewGRPCServer creates a gRPC server wrapping the given application.
func NewGRPCServer(app poe.Lifecycle, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GRPCServer{
		srv:    server.New(app, server.WithLogger(logger)),
		logger: logger,
	}
}

// NewServer builds a grpc.Server with panic recovery and request
// logging, and registers s on it. The cramberry codec is selected by
// the client's content subtype.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.logUnary, recoverUnary),
		grpc.ChainStreamInterceptor(recoverStream),
	}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Register adds the service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterRegistryServiceServer(gs, s)
}

// Serve serves on lis until the listener fails or gs is stopped.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	return s.NewServer(opts...).Serve(lis)
}

// Server returns the underlying server for advanced use.
func (s *GRPCServer) Server() *server.Server {
	return s.srv
}

// --- Lifecycle RPCs ---

func (s *GRPCServer) Handshake(ctx context.Context, req *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	resp, err := s.srv.Handshake(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &resp, nil
}

func (s *GRPCServer) CheckTx(ctx context.Context, req *CheckTxRequest) (*types.GateVerdict, error) {
	verdict, err := s.srv.CheckTx(ctx, req.Tx, req.Context)
	if err != nil {
		return nil, toStatus(err)
	}
	return &verdict, nil
}

func (s *GRPCServer) ExecuteBlock(ctx context.Context, block *types.FinalizedBlock) (*ExecuteBlockResponse, error) {
	outcome, err := s.srv.ExecuteBlock(ctx, *block)
	if h, ok := poe.IsHalt(err); ok {
		return &ExecuteBlockResponse{Halt: &HaltInfo{Height: h.Height, Reason: h.Reason}}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExecuteBlockResponse{Outcome: outcome}, nil
}

func (s *GRPCServer) Commit(ctx context.Context, _ *CommitRequest) (*types.CommitResult, error) {
	result, err := s.srv.Commit(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *types.StateQuery) (*types.StateQueryResult, error) {
	result, err := s.srv.Query(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

// --- StateSync RPCs ---

func (s *GRPCServer) AvailableSnapshots(ctx context.Context, _ *AvailableSnapshotsRequest) (*AvailableSnapshotsResponse, error) {
	snaps, err := s.srv.AvailableSnapshots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AvailableSnapshotsResponse{Snapshots: snaps}, nil
}

func (s *GRPCServer) ExportSnapshot(req *ExportSnapshotRequest, stream grpc.ServerStream) error {
	ch, desc, err := s.srv.ExportSnapshot(stream.Context(), req.Height, req.Format)
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendMsg(&SnapshotMessage{Descriptor: desc}); err != nil {
		return err
	}
	for chunk := range ch {
		if err := stream.SendMsg(&SnapshotMessage{Chunk: &chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (s *GRPCServer) ImportSnapshot(stream grpc.ServerStream) error {
	// First message must be the descriptor.
	first := new(SnapshotMessage)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	if first.Descriptor == nil {
		return status.Error(codes.InvalidArgument, "poe grpc: first ImportSnapshot message must contain a descriptor")
	}

	desc := *first.Descriptor
	chunks := make(chan types.SnapshotChunk)
	recvErr := make(chan error, 1)

	go func() {
		defer close(chunks)
		for {
			msg := new(SnapshotMessage)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) {
					recvErr <- err
				}
				return
			}
			if msg.Chunk != nil {
				chunks <- *msg.Chunk
			}
		}
	}()

	result, err := s.srv.ImportSnapshot(stream.Context(), desc, chunks)
	if err != nil {
		return toStatus(err)
	}
	select {
	case err := <-recvErr:
		return err
	default:
	}
	return stream.SendMsg(&result)
}

// --- Simulator RPC ---

func (s *GRPCServer) Simulate(ctx context.Context, req *SimulateRequest) (*types.TxOutcome, error) {
	outcome, err := s.srv.Simulate(ctx, req.Tx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &outcome, nil
}

// toStatus maps application errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, server.ErrNotSupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// recoverUnary turns lifecycle-order panics into FailedPrecondition so a
// misbehaving client cannot crash the process.
func recoverUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.Error(codes.FailedPrecondition, fmt.Sprint(r))
		}
	}()
	return handler(ctx, req)
}

func recoverStream(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.Error(codes.FailedPrecondition, fmt.Sprint(r))
		}
	}()
	return handler(srv, ss)
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc failed",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"error", err,
		)
		return resp, err
	}
	s.logger.Debug("rpc",
		"method", info.FullMethod,
		"duration", time.Since(start),
	)
	return resp, nil
}
