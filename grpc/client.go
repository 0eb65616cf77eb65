package poegrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/server"
	"github.com/blockberries/poe/types"
)

// Compile-time interface check.
var _ poe.Connection = (*Client)(nil)

// Client implements poe.Connection for a remote application over gRPC
// using cramberry serialization.
type Client struct {
	cc    *grpc.ClientConn
	caps  types.Capabilities
	guard *server.LifecycleGuard
}

// Dial creates a client for the application at addr. The connection
// is established lazily on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(CramberryCodec{}),
	))
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("poe client: dial %s: %w", addr, err)
	}
	return &Client{
		cc:    cc,
		guard: server.NewLifecycleGuard(),
	}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// --- Lifecycle ---

func (c *Client) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	c.guard.AcquireHandshake()

	resp := new(types.HandshakeResponse)
	if err := c.cc.Invoke(ctx, fullMethod("Handshake"), &req, resp); err != nil {
		c.guard.FailHandshake()
		return types.HandshakeResponse{}, fromStatus(err)
	}

	var committed uint64
	if resp.LastBlock != nil {
		committed = resp.LastBlock.Height
	}
	c.caps = resp.Capabilities
	c.guard.CompleteHandshake(committed)
	return *resp, nil
}

func (c *Client) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	c.guard.CheckConcurrent()

	req := &CheckTxRequest{Tx: tx, Context: mctx}
	resp := new(types.GateVerdict)
	if err := c.cc.Invoke(ctx, fullMethod("CheckTx"), req, resp); err != nil {
		return types.GateVerdict{}, fromStatus(err)
	}
	return *resp, nil
}

func (c *Client) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := c.guard.AcquireExecute(block.Height); err != nil {
		return types.BlockOutcome{}, err
	}

	resp := new(ExecuteBlockResponse)
	if err := c.cc.Invoke(ctx, fullMethod("ExecuteBlock"), &block, resp); err != nil {
		c.guard.FailExecute()
		return types.BlockOutcome{}, fromStatus(err)
	}
	if err := resp.Err(); err != nil {
		h, _ := poe.IsHalt(err)
		c.guard.HaltExecute(h)
		return types.BlockOutcome{}, err
	}

	c.guard.CompleteExecute()
	return resp.Outcome, nil
}

func (c *Client) Commit(ctx context.Context) (types.CommitResult, error) {
	c.guard.AcquireCommit()

	resp := new(types.CommitResult)
	if err := c.cc.Invoke(ctx, fullMethod("Commit"), &CommitRequest{}, resp); err != nil {
		c.guard.FailCommit()
		return types.CommitResult{}, fromStatus(err)
	}

	c.guard.CompleteCommit()
	return *resp, nil
}

func (c *Client) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	c.guard.CheckConcurrent()

	resp := new(types.StateQueryResult)
	if err := c.cc.Invoke(ctx, fullMethod("Query"), &req, resp); err != nil {
		return types.StateQueryResult{}, fromStatus(err)
	}
	return *resp, nil
}

// --- Capability Accessors ---

func (c *Client) Capabilities() types.Capabilities { return c.caps }

func (c *Client) AsStateSync() poe.StateSync {
	if c.caps.Has(types.CapStateSync) {
		return &clientStateSync{c}
	}
	return nil
}

// Bootstrap returns the state-sync surface without consulting the
// handshake. An empty application cannot handshake until a snapshot
// has been restored, so restoring goes through this accessor.
func (c *Client) Bootstrap() poe.StateSync { return &clientStateSync{c} }

func (c *Client) AsSimulator() poe.Simulator {
	if c.caps.Has(types.CapSimulation) {
		return &clientSimulator{c}
	}
	return nil
}

// fromStatus maps gRPC status codes back to application errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", server.ErrNotSupported, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	default:
		return err
	}
}

// --- StateSync wrapper ---

type clientStateSync struct{ c *Client }

func (w *clientStateSync) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	resp := new(AvailableSnapshotsResponse)
	if err := w.c.cc.Invoke(ctx, fullMethod("AvailableSnapshots"), &AvailableSnapshotsRequest{}, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp.Snapshots, nil
}

// ExportSnapshot reads the descriptor before returning; chunks follow
// on the channel. A stream error after the descriptor closes the
// channel early, which the importer reports as missing chunks.
func (w *clientStateSync) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	stream, err := w.c.cc.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "ExportSnapshot",
		ServerStreams: true,
	}, fullMethod("ExportSnapshot"))
	if err != nil {
		return nil, nil, fromStatus(err)
	}
	if err := stream.SendMsg(&ExportSnapshotRequest{Height: height, Format: format}); err != nil {
		return nil, nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, fromStatus(err)
	}

	first := new(SnapshotMessage)
	if err := stream.RecvMsg(first); err != nil {
		return nil, nil, fromStatus(err)
	}
	if first.Descriptor == nil {
		return nil, nil, errors.New("poe client: snapshot stream did not start with a descriptor")
	}

	ch := make(chan types.SnapshotChunk)
	go func() {
		defer close(ch)
		for {
			msg := new(SnapshotMessage)
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			if msg.Chunk == nil {
				continue
			}
			select {
			case ch <- *msg.Chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, first.Descriptor, nil
}

func (w *clientStateSync) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	stream, err := w.c.cc.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "ImportSnapshot",
		ClientStreams: true,
	}, fullMethod("ImportSnapshot"))
	if err != nil {
		return types.ImportResult{}, fromStatus(err)
	}

	if err := stream.SendMsg(&SnapshotMessage{Descriptor: &desc}); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}
	for chunk := range chunks {
		if err := stream.SendMsg(&SnapshotMessage{Chunk: &chunk}); err != nil {
			if errors.Is(err, io.EOF) {
				// The server ended the stream; RecvMsg reports why.
				break
			}
			return types.ImportResult{}, fromStatus(err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}

	result := new(types.ImportResult)
	if err := stream.RecvMsg(result); err != nil {
		return types.ImportResult{}, fromStatus(err)
	}
	return *result, nil
}

// --- Simulator wrapper ---

type clientSimulator struct{ c *Client }

func (w *clientSimulator) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	resp := new(types.TxOutcome)
	if err := w.c.cc.Invoke(ctx, fullMethod("Simulate"), &SimulateRequest{Tx: tx}, resp); err != nil {
		return types.TxOutcome{}, fromStatus(err)
	}
	return *resp, nil
}
