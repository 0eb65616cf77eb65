// Package poe defines the boundary between a host ledger and the
// proof-of-existence claim registry application.
//
// The core [Lifecycle] interface is required. [StateSync] and
// [Simulator] are optional capabilities discovered via type assertion
// at handshake time.
package poe

import (
	"context"

	"github.com/blockberries/poe/types"
)

// Lifecycle is the interface every registry application implements.
//
// The host guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. ExecuteBlock(h) is called exactly once per committed height h.
//  3. Commit is called exactly once after each ExecuteBlock.
//  4. CheckTx and Query may be called concurrently at any time after Handshake.
type Lifecycle interface {
	// Handshake is called once on every startup.
	//
	// If LastCommitted is nil this is a fresh chain and Genesis is set.
	// The application returns its own view of its state so the host can
	// detect divergence.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// CheckTx gate-checks a transaction before it enters the mempool.
	// It MUST be safe for concurrent use.
	CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error)

	// ExecuteBlock executes every transaction of a decided block in order.
	//
	// It MUST NOT persist state; that happens in Commit. The AppHash in
	// the outcome must be identical on every node executing the block.
	ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error)

	// Commit persists the changes of the last ExecuteBlock atomically.
	Commit(ctx context.Context) (types.CommitResult, error)

	// Query reads the last committed state. It MUST be safe for
	// concurrent use, including concurrently with ExecuteBlock.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// StateSync enables snapshot-based bootstrapping of a new node.
//
// Declared via: types.CapStateSync in HandshakeResponse.Capabilities
type StateSync interface {
	// AvailableSnapshots lists snapshots the application can export.
	AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error)

	// ExportSnapshot streams a snapshot as chunks. The channel is closed
	// after the last chunk.
	ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error)

	// ImportSnapshot consumes chunks, rebuilds state and reports the
	// resulting AppHash.
	ImportSnapshot(ctx context.Context, descriptor types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error)
}

// Simulator dry-runs a transaction against committed state.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	// Simulate MUST be safe for concurrent use and never persist changes.
	Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error)
}

// Application embeds every interface. The registry app implements it.
type Application interface {
	Lifecycle
	StateSync
	Simulator
}

// Connection is a transport-agnostic connection to an application.
// Both gRPC clients and in-process adapters implement it.
type Connection interface {
	Lifecycle

	// Capabilities returns the capabilities discovered at handshake.
	Capabilities() types.Capabilities

	// AsStateSync returns the StateSync interface if available.
	AsStateSync() StateSync

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	// Close terminates the connection.
	Close() error
}
