package poegrpc

import (
	"github.com/blockberries/poe"
	"github.com/blockberries/poe/types"
)

// Transport wrappers for RPCs whose Go signatures do not map to a
// single request or response struct.

// CheckTxRequest wraps the parameters for Lifecycle.CheckTx.
type CheckTxRequest struct {
	Tx      types.Tx             `cramberry:"1"`
	Context types.MempoolContext `cramberry:"2"`
}

// CommitRequest is the (empty) request for Lifecycle.Commit.
type CommitRequest struct{}

// HaltInfo carries a poe.HaltError across the wire.
type HaltInfo struct {
	Height uint64 `cramberry:"1"`
	Reason string `cramberry:"2"`
}

// ExecuteBlockResponse is either an outcome or a halt.
type ExecuteBlockResponse struct {
	Outcome types.BlockOutcome `cramberry:"1"`
	Halt    *HaltInfo          `cramberry:"2"`
}

// Err returns the halt as a poe.HaltError, or nil.
func (r *ExecuteBlockResponse) Err() error {
	if r.Halt == nil {
		return nil
	}
	return poe.NewHaltError(r.Halt.Height, r.Halt.Reason)
}

// AvailableSnapshotsRequest is the (empty) request for StateSync.AvailableSnapshots.
type AvailableSnapshotsRequest struct{}

// AvailableSnapshotsResponse wraps the return value of StateSync.AvailableSnapshots.
type AvailableSnapshotsResponse struct {
	Snapshots []types.SnapshotDescriptor `cramberry:"1"`
}

// ExportSnapshotRequest wraps parameters for StateSync.ExportSnapshot.
type ExportSnapshotRequest struct {
	Height uint64 `cramberry:"1"`
	Format uint32 `cramberry:"2"`
}

// SnapshotMessage is a tagged union carrying either a descriptor (first
// message) or a chunk (every later message). Both snapshot streams use it.
type SnapshotMessage struct {
	Descriptor *types.SnapshotDescriptor `cramberry:"1"`
	Chunk      *types.SnapshotChunk      `cramberry:"2"`
}

// SimulateRequest wraps the parameter for Simulator.Simulate.
type SimulateRequest struct {
	Tx types.Tx `cramberry:"1"`
}
