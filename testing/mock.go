// Package poetest provides test utilities for the registry
// application boundary: a configurable mock, a test harness and a
// lifecycle compliance suite.
package poetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/types"
)

// Compile-time check that MockApp satisfies all interfaces.
var _ poe.Application = (*MockApp)(nil)

// MockApp is a configurable mock application for host-side testing.
// All methods are configurable via function fields. Unconfigured
// methods return sensible zero-value defaults.
//
// MockApp implements both optional interfaces so it can be used to
// test capability discovery. Control which capabilities are declared
// via the DeclaredCapabilities field.
type MockApp struct {
	// DeclaredCapabilities controls the bitfield returned at handshake.
	DeclaredCapabilities types.Capabilities

	// Configurable handlers. If nil, defaults are used.
	HandshakeFn          func(context.Context, types.HandshakeRequest) (types.HandshakeResponse, error)
	CheckTxFn            func(context.Context, types.Tx, types.MempoolContext) (types.GateVerdict, error)
	ExecuteBlockFn       func(context.Context, types.FinalizedBlock) (types.BlockOutcome, error)
	CommitFn             func(context.Context) (types.CommitResult, error)
	QueryFn              func(context.Context, types.StateQuery) (types.StateQueryResult, error)
	AvailableSnapshotsFn func(context.Context) ([]types.SnapshotDescriptor, error)
	ExportSnapshotFn     func(context.Context, uint64, uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error)
	ImportSnapshotFn     func(context.Context, types.SnapshotDescriptor, <-chan types.SnapshotChunk) (types.ImportResult, error)
	SimulateFn           func(context.Context, types.Tx) (types.TxOutcome, error)

	// Call counters (atomic for concurrent access).
	HandshakeCalls    atomic.Int64
	CheckTxCalls      atomic.Int64
	ExecuteBlockCalls atomic.Int64
	CommitCalls       atomic.Int64
	QueryCalls        atomic.Int64
	SimulateCalls     atomic.Int64

	// Default handlers track heights so a restart reports the last
	// committed block.
	mu        sync.Mutex
	executed  []uint64
	pending   uint64
	committed uint64
}

// ExecutedHeights returns the heights passed to ExecuteBlock, in order.
func (m *MockApp) ExecutedHeights() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.executed...)
}

// CommittedHeight returns the height of the last default Commit.
func (m *MockApp) CommittedHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *MockApp) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	m.HandshakeCalls.Add(1)
	if m.HandshakeFn != nil {
		return m.HandshakeFn(ctx, req)
	}
	resp := types.HandshakeResponse{Capabilities: m.DeclaredCapabilities}
	m.mu.Lock()
	if req.LastCommitted != nil && m.committed > 0 {
		resp.LastBlock = &types.BlockID{Height: m.committed}
	}
	m.mu.Unlock()
	return resp, nil
}

func (m *MockApp) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	m.CheckTxCalls.Add(1)
	if m.CheckTxFn != nil {
		return m.CheckTxFn(ctx, tx, mctx)
	}
	return types.GateVerdict{Code: 0}, nil
}

func (m *MockApp) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	m.ExecuteBlockCalls.Add(1)
	m.mu.Lock()
	m.executed = append(m.executed, block.Height)
	m.mu.Unlock()
	if m.ExecuteBlockFn != nil {
		return m.ExecuteBlockFn(ctx, block)
	}
	m.mu.Lock()
	m.pending = block.Height
	m.mu.Unlock()

	outcomes := make([]types.TxOutcome, len(block.Txs))
	for i := range block.Txs {
		outcomes[i] = types.TxOutcome{Index: uint32(i), Code: 0}
	}
	return types.BlockOutcome{
		TxOutcomes: outcomes,
		AppHash:    types.AppHash{0x01},
	}, nil
}

func (m *MockApp) Commit(ctx context.Context) (types.CommitResult, error) {
	m.CommitCalls.Add(1)
	if m.CommitFn != nil {
		return m.CommitFn(ctx)
	}
	m.mu.Lock()
	m.committed = m.pending
	m.mu.Unlock()
	return types.CommitResult{}, nil
}

func (m *MockApp) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	m.QueryCalls.Add(1)
	if m.QueryFn != nil {
		return m.QueryFn(ctx, req)
	}
	return types.StateQueryResult{}, nil
}

func (m *MockApp) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	if m.AvailableSnapshotsFn != nil {
		return m.AvailableSnapshotsFn(ctx)
	}
	return nil, nil
}

func (m *MockApp) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	if m.ExportSnapshotFn != nil {
		return m.ExportSnapshotFn(ctx, height, format)
	}
	ch := make(chan types.SnapshotChunk)
	close(ch)
	return ch, &types.SnapshotDescriptor{Height: height, Format: format}, nil
}

func (m *MockApp) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if m.ImportSnapshotFn != nil {
		return m.ImportSnapshotFn(ctx, desc, chunks)
	}
	// Drain the channel.
	for range chunks {
	}
	ah := types.AppHash{0x01}
	return types.ImportResult{Status: types.ImportOK, AppHash: &ah}, nil
}

func (m *MockApp) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	m.SimulateCalls.Add(1)
	if m.SimulateFn != nil {
		return m.SimulateFn(ctx, tx)
	}
	return types.TxOutcome{Code: 0}, nil
}
