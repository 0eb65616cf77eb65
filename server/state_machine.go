// Package server provides the host-side wrapper that enforces the
// application lifecycle state machine and routes capability-gated calls.
package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockberries/poe"
)

// lifecycleState represents a state in the lifecycle state machine.
type lifecycleState uint32

const (
	// stateInit: Waiting for Handshake. No other calls allowed.
	stateInit lifecycleState = iota
	// stateReady: Handshake complete. Waiting for the next block.
	// Concurrent calls allowed: CheckTx, Query, Simulate.
	stateReady
	// stateExecuting: ExecuteBlock has been called and not returned.
	stateExecuting
	// stateExecuted: ExecuteBlock returned. Commit is the only
	// valid next sequential call.
	stateExecuted
	// stateCommitting: Commit has been called and not returned.
	stateCommitting
	// stateHalted: the application reported a HaltError. No further
	// blocks are executed; reads keep working.
	stateHalted
)

func (s lifecycleState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateReady:
		return "Ready"
	case stateExecuting:
		return "Executing"
	case stateExecuted:
		return "Executed"
	case stateCommitting:
		return "Committing"
	case stateHalted:
		return "Halted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// LifecycleGuard enforces call ordering and block height progression.
//
// Call-order violations are programming errors in the host and panic.
// A block at or below the committed height is a recoverable error.
type LifecycleGuard struct {
	state atomic.Uint32
	// Held across ExecuteBlock and Commit.
	seqMu sync.Mutex
	// Set once Handshake has completed; gates concurrent calls.
	handshakeDone atomic.Bool

	committed  atomic.Uint64
	executing  uint64 // guarded by seqMu
	haltReason atomic.Pointer[poe.HaltError]
}

// NewLifecycleGuard creates a guard in the Init state.
func NewLifecycleGuard() *LifecycleGuard {
	g := &LifecycleGuard{}
	g.state.Store(uint32(stateInit))
	return g
}

// State returns the current lifecycle state.
func (g *LifecycleGuard) State() string {
	return lifecycleState(g.state.Load()).String()
}

// Committed returns the last committed height.
func (g *LifecycleGuard) Committed() uint64 {
	return g.committed.Load()
}

// AcquireHandshake transitions Init → Ready.
// Panics if not in Init state.
func (g *LifecycleGuard) AcquireHandshake() {
	if !g.state.CompareAndSwap(uint32(stateInit), uint32(stateReady)) {
		panic(fmt.Sprintf("poe: Handshake called in state %s (expected Init)",
			lifecycleState(g.state.Load())))
	}
}

// CompleteHandshake records the application's committed height and
// enables concurrent calls.
func (g *LifecycleGuard) CompleteHandshake(committed uint64) {
	g.committed.Store(committed)
	g.handshakeDone.Store(true)
}

// FailHandshake rolls back state to Init if handshake fails.
func (g *LifecycleGuard) FailHandshake() {
	g.state.Store(uint32(stateInit))
}

// AcquireExecute transitions Ready → Executing for a block at height.
// Blocks while another sequential call is in progress. Panics if not in
// Ready state. Returns the halt error once halted, or an error if height
// does not advance past the committed height.
func (g *LifecycleGuard) AcquireExecute(height uint64) error {
	g.seqMu.Lock()
	switch state := lifecycleState(g.state.Load()); state {
	case stateReady:
	case stateHalted:
		g.seqMu.Unlock()
		return g.haltReason.Load()
	default:
		g.seqMu.Unlock()
		panic(fmt.Sprintf("poe: ExecuteBlock called in state %s (expected Ready)", state))
	}
	if committed := g.committed.Load(); height <= committed {
		g.seqMu.Unlock()
		return fmt.Errorf("poe: block height %d does not advance committed height %d", height, committed)
	}
	g.executing = height
	g.state.Store(uint32(stateExecuting))
	return nil
}

// CompleteExecute transitions Executing → Executed.
func (g *LifecycleGuard) CompleteExecute() {
	g.state.Store(uint32(stateExecuted))
	g.seqMu.Unlock()
}

// FailExecute transitions Executing → Ready on error, allowing retry.
func (g *LifecycleGuard) FailExecute() {
	g.state.Store(uint32(stateReady))
	g.seqMu.Unlock()
}

// HaltExecute transitions Executing → Halted. Every later ExecuteBlock
// returns reason.
func (g *LifecycleGuard) HaltExecute(reason *poe.HaltError) {
	g.haltReason.Store(reason)
	g.state.Store(uint32(stateHalted))
	g.seqMu.Unlock()
}

// Halted returns the halt error, or nil if the guard is not halted.
func (g *LifecycleGuard) Halted() *poe.HaltError {
	return g.haltReason.Load()
}

// AcquireCommit transitions Executed → Committing.
// Panics if not in Executed state.
func (g *LifecycleGuard) AcquireCommit() {
	g.seqMu.Lock()
	if state := lifecycleState(g.state.Load()); state != stateExecuted {
		g.seqMu.Unlock()
		panic(fmt.Sprintf("poe: Commit called in state %s (expected Executed)", state))
	}
	g.state.Store(uint32(stateCommitting))
}

// CompleteCommit transitions Committing → Ready and advances the
// committed height to the executed block.
func (g *LifecycleGuard) CompleteCommit() {
	g.committed.Store(g.executing)
	g.state.Store(uint32(stateReady))
	g.seqMu.Unlock()
}

// FailCommit transitions Committing → Executed so Commit can be retried.
func (g *LifecycleGuard) FailCommit() {
	g.state.Store(uint32(stateExecuted))
	g.seqMu.Unlock()
}

// CheckConcurrent verifies that concurrent calls are allowed
// (any state after Handshake). Panics if handshake has not completed.
func (g *LifecycleGuard) CheckConcurrent() {
	if !g.handshakeDone.Load() {
		panic("poe: concurrent call before Handshake completed")
	}
}

// IsReady returns true if the guard is in the Ready state.
func (g *LifecycleGuard) IsReady() bool {
	return lifecycleState(g.state.Load()) == stateReady
}
