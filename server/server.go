package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/types"
)

// ErrNotSupported is returned for calls to a capability the
// application did not declare.
var ErrNotSupported = errors.New("poe: capability not supported")

// Compile-time interface check.
var _ poe.Connection = (*Server)(nil)

// Server wraps an application with lifecycle enforcement and
// capability routing. The host interacts with the application
// exclusively through this server.
type Server struct {
	app    poe.Lifecycle
	guard  *LifecycleGuard
	caps   types.Capabilities
	logger *slog.Logger

	// Optional interfaces (nil if not supported).
	stateSync poe.StateSync
	simulator poe.Simulator

	// Last block outcome (held between ExecuteBlock and Commit).
	mu          sync.Mutex
	lastOutcome *types.BlockOutcome
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new Server wrapping the given application.
func New(app poe.Lifecycle, opts ...Option) *Server {
	s := &Server{
		app:    app,
		guard:  NewLifecycleGuard(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Pre-discover optional interfaces (validated after handshake).
	s.stateSync, _ = app.(poe.StateSync)
	s.simulator, _ = app.(poe.Simulator)
	return s
}

// Handshake performs the startup handshake, validates capability
// declarations, and transitions the state machine to Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	s.guard.AcquireHandshake()

	resp, err := s.app.Handshake(ctx, req)
	if err != nil {
		s.guard.FailHandshake()
		return resp, err
	}

	if err := s.discoverCapabilities(resp.Capabilities); err != nil {
		s.guard.FailHandshake()
		return resp, err
	}

	var committed uint64
	if resp.LastBlock != nil {
		committed = resp.LastBlock.Height
	}
	if req.LastCommitted != nil && req.LastCommitted.Height != committed {
		s.logger.Warn("application and host disagree on committed height",
			"app_height", committed,
			"host_height", req.LastCommitted.Height,
		)
	}

	s.caps = resp.Capabilities
	s.guard.CompleteHandshake(committed)
	s.logger.Info("handshake complete",
		"height", committed,
		"capabilities", resp.Capabilities.String(),
	)
	return resp, nil
}

// CheckTx gate-checks a transaction for mempool admission.
// Safe for concurrent use.
func (s *Server) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	s.guard.CheckConcurrent()
	return s.app.CheckTx(ctx, tx, mctx)
}

// ExecuteBlock executes a decided block. A HaltError from the
// application halts the server: every later ExecuteBlock returns it.
func (s *Server) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := s.guard.AcquireExecute(block.Height); err != nil {
		return types.BlockOutcome{}, err
	}

	outcome, err := s.app.ExecuteBlock(ctx, block)
	if err != nil {
		if h, ok := poe.IsHalt(err); ok {
			s.logger.Error("application halted", "height", h.Height, "reason", h.Reason)
			s.guard.HaltExecute(h)
			return outcome, err
		}
		s.guard.FailExecute()
		return outcome, err
	}

	s.mu.Lock()
	s.lastOutcome = &outcome
	s.mu.Unlock()

	s.guard.CompleteExecute()
	return outcome, nil
}

// Commit persists state changes from the last ExecuteBlock. On error the
// block stays executed and Commit may be retried.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	s.guard.AcquireCommit()

	result, err := s.app.Commit(ctx)
	if err != nil {
		s.logger.Error("commit failed", "error", err)
		s.guard.FailCommit()
		return result, err
	}

	s.mu.Lock()
	s.lastOutcome = nil
	s.mu.Unlock()

	s.guard.CompleteCommit()
	return result, nil
}

// Query reads application state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	s.guard.CheckConcurrent()
	return s.app.Query(ctx, req)
}

// Capabilities returns the application's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// Committed returns the last committed height.
func (s *Server) Committed() uint64 {
	return s.guard.Committed()
}

// Halted returns the error that halted the server, or nil.
func (s *Server) Halted() *poe.HaltError {
	return s.guard.Halted()
}

// --- Capability-gated optional methods ---

// AvailableSnapshots delegates to StateSync if supported.
func (s *Server) AvailableSnapshots(ctx context.Context) ([]types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, ErrNotSupported
	}
	return s.stateSync.AvailableSnapshots(ctx)
}

// ExportSnapshot delegates to StateSync if supported.
func (s *Server) ExportSnapshot(ctx context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	if s.stateSync == nil {
		return nil, nil, ErrNotSupported
	}
	return s.stateSync.ExportSnapshot(ctx, height, format)
}

// ImportSnapshot delegates to StateSync if supported.
func (s *Server) ImportSnapshot(ctx context.Context, desc types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if s.stateSync == nil {
		return types.ImportResult{}, ErrNotSupported
	}
	return s.stateSync.ImportSnapshot(ctx, desc, chunks)
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if s.simulator == nil {
		return types.TxOutcome{}, ErrNotSupported
	}
	s.guard.CheckConcurrent()
	return s.simulator.Simulate(ctx, tx)
}

// AsStateSync returns the StateSync interface or nil.
func (s *Server) AsStateSync() poe.StateSync {
	if s.caps.Has(types.CapStateSync) {
		return s.stateSync
	}
	return nil
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() poe.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// LastOutcome returns the most recent BlockOutcome (between
// ExecuteBlock and Commit). Returns nil if no outcome is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Close is a no-op for the server wrapper.
func (s *Server) Close() error { return nil }

// discoverCapabilities checks which optional interfaces the app
// implements and verifies consistency with declared capabilities.
func (s *Server) discoverCapabilities(declared types.Capabilities) error {
	hasStateSync := s.stateSync != nil
	hasSimulator := s.simulator != nil

	if declared.Has(types.CapStateSync) && !hasStateSync {
		return errors.New("poe: app declared CapStateSync but does not implement StateSync")
	}
	if declared.Has(types.CapSimulation) && !hasSimulator {
		return errors.New("poe: app declared CapSimulation but does not implement Simulator")
	}

	// Warn (but don't error) if the app implements an interface but didn't declare it.
	if !declared.Has(types.CapStateSync) && hasStateSync {
		s.logger.Warn("app implements StateSync but did not declare it; capability will not be used")
	}
	if !declared.Has(types.CapSimulation) && hasSimulator {
		s.logger.Warn("app implements Simulator but did not declare it; capability will not be used")
	}
	return nil
}
