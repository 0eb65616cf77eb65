// Package app runs the claim registry behind the host lifecycle.
//
// It decodes and authenticates transactions, executes each block
// against a staged overlay of the committed store, and persists the
// overlay on Commit. Committed state is served to queries, mempool
// checks and simulations through throwaway overlays.
package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/account"
	"github.com/blockberries/poe/metrics"
	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/store"
	"github.com/blockberries/poe/types"
)

// Compile-time interface check.
var _ poe.Application = (*App)(nil)

// Capabilities advertised at handshake.
const Capabilities = types.CapStateSync | types.CapSimulation

// Query paths.
const (
	PathClaim  types.QueryPath = "/claim"
	PathParams types.QueryPath = "/params"
)

// QueryNotFound is the query result code for a missing claim or an
// unknown path.
const QueryNotFound uint32 = 1

// App is the claim registry application.
type App struct {
	kv      store.KV
	logger  *slog.Logger
	metrics *metrics.Metrics

	defaultMaxClaimLength uint32

	mu      sync.RWMutex
	height  uint64
	appHash types.AppHash
	params  Params

	// Staging area (between ExecuteBlock and Commit).
	staged *stagedBlock
}

type stagedBlock struct {
	overlay  *store.Overlay
	height   uint64
	appHash  types.AppHash
	events   []registry.Event
	rejected []uint32
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(app *App) {
		app.logger = logger
	}
}

// WithMetrics sets the collectors updated on every commit.
func WithMetrics(m *metrics.Metrics) Option {
	return func(app *App) {
		app.metrics = m
	}
}

// WithMaxClaimLength sets the claim bound used when the genesis
// document does not carry one.
func WithMaxClaimLength(n uint32) Option {
	return func(app *App) {
		app.defaultMaxClaimLength = n
	}
}

// New creates an application over kv. The App does not own kv; the
// caller closes it.
func New(kv store.KV, opts ...Option) *App {
	app := &App{
		kv:                    kv,
		logger:                slog.New(slog.DiscardHandler),
		defaultMaxClaimLength: registry.DefaultMaxClaimLength,
		appHash:               emptyAppHash(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.metrics == nil {
		app.metrics = metrics.New(prometheus.NewRegistry())
	}
	return app
}

func (app *App) Handshake(_ context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	st, err := loadState(app.kv)
	if err != nil {
		return types.HandshakeResponse{}, err
	}

	if req.LastCommitted == nil {
		if st.height > 0 {
			return types.HandshakeResponse{}, fmt.Errorf("app: genesis requested but store is at height %d", st.height)
		}
		if req.Genesis == nil {
			return types.HandshakeResponse{}, errors.New("app: genesis handshake without genesis document")
		}
		if err := app.initChain(*req.Genesis); err != nil {
			return types.HandshakeResponse{}, err
		}
		h := emptyAppHash()
		return types.HandshakeResponse{
			AppHash:      &h,
			Capabilities: Capabilities,
		}, nil
	}

	if !st.initialized {
		return types.HandshakeResponse{}, errors.New("app: store is not initialized; run genesis or restore a snapshot")
	}

	app.mu.Lock()
	app.height = st.height
	app.appHash = st.appHash
	app.params = st.params
	app.mu.Unlock()

	app.logger.Info("resumed from store",
		"height", st.height,
		"app_hash", st.appHash.String(),
		"chain_id", st.params.ChainID,
		"host_height", req.LastCommitted.Height,
	)

	resp := types.HandshakeResponse{
		AppHash:      &st.appHash,
		Capabilities: Capabilities,
	}
	if st.height > 0 {
		resp.LastBlock = &types.BlockID{Height: st.height}
	}
	return resp, nil
}

func (app *App) initChain(genesis types.GenesisDoc) error {
	maxLen, err := parseGenesis(genesis.AppState, app.defaultMaxClaimLength)
	if err != nil {
		return err
	}
	params := Params{ChainID: genesis.ChainID, MaxClaimLength: maxLen}

	overlay := store.NewOverlay(app.kv)
	if err := writeParams(overlay, params); err != nil {
		return err
	}
	if err := overlay.Commit(); err != nil {
		return fmt.Errorf("app: persist genesis: %w", err)
	}

	app.mu.Lock()
	app.params = params
	app.height = 0
	app.appHash = emptyAppHash()
	app.mu.Unlock()

	app.logger.Info("initialized chain",
		"chain_id", params.ChainID,
		"max_claim_length", params.MaxClaimLength,
	)
	return nil
}

func (app *App) CheckTx(_ context.Context, raw types.Tx, _ types.MempoolContext) (types.GateVerdict, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	reg, err := app.fork(app.height + 1)
	if err != nil {
		return types.GateVerdict{}, err
	}
	res, err := runTx(reg, registry.Discard, raw, app.params.ChainID)
	if err != nil {
		return types.GateVerdict{}, err
	}

	verdict := types.GateVerdict{Code: res.code, Info: res.info}
	if res.tx != nil {
		verdict.Sender = res.tx.Signer.String()
	}
	return verdict, nil
}

func (app *App) ExecuteBlock(_ context.Context, block types.FinalizedBlock) (_ types.BlockOutcome, err error) {
	defer app.metrics.ObserveExecute(time.Now())

	app.mu.RLock()
	params := app.params
	app.mu.RUnlock()

	overlay := store.NewOverlay(app.kv)
	defer func() {
		if err != nil {
			overlay.Discard()
		}
	}()
	reg, err := registry.New(overlay, registry.AtHeight(block.Height), registry.WithMaxClaimLength(params.MaxClaimLength))
	if err != nil {
		return types.BlockOutcome{}, poe.Haltf(block.Height, "open registry: %v", err)
	}

	staged := &stagedBlock{overlay: overlay, height: block.Height}
	outcomes := make([]types.TxOutcome, len(block.Txs))

	for i, raw := range block.Txs {
		var events registry.EventLog
		res, txErr := runTx(reg, &events, raw, params.ChainID)
		if txErr != nil {
			return types.BlockOutcome{}, poe.Haltf(block.Height, "tx %d: %v", i, txErr)
		}
		outcomes[i] = types.TxOutcome{
			Index:  uint32(i),
			Code:   res.code,
			Info:   res.info,
			Events: toEvents(events),
		}
		if res.code != CodeOK {
			staged.rejected = append(staged.rejected, res.code)
		}
		staged.events = append(staged.events, events...)
	}

	hash, err := computeAppHash(overlay)
	if err != nil {
		return types.BlockOutcome{}, poe.Haltf(block.Height, "%v", err)
	}
	if err := writeCommitInfo(overlay, block.Height, hash); err != nil {
		return types.BlockOutcome{}, poe.Haltf(block.Height, "stage commit info: %v", err)
	}
	staged.appHash = hash

	app.mu.Lock()
	app.staged = staged
	app.mu.Unlock()

	app.logger.Debug("executed block",
		"height", block.Height,
		"txs", len(block.Txs),
		"rejected", len(staged.rejected),
		"writes", overlay.Pending(),
		"app_hash", hash.String(),
	)

	return types.BlockOutcome{
		TxOutcomes: outcomes,
		AppHash:    hash,
	}, nil
}

func (app *App) Commit(_ context.Context) (types.CommitResult, error) {
	app.mu.Lock()
	staged := app.staged
	if staged == nil {
		app.mu.Unlock()
		return types.CommitResult{}, errors.New("app: commit without an executed block")
	}
	if err := staged.overlay.Commit(); err != nil {
		app.mu.Unlock()
		return types.CommitResult{}, err
	}
	app.height = staged.height
	app.appHash = staged.appHash
	app.staged = nil
	app.mu.Unlock()

	for _, ev := range staged.events {
		switch ev.Kind {
		case registry.ClaimCreated:
			app.metrics.ClaimsCreated.Inc()
		case registry.ClaimRevoked:
			app.metrics.ClaimsRevoked.Inc()
		case registry.ClaimTransferred:
			app.metrics.ClaimsTransferred.Inc()
		}
	}
	for _, code := range staged.rejected {
		app.metrics.IncrementRejected(code)
	}
	app.metrics.SetCommittedHeight(staged.height)

	app.logger.Info("committed block",
		"height", staged.height,
		"events", len(staged.events),
		"app_hash", staged.appHash.String(),
	)
	return types.CommitResult{RetainHeight: 0}, nil
}

func (app *App) Query(_ context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	switch req.Path {
	case PathClaim:
		reg, err := app.fork(app.height)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		rec, ok, err := reg.Lookup(req.Data)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		key := registry.ClaimKey(req.Data)
		if !ok {
			return types.StateQueryResult{
				Code:   QueryNotFound,
				Key:    key,
				Height: app.height,
				Info:   registry.ErrProofNotExist.Name(),
			}, nil
		}
		value, err := registry.EncodeRecord(rec)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		return types.StateQueryResult{
			Key:    key,
			Value:  value,
			Height: app.height,
			Info:   rec.Owner.String(),
		}, nil

	case PathParams:
		value, err := json.Marshal(app.params)
		if err != nil {
			return types.StateQueryResult{}, fmt.Errorf("app: encode params: %w", err)
		}
		return types.StateQueryResult{
			Key:    keyParams,
			Value:  value,
			Height: app.height,
		}, nil

	default:
		return types.StateQueryResult{
			Code:   QueryNotFound,
			Height: app.height,
			Info:   fmt.Sprintf("unknown query path %q", req.Path),
		}, nil
	}
}

func (app *App) Simulate(_ context.Context, raw types.Tx) (types.TxOutcome, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	reg, err := app.fork(app.height + 1)
	if err != nil {
		return types.TxOutcome{}, err
	}
	var events registry.EventLog
	res, err := runTx(reg, &events, raw, app.params.ChainID)
	if err != nil {
		return types.TxOutcome{}, err
	}
	return types.TxOutcome{
		Code:   res.code,
		Info:   res.info,
		Events: toEvents(events),
	}, nil
}

// Height returns the last committed height.
func (app *App) Height() uint64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.height
}

// AppHash returns the last committed app hash.
func (app *App) AppHash() types.AppHash {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.appHash
}

// Params returns the chain parameters.
func (app *App) Params() Params {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.params
}

// fork opens a registry over a throwaway overlay of committed state.
// The caller holds app.mu.
func (app *App) fork(height uint64) (*registry.Registry, error) {
	maxLen := app.params.MaxClaimLength
	if maxLen == 0 {
		maxLen = app.defaultMaxClaimLength
	}
	return registry.New(store.NewOverlay(app.kv), registry.AtHeight(height), registry.WithMaxClaimLength(maxLen))
}

type txResult struct {
	code uint32
	info string
	// Nil when the tx could not be decoded.
	tx *ClaimTx
}

// runTx authenticates raw and runs its operation. Rejections come back
// as result codes; only storage failures return an error.
func runTx(reg *registry.Registry, sink registry.EventSink, raw types.Tx, chainID string) (txResult, error) {
	tx, err := DecodeTx(raw)
	if err != nil {
		if errors.Is(err, errUnknownOp) {
			return txResult{code: CodeUnknownOp, info: err.Error()}, nil
		}
		return txResult{code: CodeMalformedTx, info: err.Error()}, nil
	}
	if err := tx.Verify(chainID); err != nil {
		if errors.Is(err, account.ErrInvalidSignature) {
			return txResult{code: CodeBadSignature, info: err.Error(), tx: tx}, nil
		}
		return txResult{}, err
	}

	switch tx.Op {
	case OpCreate:
		err = reg.Create(sink, tx.Signer, tx.Claim)
	case OpRevoke:
		err = reg.Revoke(sink, tx.Signer, tx.Claim)
	case OpTransfer:
		err = reg.Transfer(sink, tx.Signer, tx.Target, tx.Claim)
	}
	if err != nil {
		if e, ok := registry.AsError(err); ok {
			return txResult{code: e.Code(), info: e.Name(), tx: tx}, nil
		}
		return txResult{}, err
	}
	return txResult{code: CodeOK, tx: tx}, nil
}

func toEvents(events []registry.Event) []types.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]types.Event, len(events))
	for i, ev := range events {
		attrs := []types.EventAttribute{
			{Key: "who", Value: ev.Who.String(), Index: true},
		}
		if ev.Kind == registry.ClaimTransferred {
			attrs = append(attrs, types.EventAttribute{Key: "target", Value: ev.Target.String(), Index: true})
		}
		attrs = append(attrs, types.EventAttribute{Key: "claim", Value: hex.EncodeToString(ev.Claim), Index: true})
		out[i] = types.Event{Kind: ev.Kind.String(), Attributes: attrs}
	}
	return out
}
