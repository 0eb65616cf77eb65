package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/account"
	"github.com/blockberries/poe/app"
	"github.com/blockberries/poe/metrics"
	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/store"
	poetest "github.com/blockberries/poe/testing"
	"github.com/blockberries/poe/types"
)

const chainID = poetest.TestChainID

var (
	alice = poetest.TestAccount(1)
	bob   = poetest.TestAccount(2)
)

func createTx(t testing.TB, kp *account.KeyPair, claim string) types.Tx {
	t.Helper()
	tx, err := app.CreateTx(chainID, kp, []byte(claim))
	if err != nil {
		t.Fatalf("CreateTx: %v", err)
	}
	return tx
}

func revokeTx(t testing.TB, kp *account.KeyPair, claim string) types.Tx {
	t.Helper()
	tx, err := app.RevokeTx(chainID, kp, []byte(claim))
	if err != nil {
		t.Fatalf("RevokeTx: %v", err)
	}
	return tx
}

func transferTx(t testing.TB, kp *account.KeyPair, target *account.KeyPair, claim string) types.Tx {
	t.Helper()
	tx, err := app.TransferTx(chainID, kp, target.Account(), []byte(claim))
	if err != nil {
		t.Fatalf("TransferTx: %v", err)
	}
	return tx
}

func lookup(t *testing.T, h *poetest.Harness, claim string) (registry.ClaimRecord, bool) {
	t.Helper()
	res := h.Query(app.PathClaim, []byte(claim))
	if !res.Found() {
		return registry.ClaimRecord{}, false
	}
	rec, err := registry.DecodeRecord(res.Value)
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec, true
}

func TestApp_Compliance(t *testing.T) {
	poetest.RunComplianceSuite(t, func() poe.Lifecycle {
		return app.New(store.NewMemory())
	},
		createTx(t, alice, "one"),
		createTx(t, alice, "one"),
		transferTx(t, alice, bob, "one"),
		revokeTx(t, bob, "one"),
	)
}

func TestApp_Scenario(t *testing.T) {
	a := app.New(store.NewMemory())
	h := poetest.NewHarness(t, a)
	h.Genesis(poetest.GenesisWithMaxClaimLength(10))

	steps := []struct {
		tx   types.Tx
		code uint32
	}{
		{createTx(t, alice, "hello"), app.CodeOK},
		{createTx(t, alice, "hello"), registry.ErrProofAlreadyExist.Code()},
		{revokeTx(t, bob, "hello"), registry.ErrNotClaimOwner.Code()},
		{revokeTx(t, alice, "hello"), app.CodeOK},
		{transferTx(t, alice, bob, "hello"), registry.ErrProofNotExist.Code()},
	}

	for i, step := range steps {
		before := a.AppHash()
		outcome := h.ExecuteAndCommit(poetest.MakeBlock(uint64(i+1), step.tx))
		got := outcome.TxOutcomes[0]
		if got.Code != step.code {
			t.Fatalf("step %d: code %d, want %d (%s)", i, got.Code, step.code, got.Info)
		}
		if got.OK() {
			continue
		}
		if len(got.Events) != 0 {
			t.Fatalf("step %d: rejected tx emitted events", i)
		}
		if outcome.AppHash != before {
			t.Fatalf("step %d: rejected tx changed the app hash", i)
		}
	}

	if h.Query(app.PathClaim, []byte("hello")).Found() {
		t.Fatal("claim should be revoked")
	}
}

func TestApp_ScenarioCreatedEvent(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.Genesis(poetest.GenesisWithMaxClaimLength(10))

	outcome := h.ExecuteAndCommit(poetest.MakeBlock(1, createTx(t, alice, "hello")))
	ev := outcome.TxOutcomes[0].Events
	if len(ev) != 1 || ev[0].Kind != "ClaimCreated" {
		t.Fatalf("unexpected events %+v", ev)
	}
	if who, _ := ev[0].Attr("who"); who != alice.Account().String() {
		t.Errorf("who = %q", who)
	}
	if claim, _ := ev[0].Attr("claim"); claim != "68656c6c6f" {
		t.Errorf("claim = %q", claim)
	}
}

func TestApp_RejectionsLeaveStateUntouched(t *testing.T) {
	a := app.New(store.NewMemory())
	h := poetest.NewHarness(t, a)
	h.Genesis(poetest.GenesisWithMaxClaimLength(10))
	h.ExecuteAndCommit(poetest.MakeBlock(1, createTx(t, alice, "hello")))

	hash := a.AppHash()
	record := h.Query(app.PathClaim, []byte("hello")).Value

	rejected := []types.Tx{
		createTx(t, alice, "hello"),
		createTx(t, bob, "hello"),
		createTx(t, bob, "hello world"),
		revokeTx(t, bob, "hello"),
		transferTx(t, bob, bob, "hello"),
		revokeTx(t, alice, "other"),
	}
	// Retried over several later blocks so the clock has moved on.
	for height := uint64(2); height <= 4; height++ {
		outcome := h.ExecuteAndCommit(poetest.MakeBlock(height, rejected...))
		for i, o := range outcome.TxOutcomes {
			if o.OK() {
				t.Fatalf("height %d tx %d: expected rejection", height, i)
			}
		}
		if outcome.AppHash != hash {
			t.Fatalf("height %d: app hash changed", height)
		}
		if got := h.Query(app.PathClaim, []byte("hello")).Value; !bytes.Equal(got, record) {
			t.Fatalf("height %d: record changed", height)
		}
	}

	rec, _ := lookup(t, h, "hello")
	if rec.Owner != alice.Account() || rec.RegisteredAt != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestApp_EventsAndRecord(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	outcome := h.ExecuteAndCommit(poetest.MakeBlock(3, createTx(t, alice, "doc")))
	ev := outcome.TxOutcomes[0].Events
	if len(ev) != 1 || ev[0].Kind != "ClaimCreated" {
		t.Fatalf("unexpected events %+v", ev)
	}
	if who, _ := ev[0].Attr("who"); who != alice.Account().String() {
		t.Errorf("who = %q", who)
	}
	if claim, _ := ev[0].Attr("claim"); claim != "646f63" {
		t.Errorf("claim = %q", claim)
	}

	rec, ok := lookup(t, h, "doc")
	if !ok {
		t.Fatal("claim not found")
	}
	if rec.Owner != alice.Account() || rec.RegisteredAt != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}

	outcome = h.ExecuteAndCommit(poetest.MakeBlock(4, transferTx(t, alice, bob, "doc")))
	ev = outcome.TxOutcomes[0].Events
	if target, ok := ev[0].Attr("target"); !ok || target != bob.Account().String() {
		t.Errorf("target = %q", target)
	}
	res := h.Query(app.PathClaim, []byte("doc"))
	if res.Info != bob.Account().String() || res.Height != 4 {
		t.Fatalf("unexpected query result %+v", res)
	}
}

func TestApp_QueryMissing(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	res := h.Query(app.PathClaim, []byte("nothing"))
	if res.Code != app.QueryNotFound || res.Info != "ProofNotExist" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := h.Query("/nope", nil); res.Code != app.QueryNotFound {
		t.Fatalf("unknown path: code %d", res.Code)
	}

	var params app.Params
	if err := json.Unmarshal(h.Query(app.PathParams, nil).Value, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.ChainID != chainID || params.MaxClaimLength != registry.DefaultMaxClaimLength {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestApp_RejectionCodes(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	h.MustRejectTx(types.Tx{}, app.CodeMalformedTx)

	// Transfer without a target.
	noTarget := &app.ClaimTx{Op: app.OpTransfer, Signer: alice.Account(), Claim: []byte("doc")}
	raw, _ := noTarget.Encode()
	h.MustRejectTx(raw, app.CodeMalformedTx)

	// Signed for another chain.
	foreign, err := app.CreateTx("other-chain", alice, []byte("doc"))
	if err != nil {
		t.Fatal(err)
	}
	h.MustRejectTx(foreign, app.CodeBadSignature)

	// Tampered claim.
	tx, _ := app.DecodeTx(createTx(t, alice, "doc"))
	tx.Claim = []byte("dog")
	tampered, _ := tx.Encode()
	h.MustRejectTx(tampered, app.CodeBadSignature)

	unknown := &app.ClaimTx{Op: 9, Signer: alice.Account(), Claim: []byte("doc")}
	raw, _ = unknown.Encode()
	h.MustRejectTx(raw, app.CodeUnknownOp)

	h.MustAcceptTx(createTx(t, alice, "doc"))
	h.MustRejectTx(revokeTx(t, alice, "doc"), registry.ErrProofNotExist.Code())
}

func TestApp_CheckTxDoesNotMutate(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	tx := createTx(t, alice, "doc")
	h.MustAcceptTx(tx)
	h.MustAcceptTx(tx)
	if v := h.RecheckTx(tx); !v.Accepted() {
		t.Fatalf("recheck rejected: %d", v.Code)
	}

	h.ExecuteAndCommit(poetest.MakeBlock(1, tx))
	h.MustRejectTx(tx, registry.ErrProofAlreadyExist.Code())
}

func TestApp_SimulateDoesNotMutate(t *testing.T) {
	a := app.New(store.NewMemory())
	h := poetest.NewHarness(t, a)
	h.GenesisDefault()
	before := a.AppHash()

	out := h.Simulate(createTx(t, alice, "doc"))
	if !out.OK() || len(out.Events) != 1 {
		t.Fatalf("unexpected simulation %+v", out)
	}
	if _, ok := lookup(t, h, "doc"); ok {
		t.Fatal("simulation leaked into state")
	}
	if a.AppHash() != before {
		t.Fatal("simulation changed app hash")
	}

	if out := h.Simulate(revokeTx(t, alice, "doc")); out.Code != registry.ErrProofNotExist.Code() {
		t.Fatalf("expected ProofNotExist, got %d", out.Code)
	}
}

func TestApp_AllOrNothingWithinBlock(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	// Later txs in a block see earlier writes.
	outcome := h.ExecuteAndCommit(poetest.MakeBlock(1,
		createTx(t, alice, "doc"),
		createTx(t, bob, "doc"),
		transferTx(t, alice, bob, "doc"),
		revokeTx(t, bob, "doc"),
		createTx(t, bob, "doc"),
	))
	want := []uint32{0, registry.ErrProofAlreadyExist.Code(), 0, 0, 0}
	for i, o := range outcome.TxOutcomes {
		if o.Code != want[i] {
			t.Errorf("tx %d: code %d, want %d", i, o.Code, want[i])
		}
	}
	if rec, _ := lookup(t, h, "doc"); rec.Owner != bob.Account() {
		t.Fatal("expected bob to own the recreated claim")
	}
}

func TestApp_UncommittedBlockInvisible(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	h.GenesisDefault()

	h.ExecuteBlock(poetest.MakeBlock(1, createTx(t, alice, "doc")))
	if _, ok := lookup(t, h, "doc"); ok {
		t.Fatal("executed but uncommitted claim is visible")
	}
	h.Commit()
	if _, ok := lookup(t, h, "doc"); !ok {
		t.Fatal("committed claim not visible")
	}
}

func TestApp_AppHashTracksClaims(t *testing.T) {
	h := poetest.NewHarness(t, app.New(store.NewMemory()))
	genesis := h.GenesisDefault()

	created := h.ExecuteAndCommit(poetest.MakeBlock(1, createTx(t, alice, "doc")))
	if created.AppHash == *genesis.AppHash {
		t.Fatal("create did not change app hash")
	}
	revoked := h.ExecuteAndCommit(poetest.MakeBlock(2, revokeTx(t, alice, "doc")))
	if revoked.AppHash != *genesis.AppHash {
		t.Fatal("revoking the only claim should restore the empty hash")
	}
}

func TestApp_RestartFromLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	db, err := store.OpenLevelDB(path)
	if err != nil {
		t.Fatal(err)
	}
	a := app.New(db)
	h := poetest.NewHarness(t, a)
	h.Genesis(poetest.GenesisWithMaxClaimLength(10))
	h.ExecuteAndCommit(poetest.MakeBlock(1, createTx(t, alice, "doc")))
	last := h.ExecuteAndCommit(poetest.MakeBlock(2, transferTx(t, alice, bob, "doc")))
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = store.OpenLevelDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	restarted := app.New(db)
	h = poetest.NewHarness(t, restarted)
	resp := h.Restart(types.BlockID{Height: 2})
	if resp.LastBlock == nil || resp.LastBlock.Height != 2 {
		t.Fatalf("unexpected last block %+v", resp.LastBlock)
	}
	if *resp.AppHash != last.AppHash {
		t.Fatalf("app hash %x, want %x", *resp.AppHash, last.AppHash)
	}
	if restarted.Params().MaxClaimLength != 10 {
		t.Fatalf("claim bound lost across restart: %d", restarted.Params().MaxClaimLength)
	}
	if rec, ok := lookup(t, h, "doc"); !ok || rec.Owner != bob.Account() {
		t.Fatalf("unexpected record after restart %+v", rec)
	}

	// Continue the chain.
	out := h.ExecuteAndCommit(poetest.MakeBlock(3, createTx(t, alice, "hello world")))
	if out.TxOutcomes[0].Code != registry.ErrClaimTooLarge.Code() {
		t.Fatalf("expected ClaimTooLarge after restart, got %d", out.TxOutcomes[0].Code)
	}
}

func TestApp_HandshakeErrors(t *testing.T) {
	ctx := context.Background()

	a := app.New(store.NewMemory())
	if _, err := a.Handshake(ctx, types.HandshakeRequest{}); err == nil {
		t.Error("genesis without document should fail")
	}
	if _, err := a.Handshake(ctx, types.HandshakeRequest{LastCommitted: &types.BlockID{Height: 1}}); err == nil {
		t.Error("restart on an empty store should fail")
	}

	g := poetest.DefaultGenesis()
	g.AppState = []byte("{not json")
	if _, err := a.Handshake(ctx, types.HandshakeRequest{Genesis: &g}); err == nil {
		t.Error("bad app state should fail")
	}

	h := poetest.NewHarness(t, a)
	h.GenesisDefault()
	h.ExecuteAndCommit(poetest.MakeEmptyBlock(1))
	g = poetest.DefaultGenesis()
	if _, err := a.Handshake(ctx, types.HandshakeRequest{Genesis: &g}); err == nil {
		t.Error("genesis over existing state should fail")
	}
}

func TestApp_CommitWithoutExecute(t *testing.T) {
	a := app.New(store.NewMemory())
	if _, err := a.Commit(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// flakyKV fails every read once broken is set.
type flakyKV struct {
	*store.Memory
	broken atomic.Bool
}

func (f *flakyKV) Get(key []byte) ([]byte, bool, error) {
	if f.broken.Load() {
		return nil, false, errors.New("disk gone")
	}
	return f.Memory.Get(key)
}

func TestApp_StorageFailureHalts(t *testing.T) {
	kv := &flakyKV{Memory: store.NewMemory()}
	h := poetest.NewHarness(t, app.New(kv))
	h.GenesisDefault()

	kv.broken.Store(true)
	_, err := h.Server().ExecuteBlock(context.Background(), poetest.MakeBlock(1, createTx(t, alice, "doc")))
	halt, ok := poe.IsHalt(err)
	if !ok {
		t.Fatalf("expected halt, got %v", err)
	}
	if halt.Height != 1 {
		t.Fatalf("halt height %d", halt.Height)
	}
	if h.Server().Halted() == nil {
		t.Fatal("server should stay halted")
	}

	// The halt outlives the storage fault.
	kv.broken.Store(false)
	if _, err := h.Server().ExecuteBlock(context.Background(), poetest.MakeEmptyBlock(1)); err == nil {
		t.Fatal("halted server accepted another block")
	}
}

func TestApp_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := poetest.NewHarness(t, app.New(store.NewMemory(), app.WithMetrics(m)))
	h.GenesisDefault()

	h.ExecuteAndCommit(poetest.MakeBlock(1,
		createTx(t, alice, "a"),
		createTx(t, alice, "b"),
		createTx(t, bob, "a"),
		types.Tx{},
	))
	h.ExecuteAndCommit(poetest.MakeBlock(2,
		transferTx(t, alice, bob, "a"),
		revokeTx(t, alice, "b"),
	))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"created", testutil.ToFloat64(m.ClaimsCreated), 2},
		{"transferred", testutil.ToFloat64(m.ClaimsTransferred), 1},
		{"revoked", testutil.ToFloat64(m.ClaimsRevoked), 1},
		{"rejected/1", testutil.ToFloat64(m.TxRejected.WithLabelValues("1")), 1},
		{"rejected/10", testutil.ToFloat64(m.TxRejected.WithLabelValues("10")), 1},
		{"height", testutil.ToFloat64(m.CommittedHeight), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApp_GenesisFallbackBound(t *testing.T) {
	a := app.New(store.NewMemory(), app.WithMaxClaimLength(3))
	h := poetest.NewHarness(t, a)
	h.GenesisDefault()

	if a.Params().MaxClaimLength != 3 {
		t.Fatalf("bound %d, want 3", a.Params().MaxClaimLength)
	}
	h.MustRejectTx(createTx(t, alice, "four"), registry.ErrClaimTooLarge.Code())
}
