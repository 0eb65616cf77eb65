package poegrpc_test

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/app"
	poegrpc "github.com/blockberries/poe/grpc"
	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/store"
	poetest "github.com/blockberries/poe/testing"
	"github.com/blockberries/poe/types"
)

// startServer starts a gRPC server on a random port and returns the
// listener address. The server stops when the test ends.
func startServer(t *testing.T, gs *poegrpc.GRPCServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := gs.NewServer()
	go func() {
		// Serve returns nil after GracefulStop.
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.GracefulStop)

	return lis.Addr().String()
}

func dial(t *testing.T, addr string) *poegrpc.Client {
	t.Helper()
	client, err := poegrpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func startRegistry(t *testing.T) (*poegrpc.Client, *app.App) {
	t.Helper()
	a := app.New(store.NewMemory())
	client := dial(t, startServer(t, poegrpc.NewGRPCServer(a, nil)))

	genesis := poetest.GenesisWithMaxClaimLength(10)
	resp, err := client.Handshake(context.Background(), types.HandshakeRequest{Genesis: &genesis})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if resp.AppHash == nil {
		t.Fatal("expected non-nil AppHash from genesis")
	}
	return client, a
}

// mustTx unwraps a transaction builder result.
func mustTx(t *testing.T) func(types.Tx, error) types.Tx {
	return func(tx types.Tx, err error) types.Tx {
		t.Helper()
		if err != nil {
			t.Fatalf("build tx: %v", err)
		}
		return tx
	}
}

func TestGRPC_Registry_Lifecycle(t *testing.T) {
	client, _ := startRegistry(t)
	ctx := context.Background()

	if client.Capabilities() != app.Capabilities {
		t.Fatalf("unexpected capabilities %s", client.Capabilities())
	}

	alice, bob := poetest.TestAccount(1), poetest.TestAccount(2)
	block := poetest.MakeBlock(1,
		mustTx(t)(app.CreateTx(poetest.TestChainID, alice, []byte("hello"))),
		mustTx(t)(app.TransferTx(poetest.TestChainID, alice, bob.Account(), []byte("hello"))),
		mustTx(t)(app.RevokeTx(poetest.TestChainID, alice, []byte("hello"))),
	)
	outcome, err := client.ExecuteBlock(ctx, block)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	if outcome.AppHash == (types.AppHash{}) {
		t.Fatal("expected non-zero AppHash")
	}
	wantCodes := []uint32{app.CodeOK, app.CodeOK, registry.ErrNotClaimOwner.Code()}
	for i, want := range wantCodes {
		if got := outcome.TxOutcomes[i].Code; got != want {
			t.Errorf("tx %d: code %d, want %d (%s)", i, got, want, outcome.TxOutcomes[i].Info)
		}
	}
	if ev := outcome.TxOutcomes[1].Events; len(ev) != 1 || ev[0].Kind != "ClaimTransfered" {
		t.Fatalf("unexpected transfer events %+v", ev)
	}

	if _, err := client.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	qr, err := client.Query(ctx, types.StateQuery{Path: app.PathClaim, Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if qr.Height != 1 || !qr.Found() {
		t.Fatalf("unexpected query result %+v", qr)
	}
	rec, err := registry.DecodeRecord(qr.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Owner != bob.Account() {
		t.Fatalf("owner %s, want %s", rec.Owner, bob.Account())
	}
}

func TestGRPC_Registry_CheckTxAndSimulate(t *testing.T) {
	client, _ := startRegistry(t)
	ctx := context.Background()
	alice := poetest.TestAccount(1)

	v, err := client.CheckTx(ctx, mustTx(t)(app.CreateTx(poetest.TestChainID, alice, []byte("ok"))), types.MempoolFirstSeen)
	if err != nil {
		t.Fatalf("CheckTx: %v", err)
	}
	if !v.Accepted() || v.Sender != alice.Account().String() {
		t.Fatalf("unexpected verdict %+v", v)
	}

	v, err = client.CheckTx(ctx, mustTx(t)(app.CreateTx(poetest.TestChainID, alice, []byte("far too long"))), types.MempoolFirstSeen)
	if err != nil {
		t.Fatalf("CheckTx: %v", err)
	}
	if v.Code != registry.ErrClaimTooLarge.Code() {
		t.Fatalf("expected ClaimTooLarge, got %d", v.Code)
	}

	sim := client.AsSimulator()
	if sim == nil {
		t.Fatal("AsSimulator returned nil")
	}
	out, err := sim.Simulate(ctx, mustTx(t)(app.CreateTx(poetest.TestChainID, alice, []byte("sim"))))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !out.OK() || len(out.Events) != 1 || out.Events[0].Kind != "ClaimCreated" {
		t.Fatalf("unexpected simulation %+v", out)
	}
}

func TestGRPC_Registry_SnapshotRoundTrip(t *testing.T) {
	source, sourceApp := startRegistry(t)
	ctx := context.Background()
	alice := poetest.TestAccount(1)

	var txs []types.Tx
	for _, c := range []string{"a", "b", "c"} {
		txs = append(txs, mustTx(t)(app.CreateTx(poetest.TestChainID, alice, []byte(c))))
	}
	if _, err := source.ExecuteBlock(ctx, poetest.MakeBlock(1, txs...)); err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	if _, err := source.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ch, desc, err := source.AsStateSync().ExportSnapshot(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if desc == nil || desc.Height != 1 || desc.AppHash != sourceApp.AppHash() {
		t.Fatalf("unexpected descriptor %+v", desc)
	}

	// Import into a fresh app over a second connection.
	target := app.New(store.NewMemory())
	targetClient := dial(t, startServer(t, poegrpc.NewGRPCServer(target, nil)))
	result, err := targetClient.Bootstrap().ImportSnapshot(ctx, *desc, ch)
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if result.Status != types.ImportOK {
		t.Fatalf("import failed: %+v", result)
	}
	if *result.AppHash != sourceApp.AppHash() {
		t.Fatalf("restored hash %x, want %x", *result.AppHash, sourceApp.AppHash())
	}
	if target.Height() != 1 {
		t.Fatalf("restored height %d, want 1", target.Height())
	}

	// The restored application can now handshake as a restart.
	resp, err := targetClient.Handshake(ctx, types.HandshakeRequest{LastCommitted: &types.BlockID{Height: 1}})
	if err != nil {
		t.Fatalf("Handshake after restore: %v", err)
	}
	if resp.LastBlock == nil || resp.LastBlock.Height != 1 {
		t.Fatalf("unexpected last block %+v", resp.LastBlock)
	}
}

func TestGRPC_HaltPropagates(t *testing.T) {
	mock := &poetest.MockApp{
		ExecuteBlockFn: func(_ context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
			return types.BlockOutcome{}, poe.NewHaltError(block.Height, "store unavailable")
		},
	}
	client := dial(t, startServer(t, poegrpc.NewGRPCServer(mock, nil)))
	ctx := context.Background()

	if _, err := client.Handshake(ctx, types.HandshakeRequest{Genesis: &types.GenesisDoc{ChainID: "x"}}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	_, err := client.ExecuteBlock(ctx, poetest.MakeEmptyBlock(1))
	h, ok := poe.IsHalt(err)
	if !ok {
		t.Fatalf("expected halt error, got %v", err)
	}
	if h.Height != 1 || h.Reason != "store unavailable" {
		t.Fatalf("unexpected halt %+v", h)
	}

	// The client refuses further blocks without reaching the server.
	if _, err := client.ExecuteBlock(ctx, poetest.MakeEmptyBlock(2)); err == nil {
		t.Fatal("expected halted client to refuse execution")
	}
	if got := mock.ExecuteBlockCalls.Load(); got != 1 {
		t.Fatalf("expected 1 ExecuteBlock call on the server, got %d", got)
	}
}

func TestGRPC_SecondHandshakeIsRejected(t *testing.T) {
	addr := startServer(t, poegrpc.NewGRPCServer(&poetest.MockApp{}, nil))
	ctx := context.Background()
	genesis := types.HandshakeRequest{Genesis: &types.GenesisDoc{ChainID: "x"}}

	if _, err := dial(t, addr).Handshake(ctx, genesis); err != nil {
		t.Fatalf("first Handshake: %v", err)
	}
	_, err := dial(t, addr).Handshake(ctx, genesis)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestGRPC_NilCapabilities(t *testing.T) {
	client := dial(t, startServer(t, poegrpc.NewGRPCServer(&poetest.MockApp{}, nil)))

	if _, err := client.Handshake(context.Background(), types.HandshakeRequest{Genesis: &types.GenesisDoc{ChainID: "x"}}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if client.AsStateSync() != nil {
		t.Error("undeclared StateSync should be nil")
	}
	if client.AsSimulator() != nil {
		t.Error("undeclared Simulator should be nil")
	}
}
