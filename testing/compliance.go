package poetest

import (
	"context"
	"sync"
	"testing"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/types"
)

// RunComplianceSuite checks that an application behaves correctly under
// the lifecycle guard.
//
// The factory must return a fresh application with empty storage on
// every call. sample supplies the transactions used by the
// transaction-bearing checks; they need not succeed but must be the
// same bytes for every instance.
func RunComplianceSuite(t *testing.T, factory func() poe.Lifecycle, sample ...types.Tx) {
	t.Helper()

	if len(sample) == 0 {
		sample = []types.Tx{
			{0x01, 0x02, 0x03, 0x04},
			{0x02, 0x02, 0x03, 0x04},
			{0x03, 0x02, 0x03, 0x04},
		}
	}

	t.Run("genesis_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		resp := h.GenesisDefault()
		if resp.LastBlock != nil {
			t.Error("genesis handshake should return nil LastBlock")
		}
		if resp.AppHash == nil {
			t.Error("genesis handshake should return a non-nil AppHash")
		}
	})

	t.Run("execute_commit_cycle", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()

		for i := uint64(1); i <= 5; i++ {
			outcome := h.ExecuteAndCommit(MakeEmptyBlock(i))
			if outcome.AppHash == (types.AppHash{}) {
				t.Errorf("height %d: zero app hash", i)
			}
		}
	})

	t.Run("empty_blocks_keep_app_hash", func(t *testing.T) {
		h := NewHarness(t, factory())
		resp := h.GenesisDefault()

		for i := uint64(1); i <= 3; i++ {
			outcome := h.ExecuteAndCommit(MakeEmptyBlock(i))
			if outcome.AppHash != *resp.AppHash {
				t.Errorf("height %d: empty block changed app hash: %x != %x",
					i, outcome.AppHash, *resp.AppHash)
			}
		}
	})

	t.Run("deterministic_with_txs", func(t *testing.T) {
		h1 := NewHarness(t, factory())
		h1.GenesisDefault()

		h2 := NewHarness(t, factory())
		h2.GenesisDefault()

		for i, tx := range sample {
			block := MakeBlock(uint64(i+1), tx)
			o1 := h1.ExecuteAndCommit(block)
			o2 := h2.ExecuteAndCommit(block)

			if o1.AppHash != o2.AppHash {
				t.Errorf("height %d: non-deterministic: %x != %x",
					i+1, o1.AppHash, o2.AppHash)
			}
			if o1.TxOutcomes[0].Code != o2.TxOutcomes[0].Code {
				t.Errorf("height %d: code mismatch: %d != %d",
					i+1, o1.TxOutcomes[0].Code, o2.TxOutcomes[0].Code)
			}
		}
	})

	t.Run("concurrent_checktx_after_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tx := sample[i%len(sample)]
				_, err := h.Server().CheckTx(context.Background(), tx, types.MempoolFirstSeen)
				if err != nil {
					t.Errorf("concurrent CheckTx failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("concurrent_query_after_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Server().Query(context.Background(), types.StateQuery{
					Path: "/params",
				})
				if err != nil {
					t.Errorf("concurrent Query failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("query_returns_height", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()

		h.ExecuteAndCommit(MakeEmptyBlock(1))
		h.ExecuteAndCommit(MakeEmptyBlock(2))

		result := h.Query("/params", nil)
		if result.Height != 2 {
			t.Errorf("query height should be 2 after committing, got %d", result.Height)
		}
	})

	t.Run("tx_outcome_indices", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.GenesisDefault()

		outcome := h.ExecuteAndCommit(MakeBlock(1, sample...))

		if len(outcome.TxOutcomes) != len(sample) {
			t.Fatalf("expected %d tx outcomes, got %d", len(sample), len(outcome.TxOutcomes))
		}
		for i, o := range outcome.TxOutcomes {
			if o.Index != uint32(i) {
				t.Errorf("tx %d: expected index %d, got %d", i, i, o.Index)
			}
			if !o.OK() && len(o.Events) > 0 {
				t.Errorf("tx %d: rejected tx emitted %d events", i, len(o.Events))
			}
		}
	})
}
