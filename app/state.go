package app

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/types"
)

// Metadata lives beside the claim records under its own prefix and is
// written in the same batch as the block it describes.
const metaPrefix byte = 'M'

var (
	keyHeight  = []byte{metaPrefix, 'h'}
	keyAppHash = []byte{metaPrefix, 'a'}
	keyParams  = []byte{metaPrefix, 'p'}
)

// Params are fixed at genesis.
type Params struct {
	ChainID        string `json:"chain_id"`
	MaxClaimLength uint32 `json:"max_claim_length"`
}

// genesisState is the application section of the genesis document.
type genesisState struct {
	MaxClaimLength uint32 `json:"max_claim_length"`
}

func parseGenesis(appState []byte, fallback uint32) (uint32, error) {
	if len(appState) == 0 {
		return fallback, nil
	}
	var gs genesisState
	if err := json.Unmarshal(appState, &gs); err != nil {
		return 0, fmt.Errorf("app: parse genesis app state: %w", err)
	}
	if gs.MaxClaimLength == 0 {
		return fallback, nil
	}
	return gs.MaxClaimLength, nil
}

// writer is the write half shared by Overlay and Changeset callers.
type writer interface {
	Insert(key, value []byte) error
}

func writeParams(w writer, p Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("app: encode params: %w", err)
	}
	return w.Insert(keyParams, data)
}

func writeCommitInfo(w writer, height uint64, hash types.AppHash) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	if err := w.Insert(keyHeight, buf); err != nil {
		return err
	}
	return w.Insert(keyAppHash, hash[:])
}

// committedState is what survives a restart.
type committedState struct {
	height  uint64
	appHash types.AppHash
	params  Params
	// False when the store has never been initialized.
	initialized bool
}

// getter is satisfied by both KV and Overlay.
type getter interface {
	Get(key []byte) ([]byte, bool, error)
}

func loadState(kv getter) (committedState, error) {
	var st committedState

	raw, ok, err := kv.Get(keyParams)
	if err != nil {
		return st, fmt.Errorf("app: load params: %w", err)
	}
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st.params); err != nil {
		return st, fmt.Errorf("app: decode params: %w", err)
	}
	st.initialized = true
	st.appHash = emptyAppHash()

	raw, ok, err = kv.Get(keyHeight)
	if err != nil {
		return st, fmt.Errorf("app: load height: %w", err)
	}
	if !ok {
		return st, nil
	}
	if len(raw) != 8 {
		return st, fmt.Errorf("app: height record has %d bytes", len(raw))
	}
	st.height = binary.BigEndian.Uint64(raw)

	raw, ok, err = kv.Get(keyAppHash)
	if err != nil {
		return st, fmt.Errorf("app: load app hash: %w", err)
	}
	if !ok || len(raw) != len(st.appHash) {
		return st, fmt.Errorf("app: app hash missing at height %d", st.height)
	}
	copy(st.appHash[:], raw)
	return st, nil
}

// iterator is satisfied by both KV and Overlay.
type iterator interface {
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// computeAppHash digests every claim record in key order. Each entry
// contributes its length-prefixed key and value.
func computeAppHash(it iterator) (types.AppHash, error) {
	h := sha256.New()
	var lenBuf [4]byte
	err := it.Iterate(registry.ClaimPrefix(), func(key, value []byte) error {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
		h.Write(lenBuf[:])
		h.Write(key)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
		h.Write(lenBuf[:])
		h.Write(value)
		return nil
	})
	if err != nil {
		return types.AppHash{}, fmt.Errorf("app: hash state: %w", err)
	}
	var out types.AppHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// emptyAppHash is the fingerprint of a registry with no claims.
func emptyAppHash() types.AppHash {
	return types.AppHash(sha256.Sum256(nil))
}
