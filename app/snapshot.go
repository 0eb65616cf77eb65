package app

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/store"
	"github.com/blockberries/poe/types"
)

const (
	snapshotFormat uint32 = 1
	// Entries per chunk.
	snapshotChunkEntries = 1024
)

// snapshotEntry is one stored key. Chunks carry claim records and the
// metadata needed to resume from the snapshot.
type snapshotEntry struct {
	Key   []byte `cramberry:"1"`
	Value []byte `cramberry:"2"`
}

type snapshotPayload struct {
	Entries []snapshotEntry `cramberry:"1"`
}

// buildSnapshot encodes committed state into chunks. The caller holds
// app.mu.
func (app *App) buildSnapshot() ([][]byte, *types.SnapshotDescriptor, error) {
	var entries []snapshotEntry
	collect := func(key, value []byte) error {
		entries = append(entries, snapshotEntry{Key: key, Value: value})
		return nil
	}
	if err := app.kv.Iterate([]byte{metaPrefix}, collect); err != nil {
		return nil, nil, fmt.Errorf("app: snapshot metadata: %w", err)
	}
	if err := app.kv.Iterate(registry.ClaimPrefix(), collect); err != nil {
		return nil, nil, fmt.Errorf("app: snapshot claims: %w", err)
	}

	var chunks [][]byte
	h := sha256.New()
	for start := 0; start < len(entries); start += snapshotChunkEntries {
		end := min(start+snapshotChunkEntries, len(entries))
		data, err := cramberry.Marshal(snapshotPayload{Entries: entries[start:end]})
		if err != nil {
			return nil, nil, fmt.Errorf("app: encode snapshot chunk: %w", err)
		}
		h.Write(data)
		chunks = append(chunks, data)
	}

	desc := &types.SnapshotDescriptor{
		Height:  app.height,
		Format:  snapshotFormat,
		Chunks:  uint32(len(chunks)),
		AppHash: app.appHash,
	}
	copy(desc.Hash[:], h.Sum(nil))
	return chunks, desc, nil
}

func (app *App) AvailableSnapshots(_ context.Context) ([]types.SnapshotDescriptor, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	if app.height == 0 {
		return nil, nil
	}
	_, desc, err := app.buildSnapshot()
	if err != nil {
		return nil, err
	}
	return []types.SnapshotDescriptor{*desc}, nil
}

func (app *App) ExportSnapshot(_ context.Context, height uint64, format uint32) (<-chan types.SnapshotChunk, *types.SnapshotDescriptor, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	if format != snapshotFormat {
		return nil, nil, fmt.Errorf("unsupported snapshot format %d", format)
	}
	if height == 0 || app.height != height {
		return nil, nil, fmt.Errorf("snapshot at height %d not available (current: %d)", height, app.height)
	}

	chunks, desc, err := app.buildSnapshot()
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan types.SnapshotChunk, len(chunks))
	for i, data := range chunks {
		ch <- types.SnapshotChunk{Index: uint32(i), Data: data}
	}
	close(ch)
	return ch, desc, nil
}

func (app *App) ImportSnapshot(_ context.Context, descriptor types.SnapshotDescriptor, chunks <-chan types.SnapshotChunk) (types.ImportResult, error) {
	if descriptor.Format != snapshotFormat {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: fmt.Sprintf("unsupported format %d", descriptor.Format),
		}, nil
	}

	received := make(map[uint32][]byte)
	for chunk := range chunks {
		received[chunk.Index] = chunk.Data
	}

	var missing []uint32
	for i := uint32(0); i < descriptor.Chunks; i++ {
		if _, ok := received[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return types.ImportResult{
			Status:       types.ImportRetryChunks,
			RetryIndices: missing,
		}, nil
	}

	h := sha256.New()
	for i := uint32(0); i < descriptor.Chunks; i++ {
		h.Write(received[i])
	}
	if types.Hash(h.Sum(nil)) != descriptor.Hash {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: "snapshot hash mismatch",
		}, nil
	}

	overlay := store.NewOverlay(app.kv)
	for i := uint32(0); i < descriptor.Chunks; i++ {
		var payload snapshotPayload
		if err := cramberry.Unmarshal(received[i], &payload); err != nil {
			return types.ImportResult{
				Status: types.ImportReject,
				Reason: fmt.Sprintf("decode chunk %d: %v", i, err),
			}, nil
		}
		for _, e := range payload.Entries {
			if reason := checkEntry(e); reason != "" {
				return types.ImportResult{
					Status: types.ImportReject,
					Reason: fmt.Sprintf("chunk %d: %s", i, reason),
				}, nil
			}
			if err := overlay.Insert(e.Key, e.Value); err != nil {
				return types.ImportResult{}, err
			}
		}
	}

	appHash, err := computeAppHash(overlay)
	if err != nil {
		return types.ImportResult{}, err
	}
	if appHash != descriptor.AppHash {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: fmt.Sprintf("restored app hash %s does not match %s", appHash, descriptor.AppHash),
		}, nil
	}

	st, err := loadState(overlay)
	if err != nil {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: err.Error(),
		}, nil
	}
	if !st.initialized || st.height != descriptor.Height || st.appHash != appHash {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: fmt.Sprintf("snapshot metadata (height %d) disagrees with descriptor (height %d)", st.height, descriptor.Height),
		}, nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.height > 0 {
		return types.ImportResult{
			Status: types.ImportReject,
			Reason: fmt.Sprintf("application already at height %d", app.height),
		}, nil
	}
	if err := overlay.Commit(); err != nil {
		return types.ImportResult{}, err
	}
	app.height = st.height
	app.appHash = st.appHash
	app.params = st.params

	app.logger.Info("restored snapshot",
		"height", st.height,
		"chunks", descriptor.Chunks,
		"app_hash", appHash.String(),
	)
	return types.ImportResult{
		Status:  types.ImportOK,
		AppHash: &appHash,
	}, nil
}

// checkEntry validates a restored key and returns why it is rejected,
// or "" if it is acceptable.
func checkEntry(e snapshotEntry) string {
	if len(e.Key) > 0 && e.Key[0] == metaPrefix {
		return ""
	}
	if _, ok := registry.ClaimFromKey(e.Key); !ok {
		return fmt.Sprintf("invalid claim key %x", e.Key)
	}
	if _, err := registry.DecodeRecord(e.Value); err != nil {
		return fmt.Sprintf("claim %x: %v", e.Key, err)
	}
	return ""
}
