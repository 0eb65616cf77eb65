package types

// SnapshotDescriptor describes an exportable copy of the registry.
type SnapshotDescriptor struct {
	Height uint64 `cramberry:"1"`
	Format uint32 `cramberry:"2"`
	Chunks uint32 `cramberry:"3"`
	// SHA-256 of the concatenated chunk data.
	Hash Hash `cramberry:"4"`
	// AppHash the restored state must reproduce.
	AppHash AppHash `cramberry:"5"`
}

// SnapshotChunk is a single piece of a snapshot.
type SnapshotChunk struct {
	Index uint32 `cramberry:"1"`
	Data  []byte `cramberry:"2"`
}

// ImportStatus describes the outcome of a snapshot import.
type ImportStatus uint8

const (
	// ImportOK means the snapshot was applied.
	ImportOK ImportStatus = 1
	// ImportReject means the snapshot was unusable; try another.
	ImportReject ImportStatus = 2
	// ImportRetryChunks means some chunks were missing.
	ImportRetryChunks ImportStatus = 3
)

// ImportResult is the outcome of importing a snapshot.
type ImportResult struct {
	Status ImportStatus `cramberry:"1"`
	// Set when Status is ImportOK.
	AppHash *AppHash `cramberry:"2"`
	// Set when Status is ImportReject.
	Reason string `cramberry:"3"`
	// Set when Status is ImportRetryChunks.
	RetryIndices []uint32 `cramberry:"4"`
}
