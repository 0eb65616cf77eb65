// Package types defines the wire types exchanged between a host ledger
// and the claim registry application.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. The same encoding is used
// in-process, over gRPC and in snapshots.
package types

import "encoding/hex"

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// String returns the hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// AppHash fingerprints the registry state after a block.
type AppHash [32]byte

// String returns the hex encoding.
func (h AppHash) String() string { return hex.EncodeToString(h[:]) }

// Tx is an encoded claim transaction. The host never inspects it.
type Tx []byte

// QueryPath selects what a state query reads (e.g. "/claim").
type QueryPath string

// BlockID identifies a committed block.
type BlockID struct {
	Height uint64 `cramberry:"1"`
	Hash   Hash   `cramberry:"2"`
}
