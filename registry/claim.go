// Package registry implements the proof-of-existence claim registry:
// a deterministic mapping from an opaque claim to the account that
// currently holds it and the block height at which it was written.
//
// The registry owns no concurrency primitives and performs no
// authentication. Callers hand it an already-authenticated account,
// a Store to read and write, a Clock for the current logical time and
// an EventSink that receives exactly one event per successful call.
package registry

import (
	"bytes"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// AccountLength is the size of an account identifier in bytes.
const AccountLength = 32

// AccountID identifies the account that holds a claim.
type AccountID [AccountLength]byte

// String renders the account as base58.
func (a AccountID) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the zero account.
func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// Claim is the opaque byte string being registered.
type Claim []byte

// ClaimRecord is the value stored for a claim.
type ClaimRecord struct {
	Owner AccountID `cramberry:"1"`
	// Block height of the last create or transfer.
	RegisteredAt uint64 `cramberry:"2"`
}

// claimPrefix namespaces claim records in the underlying store.
const claimPrefix byte = 'P'

const keyHashLength = 16

// ClaimPrefix returns the key prefix shared by every claim record.
func ClaimPrefix() []byte {
	return []byte{claimPrefix}
}

// ClaimKey derives the storage key for a claim: the prefix, a 128-bit
// blake2b digest of the claim, then the claim itself.
func ClaimKey(claim Claim) []byte {
	h, _ := blake2b.New(keyHashLength, nil) // only fails for bad size or key
	h.Write(claim)

	key := make([]byte, 0, 1+keyHashLength+len(claim))
	key = append(key, claimPrefix)
	key = h.Sum(key)
	return append(key, claim...)
}

// ClaimFromKey recovers the claim bytes from a storage key produced by
// ClaimKey. It returns false if key is not a claim key.
func ClaimFromKey(key []byte) (Claim, bool) {
	if len(key) < 1+keyHashLength || key[0] != claimPrefix {
		return nil, false
	}
	claim := Claim(append([]byte(nil), key[1+keyHashLength:]...))
	if !bytes.Equal(ClaimKey(claim), key) {
		return nil, false
	}
	return claim, true
}
