// Package account provides the ed25519 keys that identify claim owners
// and sign claim transactions.
package account

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ed25519"

	"github.com/blockberries/poe/registry"
)

// SeedLength is the size of a private key seed.
const SeedLength = ed25519.SeedSize

// SignatureLength is the size of a signature.
const SignatureLength = ed25519.SignatureSize

var (
	ErrInvalidAccount   = errors.New("account: invalid account")
	ErrInvalidSignature = errors.New("account: invalid signature")
	ErrInvalidSeed      = errors.New("account: invalid seed length")
)

// KeyPair is an ed25519 signing key and the account it controls.
type KeyPair struct {
	private ed25519.PrivateKey
	account registry.AccountID
}

// Generate creates a key pair from rand, or crypto/rand if rand is nil.
func Generate(rnd io.Reader) (*KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("account: generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

// FromSeed derives a key pair deterministically from a 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedLength {
		return nil, ErrInvalidSeed
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *KeyPair {
	kp := &KeyPair{private: priv}
	copy(kp.account[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// Account returns the account identifier (the public key).
func (kp *KeyPair) Account() registry.AccountID {
	return kp.account
}

// Seed returns the private key seed.
func (kp *KeyPair) Seed() []byte {
	return kp.private.Seed()
}

// Sign signs message.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}

// Verify checks that signature was made over message by the key that
// account identifies.
func Verify(account registry.AccountID, message, signature []byte) error {
	if len(signature) != SignatureLength {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(account[:]), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// FromBytes converts a raw public key into an account identifier.
func FromBytes(b []byte) (registry.AccountID, error) {
	var id registry.AccountID
	if len(b) != registry.AccountLength {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAccount, registry.AccountLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes a base58 account identifier.
func Parse(s string) (registry.AccountID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return registry.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	return FromBytes(raw)
}
