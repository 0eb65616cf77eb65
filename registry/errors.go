package registry

import (
	"errors"
	"fmt"
)

// Error is the closed set of reasons a registry operation is rejected.
// Each value is an ordinary outcome of an invalid request; none is
// retried and none leaves a trace in the store.
type Error uint32

const (
	// ErrProofAlreadyExist: create on a claim that is already held.
	ErrProofAlreadyExist Error = iota + 1
	// ErrProofNotExist: revoke or transfer on an unclaimed key.
	ErrProofNotExist
	// ErrNotClaimOwner: revoke or transfer by someone other than the owner.
	ErrNotClaimOwner
	// ErrClaimTooLarge: create with a claim longer than the configured bound.
	ErrClaimTooLarge
)

func (e Error) Error() string {
	switch e {
	case ErrProofAlreadyExist:
		return "proof already exists"
	case ErrProofNotExist:
		return "proof does not exist"
	case ErrNotClaimOwner:
		return "caller is not the claim owner"
	case ErrClaimTooLarge:
		return "claim exceeds maximum length"
	default:
		return fmt.Sprintf("unknown registry error %d", uint32(e))
	}
}

// Code returns the stable numeric code reported to the host.
func (e Error) Code() uint32 { return uint32(e) }

// Name returns the identifier of the error kind.
func (e Error) Name() string {
	switch e {
	case ErrProofAlreadyExist:
		return "ProofAlreadyExist"
	case ErrProofNotExist:
		return "ProofNotExist"
	case ErrNotClaimOwner:
		return "NotClaimOwner"
	case ErrClaimTooLarge:
		return "ClaimTooLarge"
	default:
		return "Unknown"
	}
}

// AsError extracts a registry Error from err, unwrapping as needed.
// Storage failures and other non-domain errors return false.
func AsError(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}
