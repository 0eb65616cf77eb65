package app

import (
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/poe/account"
	"github.com/blockberries/poe/registry"
	"github.com/blockberries/poe/types"
)

// Op selects the registry operation a transaction performs.
type Op uint8

const (
	OpCreate Op = iota + 1
	OpRevoke
	OpTransfer
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpRevoke:
		return "revoke"
	case OpTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Result codes reported in TxOutcome.Code and GateVerdict.Code. Codes 1
// to 4 are the registry error codes.
const (
	CodeOK           uint32 = 0
	CodeMalformedTx  uint32 = 10
	CodeBadSignature uint32 = 11
	CodeUnknownOp    uint32 = 12
)

var (
	errMalformed = errors.New("malformed transaction")
	errUnknownOp = errors.New("unknown operation")
)

// ClaimTx is a signed request to run one registry operation.
type ClaimTx struct {
	Op     Op                 `cramberry:"1"`
	Signer registry.AccountID `cramberry:"2"`
	// Only set for OpTransfer.
	Target    registry.AccountID `cramberry:"3"`
	Claim     []byte             `cramberry:"4"`
	Signature []byte             `cramberry:"5"`
}

// signDoc is what the signer commits to. The chain id binds a
// signature to one network.
type signDoc struct {
	ChainID string             `cramberry:"1"`
	Op      Op                 `cramberry:"2"`
	Signer  registry.AccountID `cramberry:"3"`
	Target  registry.AccountID `cramberry:"4"`
	Claim   []byte             `cramberry:"5"`
}

// SignBytes returns the bytes the signature covers.
func (tx *ClaimTx) SignBytes(chainID string) ([]byte, error) {
	data, err := cramberry.Marshal(signDoc{
		ChainID: chainID,
		Op:      tx.Op,
		Signer:  tx.Signer,
		Target:  tx.Target,
		Claim:   tx.Claim,
	})
	if err != nil {
		return nil, fmt.Errorf("app: encode sign doc: %w", err)
	}
	return data, nil
}

// Verify checks the signature against the signer account.
func (tx *ClaimTx) Verify(chainID string) error {
	msg, err := tx.SignBytes(chainID)
	if err != nil {
		return err
	}
	return account.Verify(tx.Signer, msg, tx.Signature)
}

// Encode serializes the transaction.
func (tx *ClaimTx) Encode() (types.Tx, error) {
	data, err := cramberry.Marshal(*tx)
	if err != nil {
		return nil, fmt.Errorf("app: encode tx: %w", err)
	}
	return data, nil
}

// DecodeTx parses and structurally validates a transaction. It does not
// check the signature.
func DecodeTx(raw types.Tx) (*ClaimTx, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", errMalformed)
	}
	var tx ClaimTx
	if err := cramberry.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	switch tx.Op {
	case OpCreate, OpRevoke:
		if !tx.Target.IsZero() {
			return nil, fmt.Errorf("%w: target set on %s", errMalformed, tx.Op)
		}
	case OpTransfer:
		if tx.Target.IsZero() {
			return nil, fmt.Errorf("%w: transfer without target", errMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownOp, uint8(tx.Op))
	}
	return &tx, nil
}

// CreateTx builds a signed transaction registering claim to kp.
func CreateTx(chainID string, kp *account.KeyPair, claim []byte) (types.Tx, error) {
	return signTx(chainID, kp, &ClaimTx{Op: OpCreate, Claim: claim})
}

// RevokeTx builds a signed transaction revoking claim.
func RevokeTx(chainID string, kp *account.KeyPair, claim []byte) (types.Tx, error) {
	return signTx(chainID, kp, &ClaimTx{Op: OpRevoke, Claim: claim})
}

// TransferTx builds a signed transaction handing claim to target.
func TransferTx(chainID string, kp *account.KeyPair, target registry.AccountID, claim []byte) (types.Tx, error) {
	return signTx(chainID, kp, &ClaimTx{Op: OpTransfer, Target: target, Claim: claim})
}

func signTx(chainID string, kp *account.KeyPair, tx *ClaimTx) (types.Tx, error) {
	tx.Signer = kp.Account()
	msg, err := tx.SignBytes(chainID)
	if err != nil {
		return nil, err
	}
	tx.Signature = kp.Sign(msg)
	return tx.Encode()
}
