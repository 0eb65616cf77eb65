package registry

import (
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// DefaultMaxClaimLength is used when no bound is configured.
const DefaultMaxClaimLength = 256

// Registry runs the claim operations against a Store.
//
// A Registry is not safe for concurrent use. The host serializes every
// call, which is the only guarantee the all-or-nothing semantics rely on.
type Registry struct {
	store          Store
	clock          Clock
	maxClaimLength uint32
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxClaimLength sets the upper bound on claim size in bytes.
func WithMaxClaimLength(n uint32) Option {
	return func(r *Registry) {
		r.maxClaimLength = n
	}
}

// New creates a Registry over store, timestamping writes with clock.
func New(store Store, clock Clock, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: nil store")
	}
	if clock == nil {
		return nil, errors.New("registry: nil clock")
	}
	r := &Registry{
		store:          store,
		clock:          clock,
		maxClaimLength: DefaultMaxClaimLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxClaimLength == 0 {
		return nil, errors.New("registry: max claim length must be positive")
	}
	return r, nil
}

// MaxClaimLength returns the configured claim size bound.
func (r *Registry) MaxClaimLength() uint32 {
	return r.maxClaimLength
}

// Lookup returns the record for claim, if any.
func (r *Registry) Lookup(claim Claim) (ClaimRecord, bool, error) {
	return r.load(ClaimKey(claim))
}

// Create registers claim to caller at the current logical time.
func (r *Registry) Create(sink EventSink, caller AccountID, claim Claim) error {
	if uint64(len(claim)) > uint64(r.maxClaimLength) {
		return ErrClaimTooLarge
	}

	key := ClaimKey(claim)
	exists, err := r.store.ContainsKey(key)
	if err != nil {
		return fmt.Errorf("registry: check claim: %w", err)
	}
	if exists {
		return ErrProofAlreadyExist
	}

	if err := r.save(key, ClaimRecord{Owner: caller, RegisteredAt: r.clock.Now()}); err != nil {
		return err
	}

	sink.Emit(Event{Kind: ClaimCreated, Who: caller, Claim: claim})
	return nil
}

// Revoke deletes claim. Only the current owner may revoke.
func (r *Registry) Revoke(sink EventSink, caller AccountID, claim Claim) error {
	key := ClaimKey(claim)
	if err := r.checkOwner(key, caller); err != nil {
		return err
	}

	if err := r.store.Remove(key); err != nil {
		return fmt.Errorf("registry: remove claim: %w", err)
	}

	sink.Emit(Event{Kind: ClaimRevoked, Who: caller, Claim: claim})
	return nil
}

// Transfer hands claim from caller to target and restamps it with the
// current logical time. A transfer to oneself is allowed and still
// restamps the record and emits an event.
func (r *Registry) Transfer(sink EventSink, caller, target AccountID, claim Claim) error {
	key := ClaimKey(claim)
	if err := r.checkOwner(key, caller); err != nil {
		return err
	}

	if err := r.save(key, ClaimRecord{Owner: target, RegisteredAt: r.clock.Now()}); err != nil {
		return err
	}

	sink.Emit(Event{Kind: ClaimTransferred, Who: caller, Target: target, Claim: claim})
	return nil
}

// checkOwner loads the record at key and checks that caller holds it.
func (r *Registry) checkOwner(key []byte, caller AccountID) error {
	rec, ok, err := r.load(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProofNotExist
	}
	if rec.Owner != caller {
		return ErrNotClaimOwner
	}
	return nil
}

func (r *Registry) load(key []byte) (ClaimRecord, bool, error) {
	raw, ok, err := r.store.Get(key)
	if err != nil {
		return ClaimRecord{}, false, fmt.Errorf("registry: load claim: %w", err)
	}
	if !ok {
		return ClaimRecord{}, false, nil
	}
	rec, err := DecodeRecord(raw)
	if err != nil {
		return ClaimRecord{}, false, err
	}
	return rec, true, nil
}

func (r *Registry) save(key []byte, rec ClaimRecord) error {
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.store.Insert(key, raw); err != nil {
		return fmt.Errorf("registry: store claim: %w", err)
	}
	return nil
}

// EncodeRecord serializes a record in its storage form.
func EncodeRecord(rec ClaimRecord) ([]byte, error) {
	data, err := cramberry.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("registry: encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a record from its storage form.
func DecodeRecord(data []byte) (ClaimRecord, error) {
	var rec ClaimRecord
	if err := cramberry.Unmarshal(data, &rec); err != nil {
		return ClaimRecord{}, fmt.Errorf("registry: decode record: %w", err)
	}
	return rec, nil
}
