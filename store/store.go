// Package store provides the durable key-value storage behind the claim
// registry and the staged overlay that block execution writes through.
//
// A KV holds committed state only. Block execution writes into an
// Overlay, which is applied to its KV as a single atomic Changeset on
// commit or dropped on discard.
package store

import (
	"bytes"
	"sort"
)

// KV is a committed, ordered key space.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(key []byte) ([]byte, bool, error)
	// Iterate calls fn for every key with the given prefix in ascending
	// key order. Iteration stops at the first error fn returns.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	// Apply writes every change in cs atomically.
	Apply(cs *Changeset) error
	Close() error
}

// Op is a single change kind.
type Op uint8

const (
	OpPut Op = iota + 1
	OpDelete
)

// Change is one write in a Changeset.
type Change struct {
	Op    Op
	Key   []byte
	Value []byte
}

// Changeset is a set of writes kept in ascending key order, at most one
// per key.
type Changeset struct {
	changes []Change
}

// Put records key = value.
func (cs *Changeset) Put(key, value []byte) {
	cs.set(Change{Op: OpPut, Key: clone(key), Value: clone(value)})
}

// Delete records the removal of key.
func (cs *Changeset) Delete(key []byte) {
	cs.set(Change{Op: OpDelete, Key: clone(key)})
}

func (cs *Changeset) set(c Change) {
	i := sort.Search(len(cs.changes), func(i int) bool {
		return bytes.Compare(cs.changes[i].Key, c.Key) >= 0
	})
	if i < len(cs.changes) && bytes.Equal(cs.changes[i].Key, c.Key) {
		cs.changes[i] = c
		return
	}
	cs.changes = append(cs.changes, Change{})
	copy(cs.changes[i+1:], cs.changes[i:])
	cs.changes[i] = c
}

// Changes returns the writes in key order.
func (cs *Changeset) Changes() []Change {
	return cs.changes
}

// Len returns the number of writes.
func (cs *Changeset) Len() int {
	return len(cs.changes)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
