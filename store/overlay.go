package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	cache "github.com/patrickmn/go-cache"
)

// Overlay stages writes on top of a KV. Reads see staged writes first;
// a staged delete hides the committed value. Nothing reaches the KV
// until Commit.
//
// An Overlay implements registry.Store.
type Overlay struct {
	kv      KV
	pending *cache.Cache
}

type pendingEntry struct {
	op    Op
	value []byte
}

// NewOverlay creates an empty overlay over kv.
func NewOverlay(kv KV) *Overlay {
	return &Overlay{
		kv: kv,
		// Staged writes must never expire, so the janitor stays off.
		pending: cache.New(cache.NoExpiration, 0),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	if obj, found := o.pending.Get(string(key)); found {
		entry := obj.(pendingEntry)
		if entry.op == OpDelete {
			return nil, false, nil
		}
		return clone(entry.value), true, nil
	}
	return o.kv.Get(key)
}

func (o *Overlay) Insert(key, value []byte) error {
	o.pending.Set(string(key), pendingEntry{op: OpPut, value: clone(value)}, cache.NoExpiration)
	return nil
}

func (o *Overlay) Remove(key []byte) error {
	o.pending.Set(string(key), pendingEntry{op: OpDelete}, cache.NoExpiration)
	return nil
}

func (o *Overlay) ContainsKey(key []byte) (bool, error) {
	_, ok, err := o.Get(key)
	return ok, err
}

// Iterate calls fn for every live key with the given prefix in
// ascending key order, merging staged writes over committed values.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.kv.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}

	for k, item := range o.pending.Items() {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		entry := item.Object.(pendingEntry)
		if entry.op == OpDelete {
			delete(merged, k)
			continue
		}
		merged[k] = entry.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}

// Changeset returns the staged writes.
func (o *Overlay) Changeset() *Changeset {
	cs := new(Changeset)
	for k, item := range o.pending.Items() {
		entry := item.Object.(pendingEntry)
		switch entry.op {
		case OpPut:
			cs.Put([]byte(k), entry.value)
		case OpDelete:
			cs.Delete([]byte(k))
		}
	}
	return cs
}

// Pending returns the number of staged writes.
func (o *Overlay) Pending() int {
	return o.pending.ItemCount()
}

// Commit applies the staged writes to the KV as one changeset and
// clears the overlay. On error nothing is cleared.
func (o *Overlay) Commit() error {
	if o.kv == nil {
		return errors.New("store: commit on overlay without backing store")
	}
	if err := o.kv.Apply(o.Changeset()); err != nil {
		return fmt.Errorf("store: commit overlay: %w", err)
	}
	o.pending.Flush()
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.pending.Flush()
}
