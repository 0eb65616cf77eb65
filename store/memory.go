package store

import (
	"bytes"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ KV = (*Memory)(nil)

// Memory is an in-process KV. Nothing survives the process.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *Memory) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = clone(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Apply(cs *Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cs.Changes() {
		switch c.Op {
		case OpPut:
			m.data[string(c.Key)] = clone(c.Value)
		case OpDelete:
			delete(m.data, string(c.Key))
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
