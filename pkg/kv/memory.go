package kv

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
)

// Memory is an in-memory Store implementation backed by a sorted map.
// It is safe for concurrent use and intended primarily for testing.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	opts *Options
}

// NewMemory creates a new in-memory Store.
// Pass nil for default options.
func NewMemory(opts *Options) *Memory {
	return &Memory{
		data: make(map[string][]byte),
		opts: opts,
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	k := string(m.opts.encode(key))
	m.mu.RLock()
	v, ok := m.data[k]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent mutation.
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	k := string(m.opts.encode(key))
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[k] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetNX(_ context.Context, key Key, value []byte) error {
	k := string(m.opts.encode(key))
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[k]; ok {
		return ErrExists
	}
	m.data[k] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	k := string(m.opts.encode(key))
	m.mu.Lock()
	delete(m.data, k)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	return m.scan(ctx, prefix, nil)
}

func (m *Memory) ListFrom(ctx context.Context, prefix, start Key) iter.Seq2[Entry, error] {
	return m.scan(ctx, prefix, m.opts.encode(start))
}

func (m *Memory) scan(_ context.Context, prefix Key, start []byte) iter.Seq2[Entry, error] {
	p := m.opts.encode(prefix)
	// Append separator so "a:b" prefix doesn't match "a:bc".
	// But if prefix is empty, scan everything.
	var prefixBytes []byte
	if len(p) > 0 {
		prefixBytes = append(p, m.opts.sep())
	}

	// Snapshot matching keys under read lock.
	m.mu.RLock()
	type pair struct {
		key string
		val []byte
	}
	var matches []pair
	for k, v := range m.data {
		if len(prefixBytes) > 0 && !bytes.HasPrefix([]byte(k), prefixBytes) {
			continue
		}
		if start != nil && k < string(start) {
			continue
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		matches = append(matches, pair{k, cp})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].key < matches[j].key })

	return func(yield func(Entry, error) bool) {
		for _, kv := range matches {
			entry := Entry{
				Key:   m.opts.decode([]byte(kv.key)),
				Value: kv.val,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (m *Memory) BatchDelete(_ context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, string(m.opts.encode(key)))
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
