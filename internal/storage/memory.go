package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a process-local Store. It honours the same quota semantics as the
// durable backends, which makes it the backend of choice in tests.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	used   int64
	quota  int64
}

// NewMemory creates an empty in-memory store. quota <= 0 disables the limit.
func NewMemory(quota int64) *Memory {
	return &Memory{values: make(map[string][]byte), quota: quota}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decodeValue(key, data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.used + entrySize(key, data)
	if old, ok := m.values[key]; ok {
		next -= entrySize(key, old)
	}
	if m.quota > 0 && next > m.quota {
		return quotaError(key, next, m.quota)
	}
	m.values[key] = data
	m.used = next
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.values[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.values, key)
	}
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	m.values = make(map[string][]byte)
	m.used = 0
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size reports the bytes held by keys and values.
func (m *Memory) Size(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used, nil
}

func (m *Memory) Close() error { return nil }

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
