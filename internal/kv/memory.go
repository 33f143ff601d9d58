package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store, used for local development and tests.
type Memory struct {
	values map[string]string
	rwm    sync.RWMutex
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.rwm.RLock()
	defer m.rwm.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) SetIfAbsent(ctx context.Context, key, value string) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	if _, ok := m.values[key]; ok {
		return ErrExists
	}
	m.values[key] = value
	return nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error) {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	current, ok := m.values[key]
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || current != *expected):
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.rwm.Lock()
	defer m.rwm.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) ScanPrefix(ctx context.Context, prefix string) ([]Pair, error) {
	m.rwm.RLock()
	defer m.rwm.RUnlock()
	result := make([]Pair, 0)
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			result = append(result, Pair{Key: k, Value: v})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}
