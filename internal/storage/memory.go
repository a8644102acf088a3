package storage

import (
	"context"
	"sync"
)

// Memory is an in-process KV. Data is lost when the process exits.
type Memory struct {
	mu     sync.RWMutex
	slots  map[string]slot
	closed bool
}

type slot struct {
	kind string
	str  string
	list []string
}

func NewMemory() *Memory {
	return &Memory{slots: map[string]slot{}}
}

func (m *Memory) GetString(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	s, ok := m.slots[key]
	if !ok || s.kind != kindString {
		return "", ErrNotFound
	}
	return s.str, nil
}

func (m *Memory) GetList(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.slots[key]
	if !ok || s.kind != kindList {
		return nil, ErrNotFound
	}
	return append([]string(nil), s.list...), nil
}

func (m *Memory) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slots[key] = slot{kind: kindString, str: value}
	return nil
}

func (m *Memory) SetList(_ context.Context, key string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slots[key] = slot{kind: kindList, list: append([]string{}, values...)}
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.slots, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
