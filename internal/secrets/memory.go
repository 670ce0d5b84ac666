package secrets

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = &Memory{}

type memoryEntry struct {
	value     map[string]any
	expiresAt time.Time
}

// Memory is an in-memory Store for tests and local runs.
type Memory struct {
	mu           sync.Mutex
	entries      map[string]memoryEntry
	newTimestamp func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:      make(map[string]memoryEntry),
		newTimestamp: time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if !entry.expiresAt.IsZero() && m.newTimestamp().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	value := make(map[string]any, len(entry.value))
	for k, v := range entry.value {
		value[k] = v
	}
	return value, nil
}

func (m *Memory) Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: make(map[string]any, len(value))}
	for k, v := range value {
		entry.value[k] = v
	}
	if ttl > 0 {
		entry.expiresAt = m.newTimestamp().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
