package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MockViewCache is an in-memory ViewCache that records calls.
type MockViewCache struct {
	mu sync.Mutex

	Data             map[string][]byte
	Generation       int64
	GetCalls         []string
	SetCalls         []string
	InvalidateCalls  int
	GetErr           error
	SetErr           error
	InvalidateAllErr error
}

func NewMockViewCache() *MockViewCache {
	return &MockViewCache{Data: make(map[string][]byte)}
}

func (m *MockViewCache) Get(ctx context.Context, key string, dst any) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, key)
	if m.GetErr != nil {
		return 0, false, m.GetErr
	}
	data, ok := m.Data[key]
	if !ok {
		return m.Generation, false, nil
	}
	return m.Generation, true, json.Unmarshal(data, dst)
}

// Set records the call and stores value only when gen is current.
func (m *MockViewCache) Set(ctx context.Context, gen int64, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls = append(m.SetCalls, key)
	if m.SetErr != nil {
		return m.SetErr
	}
	if gen != m.Generation {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Data[key] = data
	return nil
}

func (m *MockViewCache) InvalidateAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InvalidateCalls++
	if m.InvalidateAllErr != nil {
		return m.InvalidateAllErr
	}
	m.Generation++
	m.Data = make(map[string][]byte)
	return nil
}

// Invalidations returns how many times InvalidateAll was called.
func (m *MockViewCache) Invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InvalidateCalls
}
