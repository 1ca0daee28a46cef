package store

import (
	"context"
	"sync"
)

// Memory is an in-process Properties and RowAppender implementation used
// in tests and local development.
type Memory struct {
	mu    sync.Mutex
	props map[string]string
	rows  map[string][][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		props: make(map[string]string),
		rows:  make(map[string][][]string),
	}
}

func (m *Memory) AppendRow(_ context.Context, storeName string, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := make([]string, len(fields))
	copy(row, fields)
	m.rows[storeName] = append(m.rows[storeName], row)
	return nil
}

// Rows returns a copy of the rows appended to a store.
func (m *Memory) Rows(storeName string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows[storeName]))
	copy(out, m.rows[storeName])
	return out
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.props[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.props, key)
	return nil
}

func (m *Memory) All(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.props))
	for k, v := range m.props {
		out[k] = v
	}
	return out, nil
}
