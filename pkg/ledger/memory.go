package ledger

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Ledger. It does not survive the process and exists
// for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]struct{}
}

// NewMemory returns an empty in-memory ledger, optionally pre-marked with ids.
func NewMemory(ids ...string) *Memory {
	m := &Memory{records: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		m.records[id] = struct{}{}
	}
	return m
}

// Exists implements Ledger.
func (m *Memory) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok, nil
}

// Mark implements Ledger.
func (m *Memory) Mark(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = struct{}{}
	return nil
}

// Clear implements Ledger.
func (m *Memory) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// List implements Lister.
func (m *Memory) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Ledger = (*Memory)(nil)
var _ Lister = (*Memory)(nil)
