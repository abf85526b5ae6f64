package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catprev/catprev/pkg/catalog"
)

// MemStore is an in-memory Store used by tests and in-process tooling that
// does not need persistence.
type MemStore struct {
	mu       sync.Mutex
	facts    map[string]*catalog.FactSet
	compiles []*CompileRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		facts: make(map[string]*catalog.FactSet),
	}
}

// Init implements Store.
func (m *MemStore) Init(context.Context) error { return nil }

// Migrate implements Store.
func (m *MemStore) Migrate(context.Context) error { return nil }

// Close implements Store.
func (m *MemStore) Close() error { return nil }

// SaveFacts implements Store.
func (m *MemStore) SaveFacts(_ context.Context, facts *catalog.FactSet, opts SaveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := make(map[string]any, len(facts.Values))
	for k, v := range facts.Values {
		values[k] = v
	}
	saved := &catalog.FactSet{
		Name:        facts.Name,
		Environment: opts.Environment,
		Values:      values,
		Timestamp:   time.Now().UTC(),
	}
	if facts.Environment != "" {
		saved.Environment = facts.Environment
	}
	m.facts[facts.Name] = saved
	return nil
}

// GetFacts implements Store.
func (m *MemStore) GetFacts(_ context.Context, nodeName string) (*catalog.FactSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	facts, ok := m.facts[nodeName]
	if !ok {
		return nil, ErrNotFound
	}
	return facts, nil
}

// RecordCompile implements Store.
func (m *MemStore) RecordCompile(_ context.Context, rec *CompileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.compiles = append(m.compiles, rec)
	return nil
}

// ListCompiles implements Store.
func (m *MemStore) ListCompiles(_ context.Context, nodeName string, limit, offset int) ([]*CompileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*CompileRecord
	for _, rec := range m.compiles {
		if nodeName == "" || rec.NodeName == nodeName {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// HealthCheck implements Store.
func (m *MemStore) HealthCheck(context.Context) error { return nil }
