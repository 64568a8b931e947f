package nosql

import (
	"sort"
	"sync"
)

// Store owns all in-memory tables plus the process-wide expiration
// index. Table-level data is guarded by each table's own lock; the store
// lock only covers the table map.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
	expiry *ExpirationIndex
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table), expiry: NewExpirationIndex()}
}

// Expiry exposes the shared expiration index to the GC timers.
func (s *Store) Expiry() *ExpirationIndex { return s.expiry }

// CreateTable creates a new empty table or fails with TableAlreadyExists.
func (s *Store) CreateTable(name string, attrs Attributes) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return nil, ErrTableAlreadyExists(name)
	}
	t := NewTable(name, attrs, s.expiry)
	s.tables[name] = t
	return t, nil
}

// CreateTableIfNotExists returns the existing table or creates a new one.
// The bool reports whether a table was created.
func (s *Store) CreateTableIfNotExists(name string, attrs Attributes) (*Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t, false
	}
	t := NewTable(name, attrs, s.expiry)
	s.tables[name] = t
	return t, true
}

// Attach inserts a pre-built table, used by the initialization loader.
// An existing table with the same name is replaced.
func (s *Store) Attach(t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Name] = t
}

// GetTable returns the named table or TableNotFound.
func (s *Store) GetTable(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, ErrTableNotFound(name)
	}
	return t, nil
}

// Tables returns all tables sorted by name.
func (s *Store) Tables() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteTable removes and returns the named table, scrubbing its rows
// from the expiration index.
func (s *Store) DeleteTable(name string) (*Table, error) {
	s.mu.Lock()
	t, ok := s.tables[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTableNotFound(name)
	}
	delete(s.tables, name)
	s.mu.Unlock()

	// scrub outside the store lock; table lock ordering still holds
	t.Clean()
	return t, nil
}
