package persist

import (
	"sort"
	"sync"
	"time"
)

// TaskKind orders persistence work: attributes first, then coarse to
// fine content.
type TaskKind int

const (
	TaskSaveAttributes TaskKind = iota
	TaskSyncTable
	TaskSyncPartition
	TaskSyncRows
)

func (k TaskKind) String() string {
	switch k {
	case TaskSaveAttributes:
		return "SaveAttributes"
	case TaskSyncTable:
		return "SyncTable"
	case TaskSyncPartition:
		return "SyncPartition"
	case TaskSyncRows:
		return "SyncRows"
	}
	return "Unknown"
}

// Task is one unit of persistence work yielded by the marker set.
type Task struct {
	Kind         TaskKind
	Table        string
	PartitionKey string
	RowKeys      []string
}

// Markers is the per-table pending-persist state. Deadlines merge
// earliest-wins; coarser marks subsume finer ones, which keeps the
// whole-table deadline at or before any per-partition deadline.
type Markers struct {
	mu     sync.Mutex
	tables map[string]*tableMarker
}

type tableMarker struct {
	attrsAt      time.Time // zero = unset
	wholeTableAt time.Time
	partitions   map[string]*partitionMarker
}

type partitionMarker struct {
	wholeAt time.Time
	rows    map[string]time.Time
}

func NewMarkers() *Markers {
	return &Markers{tables: make(map[string]*tableMarker)}
}

func earliest(existing, proposed time.Time) time.Time {
	if existing.IsZero() || proposed.Before(existing) {
		return proposed
	}
	return existing
}

func (m *Markers) table(name string) *tableMarker {
	tm, ok := m.tables[name]
	if !ok {
		tm = &tableMarker{partitions: make(map[string]*partitionMarker)}
		m.tables[name] = tm
	}
	return tm
}

// PersistAttributes marks the table attributes for persistence.
func (m *Markers) PersistAttributes(table string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm := m.table(table)
	tm.attrsAt = earliest(tm.attrsAt, deadline)
}

// PersistTableContent marks the whole table content, subsuming all
// per-partition and per-row marks. Their deadlines fold into the table
// mark so coarsening never postpones durability.
func (m *Markers) PersistTableContent(table string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm := m.table(table)
	tm.wholeTableAt = earliest(tm.wholeTableAt, deadline)
	for _, pm := range tm.partitions {
		if !pm.wholeAt.IsZero() {
			tm.wholeTableAt = earliest(tm.wholeTableAt, pm.wholeAt)
		}
		for _, at := range pm.rows {
			tm.wholeTableAt = earliest(tm.wholeTableAt, at)
		}
	}
	tm.partitions = make(map[string]*partitionMarker)
}

// PersistWholePartition marks one partition, subsuming its row marks
// and keeping the earliest of their deadlines.
func (m *Markers) PersistWholePartition(table, pk string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm := m.table(table)
	if !tm.wholeTableAt.IsZero() {
		tm.wholeTableAt = earliest(tm.wholeTableAt, deadline)
		return
	}
	pm, ok := tm.partitions[pk]
	if !ok {
		pm = &partitionMarker{rows: make(map[string]time.Time)}
		tm.partitions[pk] = pm
	}
	pm.wholeAt = earliest(pm.wholeAt, deadline)
	for _, at := range pm.rows {
		pm.wholeAt = earliest(pm.wholeAt, at)
	}
	pm.rows = make(map[string]time.Time)
}

// PersistRows marks individual rows of one partition.
func (m *Markers) PersistRows(table, pk string, rowKeys []string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm := m.table(table)
	if !tm.wholeTableAt.IsZero() {
		tm.wholeTableAt = earliest(tm.wholeTableAt, deadline)
		return
	}
	pm, ok := tm.partitions[pk]
	if !ok {
		pm = &partitionMarker{rows: make(map[string]time.Time)}
		tm.partitions[pk] = pm
	}
	if !pm.wholeAt.IsZero() {
		pm.wholeAt = earliest(pm.wholeAt, deadline)
		return
	}
	for _, rk := range rowKeys {
		pm.rows[rk] = earliest(pm.rows[rk], deadline)
	}
}

func due(deadline, now time.Time, shuttingDown bool) bool {
	if deadline.IsZero() {
		return false
	}
	return shuttingDown || !deadline.After(now)
}

// GetTask returns at most one task whose deadline has passed (any task
// when shutting down), in the order SaveAttributes, SyncTable,
// SyncPartition, SyncRows. The corresponding mark is removed; on failure
// the caller re-marks.
func (m *Markers) GetTask(now time.Time, shuttingDown bool) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tm := m.tables[name]
		if due(tm.attrsAt, now, shuttingDown) {
			tm.attrsAt = time.Time{}
			m.dropIfEmpty(name)
			return &Task{Kind: TaskSaveAttributes, Table: name}
		}
	}
	for _, name := range names {
		tm := m.tables[name]
		if due(tm.wholeTableAt, now, shuttingDown) {
			tm.wholeTableAt = time.Time{}
			m.dropIfEmpty(name)
			return &Task{Kind: TaskSyncTable, Table: name}
		}
	}
	for _, name := range names {
		tm := m.tables[name]
		for _, pk := range sortedKeys(tm.partitions) {
			pm := tm.partitions[pk]
			if due(pm.wholeAt, now, shuttingDown) {
				delete(tm.partitions, pk)
				m.dropIfEmpty(name)
				return &Task{Kind: TaskSyncPartition, Table: name, PartitionKey: pk}
			}
		}
	}
	for _, name := range names {
		tm := m.tables[name]
		for _, pk := range sortedKeys(tm.partitions) {
			pm := tm.partitions[pk]
			var rowKeys []string
			for rk, at := range pm.rows {
				if due(at, now, shuttingDown) {
					rowKeys = append(rowKeys, rk)
				}
			}
			if len(rowKeys) == 0 {
				continue
			}
			sort.Strings(rowKeys)
			for _, rk := range rowKeys {
				delete(pm.rows, rk)
			}
			if len(pm.rows) == 0 && pm.wholeAt.IsZero() {
				delete(tm.partitions, pk)
			}
			m.dropIfEmpty(name)
			return &Task{Kind: TaskSyncRows, Table: name, PartitionKey: pk, RowKeys: rowKeys}
		}
	}
	return nil
}

// Remark restores a task after a failed persistence attempt so it is
// retried on the next pass.
func (m *Markers) Remark(t Task, deadline time.Time) {
	switch t.Kind {
	case TaskSaveAttributes:
		m.PersistAttributes(t.Table, deadline)
	case TaskSyncTable:
		m.PersistTableContent(t.Table, deadline)
	case TaskSyncPartition:
		m.PersistWholePartition(t.Table, t.PartitionKey, deadline)
	case TaskSyncRows:
		m.PersistRows(t.Table, t.PartitionKey, t.RowKeys, deadline)
	}
}

// HasPending reports whether any mark exists, due or not. Drives
// shutdown waiting.
func (m *Markers) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables) > 0
}

// PendingCount reports the number of tables with any mark set.
func (m *Markers) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

func (m *Markers) dropIfEmpty(name string) {
	tm := m.tables[name]
	if tm.attrsAt.IsZero() && tm.wholeTableAt.IsZero() && len(tm.partitions) == 0 {
		delete(m.tables, name)
	}
}

func sortedKeys(parts map[string]*partitionMarker) []string {
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
