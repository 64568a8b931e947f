package nosql

import (
	"sort"
	"sync"
)

// ExpirationIndex is the process-wide secondary index keyed by
// (expiration_time, table, partition_key, row_key), ordered
// lexicographically on ties. It holds non-owning references to live rows
// and is scrubbed on every structural mutation, so every entry resolves
// to a live row. Lock ordering: a table write lock may be held when the
// index mutex is acquired, never the reverse.
type ExpirationIndex struct {
	mu      sync.Mutex
	entries []expiryEntry
}

type expiryEntry struct {
	expires Micros
	table   string
	row     *Row
}

// Expired is one index hit returned by PopExpired.
type Expired struct {
	Table string
	Row   *Row
}

func NewExpirationIndex() *ExpirationIndex {
	return &ExpirationIndex{}
}

func (x *ExpirationIndex) locate(e expiryEntry) (int, bool) {
	lo := sort.Search(len(x.entries), func(i int) bool {
		o := x.entries[i]
		if o.expires != e.expires {
			return o.expires >= e.expires
		}
		if o.table != e.table {
			return o.table >= e.table
		}
		if o.row.PartitionKey != e.row.PartitionKey {
			return o.row.PartitionKey >= e.row.PartitionKey
		}
		return o.row.RowKey >= e.row.RowKey
	})
	if lo < len(x.entries) {
		o := x.entries[lo]
		if o.expires == e.expires && o.table == e.table &&
			o.row.PartitionKey == e.row.PartitionKey && o.row.RowKey == e.row.RowKey {
			return lo, true
		}
	}
	return lo, false
}

// Add indexes a row if it carries an expiration moment.
func (x *ExpirationIndex) Add(table string, row *Row) {
	if row == nil || row.Expires == 0 {
		return
	}
	e := expiryEntry{expires: row.Expires, table: table, row: row}
	x.mu.Lock()
	defer x.mu.Unlock()
	i, found := x.locate(e)
	if found {
		x.entries[i] = e
		return
	}
	x.entries = append(x.entries, expiryEntry{})
	copy(x.entries[i+1:], x.entries[i:])
	x.entries[i] = e
}

// Remove drops the index entry for row, if present.
func (x *ExpirationIndex) Remove(table string, row *Row) {
	if row == nil || row.Expires == 0 {
		return
	}
	e := expiryEntry{expires: row.Expires, table: table, row: row}
	x.mu.Lock()
	defer x.mu.Unlock()
	i, found := x.locate(e)
	if !found {
		return
	}
	// an entry may have been superseded by a replacement row with the
	// same keys; only scrub when it points at this exact row
	if x.entries[i].row != row {
		return
	}
	x.entries = append(x.entries[:i], x.entries[i+1:]...)
}

// Replace atomically swaps the entries for old and new rows of the same
// (table, pk, rk) identity.
func (x *ExpirationIndex) Replace(table string, old, fresh *Row) {
	x.Remove(table, old)
	x.Add(table, fresh)
}

// PopExpired removes and returns all entries with expiration <= now.
// Scales with the number of expiring rows, not total rows.
func (x *ExpirationIndex) PopExpired(now Micros) []Expired {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := sort.Search(len(x.entries), func(i int) bool { return x.entries[i].expires > now })
	if n == 0 {
		return nil
	}
	out := make([]Expired, 0, n)
	for _, e := range x.entries[:n] {
		out = append(out, Expired{Table: e.table, Row: e.row})
	}
	x.entries = append(x.entries[:0], x.entries[n:]...)
	return out
}

// Len returns the number of indexed rows.
func (x *ExpirationIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}
