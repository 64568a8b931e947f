package nosql

import (
	"sort"
	"sync/atomic"
)

// Partition is an ordered mapping row_key -> row. A partition exists only
// while it holds at least one row; the owning table removes it when the
// last row goes. Mutations happen under the owning table's write lock.
type Partition struct {
	Key string

	rows []*Row // sorted by RowKey

	lastRead  atomic.Int64
	lastWrite atomic.Int64
}

func newPartition(key string, now Micros) *Partition {
	p := &Partition{Key: key}
	p.lastRead.Store(int64(now))
	p.lastWrite.Store(int64(now))
	return p
}

// LastRead returns the partition's last read-access moment.
func (p *Partition) LastRead() Micros { return Micros(p.lastRead.Load()) }

// MarkRead records a read access on the partition.
func (p *Partition) MarkRead(now Micros) { p.lastRead.Store(int64(now)) }

// LastWrite returns the partition's last write moment.
func (p *Partition) LastWrite() Micros { return Micros(p.lastWrite.Load()) }

func (p *Partition) markWrite(now Micros) { p.lastWrite.Store(int64(now)) }

func (p *Partition) search(rowKey string) (int, bool) {
	i := sort.Search(len(p.rows), func(i int) bool { return p.rows[i].RowKey >= rowKey })
	return i, i < len(p.rows) && p.rows[i].RowKey == rowKey
}

// Get returns the row with the given key, or nil.
func (p *Partition) Get(rowKey string) *Row {
	if i, ok := p.search(rowKey); ok {
		return p.rows[i]
	}
	return nil
}

// insertOrReplace inserts row, replacing any row with the same key.
// Returns the replaced row, if any.
func (p *Partition) insertOrReplace(row *Row, now Micros) *Row {
	p.markWrite(now)
	i, ok := p.search(row.RowKey)
	if ok {
		old := p.rows[i]
		p.rows[i] = row
		return old
	}
	p.rows = append(p.rows, nil)
	copy(p.rows[i+1:], p.rows[i:])
	p.rows[i] = row
	return nil
}

// insert inserts row only if no row with the same key exists.
func (p *Partition) insert(row *Row, now Micros) bool {
	i, ok := p.search(row.RowKey)
	if ok {
		return false
	}
	p.markWrite(now)
	p.rows = append(p.rows, nil)
	copy(p.rows[i+1:], p.rows[i:])
	p.rows[i] = row
	return true
}

// remove removes and returns the row with the given key, or nil.
func (p *Partition) remove(rowKey string, now Micros) *Row {
	i, ok := p.search(rowKey)
	if !ok {
		return nil
	}
	p.markWrite(now)
	old := p.rows[i]
	p.rows = append(p.rows[:i], p.rows[i+1:]...)
	return old
}

// Rows returns a copy of the row slice in ascending row-key order.
func (p *Partition) Rows() []*Row {
	out := make([]*Row, len(p.rows))
	copy(out, p.rows)
	return out
}

// RowsCount returns the number of rows in the partition.
func (p *Partition) RowsCount() int { return len(p.rows) }

// HighestRowAndBelow iterates downward from rowKey (inclusive), yielding
// up to limit rows in descending row-key order.
func (p *Partition) HighestRowAndBelow(rowKey string, limit int) []*Row {
	// first index > rowKey; everything below it qualifies
	i := sort.Search(len(p.rows), func(i int) bool { return p.rows[i].RowKey > rowKey })
	if limit <= 0 {
		limit = i
	}
	out := make([]*Row, 0, limit)
	for j := i - 1; j >= 0 && len(out) < limit; j-- {
		out = append(out, p.rows[j])
	}
	return out
}

// oldestReadRow picks the row with the oldest last-read moment, the
// eviction victim for row-count quota GC.
func (p *Partition) oldestReadRow() *Row {
	var victim *Row
	for _, r := range p.rows {
		if victim == nil || r.LastRead() < victim.LastRead() {
			victim = r
		}
	}
	return victim
}
