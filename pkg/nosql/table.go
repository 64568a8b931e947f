package nosql

import (
	"sort"
	"sync"
)

// Attributes are the per-table settings persisted in the .metadata file.
// Zero quota values mean "no cap".
type Attributes struct {
	Persist                   bool
	MaxPartitionsAmount       int
	MaxRowsPerPartitionAmount int
	Created                   Micros
}

// DefaultAttributes is what a table falls back to when its persisted
// metadata is missing or unparsable.
func DefaultAttributes(now Micros) Attributes {
	return Attributes{Persist: true, Created: now}
}

// ReadOptions carry the optional per-call read-moment flags.
type ReadOptions struct {
	UpdatePartitionLastRead bool
	UpdateRowsLastRead      bool
	// When non-nil, rows touched by the read get this expiration moment
	// (0 clears it). Forces the write lock.
	SetRowsExpiration *Micros
}

// Table is a named container of ordered partitions guarded by a single
// read/write lock. Mutating methods hold the write lock only long enough
// to mutate and extract the event payload; callers publish afterwards.
type Table struct {
	Name string

	mu         sync.RWMutex
	partitions []*Partition // sorted by Key
	attrs      Attributes
	size       int64

	expiry *ExpirationIndex
}

// NewTable creates an empty table wired to the shared expiration index.
func NewTable(name string, attrs Attributes, expiry *ExpirationIndex) *Table {
	return &Table{Name: name, attrs: attrs, expiry: expiry}
}

// Attributes returns a copy of the table attributes.
func (t *Table) Attributes() Attributes {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attrs
}

// SetAttributes replaces the mutable attributes, keeping Created.
func (t *Table) SetAttributes(persist bool, maxPartitions, maxRows int) Attributes {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attrs.Persist = persist
	t.attrs.MaxPartitionsAmount = maxPartitions
	t.attrs.MaxRowsPerPartitionAmount = maxRows
	return t.attrs
}

// Size returns the accumulated canonical byte size of all rows.
func (t *Table) Size() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// PartitionsCount returns the number of live partitions.
func (t *Table) PartitionsCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// RowsCount returns the total number of rows across partitions.
func (t *Table) RowsCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.partitions {
		n += p.RowsCount()
	}
	return n
}

func (t *Table) searchPartition(pk string) (int, bool) {
	i := sort.Search(len(t.partitions), func(i int) bool { return t.partitions[i].Key >= pk })
	return i, i < len(t.partitions) && t.partitions[i].Key == pk
}

func (t *Table) partition(pk string) *Partition {
	if i, ok := t.searchPartition(pk); ok {
		return t.partitions[i]
	}
	return nil
}

func (t *Table) getOrCreatePartition(pk string, now Micros) *Partition {
	i, ok := t.searchPartition(pk)
	if ok {
		return t.partitions[i]
	}
	p := newPartition(pk, now)
	t.partitions = append(t.partitions, nil)
	copy(t.partitions[i+1:], t.partitions[i:])
	t.partitions[i] = p
	return p
}

func (t *Table) dropPartitionIfEmpty(pk string) {
	i, ok := t.searchPartition(pk)
	if ok && t.partitions[i].RowsCount() == 0 {
		t.partitions = append(t.partitions[:i], t.partitions[i+1:]...)
	}
}

// GetRow returns the row at (pk, rk), or nil when either the partition or
// the row does not exist.
func (t *Table) GetRow(pk, rk string, now Micros, opts ReadOptions) (*Row, []*Row) {
	if opts.SetRowsExpiration != nil {
		return t.getRowExpiring(pk, rk, now, opts)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.partition(pk)
	if p == nil {
		return nil, nil
	}
	row := p.Get(rk)
	t.applyReadMoments(p, row, now, opts)
	return row, nil
}

func (t *Table) getRowExpiring(pk, rk string, now Micros, opts ReadOptions) (*Row, []*Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partition(pk)
	if p == nil {
		return nil, nil
	}
	row := p.Get(rk)
	if row == nil {
		return nil, nil
	}
	t.applyReadMoments(p, row, now, opts)
	updated := t.setRowsExpiration(p, []*Row{row}, *opts.SetRowsExpiration, now)
	if len(updated) == 1 {
		return updated[0], updated
	}
	return row, updated
}

// applyReadMoments updates read-access moments per opts. Safe under the
// read lock: the moments are atomics.
func (t *Table) applyReadMoments(p *Partition, row *Row, now Micros, opts ReadOptions) {
	if opts.UpdatePartitionLastRead {
		p.MarkRead(now)
	}
	if opts.UpdateRowsLastRead && row != nil {
		row.MarkRead(now)
	}
}

// setRowsExpiration rewrites the expiration of rows in place (write lock
// held). Returns the replacement rows; rows whose canonical bytes fail to
// reparse are left untouched.
func (t *Table) setRowsExpiration(p *Partition, rows []*Row, expires Micros, now Micros) []*Row {
	updated := make([]*Row, 0, len(rows))
	for _, old := range rows {
		if old.Expires == expires {
			continue
		}
		fresh, err := old.WithExpires(expires)
		if err != nil {
			continue
		}
		p.insertOrReplace(fresh, now)
		t.size += int64(fresh.Size()) - int64(old.Size())
		t.expiry.Replace(t.Name, old, fresh)
		updated = append(updated, fresh)
	}
	return updated
}

// GetPartitionRows returns all rows of a partition in row-key order, plus
// any rows rewritten by an expiration-setting read.
func (t *Table) GetPartitionRows(pk string, now Micros, opts ReadOptions) ([]*Row, []*Row) {
	if opts.SetRowsExpiration != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		p := t.partition(pk)
		if p == nil {
			return nil, nil
		}
		if opts.UpdatePartitionLastRead {
			p.MarkRead(now)
		}
		rows := p.Rows()
		if opts.UpdateRowsLastRead {
			for _, r := range rows {
				r.MarkRead(now)
			}
		}
		updated := t.setRowsExpiration(p, rows, *opts.SetRowsExpiration, now)
		return p.Rows(), updated
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.partition(pk)
	if p == nil {
		return nil, nil
	}
	if opts.UpdatePartitionLastRead {
		p.MarkRead(now)
	}
	rows := p.Rows()
	if opts.UpdateRowsLastRead {
		for _, r := range rows {
			r.MarkRead(now)
		}
	}
	return rows, nil
}

// GetRowsByRowKey returns rows from all partitions whose row key matches
// exactly, in partition-key order.
func (t *Table) GetRowsByRowKey(rk string, now Micros, opts ReadOptions) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Row
	for _, p := range t.partitions {
		if r := p.Get(rk); r != nil {
			t.applyReadMoments(p, r, now, opts)
			out = append(out, r)
		}
	}
	return out
}

// GetMultiRows returns the subset of rowKeys present in partition pk.
func (t *Table) GetMultiRows(pk string, rowKeys []string, now Micros, opts ReadOptions) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.partition(pk)
	if p == nil {
		return nil
	}
	out := make([]*Row, 0, len(rowKeys))
	for _, rk := range rowKeys {
		if r := p.Get(rk); r != nil {
			t.applyReadMoments(p, r, now, opts)
			out = append(out, r)
		}
	}
	return out
}

// GetHighestRowAndBelow scans partition pk downward from rowKey
// (inclusive) yielding up to limit rows in descending row-key order.
func (t *Table) GetHighestRowAndBelow(pk, rowKey string, limit int, now Micros, opts ReadOptions) []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.partition(pk)
	if p == nil {
		return nil
	}
	rows := p.HighestRowAndBelow(rowKey, limit)
	for _, r := range rows {
		t.applyReadMoments(p, r, now, opts)
	}
	return rows
}

// InsertOrReplaceRow inserts row, replacing any row with the same keys.
// Returns the replaced row, if any.
func (t *Table) InsertOrReplaceRow(row *Row, now Micros) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertOrReplaceLocked(row, now)
}

func (t *Table) insertOrReplaceLocked(row *Row, now Micros) *Row {
	p := t.getOrCreatePartition(row.PartitionKey, now)
	old := p.insertOrReplace(row, now)
	if old != nil {
		t.size += int64(row.Size()) - int64(old.Size())
		t.expiry.Replace(t.Name, old, row)
	} else {
		t.size += int64(row.Size())
		t.expiry.Add(t.Name, row)
	}
	return old
}

// InsertRow inserts row only if no row with the same keys exists.
func (t *Table) InsertRow(row *Row, now Micros) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.getOrCreatePartition(row.PartitionKey, now)
	if !p.insert(row, now) {
		t.dropPartitionIfEmpty(row.PartitionKey)
		return ErrRecordAlreadyExists(row.PartitionKey, row.RowKey)
	}
	t.size += int64(row.Size())
	t.expiry.Add(t.Name, row)
	return nil
}

// ReplaceRow replaces an existing row iff the stored TimeStamp matches
// expected. The replacement is stamped with now by the caller.
func (t *Table) ReplaceRow(row *Row, expected Micros, now Micros) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partition(row.PartitionKey)
	if p == nil {
		return ErrRecordNotFound(row.PartitionKey, row.RowKey)
	}
	old := p.Get(row.RowKey)
	if old == nil {
		return ErrRecordNotFound(row.PartitionKey, row.RowKey)
	}
	if old.TimeStamp != expected {
		return Errf(KindOptimisticConcurrencyFail, "timestamp mismatch on %q/%q", row.PartitionKey, row.RowKey)
	}
	p.insertOrReplace(row, now)
	t.size += int64(row.Size()) - int64(old.Size())
	t.expiry.Replace(t.Name, old, row)
	return nil
}

// BulkInsertOrReplace applies rows grouped by partition so each partition
// is touched exactly once under the lock.
func (t *Table) BulkInsertOrReplace(rows []*Row, now Micros) {
	byPartition := groupByPartition(rows)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, group := range byPartition {
		for _, row := range group {
			t.insertOrReplaceLocked(row, now)
		}
	}
}

// CleanAndBulkInsert atomically replaces partition content. With a
// partitionKey only that partition is cleaned and incoming rows merge
// into their partitions; without one, every partition receiving rows is
// cleaned first. Returns the post-state snapshots of the touched
// partitions, built under the lock.
func (t *Table) CleanAndBulkInsert(partitionKey string, rows []*Row, now Micros) []PartitionSnap {
	byPartition := groupByPartition(rows)
	t.mu.Lock()
	defer t.mu.Unlock()

	cleaned := make(map[string]bool)
	if partitionKey != "" {
		// only the named partition is cleaned; other partitions receive
		// their rows via insert-or-replace
		t.cleanPartitionLocked(partitionKey)
		cleaned[partitionKey] = true
		for pk := range byPartition {
			cleaned[pk] = true
		}
	} else {
		for pk := range byPartition {
			t.cleanPartitionLocked(pk)
			cleaned[pk] = true
		}
	}
	for _, group := range byPartition {
		for _, row := range group {
			t.insertOrReplaceLocked(row, now)
		}
	}

	keys := make([]string, 0, len(cleaned))
	for pk := range cleaned {
		keys = append(keys, pk)
	}
	sort.Strings(keys)

	snaps := make([]PartitionSnap, 0, len(keys))
	for _, pk := range keys {
		snap := PartitionSnap{PartitionKey: pk}
		if p := t.partition(pk); p != nil {
			snap.Rows = p.Rows()
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// ReplaceContent atomically clears the table and inserts rows, returning
// the post-state snapshot built under the lock.
func (t *Table) ReplaceContent(rows []*Row, now Micros) TableSnap {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.partitions {
		for _, r := range p.Rows() {
			t.expiry.Remove(t.Name, r)
		}
	}
	t.partitions = nil
	t.size = 0

	for _, group := range groupByPartition(rows) {
		for _, row := range group {
			t.insertOrReplaceLocked(row, now)
		}
	}

	snap := TableSnap{Name: t.Name, Attrs: t.attrs}
	snap.Partitions = make([]PartitionSnap, 0, len(t.partitions))
	for _, p := range t.partitions {
		snap.Partitions = append(snap.Partitions, PartitionSnap{PartitionKey: p.Key, Rows: p.Rows()})
	}
	return snap
}

// DeleteRow removes and returns the row at (pk, rk), or nil.
func (t *Table) DeleteRow(pk, rk string, now Micros) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteRowLocked(pk, rk, now)
}

func (t *Table) deleteRowLocked(pk, rk string, now Micros) *Row {
	p := t.partition(pk)
	if p == nil {
		return nil
	}
	old := p.remove(rk, now)
	if old == nil {
		return nil
	}
	t.size -= int64(old.Size())
	t.expiry.Remove(t.Name, old)
	t.dropPartitionIfEmpty(pk)
	return old
}

// BulkDelete removes the named rows; returns the removed rows grouped by
// partition key.
func (t *Table) BulkDelete(keys map[string][]string, now Micros) map[string][]*Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]*Row)
	for pk, rowKeys := range keys {
		for _, rk := range rowKeys {
			if old := t.deleteRowLocked(pk, rk, now); old != nil {
				out[pk] = append(out[pk], old)
			}
		}
	}
	return out
}

// CleanPartition removes a whole partition; returns its rows.
func (t *Table) CleanPartition(pk string) []*Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanPartitionLocked(pk)
}

func (t *Table) cleanPartitionLocked(pk string) []*Row {
	i, ok := t.searchPartition(pk)
	if !ok {
		return nil
	}
	p := t.partitions[i]
	rows := p.Rows()
	for _, r := range rows {
		t.size -= int64(r.Size())
		t.expiry.Remove(t.Name, r)
	}
	t.partitions = append(t.partitions[:i], t.partitions[i+1:]...)
	return rows
}

// Clean removes every partition; returns the removed content as a
// snapshot for event fan-out.
func (t *Table) Clean() []PartitionSnap {
	t.mu.Lock()
	defer t.mu.Unlock()
	snaps := make([]PartitionSnap, 0, len(t.partitions))
	for _, p := range t.partitions {
		rows := p.Rows()
		for _, r := range rows {
			t.expiry.Remove(t.Name, r)
		}
		snaps = append(snaps, PartitionSnap{PartitionKey: p.Key, Rows: rows})
	}
	t.partitions = nil
	t.size = 0
	return snaps
}

// UpdateExpiration sets the expiration moment of the named rows (0
// clears it). Returns the replacement rows.
func (t *Table) UpdateExpiration(pk string, rowKeys []string, expires Micros, now Micros) []*Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partition(pk)
	if p == nil {
		return nil
	}
	rows := make([]*Row, 0, len(rowKeys))
	for _, rk := range rowKeys {
		if r := p.Get(rk); r != nil {
			rows = append(rows, r)
		}
	}
	return t.setRowsExpiration(p, rows, expires, now)
}

// CleanPartitionKeepMaxRecords trims the partition down to max rows,
// removing the least recently read first. Returns the removed rows.
func (t *Table) CleanPartitionKeepMaxRecords(pk string, max int, now Micros) []*Row {
	if max < 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partition(pk)
	if p == nil {
		return nil
	}
	var removed []*Row
	for p.RowsCount() > max {
		victim := p.oldestReadRow()
		if victim == nil {
			break
		}
		p.remove(victim.RowKey, now)
		t.size -= int64(victim.Size())
		t.expiry.Remove(t.Name, victim)
		removed = append(removed, victim)
	}
	t.dropPartitionIfEmpty(pk)
	return removed
}

// EvictPartitionsOverQuota removes least-recently-read partitions while
// the partition count exceeds max. Returns the evicted partitions.
func (t *Table) EvictPartitionsOverQuota(max int) []PartitionSnap {
	if max <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []PartitionSnap
	for len(t.partitions) > max {
		victim := 0
		for i := 1; i < len(t.partitions); i++ {
			if t.partitions[i].LastRead() < t.partitions[victim].LastRead() {
				victim = i
			}
		}
		p := t.partitions[victim]
		rows := p.Rows()
		for _, r := range rows {
			t.size -= int64(r.Size())
			t.expiry.Remove(t.Name, r)
		}
		t.partitions = append(t.partitions[:victim], t.partitions[victim+1:]...)
		evicted = append(evicted, PartitionSnap{PartitionKey: p.Key, Rows: rows})
	}
	return evicted
}

// EvictRowsOverQuota removes least-recently-read rows from partitions
// whose row count exceeds max. Returns the evicted rows per partition.
func (t *Table) EvictRowsOverQuota(max int, now Micros) map[string][]*Row {
	if max <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]*Row)
	for _, p := range append([]*Partition(nil), t.partitions...) {
		for p.RowsCount() > max {
			victim := p.oldestReadRow()
			if victim == nil {
				break
			}
			p.remove(victim.RowKey, now)
			t.size -= int64(victim.Size())
			t.expiry.Remove(t.Name, victim)
			out[p.Key] = append(out[p.Key], victim)
		}
		t.dropPartitionIfEmpty(p.Key)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func groupByPartition(rows []*Row) map[string][]*Row {
	byPartition := make(map[string][]*Row)
	for _, r := range rows {
		byPartition[r.PartitionKey] = append(byPartition[r.PartitionKey], r)
	}
	return byPartition
}
