package nosql

import "bytes"

// MarshalRows renders rows as a JSON array, splicing each row's
// canonical bytes verbatim so the output round-trips unchanged.
func MarshalRows(rows []*Row) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r.Data)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// PartitionSnap is a cheap clone of a partition's row references taken
// under the table lock; serialization happens outside the lock.
type PartitionSnap struct {
	PartitionKey string
	Rows         []*Row
}

// TableSnap is a full point-in-time view of a table.
type TableSnap struct {
	Name       string
	Attrs      Attributes
	Partitions []PartitionSnap
}

// Snapshot clones all partition row references under the read lock.
func (t *Table) Snapshot() TableSnap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TableSnap{Name: t.Name, Attrs: t.attrs}
	snap.Partitions = make([]PartitionSnap, 0, len(t.partitions))
	for _, p := range t.partitions {
		snap.Partitions = append(snap.Partitions, PartitionSnap{PartitionKey: p.Key, Rows: p.Rows()})
	}
	return snap
}

// PartitionSnapshot clones one partition, or returns false when it does
// not exist.
func (t *Table) PartitionSnapshot(pk string) (PartitionSnap, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.partition(pk)
	if p == nil {
		return PartitionSnap{}, false
	}
	return PartitionSnap{PartitionKey: p.Key, Rows: p.Rows()}, true
}

// AllRows flattens a snapshot into a single row slice in partition order.
func (s TableSnap) AllRows() []*Row {
	var out []*Row
	for _, p := range s.Partitions {
		out = append(out, p.Rows...)
	}
	return out
}
