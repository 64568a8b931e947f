package nosql

import "sync/atomic"

// Row is an immutable blob of canonical JSON bytes plus extracted
// metadata. Rows are shared by reference between the store, the
// expiration index, the persistence queue and per-session payloads; only
// the last-read moment mutates after construction, and atomically.
type Row struct {
	PartitionKey string
	RowKey       string
	TimeStamp    Micros
	Expires      Micros // 0 = never expires
	Data         []byte

	lastRead atomic.Int64
}

func newRow(pk, rk string, ts, expires Micros, data []byte) *Row {
	r := &Row{PartitionKey: pk, RowKey: rk, TimeStamp: ts, Expires: expires, Data: data}
	r.lastRead.Store(int64(ts))
	return r
}

// Size is the canonical byte length, the unit table_size is accounted in.
func (r *Row) Size() int { return len(r.Data) }

// LastRead returns the last read-access moment.
func (r *Row) LastRead() Micros { return Micros(r.lastRead.Load()) }

// MarkRead records a read access.
func (r *Row) MarkRead(now Micros) { r.lastRead.Store(int64(now)) }

// WithExpires derives a copy of the row with a different expiration
// moment. The canonical bytes are rebuilt so persisted output matches.
func (r *Row) WithExpires(expires Micros) (*Row, error) {
	e, err := ParseEntity(r.Data)
	if err != nil {
		return nil, err
	}
	e.Expires = expires
	e.HasExpires = expires != 0
	return newRow(r.PartitionKey, r.RowKey, r.TimeStamp, expires, e.canonical(r.TimeStamp, expires)), nil
}
