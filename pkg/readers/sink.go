package readers

import (
	"encoding/json"
	"sort"

	"github.com/valyala/bytebufferpool"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
)

// Broadcaster fans bus events out to subscribed sessions. Payloads are
// serialized lazily and at most once per wire format per event.
type Broadcaster struct {
	registry *Registry
	store    *nosql.Store
}

func NewBroadcaster(registry *Registry, store *nosql.Store) *Broadcaster {
	return &Broadcaster{registry: registry, store: store}
}

// EventSink adapts the broadcaster to the sync bus.
func (b *Broadcaster) EventSink() dbsync.Sink {
	return b.handle
}

// payload builds and memoizes one outgoing message in each format a
// session might need: plain TCP, compressed TCP, HTTP JSON.
type payload struct {
	buildTCP  func() ([]byte, error)
	buildHTTP func() []byte

	tcp    []byte
	tcpGz  []byte
	http   []byte
	tcpErr error
	gzErr  error
}

func (p *payload) forSession(s *Session) ([]byte, error) {
	if s.Transport == TransportHTTP {
		if p.http == nil {
			p.http = p.buildHTTP()
		}
		return p.http, nil
	}
	if p.tcp == nil && p.tcpErr == nil {
		p.tcp, p.tcpErr = p.buildTCP()
	}
	if p.tcpErr != nil {
		return nil, p.tcpErr
	}
	if s.Compress && len(p.tcp) >= CompressThreshold {
		if p.tcpGz == nil && p.gzErr == nil {
			p.tcpGz, p.gzErr = CompressPacket(p.tcp)
		}
		if p.gzErr != nil {
			return nil, p.gzErr
		}
		return p.tcpGz, nil
	}
	return p.tcp, nil
}

func (b *Broadcaster) handle(ev dbsync.Event) {
	switch ev.Kind {
	case dbsync.KindUpdateTableAttributes:
		// Attribute changes carry no subscriber payload.

	case dbsync.KindTableFirstInit:
		b.sendFirstInit(ev)

	case dbsync.KindInitTable, dbsync.KindDeleteTable:
		var rows []*nosql.Row
		if ev.Snapshot != nil {
			rows = ev.Snapshot.AllRows()
		}
		b.broadcast(ev.Table, initTablePayload(ev.Table, rows))

	case dbsync.KindInitPartitions:
		for _, part := range ev.Partitions {
			b.broadcast(ev.Table, initPartitionPayload(ev.Table, part))
		}

	case dbsync.KindUpdateRows:
		rows := flattenRows(ev.Rows)
		if len(rows) > 0 {
			b.broadcast(ev.Table, updateRowsPayload(ev.Table, rows))
		}

	case dbsync.KindDeleteRows:
		pairs := flattenDeleted(ev.Deleted)
		if len(pairs) > 0 {
			b.broadcast(ev.Table, deleteRowsPayload(ev.Table, pairs))
		}
	}
}

// sendFirstInit delivers a whole-table snapshot to exactly the session
// that just subscribed, then unlocks regular updates for it. The
// snapshot is taken here, serial with every other event on the bus, so
// a write committed before the subscription event is either in the
// snapshot or in a later delivery, never lost between the two.
func (b *Broadcaster) sendFirstInit(ev dbsync.Event) {
	s, ok := b.registry.Get(ev.SessionID)
	if !ok || !s.Subscribed(ev.Table) {
		return
	}
	var rows []*nosql.Row
	if t, err := b.store.GetTable(ev.Table); err == nil {
		snap := t.Snapshot()
		rows = snap.AllRows()
	}
	p := initTablePayload(ev.Table, rows)
	if !b.send(s, p) {
		return
	}
	s.markFirstInit(ev.Table)
}

func (b *Broadcaster) broadcast(table string, p *payload) {
	for _, s := range b.registry.List() {
		if !s.Subscribed(table) || !s.FirstInitDone(table) {
			continue
		}
		b.send(s, p)
	}
}

func (b *Broadcaster) send(s *Session, p *payload) bool {
	data, err := p.forSession(s)
	if err != nil {
		logger.Error("reader_payload_build_failed", "session", s.ID, "err", err)
		return false
	}
	if err := s.Enqueue(data); err != nil {
		logger.Warn("reader_session_dropped", "session", s.ID, "err", err)
		b.registry.Remove(s.ID)
		return false
	}
	return true
}

func initTablePayload(table string, rows []*nosql.Row) *payload {
	return &payload{
		buildTCP:  func() ([]byte, error) { return PackInitTable(table, nosql.MarshalRows(rows)) },
		buildHTTP: func() []byte { return httpEnvelope("InitTable", table, "", rows, nil) },
	}
}

func initPartitionPayload(table string, part nosql.PartitionSnap) *payload {
	return &payload{
		buildTCP: func() ([]byte, error) {
			return PackInitPartition(table, part.PartitionKey, nosql.MarshalRows(part.Rows))
		},
		buildHTTP: func() []byte { return httpEnvelope("InitPartition", table, part.PartitionKey, part.Rows, nil) },
	}
}

func updateRowsPayload(table string, rows []*nosql.Row) *payload {
	return &payload{
		buildTCP:  func() ([]byte, error) { return PackUpdateRows(table, nosql.MarshalRows(rows)) },
		buildHTTP: func() []byte { return httpEnvelope("UpdateRows", table, "", rows, nil) },
	}
}

func deleteRowsPayload(table string, pairs []KeyPair) *payload {
	return &payload{
		buildTCP:  func() ([]byte, error) { return PackDeleteRows(table, pairs) },
		buildHTTP: func() []byte { return httpEnvelope("DeleteRows", table, "", nil, pairs) },
	}
}

func flattenRows(byPartition map[string][]*nosql.Row) []*nosql.Row {
	keys := make([]string, 0, len(byPartition))
	for pk := range byPartition {
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	var out []*nosql.Row
	for _, pk := range keys {
		out = append(out, byPartition[pk]...)
	}
	return out
}

func flattenDeleted(deleted map[string][]string) []KeyPair {
	keys := make([]string, 0, len(deleted))
	for pk := range deleted {
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	var out []KeyPair
	for _, pk := range keys {
		for _, rk := range deleted[pk] {
			out = append(out, KeyPair{PartitionKey: pk, RowKey: rk})
		}
	}
	return out
}

// httpEnvelope renders the long-poll change body. Row bytes are spliced
// verbatim, matching the TCP payload content.
func httpEnvelope(kind, table, partitionKey string, rows []*nosql.Row, deleted []KeyPair) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(`{"type":`)
	writeJSONString(buf, kind)
	buf.WriteString(`,"tableName":`)
	writeJSONString(buf, table)
	if partitionKey != "" {
		buf.WriteString(`,"partitionKey":`)
		writeJSONString(buf, partitionKey)
	}
	if deleted != nil {
		buf.WriteString(`,"deleted":[`)
		for i, kp := range deleted {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(`{"partitionKey":`)
			writeJSONString(buf, kp.PartitionKey)
			buf.WriteString(`,"rowKey":`)
			writeJSONString(buf, kp.RowKey)
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
	} else {
		buf.WriteString(`,"rows":`)
		buf.Write(nosql.MarshalRows(rows))
	}
	buf.WriteByte('}')

	return append([]byte(nil), buf.B...)
}

func writeJSONString(buf *bytebufferpool.ByteBuffer, s string) {
	data, _ := json.Marshal(s)
	buf.Write(data)
}
