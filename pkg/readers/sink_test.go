package readers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

func testRow(t *testing.T, pk, rk string) *nosql.Row {
	t.Helper()
	e, err := nosql.ParseEntity([]byte(`{"PartitionKey":"` + pk + `","RowKey":"` + rk + `"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return e.ToRow(nosql.Now())
}

func TestBroadcaster_FirstInitGatesUpdates(t *testing.T) {
	store := nosql.NewStore()
	if _, err := store.CreateTable("orders", nosql.DefaultAttributes(nosql.Now())); err != nil {
		t.Fatalf("create table: %v", err)
	}
	reg := NewRegistry()
	b := NewBroadcaster(reg, store)
	sink := b.EventSink()

	s := reg.NewSession(TransportTCP, "client", "1.0", false)
	s.Subscribe("orders")

	// updates before the first init are withheld
	sink(dbsync.Event{
		Kind:  dbsync.KindUpdateRows,
		Table: "orders",
		Rows:  map[string][]*nosql.Row{"p1": {testRow(t, "p1", "r1")}},
	})
	if s.QueueLen() != 0 {
		t.Fatalf("update delivered before first init")
	}

	sink(dbsync.Event{
		Kind:      dbsync.KindTableFirstInit,
		Table:     "orders",
		SessionID: s.ID,
	})
	if s.QueueLen() != 1 {
		t.Fatalf("first init not delivered")
	}
	if !s.FirstInitDone("orders") {
		t.Fatalf("first init not recorded")
	}

	sink(dbsync.Event{
		Kind:  dbsync.KindUpdateRows,
		Table: "orders",
		Rows:  map[string][]*nosql.Row{"p1": {testRow(t, "p1", "r1")}},
	})
	if s.QueueLen() != 2 {
		t.Fatalf("update withheld after first init")
	}
}

func TestBroadcaster_FirstInitIncludesEarlierWrite(t *testing.T) {
	store := nosql.NewStore()
	tbl, err := store.CreateTable("orders", nosql.DefaultAttributes(nosql.Now()))
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	reg := NewRegistry()
	b := NewBroadcaster(reg, store)
	sink := b.EventSink()

	s := reg.NewSession(TransportTCP, "client", "1.0", false)
	s.Subscribe("orders")

	// A write commits and its event lands on the bus after the
	// subscription but before the first-init marker is handled. The
	// update itself is gated out, so the baseline must carry the row.
	row := testRow(t, "p1", "r1")
	tbl.BulkInsertOrReplace([]*nosql.Row{row}, nosql.Now())
	sink(dbsync.Event{
		Kind:  dbsync.KindUpdateRows,
		Table: "orders",
		Rows:  map[string][]*nosql.Row{"p1": {row}},
	})
	sink(dbsync.Event{
		Kind:      dbsync.KindTableFirstInit,
		Table:     "orders",
		SessionID: s.ID,
	})

	payload, ok := s.TryDequeue()
	if !ok {
		t.Fatalf("first init not delivered")
	}
	p, err := ReadPacket(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		t.Fatalf("payload not a contract packet: %v", err)
	}
	if p.Op != PacketInitTable || p.Table != "orders" {
		t.Fatalf("wrong packet: %+v", p)
	}
	if !bytes.Contains(p.Data, row.Data) {
		t.Fatalf("row written before subscription missing from the baseline")
	}
	if _, ok := s.TryDequeue(); ok {
		t.Fatalf("unexpected extra delivery")
	}
}

func TestBroadcaster_OnlySubscribersReceive(t *testing.T) {
	reg := NewRegistry()
	b := NewBroadcaster(reg, nosql.NewStore())
	sink := b.EventSink()

	sub := reg.NewSession(TransportTCP, "sub", "1.0", false)
	sub.Subscribe("orders")
	sub.markFirstInit("orders")
	other := reg.NewSession(TransportTCP, "other", "1.0", false)
	other.Subscribe("invoices")
	other.markFirstInit("invoices")

	sink(dbsync.Event{
		Kind:    dbsync.KindDeleteRows,
		Table:   "orders",
		Deleted: map[string][]string{"p1": {"r1"}},
	})
	if sub.QueueLen() != 1 {
		t.Fatalf("subscriber missed the event")
	}
	if other.QueueLen() != 0 {
		t.Fatalf("non-subscriber received the event")
	}
}

func TestBroadcaster_TCPPayloadDecodes(t *testing.T) {
	reg := NewRegistry()
	b := NewBroadcaster(reg, nosql.NewStore())
	sink := b.EventSink()

	s := reg.NewSession(TransportTCP, "client", "1.0", false)
	s.Subscribe("orders")
	s.markFirstInit("orders")

	row := testRow(t, "p1", "r1")
	sink(dbsync.Event{
		Kind:  dbsync.KindUpdateRows,
		Table: "orders",
		Rows:  map[string][]*nosql.Row{"p1": {row}},
	})

	payload, ok := s.TryDequeue()
	if !ok {
		t.Fatalf("nothing queued")
	}
	p, err := ReadPacket(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		t.Fatalf("payload not a contract packet: %v", err)
	}
	if p.Op != PacketUpdateRows || p.Table != "orders" {
		t.Fatalf("wrong packet: %+v", p)
	}
	if !bytes.Contains(p.Data, row.Data) {
		t.Fatalf("row bytes not spliced into payload")
	}
}

func TestBroadcaster_HTTPPayloadIsJSONEnvelope(t *testing.T) {
	reg := NewRegistry()
	b := NewBroadcaster(reg, nosql.NewStore())
	sink := b.EventSink()

	s := reg.NewSession(TransportHTTP, "poller", "1.0", false)
	s.Subscribe("orders")
	s.markFirstInit("orders")

	sink(dbsync.Event{
		Kind:    dbsync.KindDeleteRows,
		Table:   "orders",
		Deleted: map[string][]string{"p2": {"r9"}, "p1": {"r1"}},
	})

	payload, ok := s.TryDequeue()
	if !ok {
		t.Fatalf("nothing queued")
	}
	var env map[string]any
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("http payload not JSON: %v\n%s", err, payload)
	}
	if env["type"] != "DeleteRows" || env["tableName"] != "orders" {
		t.Fatalf("envelope fields wrong: %v", env)
	}
}

func TestBroadcaster_OverflowDropsSession(t *testing.T) {
	reg := NewRegistry()
	b := NewBroadcaster(reg, nosql.NewStore())
	sink := b.EventSink()

	s := reg.NewSession(TransportTCP, "slow", "1.0", false)
	s.Subscribe("orders")
	s.markFirstInit("orders")

	big := bytes.Repeat([]byte("x"), 33<<20)
	_ = s.Enqueue(big[:1]) // keep the session live
	s.mu.Lock()
	s.queuedBytes = len(big) // simulate a backed-up queue
	s.mu.Unlock()

	sink(dbsync.Event{
		Kind:  dbsync.KindUpdateRows,
		Table: "orders",
		Rows:  map[string][]*nosql.Row{"p1": {testRow(t, "p1", "r1")}},
	})
	if _, ok := reg.Get(s.ID); ok {
		t.Fatalf("overflowed session not removed from registry")
	}
}
