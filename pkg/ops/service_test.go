package ops

import (
	"testing"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

func newTestService(t *testing.T) (*Service, *dbsync.Bus) {
	t.Helper()
	bus := dbsync.NewBus(128)
	svc := New(nosql.NewStore(), bus)
	if err := svc.CreateTable("orders", true, 0, 0, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("create table: %v", err)
	}
	drain(bus) // discard the attribute event from table creation
	return svc, bus
}

func drain(bus *dbsync.Bus) []dbsync.Event {
	var out []dbsync.Event
	bus.Drain(func(ev dbsync.Event) { out = append(out, ev) })
	return out
}

func TestService_InsertOrReplacePublishesUpdate(t *testing.T) {
	svc, bus := newTestService(t)

	row, err := svc.InsertOrReplace("orders",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1","v":1}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if err != nil {
		t.Fatalf("insert or replace: %v", err)
	}
	if row.TimeStamp == 0 {
		t.Fatalf("stored row has no server timestamp")
	}

	events := drain(bus)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != dbsync.KindUpdateRows || ev.Table != "orders" || !ev.Persist {
		t.Fatalf("wrong event: %+v", ev)
	}
	if len(ev.Rows["p1"]) != 1 || ev.Rows["p1"][0] != row {
		t.Fatalf("event does not carry the stored row")
	}
}

func TestService_InsertRejectsDuplicate(t *testing.T) {
	svc, bus := newTestService(t)

	body := []byte(`{"PartitionKey":"p1","RowKey":"r1"}`)
	if _, err := svc.Insert("orders", body, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := svc.Insert("orders", body, dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if nosql.KindOf(err) != nosql.KindRecordAlreadyExists {
		t.Fatalf("err = %v, want RecordAlreadyExists", err)
	}
	if events := drain(bus); len(events) != 1 {
		t.Fatalf("failed insert must not publish, got %d events", len(events))
	}
}

func TestService_ReplaceEnforcesTimestamp(t *testing.T) {
	svc, bus := newTestService(t)

	row, err := svc.InsertOrReplace("orders",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1","v":1}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	// no timestamp at all
	_, err = svc.Replace("orders",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1","v":2}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if nosql.KindOf(err) != nosql.KindTimestampMissing {
		t.Fatalf("err = %v, want TimestampMissing", err)
	}

	// stale timestamp
	_, err = svc.Replace("orders",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1","TimeStamp":"2001-01-01T00:00:00.000000Z","v":2}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if nosql.KindOf(err) != nosql.KindOptimisticConcurrencyFail {
		t.Fatalf("err = %v, want OptimisticConcurrencyFail", err)
	}

	// matching timestamp succeeds
	fresh, err := svc.Replace("orders",
		[]byte(`{"PartitionKey":"p1","RowKey":"r1","TimeStamp":"`+row.TimeStamp.String()+`","v":2}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if fresh.TimeStamp == row.TimeStamp {
		t.Fatalf("replace must stamp a new server timestamp")
	}
}

func TestService_DeleteRow(t *testing.T) {
	svc, bus := newTestService(t)
	if _, err := svc.Insert("orders", []byte(`{"PartitionKey":"p1","RowKey":"r1"}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	row, err := svc.DeleteRow("orders", "p1", "r1", dbsync.SourceClientRequest, dbsync.PeriodImmediately)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if row == nil || row.RowKey != "r1" {
		t.Fatalf("deleted row not returned")
	}
	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindDeleteRows {
		t.Fatalf("wrong events: %+v", events)
	}
	if keys := events[0].Deleted["p1"]; len(keys) != 1 || keys[0] != "r1" {
		t.Fatalf("wrong deleted keys: %v", events[0].Deleted)
	}

	if _, err := svc.DeleteRow("orders", "p1", "r1", dbsync.SourceClientRequest, dbsync.PeriodImmediately); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("err = %v, want RecordNotFound", err)
	}
}

func TestService_CleanAndBulkInsert_WholeTable(t *testing.T) {
	svc, bus := newTestService(t)
	if _, err := svc.Insert("orders", []byte(`{"PartitionKey":"old","RowKey":"r1"}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	body := []byte(`[{"PartitionKey":"p1","RowKey":"r1"},{"PartitionKey":"p2","RowKey":"r1"}]`)
	if err := svc.CleanAndBulkInsert("orders", "", body, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("clean and bulk insert: %v", err)
	}

	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindInitTable {
		t.Fatalf("whole-table replace must publish InitTable, got %+v", events)
	}
	if events[0].Snapshot == nil || len(events[0].Snapshot.AllRows()) != 2 {
		t.Fatalf("snapshot does not reflect the new content")
	}
	if _, err := svc.GetRow("orders", "old", "r1", nosql.ReadOptions{}); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("old content survived the replace")
	}
}

func TestService_CleanAndBulkInsert_NamedPartition(t *testing.T) {
	svc, bus := newTestService(t)
	seed := []byte(`[{"PartitionKey":"p1","RowKey":"stale"},{"PartitionKey":"p2","RowKey":"keep"}]`)
	if err := svc.BulkInsertOrReplace("orders", seed, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	body := []byte(`[{"PartitionKey":"p1","RowKey":"fresh"}]`)
	if err := svc.CleanAndBulkInsert("orders", "p1", body, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("clean and bulk insert: %v", err)
	}

	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindInitPartitions {
		t.Fatalf("partition replace must publish InitPartitions, got %+v", events)
	}
	if _, err := svc.GetRow("orders", "p1", "stale", nosql.ReadOptions{}); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("stale row survived in cleaned partition")
	}
	if _, err := svc.GetRow("orders", "p2", "keep", nosql.ReadOptions{}); err != nil {
		t.Fatalf("untouched partition lost content: %v", err)
	}
}

func TestService_DeletePartitions(t *testing.T) {
	svc, bus := newTestService(t)
	seed := []byte(`[{"PartitionKey":"p1","RowKey":"r1"},{"PartitionKey":"p2","RowKey":"r1"}]`)
	if err := svc.BulkInsertOrReplace("orders", seed, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	if err := svc.DeletePartitions("orders", []string{"p1", "missing"}, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("delete partitions: %v", err)
	}
	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindInitPartitions {
		t.Fatalf("wrong events: %+v", events)
	}
	if len(events[0].Partitions) != 1 || events[0].Partitions[0].PartitionKey != "p1" {
		t.Fatalf("only the existing partition must be announced, got %+v", events[0].Partitions)
	}
}

func TestService_ExpireRows(t *testing.T) {
	svc, bus := newTestService(t)
	deadline := nosql.Now() + nosql.Micros(1_000_000)
	body := []byte(`{"PartitionKey":"p1","RowKey":"r1","Expires":"` + deadline.String() + `"}`)
	if _, err := svc.InsertOrReplace("orders", body, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	if n := svc.ExpireRows(deadline - 1); n != 0 {
		t.Fatalf("expired %d rows before the deadline", n)
	}
	if n := svc.ExpireRows(deadline); n != 1 {
		t.Fatalf("expired %d rows at the deadline, want 1", n)
	}
	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindDeleteRows || events[0].Source != dbsync.SourceGC {
		t.Fatalf("wrong events: %+v", events)
	}
	if _, err := svc.GetRow("orders", "p1", "r1", nosql.ReadOptions{}); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("expired row still readable")
	}
}

func TestService_UpdateExpirationTime(t *testing.T) {
	svc, bus := newTestService(t)
	if _, err := svc.Insert("orders", []byte(`{"PartitionKey":"p1","RowKey":"r1"}`),
		dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	deadline := nosql.Now() + nosql.Micros(60_000_000)
	if err := svc.UpdateExpirationTime("orders", "p1", []string{"r1"}, deadline,
		dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("update expiration: %v", err)
	}
	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindUpdateRows {
		t.Fatalf("wrong events: %+v", events)
	}
	row, err := svc.GetRow("orders", "p1", "r1", nosql.ReadOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Expires != deadline {
		t.Fatalf("expires = %v, want %v", row.Expires, deadline)
	}
}

func TestService_EnforceQuotas(t *testing.T) {
	svc, bus := newTestService(t)
	if err := svc.SetTableAttributes("orders", true, 2, 0, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("set attributes: %v", err)
	}
	seed := []byte(`[{"PartitionKey":"a","RowKey":"r"},{"PartitionKey":"b","RowKey":"r"},{"PartitionKey":"c","RowKey":"r"}]`)
	if err := svc.BulkInsertOrReplace("orders", seed, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	svc.EnforceQuotas(nosql.Now())
	events := drain(bus)
	if len(events) != 2 || events[0].Kind != dbsync.KindDeleteRows || events[1].Kind != dbsync.KindInitPartitions {
		t.Fatalf("wrong events: %+v", events)
	}
	var gone int
	for _, keys := range events[0].Deleted {
		gone += len(keys)
	}
	if gone != 1 {
		t.Fatalf("deleted %d rows, want 1", gone)
	}
	if len(events[1].Partitions) != 1 || len(events[1].Partitions[0].Rows) != 0 {
		t.Fatalf("eviction announcement not empty: %+v", events[1].Partitions)
	}
	if n, _ := svc.Count("orders", ""); n != 2 {
		t.Fatalf("table holds %d rows after quota enforcement, want 2", n)
	}
}

func TestService_CleanAndKeepMaxPartitionsAnnouncesDeletions(t *testing.T) {
	svc, bus := newTestService(t)
	seed := []byte(`[{"PartitionKey":"a","RowKey":"r"},{"PartitionKey":"b","RowKey":"r"},{"PartitionKey":"c","RowKey":"r"}]`)
	if err := svc.BulkInsertOrReplace("orders", seed, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}
	drain(bus)

	if err := svc.CleanAndKeepMaxPartitions("orders", 1, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("clean: %v", err)
	}
	events := drain(bus)
	if len(events) != 2 || events[0].Kind != dbsync.KindDeleteRows || events[1].Kind != dbsync.KindInitPartitions {
		t.Fatalf("wrong events: %+v", events)
	}
	if len(events[0].Deleted) != 2 || len(events[1].Partitions) != 2 {
		t.Fatalf("expected two evicted partitions, got %+v", events)
	}
}

func TestService_GetHighestRowAndBelow(t *testing.T) {
	svc, _ := newTestService(t)
	seed := []byte(`[
		{"PartitionKey":"p","RowKey":"2022-01"},
		{"PartitionKey":"p","RowKey":"2022-02"},
		{"PartitionKey":"p","RowKey":"2022-03"},
		{"PartitionKey":"p","RowKey":"2022-04"}]`)
	if err := svc.BulkInsertOrReplace("orders", seed, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, err := svc.GetHighestRowAndBelow("orders", "p", "2022-03", 2, nosql.ReadOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rows) != 2 || rows[0].RowKey != "2022-03" || rows[1].RowKey != "2022-02" {
		t.Fatalf("wrong window: %v", keysOfRows(rows))
	}
}

func TestService_CreateTableIfNotExistsAlignsAttributes(t *testing.T) {
	svc, bus := newTestService(t)

	// identical attributes: no event
	if err := svc.CreateTableIfNotExists("orders", true, 0, 0, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("create if not exists: %v", err)
	}
	if events := drain(bus); len(events) != 0 {
		t.Fatalf("unchanged attributes published %d events", len(events))
	}

	// changed attributes: publish
	if err := svc.CreateTableIfNotExists("orders", false, 5, 0, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("create if not exists: %v", err)
	}
	events := drain(bus)
	if len(events) != 1 || events[0].Kind != dbsync.KindUpdateTableAttributes {
		t.Fatalf("wrong events: %+v", events)
	}
	if events[0].Attrs == nil || events[0].Attrs.Persist || events[0].Attrs.MaxPartitionsAmount != 5 {
		t.Fatalf("wrong attributes: %+v", events[0].Attrs)
	}
}

func keysOfRows(rows []*nosql.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.RowKey)
	}
	return out
}
