package nosql

import (
	"testing"
)

func mustRow(t *testing.T, pk, rk string, now Micros) *Row {
	t.Helper()
	e, err := ParseEntity([]byte(`{"PartitionKey":"` + pk + `","RowKey":"` + rk + `"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return e.ToRow(now)
}

func newTestTable() *Table {
	return NewTable("t1", DefaultAttributes(Now()), NewExpirationIndex())
}

func TestTable_InsertSemantics(t *testing.T) {
	tbl := newTestTable()
	now := Now()

	if err := tbl.InsertRow(mustRow(t, "p1", "r1", now), now); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	err := tbl.InsertRow(mustRow(t, "p1", "r1", now), now)
	if KindOf(err) != KindRecordAlreadyExists {
		t.Fatalf("expected RecordAlreadyExists, got %v", err)
	}

	old := tbl.InsertOrReplaceRow(mustRow(t, "p1", "r1", now+1), now+1)
	if old == nil {
		t.Fatalf("replace should return the replaced row")
	}
	if tbl.RowsCount() != 1 || tbl.PartitionsCount() != 1 {
		t.Fatalf("unexpected counts: rows=%d partitions=%d", tbl.RowsCount(), tbl.PartitionsCount())
	}
}

func TestTable_ReplaceOptimisticConcurrency(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	stored := mustRow(t, "p1", "r1", now)
	tbl.InsertOrReplaceRow(stored, now)

	fresh := mustRow(t, "p1", "r1", now+5)
	if err := tbl.ReplaceRow(fresh, now+1, now+5); KindOf(err) != KindOptimisticConcurrencyFail {
		t.Fatalf("expected OptimisticConcurrencyFail, got %v", err)
	}
	if err := tbl.ReplaceRow(fresh, stored.TimeStamp, now+5); err != nil {
		t.Fatalf("replace with matching timestamp failed: %v", err)
	}
	if err := tbl.ReplaceRow(mustRow(t, "p1", "missing", now), now, now); KindOf(err) != KindRecordNotFound {
		t.Fatalf("expected RecordNotFound, got %v", err)
	}
}

func TestTable_DeleteDropsEmptyPartition(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	tbl.InsertOrReplaceRow(mustRow(t, "p1", "r1", now), now)

	if tbl.DeleteRow("p1", "r1", now) == nil {
		t.Fatalf("delete returned nil")
	}
	if tbl.PartitionsCount() != 0 {
		t.Fatalf("empty partition not dropped")
	}
	if tbl.DeleteRow("p1", "r1", now) != nil {
		t.Fatalf("second delete should return nil")
	}
	if tbl.Size() != 0 {
		t.Fatalf("size accounting drifted: %d", tbl.Size())
	}
}

func TestTable_PartitionsStaySorted(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	for _, pk := range []string{"pc", "pa", "pb"} {
		tbl.InsertOrReplaceRow(mustRow(t, pk, "r1", now), now)
	}
	snap := tbl.Snapshot()
	var got []string
	for _, p := range snap.Partitions {
		got = append(got, p.PartitionKey)
	}
	want := []string{"pa", "pb", "pc"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("partition order %v, want %v", got, want)
		}
	}
}

func TestTable_HighestRowAndBelow(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	for _, rk := range []string{"r1", "r2", "r3", "r5"} {
		tbl.InsertOrReplaceRow(mustRow(t, "p1", rk, now), now)
	}
	rows := tbl.GetHighestRowAndBelow("p1", "r4", 2, now, ReadOptions{})
	if len(rows) != 2 || rows[0].RowKey != "r3" || rows[1].RowKey != "r2" {
		t.Fatalf("unexpected scan result: %v", keysOf(rows))
	}
	// inclusive on exact match
	rows = tbl.GetHighestRowAndBelow("p1", "r3", 10, now, ReadOptions{})
	if len(rows) != 3 || rows[0].RowKey != "r3" {
		t.Fatalf("scan not inclusive: %v", keysOf(rows))
	}
}

func keysOf(rows []*Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.RowKey)
	}
	return out
}

func TestTable_CleanAndBulkInsert_NamedPartition(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	tbl.InsertOrReplaceRow(mustRow(t, "p1", "old", now), now)
	tbl.InsertOrReplaceRow(mustRow(t, "p2", "keep", now), now)

	incoming := []*Row{mustRow(t, "p1", "new", now+1)}
	snaps := tbl.CleanAndBulkInsert("p1", incoming, now+1)

	if got, _ := tbl.PartitionSnapshot("p1"); len(got.Rows) != 1 || got.Rows[0].RowKey != "new" {
		t.Fatalf("p1 not replaced: %v", keysOf(got.Rows))
	}
	if got, _ := tbl.PartitionSnapshot("p2"); len(got.Rows) != 1 || got.Rows[0].RowKey != "keep" {
		t.Fatalf("p2 should be untouched")
	}
	if len(snaps) != 1 || snaps[0].PartitionKey != "p1" {
		t.Fatalf("unexpected snapshots: %v", snaps)
	}
}

func TestTable_ReplaceContent(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	tbl.InsertOrReplaceRow(mustRow(t, "p1", "old", now), now)
	snap := tbl.ReplaceContent([]*Row{mustRow(t, "p9", "r9", now+1)}, now+1)
	if tbl.RowsCount() != 1 || tbl.PartitionsCount() != 1 {
		t.Fatalf("content not replaced")
	}
	if len(snap.Partitions) != 1 || snap.Partitions[0].PartitionKey != "p9" {
		t.Fatalf("snapshot does not reflect post state")
	}
}

func TestTable_RowQuotaEvictsLeastRecentlyRead(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	for _, rk := range []string{"r1", "r2", "r3"} {
		tbl.InsertOrReplaceRow(mustRow(t, "p1", rk, now), now)
	}
	// read r1 and r3 later so r2 is the eviction victim
	tbl.GetRow("p1", "r1", now+10, ReadOptions{UpdateRowsLastRead: true})
	tbl.GetRow("p1", "r3", now+10, ReadOptions{UpdateRowsLastRead: true})

	gone := tbl.EvictRowsOverQuota(2, now+20)
	if len(gone["p1"]) != 1 || gone["p1"][0].RowKey != "r2" {
		t.Fatalf("wrong eviction victim: %v", keysOf(gone["p1"]))
	}
}

func TestTable_PartitionQuotaEvictsLeastRecentlyRead(t *testing.T) {
	tbl := newTestTable()
	now := Now()
	for _, pk := range []string{"p1", "p2", "p3"} {
		tbl.InsertOrReplaceRow(mustRow(t, pk, "r1", now), now)
	}
	tbl.GetPartitionRows("p1", now+10, ReadOptions{UpdatePartitionLastRead: true})
	tbl.GetPartitionRows("p3", now+10, ReadOptions{UpdatePartitionLastRead: true})

	evicted := tbl.EvictPartitionsOverQuota(2)
	if len(evicted) != 1 || evicted[0].PartitionKey != "p2" {
		t.Fatalf("wrong partition evicted: %v", evicted)
	}
}

func TestTable_UpdateExpirationPublishesReplacements(t *testing.T) {
	idx := NewExpirationIndex()
	tbl := NewTable("t1", DefaultAttributes(Now()), idx)
	now := Now()
	tbl.InsertOrReplaceRow(mustRow(t, "p1", "r1", now), now)

	exp := now + 1000
	updated := tbl.UpdateExpiration("p1", []string{"r1", "missing"}, exp, now)
	if len(updated) != 1 || updated[0].Expires != exp {
		t.Fatalf("expiration update failed: %v", updated)
	}
	if idx.Len() != 1 {
		t.Fatalf("index not updated: %d", idx.Len())
	}

	// clearing removes the index entry
	cleared := tbl.UpdateExpiration("p1", []string{"r1"}, 0, now)
	if len(cleared) != 1 || cleared[0].Expires != 0 {
		t.Fatalf("clear failed")
	}
	if idx.Len() != 0 {
		t.Fatalf("index entry not scrubbed: %d", idx.Len())
	}
}

func TestStore_TableLifecycle(t *testing.T) {
	s := NewStore()
	if _, err := s.CreateTable("t1", DefaultAttributes(Now())); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateTable("t1", DefaultAttributes(Now())); KindOf(err) != KindTableAlreadyExists {
		t.Fatalf("expected TableAlreadyExists, got %v", err)
	}
	if _, created := s.CreateTableIfNotExists("t1", DefaultAttributes(Now())); created {
		t.Fatalf("should not re-create existing table")
	}
	if _, err := s.GetTable("nope"); KindOf(err) != KindTableNotFound {
		t.Fatalf("expected TableNotFound, got %v", err)
	}
	if _, err := s.DeleteTable("t1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetTable("t1"); KindOf(err) != KindTableNotFound {
		t.Fatalf("table survived deletion")
	}
}
