package transactions

import (
	"testing"
	"time"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/ops"
)

func newTestRegistry(t *testing.T) (*Registry, *ops.Service) {
	t.Helper()
	bus := dbsync.NewBus(128)
	svc := ops.New(nosql.NewStore(), bus)
	if err := svc.CreateTable("orders", false, 0, 0, dbsync.SourceClientRequest, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return NewRegistry(svc), svc
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps([]byte(`[
		{"type":"CleanTable","tableName":"orders"},
		{"type":"CleanPartitions","tableName":"orders","partitionKeys":["p1","p2"]},
		{"type":"DeleteRows","tableName":"orders","partitionKey":"p1","rowKeys":["r1"]},
		{"type":"InsertOrUpdate","tableName":"orders","entities":[{"PartitionKey":"p1","RowKey":"r1"}]}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("got %d steps", len(steps))
	}
	if steps[1].PartitionKeys[1] != "p2" || steps[2].RowKeys[0] != "r1" || len(steps[3].Entities) != 1 {
		t.Fatalf("fields lost in parsing: %+v", steps)
	}

	bad := [][]byte{
		[]byte(`{"type":"CleanTable"}`),
		[]byte(`[{"type":"DropEverything","tableName":"orders"}]`),
		[]byte(`[{"type":"CleanTable"}]`),
	}
	for _, body := range bad {
		if _, err := ParseSteps(body); nosql.KindOf(err) != nosql.KindJsonParseFail {
			t.Fatalf("ParseSteps(%s) err = %v, want JsonParseFail", body, err)
		}
	}
}

func TestRegistry_CommitAppliesInOrder(t *testing.T) {
	reg, svc := newTestRegistry(t)

	id := reg.Start()
	if err := reg.Append(id, []byte(`[
		{"type":"InsertOrUpdate","tableName":"orders","entities":[
			{"PartitionKey":"p1","RowKey":"r1","v":1},
			{"PartitionKey":"p1","RowKey":"r2","v":1}]}]`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := reg.Append(id, []byte(`[
		{"type":"DeleteRows","tableName":"orders","partitionKey":"p1","rowKeys":["r2"]}]`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := reg.Commit(id, dbsync.PeriodImmediately); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := svc.GetRow("orders", "p1", "r1", nosql.ReadOptions{}); err != nil {
		t.Fatalf("committed row missing: %v", err)
	}
	if _, err := svc.GetRow("orders", "p1", "r2", nosql.ReadOptions{}); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("later step did not apply after earlier one")
	}
	if err := reg.Commit(id, dbsync.PeriodImmediately); nosql.KindOf(err) != nosql.KindTransactionNotFound {
		t.Fatalf("second commit err = %v, want TransactionNotFound", err)
	}
}

func TestRegistry_CommitFailureLeavesAppliedStepsStanding(t *testing.T) {
	reg, svc := newTestRegistry(t)

	id := reg.Start()
	if err := reg.Append(id, []byte(`[
		{"type":"InsertOrUpdate","tableName":"orders","entities":[{"PartitionKey":"p1","RowKey":"r1"}]},
		{"type":"CleanTable","tableName":"missing"}]`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	err := reg.Commit(id, dbsync.PeriodImmediately)
	if nosql.KindOf(err) != nosql.KindTransactionFailed {
		t.Fatalf("commit err = %v, want TransactionFailed", err)
	}
	if _, err := svc.GetRow("orders", "p1", "r1", nosql.ReadOptions{}); err != nil {
		t.Fatalf("step applied before the failure must stand: %v", err)
	}
}

func TestRegistry_Cancel(t *testing.T) {
	reg, svc := newTestRegistry(t)

	id := reg.Start()
	if err := reg.Append(id, []byte(`[
		{"type":"InsertOrUpdate","tableName":"orders","entities":[{"PartitionKey":"p1","RowKey":"r1"}]}]`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := reg.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.GetRow("orders", "p1", "r1", nosql.ReadOptions{}); nosql.KindOf(err) != nosql.KindRecordNotFound {
		t.Fatalf("cancelled transaction mutated the store")
	}
	if err := reg.Cancel(id); nosql.KindOf(err) != nosql.KindTransactionNotFound {
		t.Fatalf("second cancel err = %v, want TransactionNotFound", err)
	}
	if err := reg.Append(id, []byte(`[]`)); nosql.KindOf(err) != nosql.KindTransactionNotFound {
		t.Fatalf("append after cancel err = %v, want TransactionNotFound", err)
	}
}

func TestRegistry_SweepIdle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.IdleTTL = 10 * time.Millisecond

	stale := reg.Start()
	reg.mu.Lock()
	reg.active[stale].lastAccess = time.Now().Add(-time.Second)
	reg.mu.Unlock()
	fresh := reg.Start()

	if n := reg.SweepIdle(); n != 1 {
		t.Fatalf("swept %d transactions, want 1", n)
	}
	if err := reg.Cancel(stale); nosql.KindOf(err) != nosql.KindTransactionNotFound {
		t.Fatalf("stale transaction survived the sweep")
	}
	if err := reg.Cancel(fresh); err != nil {
		t.Fatalf("fresh transaction swept: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("count = %d, want 0", reg.Count())
	}
}
