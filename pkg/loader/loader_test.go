package loader

import (
	"context"
	"testing"

	"mirrordb/pkg/nosql"
	"mirrordb/pkg/persist"
	"mirrordb/pkg/persist/files"
)

func seedDriver(t *testing.T) *files.Driver {
	t.Helper()
	driver, err := files.New(t.TempDir())
	if err != nil {
		t.Fatalf("files driver: %v", err)
	}
	return driver
}

func storedRows(t *testing.T, pk string, rowKeys ...string) []byte {
	t.Helper()
	now := nosql.Now()
	rows := make([]*nosql.Row, 0, len(rowKeys))
	for _, rk := range rowKeys {
		e, err := nosql.ParseEntity([]byte(`{"PartitionKey":"` + pk + `","RowKey":"` + rk + `"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		rows = append(rows, e.ToRow(now))
	}
	return nosql.MarshalRows(rows)
}

func TestLoadAll_RestoresTables(t *testing.T) {
	ctx := context.Background()
	driver := seedDriver(t)

	for table, pks := range map[string][]string{"orders": {"p1", "p2"}, "invoices": {"q"}} {
		if err := driver.CreateTableFolder(ctx, table); err != nil {
			t.Fatalf("create folder: %v", err)
		}
		attrs := nosql.Attributes{Persist: true, MaxPartitionsAmount: 7}
		if err := driver.SaveTableFile(ctx, table, persist.AttributesFile(), persist.MarshalAttributes(attrs)); err != nil {
			t.Fatalf("save metadata: %v", err)
		}
		for _, pk := range pks {
			if err := driver.SaveTableFile(ctx, table, persist.PartitionFile(pk), storedRows(t, pk, "r1", "r2")); err != nil {
				t.Fatalf("save partition: %v", err)
			}
		}
	}

	store := nosql.NewStore()
	if err := LoadAll(ctx, driver, store, Config{}); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := len(store.Tables()); got != 2 {
		t.Fatalf("restored %d tables, want 2", got)
	}
	orders, err := store.GetTable("orders")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if attrs := orders.Attributes(); !attrs.Persist || attrs.MaxPartitionsAmount != 7 {
		t.Fatalf("attributes not restored: %+v", attrs)
	}
	if n := orders.RowsCount(); n != 4 {
		t.Fatalf("orders holds %d rows, want 4", n)
	}
	row, _ := orders.GetRow("p1", "r2", nosql.Now(), nosql.ReadOptions{})
	if row == nil {
		t.Fatalf("row p1/r2 not restored")
	}
	if row.TimeStamp == 0 {
		t.Fatalf("persisted timestamp lost on restore")
	}
}

func TestLoadAll_PartitionsLoadWithinBoundedPool(t *testing.T) {
	ctx := context.Background()
	driver := seedDriver(t)

	if err := driver.CreateTableFolder(ctx, "orders"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	pks := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	for _, pk := range pks {
		if err := driver.SaveTableFile(ctx, "orders", persist.PartitionFile(pk), storedRows(t, pk, "r1", "r2")); err != nil {
			t.Fatalf("save partition: %v", err)
		}
	}

	store := nosql.NewStore()
	if err := LoadAll(ctx, driver, store, Config{Workers: 1, PartitionWorkers: 2}); err != nil {
		t.Fatalf("load: %v", err)
	}

	orders, err := store.GetTable("orders")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if n := orders.RowsCount(); n != len(pks)*2 {
		t.Fatalf("orders holds %d rows, want %d", n, len(pks)*2)
	}
	for _, pk := range pks {
		if row, _ := orders.GetRow(pk, "r1", nosql.Now(), nosql.ReadOptions{}); row == nil {
			t.Fatalf("row %s/r1 not restored", pk)
		}
	}
}

func TestLoadAll_MissingMetadataFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	driver := seedDriver(t)

	if err := driver.CreateTableFolder(ctx, "bare"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := driver.SaveTableFile(ctx, "bare", persist.PartitionFile("p"), storedRows(t, "p", "r1")); err != nil {
		t.Fatalf("save partition: %v", err)
	}

	store := nosql.NewStore()
	if err := LoadAll(ctx, driver, store, Config{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	tbl, err := store.GetTable("bare")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if attrs := tbl.Attributes(); !attrs.Persist {
		t.Fatalf("default attributes must keep persistence on: %+v", attrs)
	}
}

func TestLoadAll_BrokenFile(t *testing.T) {
	ctx := context.Background()
	driver := seedDriver(t)

	if err := driver.CreateTableFolder(ctx, "orders"); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := driver.SaveTableFile(ctx, "orders", persist.PartitionFile("good"), storedRows(t, "good", "r1")); err != nil {
		t.Fatalf("save partition: %v", err)
	}
	if err := driver.SaveTableFile(ctx, "orders", persist.PartitionFile("bad"), []byte(`not json`)); err != nil {
		t.Fatalf("save partition: %v", err)
	}

	if err := LoadAll(ctx, driver, nosql.NewStore(), Config{}); err == nil {
		t.Fatalf("broken file must fail the cold start by default")
	}

	store := nosql.NewStore()
	if err := LoadAll(ctx, driver, store, Config{SkipBroken: true}); err != nil {
		t.Fatalf("load with SkipBroken: %v", err)
	}
	tbl, err := store.GetTable("orders")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if n := tbl.RowsCount(); n != 1 {
		t.Fatalf("restored %d rows, want 1 (the intact partition)", n)
	}
}

func TestLoadAll_EmptyRoot(t *testing.T) {
	driver := seedDriver(t)
	store := nosql.NewStore()
	if err := LoadAll(context.Background(), driver, store, Config{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(store.Tables()) != 0 {
		t.Fatalf("tables appeared out of nowhere")
	}
}
