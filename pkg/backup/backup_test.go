package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"mirrordb/pkg/nosql"
	"mirrordb/pkg/persist"
)

func seedStore(t *testing.T) *nosql.Store {
	t.Helper()
	store := nosql.NewStore()
	tbl, err := store.CreateTable("orders", nosql.Attributes{Persist: true, MaxPartitionsAmount: 4})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	now := nosql.Now()
	for _, keys := range [][2]string{{"p1", "r1"}, {"p1", "r2"}, {"p2", "r1"}} {
		e, err := nosql.ParseEntity([]byte(`{"PartitionKey":"` + keys[0] + `","RowKey":"` + keys[1] + `"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		tbl.InsertOrReplaceRow(e.ToRow(now), now)
	}
	return store
}

func TestWriteArchive_MirrorsPersistedLayout(t *testing.T) {
	store := seedStore(t)

	var buf bytes.Buffer
	if err := WriteArchive(&buf, store); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	entries := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %q: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %q: %v", f.Name, err)
		}
		entries[f.Name] = data
	}
	if len(entries) != 3 {
		t.Fatalf("archive holds %d entries, want 3: %v", len(entries), entries)
	}

	meta, ok := entries["orders/"+persist.AttributesFile().Name()]
	if !ok {
		t.Fatalf("metadata entry missing")
	}
	attrs := persist.UnmarshalAttributes(meta, nosql.Now())
	if !attrs.Persist || attrs.MaxPartitionsAmount != 4 {
		t.Fatalf("attributes did not round-trip: %+v", attrs)
	}

	part, ok := entries["orders/"+persist.PartitionFile("p1").Name()]
	if !ok {
		t.Fatalf("partition entry missing")
	}
	rows, err := persist.UnmarshalRows(part)
	if err != nil {
		t.Fatalf("partition did not round-trip: %v", err)
	}
	if len(rows) != 2 || rows[0].RowKey != "r1" {
		t.Fatalf("wrong partition content: %v", rows)
	}
}

func TestWriteFile_Prunes(t *testing.T) {
	store := seedStore(t)
	dir := t.TempDir()

	// fake older archives; timestamped names sort chronologically
	for _, name := range []string{"20200101-000000.zip", "20200102-000000.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o644); err != nil {
			t.Fatalf("seed archive: %v", err)
		}
	}

	path, err := WriteFile(dir, store, 2)
	if err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("archive not written: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var zips []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".zip" {
			zips = append(zips, e.Name())
		}
	}
	if len(zips) != 2 {
		t.Fatalf("%d archives left after prune, want 2: %v", len(zips), zips)
	}
	for _, name := range zips {
		if name == "20200101-000000.zip" {
			t.Fatalf("oldest archive survived the prune")
		}
	}
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	s := &Scheduler{Store: nosql.NewStore(), Dir: t.TempDir(), Cron: "not a cron"}
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatalf("invalid cron accepted")
	}

	s.Cron = "0 2 * * *"
	cancel, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
	cancel()
}
