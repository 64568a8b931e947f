package nosql

import "testing"

func expRow(t *testing.T, pk, rk string, expires Micros) *Row {
	t.Helper()
	e, err := ParseEntity([]byte(`{"PartitionKey":"` + pk + `","RowKey":"` + rk + `"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e.Expires = expires
	e.HasExpires = expires != 0
	return e.ToRow(Now())
}

func TestExpirationIndex_PopOrder(t *testing.T) {
	x := NewExpirationIndex()
	x.Add("tb", expRow(t, "p1", "r1", 300))
	x.Add("ta", expRow(t, "p1", "r1", 100))
	x.Add("ta", expRow(t, "p1", "r2", 200))
	x.Add("ta", expRow(t, "p2", "r9", 0)) // never expires, not indexed

	if x.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", x.Len())
	}
	hits := x.PopExpired(200)
	if len(hits) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(hits))
	}
	if hits[0].Row.RowKey != "r1" || hits[1].Row.RowKey != "r2" {
		t.Fatalf("entries out of order: %v %v", hits[0].Row.RowKey, hits[1].Row.RowKey)
	}
	if x.Len() != 1 {
		t.Fatalf("due entries not removed")
	}
	if more := x.PopExpired(200); more != nil {
		t.Fatalf("second pop should be empty")
	}
}

func TestExpirationIndex_RemoveOnlyExactRow(t *testing.T) {
	x := NewExpirationIndex()
	old := expRow(t, "p1", "r1", 500)
	x.Add("t", old)

	// a replacement with identical identity and expiration supersedes
	fresh := expRow(t, "p1", "r1", 500)
	x.Add("t", fresh)
	if x.Len() != 1 {
		t.Fatalf("duplicate identity should collapse: %d", x.Len())
	}

	// removing the superseded row must not scrub the fresh entry
	x.Remove("t", old)
	if x.Len() != 1 {
		t.Fatalf("stale remove scrubbed live entry")
	}
	x.Remove("t", fresh)
	if x.Len() != 0 {
		t.Fatalf("live remove failed")
	}
}

func TestExpirationIndex_Replace(t *testing.T) {
	x := NewExpirationIndex()
	old := expRow(t, "p1", "r1", 100)
	x.Add("t", old)
	fresh := expRow(t, "p1", "r1", 900)
	x.Replace("t", old, fresh)

	if hits := x.PopExpired(100); hits != nil {
		t.Fatalf("old entry survived replace")
	}
	if hits := x.PopExpired(900); len(hits) != 1 {
		t.Fatalf("fresh entry missing")
	}
}
