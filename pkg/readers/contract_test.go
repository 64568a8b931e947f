package readers

import (
	"bufio"
	"bytes"
	"testing"
)

func decode(t *testing.T, packet []byte) Packet {
	t.Helper()
	p, err := ReadPacket(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return p
}

func TestContract_GreetingRoundTrip(t *testing.T) {
	packet, err := PackGreeting("reporting-service", "1.2.3", true)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p := decode(t, packet)
	if p.Op != PacketGreeting || p.Name != "reporting-service" || p.Version != "1.2.3" || !p.Compress {
		t.Fatalf("greeting lost fields: %+v", p)
	}
}

func TestContract_SubscribeRoundTrip(t *testing.T) {
	packet, _ := PackSubscribe("orders")
	p := decode(t, packet)
	if p.Op != PacketSubscribe || p.Table != "orders" {
		t.Fatalf("subscribe lost fields: %+v", p)
	}
}

func TestContract_InitPartitionRoundTrip(t *testing.T) {
	rows := []byte(`[{"PartitionKey":"p1","RowKey":"r1"}]`)
	packet, err := PackInitPartition("orders", "p1", rows)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p := decode(t, packet)
	if p.Op != PacketInitPartition || p.Table != "orders" || p.PartitionKey != "p1" {
		t.Fatalf("init partition lost fields: %+v", p)
	}
	if !bytes.Equal(p.Data, rows) {
		t.Fatalf("payload changed: %s", p.Data)
	}
}

func TestContract_DeleteRowsRoundTrip(t *testing.T) {
	pairs := []KeyPair{{"p1", "r1"}, {"p2", "r9"}}
	packet, err := PackDeleteRows("orders", pairs)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p := decode(t, packet)
	if p.Op != PacketDeleteRows || len(p.Deleted) != 2 {
		t.Fatalf("delete rows lost fields: %+v", p)
	}
	if p.Deleted[0] != pairs[0] || p.Deleted[1] != pairs[1] {
		t.Fatalf("key pairs changed: %v", p.Deleted)
	}
}

func TestContract_CompressedEnvelope(t *testing.T) {
	rows := bytes.Repeat([]byte(`{"PartitionKey":"p1","RowKey":"r1"},`), 100)
	inner, err := PackUpdateRows("orders", rows)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	wrapped, err := CompressPacket(inner)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if wrapped[0] != PacketCompressed {
		t.Fatalf("wrong envelope opcode %d", wrapped[0])
	}
	p := decode(t, wrapped)
	if p.Op != PacketUpdateRows || p.Table != "orders" || !bytes.Equal(p.Data, rows) {
		t.Fatalf("decompressed packet differs: %+v", p)
	}
}

func TestContract_PascalStringLimit(t *testing.T) {
	long := string(bytes.Repeat([]byte("x"), 256))
	if _, err := PackSubscribe(long); err == nil {
		t.Fatalf("expected pascal string overflow error")
	}
}

func TestContract_UnknownOpcode(t *testing.T) {
	if _, err := ReadPacket(bufio.NewReader(bytes.NewReader([]byte{0xFF}))); err == nil {
		t.Fatalf("expected error on unknown opcode")
	}
}
