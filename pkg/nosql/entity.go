package nosql

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Reserved field names of the canonical row object.
const (
	FieldPartitionKey = "PartitionKey"
	FieldRowKey       = "RowKey"
	FieldTimeStamp    = "TimeStamp"
	FieldExpires      = "Expires"
)

// Entity is a parsed client JSON object with the key metadata pulled out.
// The remaining user fields are kept as raw JSON values so the canonical
// form can be rebuilt without touching their content.
type Entity struct {
	PartitionKey string
	RowKey       string
	TimeStamp    Micros
	HasTimeStamp bool
	Expires      Micros
	HasExpires   bool

	fields map[string]json.RawMessage
}

// ParseEntity parses a single JSON object and extracts PartitionKey,
// RowKey, TimeStamp and Expires. Parse failures name the offending field.
func ParseEntity(raw []byte) (*Entity, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Errf(KindJsonParseFail, "body is not a JSON object: %v", err)
	}

	e := &Entity{fields: fields}

	var ok bool
	if e.PartitionKey, ok = stringField(fields, FieldPartitionKey); !ok {
		return nil, Errf(KindJsonParseFail, "field %s is missing or not a string", FieldPartitionKey)
	}
	if e.RowKey, ok = stringField(fields, FieldRowKey); !ok {
		return nil, Errf(KindJsonParseFail, "field %s is missing or not a string", FieldRowKey)
	}

	if rawTS, present := presentField(fields, FieldTimeStamp); present {
		s, isStr := rawString(rawTS)
		if !isStr {
			return nil, Errf(KindJsonParseFail, "field %s is not a string", FieldTimeStamp)
		}
		ts, tok := ParseMicros(s)
		if !tok {
			return nil, Errf(KindJsonParseFail, "field %s has unparsable timestamp %q", FieldTimeStamp, s)
		}
		e.TimeStamp = ts
		e.HasTimeStamp = true
	}

	if rawExp, present := presentField(fields, FieldExpires); present {
		s, isStr := rawString(rawExp)
		if !isStr {
			return nil, Errf(KindJsonParseFail, "field %s is not a string", FieldExpires)
		}
		exp, eok := ParseMicros(s)
		if !eok {
			return nil, Errf(KindJsonParseFail, "field %s has unparsable timestamp %q", FieldExpires, s)
		}
		e.Expires = exp
		e.HasExpires = true
	}

	return e, nil
}

// ParseEntityArray parses a JSON array of row objects.
func ParseEntityArray(raw []byte) ([]*Entity, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, Errf(KindJsonParseFail, "body is not a JSON array: %v", err)
	}
	out := make([]*Entity, 0, len(items))
	for i, item := range items {
		e, err := ParseEntity(item)
		if err != nil {
			return nil, Errf(KindJsonParseFail, "element %d: %v", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ToRow stamps the entity with the server clock and builds an immutable
// row. Any client-supplied TimeStamp is discarded: writes are always
// stamped at admission.
func (e *Entity) ToRow(now Micros) *Row {
	expires := Micros(0)
	if e.HasExpires {
		expires = e.Expires
	}
	return newRow(e.PartitionKey, e.RowKey, now, expires, e.canonical(now, expires))
}

// RestoreRow rebuilds a row from persisted canonical bytes, preserving the
// persisted TimeStamp. A missing TimeStamp is a TimestampMissing error as
// persisted rows were stamped when first admitted.
func (e *Entity) RestoreRow() (*Row, error) {
	if !e.HasTimeStamp {
		return nil, Errf(KindTimestampMissing, "persisted row %q/%q has no %s", e.PartitionKey, e.RowKey, FieldTimeStamp)
	}
	expires := Micros(0)
	if e.HasExpires {
		expires = e.Expires
	}
	return newRow(e.PartitionKey, e.RowKey, e.TimeStamp, expires, e.canonical(e.TimeStamp, expires)), nil
}

// canonical renders the deterministic canonical JSON object: PartitionKey,
// RowKey, TimeStamp, optional Expires, then user fields in sorted key
// order with compacted values. Deterministic ordering makes the bytes
// stable across save/load round-trips.
func (e *Entity) canonical(ts Micros, expires Micros) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeKey(&buf, FieldPartitionKey)
	writeString(&buf, e.PartitionKey)
	buf.WriteByte(',')
	writeKey(&buf, FieldRowKey)
	writeString(&buf, e.RowKey)
	buf.WriteByte(',')
	writeKey(&buf, FieldTimeStamp)
	writeString(&buf, ts.String())
	if expires != 0 {
		buf.WriteByte(',')
		writeKey(&buf, FieldExpires)
		writeString(&buf, expires.String())
	}

	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		switch k {
		case FieldPartitionKey, FieldRowKey, FieldTimeStamp, FieldExpires:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		buf.WriteByte(',')
		writeKey(&buf, k)
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, e.fields[k]); err == nil {
			buf.Write(compacted.Bytes())
		} else {
			buf.Write(e.fields[k])
		}
	}

	buf.WriteByte('}')
	return buf.Bytes()
}

func writeKey(buf *bytes.Buffer, key string) {
	writeString(buf, key)
	buf.WriteByte(':')
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	s, isStr := rawString(raw)
	if !isStr || s == "" {
		return "", false
	}
	return s, true
}

// presentField reports whether the field carries a usable value; JSON
// null counts as absent.
func presentField(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
