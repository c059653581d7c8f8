package records

import (
	"strconv"
	"strings"
	"time"
)

// Record is one source row: field name to Value, plus the 1-based line number
// it was read from (the header is line 1).
type Record struct {
	Line   int
	Fields map[string]Value
}

// NewRecord returns an empty record for the given source line.
func NewRecord(line int) Record {
	return Record{Line: line, Fields: map[string]Value{}}
}

// Get returns the field value, or missing when the field is absent.
func (r Record) Get(name string) Value {
	if r.Fields == nil {
		return Missing()
	}
	return r.Fields[name]
}

// Set assigns a field in place.
func (r Record) Set(name string, v Value) {
	r.Fields[name] = v
}

// Clone returns a record with its own field map.
func (r Record) Clone() Record {
	out := Record{Line: r.Line, Fields: make(map[string]Value, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// MissingFields returns the names from fields that hold the missing marker.
func (r Record) MissingFields(fields []string) []string {
	var out []string
	for _, f := range fields {
		if r.Get(f).IsMissing() {
			out = append(out, f)
		}
	}
	return out
}

// Collection is a homogeneous batch of records for one entity. Columns keeps
// the source column order for writers.
type Collection struct {
	Entity  string
	Columns []string
	Records []Record
}

// Len returns the number of records.
func (c Collection) Len() int { return len(c.Records) }

// HasColumn reports whether name is part of the collection schema.
func (c Collection) HasColumn(name string) bool {
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// WithRecords returns a collection with the same schema and the given rows.
func (c Collection) WithRecords(recs []Record) Collection {
	return Collection{
		Entity:  c.Entity,
		Columns: append([]string(nil), c.Columns...),
		Records: recs,
	}
}

const keySep = '\x1f'

// Key builds a canonical composite key from the named fields. Values of
// different kinds never collide: each component is prefixed with its kind.
func Key(r Record, fields []string) string {
	var b strings.Builder
	var scratch [64]byte
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(keySep)
		}
		appendCanonical(&b, r.Get(f), &scratch)
	}
	return b.String()
}

func appendCanonical(b *strings.Builder, v Value, scratch *[64]byte) {
	switch v.Kind() {
	case KindMissing:
		b.WriteString("null")
	case KindString:
		b.WriteString("s:")
		b.WriteString(v.s)
	case KindInt:
		b.WriteString("n:")
		b.Write(strconv.AppendInt(scratch[:0], v.i, 10))
	case KindFloat:
		b.WriteString("n:")
		if v.f == float64(int64(v.f)) {
			b.Write(strconv.AppendInt(scratch[:0], int64(v.f), 10))
			return
		}
		b.Write(strconv.AppendFloat(scratch[:0], v.f, 'g', -1, 64))
	case KindTime:
		b.WriteString("t:")
		b.WriteString(v.t.UTC().Format(time.RFC3339Nano))
	}
}
