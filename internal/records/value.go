// Package records holds the in-memory row model shared by the parsers, the
// quality pipeline and the warehouse loader.
//
// A Value is a small tagged variant. Missing is a first-class kind rather than
// a nil or an empty string, so every consumer has to decide what a missing
// cell means by switching on Kind.
package records

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the variants a Value can hold.
type Kind uint8

const (
	KindMissing Kind = iota
	KindString
	KindInt
	KindFloat
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// DateLayout is the canonical rendering for date-only timestamps.
const DateLayout = "2006-01-02"

// Value is an immutable scalar: string, int, float, timestamp or missing.
// The zero Value is missing.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	t    time.Time
}

func Missing() Value         { return Value{} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Float returns a float Value. NaN and infinities are not representable in the
// warehouse and collapse to missing.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Missing()
	}
	return Value{kind: KindFloat, f: f}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// IntVal returns the integer payload.
func (v Value) IntVal() (int64, bool) { return v.i, v.kind == KindInt }

// TimeVal returns the timestamp payload.
func (v Value) TimeVal() (time.Time, bool) { return v.t, v.kind == KindTime }

// FloatVal returns the float payload.
func (v Value) FloatVal() (float64, bool) { return v.f, v.kind == KindFloat }

// Number widens int and float payloads to float64.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Text renders the value the way it is written to prepared files and used as a
// warehouse key: integers without decimals, floats in shortest form, dates as
// 2006-01-02 (or RFC3339 when a time of day is present), missing as "".
func (v Value) Text() string {
	switch v.kind {
	case KindMissing:
		return ""
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindTime:
		return formatTime(v.t)
	default:
		return ""
	}
}

// Bind returns the value as a database/sql argument.
func (v Value) Bind() any {
	switch v.kind {
	case KindMissing:
		return nil
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindMissing:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return false
	}
}

func (v Value) String() string {
	if v.kind == KindMissing {
		return "<missing>"
	}
	return v.Text()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if isMidnight(t) {
		return t.Format(DateLayout)
	}
	return t.Format(time.RFC3339)
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// FromCell converts a raw parser cell into a Value. Empty cells become missing;
// everything else stays a string until the standardize stage types it.
func FromCell(s string) Value {
	if s == "" {
		return Missing()
	}
	return String(s)
}

// HasEdgeSpace reports whether s starts or ends with a space or tab.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}

// TrimCell trims surrounding whitespace only when there is any.
func TrimCell(s string) string {
	if HasEdgeSpace(s) {
		return strings.TrimSpace(s)
	}
	return s
}
