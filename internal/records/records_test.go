package records

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_KindsAndText(t *testing.T) {
	t.Parallel()

	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		v    Value
		kind Kind
		text string
		bind any
	}{
		{name: "zero_is_missing", v: Value{}, kind: KindMissing, text: "", bind: nil},
		{name: "string", v: String("Alice"), kind: KindString, text: "Alice", bind: "Alice"},
		{name: "int", v: Int(42), kind: KindInt, text: "42", bind: int64(42)},
		{name: "float", v: Float(19.5), kind: KindFloat, text: "19.5", bind: 19.5},
		{name: "float_no_exponent", v: Float(1e7), kind: KindFloat, text: "10000000", bind: 1e7},
		{name: "nan_collapses", v: Float(math.NaN()), kind: KindMissing, text: "", bind: nil},
		{name: "date", v: Time(day), kind: KindTime, text: "2021-01-01", bind: day},
		{name: "datetime", v: Time(day.Add(90 * time.Minute)), kind: KindTime, text: "2021-01-01T01:30:00Z", bind: day.Add(90 * time.Minute)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.kind, tc.v.Kind())
			assert.Equal(t, tc.text, tc.v.Text())
			assert.Equal(t, tc.bind, tc.v.Bind())
		})
	}
}

func TestValue_Number(t *testing.T) {
	t.Parallel()

	n, ok := Int(3).Number()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)

	n, ok = Float(2.5).Number()
	require.True(t, ok)
	assert.Equal(t, 2.5, n)

	_, ok = String("3").Number()
	assert.False(t, ok)
	_, ok = Missing().Number()
	assert.False(t, ok)
}

func TestValue_Equal(t *testing.T) {
	t.Parallel()

	assert.True(t, Missing().Equal(Value{}))
	assert.True(t, String("a").Equal(String("a")))
	assert.False(t, String("1").Equal(Int(1)))
	assert.True(t, Time(time.Unix(0, 0).UTC()).Equal(Time(time.Unix(0, 0).In(time.FixedZone("x", 3600)))))
}

func TestFromCell(t *testing.T) {
	t.Parallel()

	assert.True(t, FromCell("").IsMissing())
	s, ok := FromCell(" x ").Str()
	require.True(t, ok)
	assert.Equal(t, " x ", s)
	assert.Equal(t, "x", TrimCell("\tx "))
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	r := NewRecord(2)
	r.Set("name", String("Alice"))

	c := r.Clone()
	c.Set("name", String("Bob"))

	assert.Equal(t, "Alice", r.Get("name").Text())
	assert.Equal(t, "Bob", c.Get("name").Text())
	assert.Equal(t, 2, c.Line)
	assert.True(t, r.Get("absent").IsMissing())
	assert.True(t, Record{}.Get("absent").IsMissing())
}

func TestRecord_MissingFields(t *testing.T) {
	t.Parallel()

	r := NewRecord(3)
	r.Set("a", String("x"))
	r.Set("b", Missing())

	assert.Equal(t, []string{"b", "c"}, r.MissingFields([]string{"a", "b", "c"}))
}

func TestKey_Canonical(t *testing.T) {
	t.Parallel()

	a := NewRecord(2)
	a.Set("id", Int(1))
	a.Set("sku", String("x"))

	b := NewRecord(3)
	b.Set("id", Float(1))
	b.Set("sku", String("x"))

	c := NewRecord(4)
	c.Set("id", String("1"))
	c.Set("sku", String("x"))

	assert.Equal(t, Key(a, []string{"id", "sku"}), Key(b, []string{"id", "sku"}))
	assert.NotEqual(t, Key(a, []string{"id", "sku"}), Key(c, []string{"id", "sku"}))

	// The separator keeps ("a","bc") and ("ab","c") apart.
	d := NewRecord(5)
	d.Set("x", String("a"))
	d.Set("y", String("bc"))
	e := NewRecord(6)
	e.Set("x", String("ab"))
	e.Set("y", String("c"))
	assert.NotEqual(t, Key(d, []string{"x", "y"}), Key(e, []string{"x", "y"}))
}

func TestCollection_Helpers(t *testing.T) {
	t.Parallel()

	c := Collection{Entity: "customer", Columns: []string{"customer_id", "name"}}
	assert.True(t, c.HasColumn("name"))
	assert.False(t, c.HasColumn("region"))

	w := c.WithRecords([]Record{NewRecord(2)})
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 0, c.Len())
	w.Columns[0] = "changed"
	assert.Equal(t, "customer_id", c.Columns[0])
}
