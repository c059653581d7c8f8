package quality

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"smartsales/internal/records"
)

var (
	// ErrConfig marks a RuleSet that does not fit the collection it is run on.
	ErrConfig = errors.New("quality: rule set does not match input schema")

	// ErrEmptyInput is returned when the input collection has no rows.
	ErrEmptyInput = errors.New("quality: empty input")
)

// FieldType is the canonical type a field is parsed into during standardize.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeDate    FieldType = "date"
)

// Bound is an inclusive numeric range. MinExclusive turns the lower end into
// a strict inequality, as for unit prices that must be positive.
type Bound struct {
	Min          float64
	Max          float64
	MinExclusive bool
}

// Contains reports whether x lies within the bound.
func (b Bound) Contains(x float64) bool {
	if b.MinExclusive {
		if x <= b.Min {
			return false
		}
	} else if x < b.Min {
		return false
	}
	return x <= b.Max
}

func (b Bound) String() string {
	open := "["
	if b.MinExclusive {
		open = "("
	}
	return fmt.Sprintf("%s%g,%g]", open, b.Min, b.Max)
}

// DateBound is an inclusive date range. When MaxNow is set the upper end is
// the pipeline clock at run time and Max is ignored.
type DateBound struct {
	Min    time.Time
	Max    time.Time
	MaxNow bool
}

func (b DateBound) resolve(now time.Time) (time.Time, time.Time) {
	if b.MaxNow {
		return b.Min, now
	}
	return b.Min, b.Max
}

// RuleSet is the immutable per-entity configuration of the quality pipeline.
type RuleSet struct {
	// Entity names the record type ("customer", "product", "sale").
	Entity string

	// Columns is the canonical column order of the entity.
	Columns []string

	// Headers maps raw file headers to canonical column names.
	Headers map[string]string

	DedupKey     []string
	Required     []string
	FillDefaults map[string]records.Value

	// Normalize maps field -> raw token -> canonical token.
	Normalize map[string]map[string]string
	TitleCase []string
	Types     map[string]FieldType

	NumericBounds map[string]Bound
	DateBounds    map[string]DateBound
}

// Fields returns every field name the rule set refers to, sorted.
func (rs RuleSet) Fields() []string {
	set := map[string]struct{}{}
	add := func(names ...string) {
		for _, n := range names {
			set[n] = struct{}{}
		}
	}
	add(rs.DedupKey...)
	add(rs.Required...)
	add(rs.TitleCase...)
	for f := range rs.FillDefaults {
		add(f)
	}
	for f := range rs.Normalize {
		add(f)
	}
	for f := range rs.Types {
		add(f)
	}
	for f := range rs.NumericBounds {
		add(f)
	}
	for f := range rs.DateBounds {
		add(f)
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsRequired reports whether field is in Required.
func (rs RuleSet) IsRequired(field string) bool {
	for _, f := range rs.Required {
		if f == field {
			return true
		}
	}
	return false
}

// Check validates the rule set against a collection schema. Every referenced
// field must exist, and every column must be covered by either Required or
// FillDefaults so a missing cell always has a defined outcome.
func (rs RuleSet) Check(c records.Collection) error {
	if len(rs.DedupKey) == 0 {
		return fmt.Errorf("%w: entity=%s dedup key is empty", ErrConfig, rs.Entity)
	}

	var absent []string
	for _, f := range rs.Fields() {
		if !c.HasColumn(f) {
			absent = append(absent, f)
		}
	}
	if len(absent) > 0 {
		return fmt.Errorf("%w: entity=%s fields not in input: %s", ErrConfig, rs.Entity, strings.Join(absent, ", "))
	}

	var uncovered []string
	for _, col := range c.Columns {
		if rs.IsRequired(col) {
			continue
		}
		if _, ok := rs.FillDefaults[col]; ok {
			continue
		}
		uncovered = append(uncovered, col)
	}
	if len(uncovered) > 0 {
		return fmt.Errorf("%w: entity=%s columns neither required nor defaulted: %s", ErrConfig, rs.Entity, strings.Join(uncovered, ", "))
	}

	for f, b := range rs.NumericBounds {
		if b.Min > b.Max {
			return fmt.Errorf("%w: entity=%s bound %s min > max", ErrConfig, rs.Entity, f)
		}
	}
	for f, b := range rs.DateBounds {
		if !b.MaxNow && b.Min.After(b.Max) {
			return fmt.Errorf("%w: entity=%s date bound %s min > max", ErrConfig, rs.Entity, f)
		}
	}
	for f, t := range rs.Types {
		switch t {
		case TypeString, TypeInteger, TypeFloat, TypeDate:
		default:
			return fmt.Errorf("%w: entity=%s field %s has unknown type %q", ErrConfig, rs.Entity, f, t)
		}
	}
	return nil
}
