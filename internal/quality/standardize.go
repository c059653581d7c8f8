package quality

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"smartsales/internal/records"
)

// dateLayouts are tried in order when parsing date-typed fields.
var dateLayouts = []string{
	records.DateLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// standardizer holds the per-run derived lookup state of a RuleSet. A
// cases.Caser is stateful, so a standardizer must not be shared across
// goroutines.
type standardizer struct {
	rules     RuleSet
	exact     map[string]map[string]string
	folded    map[string]map[string]string
	titleCase map[string]bool
	title     cases.Caser
}

func newStandardizer(rs RuleSet) *standardizer {
	s := &standardizer{
		rules:     rs,
		exact:     rs.Normalize,
		folded:    make(map[string]map[string]string, len(rs.Normalize)),
		titleCase: make(map[string]bool, len(rs.TitleCase)),
		title:     cases.Title(language.English),
	}
	for field, table := range rs.Normalize {
		f := make(map[string]string, len(table))
		for raw, canonical := range table {
			f[strings.ToLower(raw)] = canonical
		}
		s.folded[field] = f
	}
	for _, field := range rs.TitleCase {
		s.titleCase[field] = true
	}
	return s
}

// apply standardizes one record in place and returns the fields whose values
// could not be parsed into their declared type.
func (s *standardizer) apply(rec records.Record) []string {
	var unparsable []string
	for name, v := range rec.Fields {
		if str, ok := v.Str(); ok {
			str = records.TrimCell(str)
			str = s.normalize(name, str)
			if s.titleCase[name] {
				str = s.title.String(strings.ToLower(str))
			}
			v = records.String(str)
		}

		typ, typed := s.rules.Types[name]
		if typed && !v.IsMissing() {
			parsed, ok := parseAs(v, typ)
			if !ok {
				unparsable = append(unparsable, name)
			}
			v = parsed
		}
		rec.Fields[name] = v
	}
	return unparsable
}

// normalize maps a raw token to its canonical form: case-sensitive lookup
// first, case-insensitive fallback. Unmapped tokens pass through.
func (s *standardizer) normalize(field, raw string) string {
	if canon, ok := s.exact[field][raw]; ok {
		return canon
	}
	if canon, ok := s.folded[field][strings.ToLower(raw)]; ok {
		return canon
	}
	return raw
}

// Parses reports whether a non-missing v converts to typ.
func Parses(v records.Value, typ FieldType) bool {
	if v.IsMissing() {
		return false
	}
	_, ok := parseAs(v, typ)
	return ok
}

// parseAs converts v to typ. On failure it returns records.Missing and false.
func parseAs(v records.Value, typ FieldType) (records.Value, bool) {
	switch typ {
	case TypeString:
		if v.Kind() == records.KindString {
			return v, true
		}
		return records.String(v.Text()), true
	case TypeInteger:
		return parseInteger(v)
	case TypeFloat:
		return parseFloat(v)
	case TypeDate:
		return parseDate(v)
	default:
		return v, true
	}
}

func parseInteger(v records.Value) (records.Value, bool) {
	switch v.Kind() {
	case records.KindInt:
		return v, true
	case records.KindFloat:
		f, _ := v.FloatVal()
		return integralFloat(f)
	case records.KindString:
		s, _ := v.Str()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return records.Int(i), true
		}
		// "50.0" style cells from spreadsheet exports.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return integralFloat(f)
		}
	}
	return records.Missing(), false
}

func integralFloat(f float64) (records.Value, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return records.Missing(), false
	}
	return records.Int(int64(f)), true
}

func parseFloat(v records.Value) (records.Value, bool) {
	switch v.Kind() {
	case records.KindFloat:
		return v, true
	case records.KindInt:
		i, _ := v.IntVal()
		return records.Float(float64(i)), true
	case records.KindString:
		s, _ := v.Str()
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return records.Missing(), false
		}
		return records.Float(f), true
	}
	return records.Missing(), false
}

func parseDate(v records.Value) (records.Value, bool) {
	switch v.Kind() {
	case records.KindTime:
		return v, true
	case records.KindString:
		s, _ := v.Str()
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return records.Time(t.UTC()), true
			}
		}
	}
	return records.Missing(), false
}

// keyValue canonicalizes a dedup key component without changing the record:
// typed fields are compared by their parsed value so "7" and " 7" collide.
func keyValue(rs RuleSet, field string, v records.Value) records.Value {
	if s, ok := v.Str(); ok {
		v = records.String(records.TrimCell(s))
	}
	typ, ok := rs.Types[field]
	if !ok || v.IsMissing() {
		return v
	}
	if parsed, ok := parseAs(v, typ); ok {
		return parsed
	}
	return v
}
