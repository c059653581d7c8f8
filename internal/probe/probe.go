// Package probe profiles raw entity files before they are prepared: which
// canonical columns were found, how full they are, what type their cells look
// like, and how many cells would fail the declared type.
package probe

import (
	"context"
	"fmt"
	"io"
	"strings"

	"smartsales/internal/config"
	"smartsales/internal/prepare"
	"smartsales/internal/quality"
	"smartsales/internal/records"
)

// Column is the profile of one canonical column.
type Column struct {
	Name     string
	Present  int
	Missing  int
	Distinct int

	// Declared is the type the rule set parses the column into, or "" when the
	// column is kept as raw text.
	Declared quality.FieldType
	Inferred quality.FieldType

	// Mismatched counts present cells that do not parse as Declared.
	Mismatched int
}

// Profile summarizes one raw entity file.
type Profile struct {
	Entity   string
	Path     string
	Rows     int
	BadLines int

	Columns []Column

	// Absent lists rule-set columns missing from the file header.
	Absent []string

	// DuplicateKeys counts rows whose raw dedup key repeats an earlier row.
	DuplicateKeys int
	SuggestedKey  string

	// SchemaErr is the rule set's verdict on the header, nil when it fits.
	SchemaErr error
}

// Entity reads the configured raw file for entity and profiles it.
func Entity(ctx context.Context, cfg config.Config, entity string) (Profile, error) {
	rs, ok := quality.RulesFor(entity)
	if !ok {
		return Profile{Entity: entity}, fmt.Errorf("probe: unknown entity %q", entity)
	}
	path, _ := cfg.InputPath(entity)

	bad := 0
	c, err := prepare.ReadRaw(ctx, path, rs, cfg.Inputs.Sheet, func(int, error) { bad++ })
	if err != nil {
		return Profile{Entity: entity, Path: path}, fmt.Errorf("probe %s: %w", entity, err)
	}
	p := Collection(c, rs)
	p.Path = path
	p.BadLines = bad
	return p, nil
}

// Collection profiles an already-read collection against rs.
func Collection(c records.Collection, rs quality.RuleSet) Profile {
	p := Profile{Entity: rs.Entity, Rows: c.Len()}

	for _, col := range rs.Columns {
		if !c.HasColumn(col) {
			p.Absent = append(p.Absent, col)
		}
	}
	if c.Len() > 0 {
		p.SchemaErr = rs.Check(c)
	}

	bestDistinct := 0
	for _, name := range c.Columns {
		col := profileColumn(c.Records, name, rs.Types[name])
		if col.Distinct > bestDistinct {
			bestDistinct = col.Distinct
			p.SuggestedKey = name
		}
		p.Columns = append(p.Columns, col)
	}

	if keyPresent(c, rs.DedupKey) {
		seen := make(map[string]struct{}, c.Len())
		for _, rec := range c.Records {
			k := records.Key(rec, rs.DedupKey)
			if _, dup := seen[k]; dup {
				p.DuplicateKeys++
				continue
			}
			seen[k] = struct{}{}
		}
	}
	return p
}

func keyPresent(c records.Collection, key []string) bool {
	if len(key) == 0 {
		return false
	}
	for _, f := range key {
		if !c.HasColumn(f) {
			return false
		}
	}
	return true
}

func profileColumn(recs []records.Record, name string, declared quality.FieldType) Column {
	col := Column{Name: name, Declared: declared}
	distinct := make(map[string]struct{})
	allInt, allFloat, allDate := true, true, true

	for _, rec := range recs {
		v := rec.Get(name)
		if v.IsMissing() {
			col.Missing++
			continue
		}
		col.Present++
		distinct[v.Text()] = struct{}{}

		if allInt && !quality.Parses(v, quality.TypeInteger) {
			allInt = false
		}
		if allFloat && !quality.Parses(v, quality.TypeFloat) {
			allFloat = false
		}
		if allDate && !quality.Parses(v, quality.TypeDate) {
			allDate = false
		}
		if declared != "" && !quality.Parses(v, declared) {
			col.Mismatched++
		}
	}
	col.Distinct = len(distinct)

	// Prefer the most specific type.
	switch {
	case col.Present == 0:
		col.Inferred = quality.TypeString
	case allInt:
		col.Inferred = quality.TypeInteger
	case allDate:
		col.Inferred = quality.TypeDate
	case allFloat:
		col.Inferred = quality.TypeFloat
	default:
		col.Inferred = quality.TypeString
	}
	return col
}

// Render writes a small human-readable summary of p.
func (p Profile) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "entity=%s path=%s rows=%d bad_lines=%d\n", p.Entity, p.Path, p.Rows, p.BadLines)
	absent := "none"
	if len(p.Absent) > 0 {
		absent = strings.Join(p.Absent, ",")
	}
	fmt.Fprintf(&b, "absent=%s\n", absent)
	fmt.Fprintf(&b, "duplicate_keys=%d suggested_key=%s\n", p.DuplicateKeys, orDash(p.SuggestedKey))
	if p.SchemaErr != nil {
		fmt.Fprintf(&b, "schema=%v\n", p.SchemaErr)
	} else {
		b.WriteString("schema=ok\n")
	}
	b.WriteString("column,present,missing,distinct,declared,inferred,mismatched\n")
	for _, c := range p.Columns {
		fmt.Fprintf(&b, "%s,%d,%d,%d,%s,%s,%d\n",
			c.Name, c.Present, c.Missing, c.Distinct, orDash(string(c.Declared)), c.Inferred, c.Mismatched)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
