package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"smartsales/internal/records"
)

// Options control how a delimited file is mapped onto canonical columns.
type Options struct {
	// Comma is the field delimiter. Defaults to ','.
	Comma rune

	// HeaderMap maps raw header text to canonical column names. Headers not in
	// the map are lowercased with spaces replaced by underscores.
	HeaderMap map[string]string

	// KeepSpace disables trimming of cell values.
	KeepSpace bool
}

// ReadCollection reads a headered delimited stream into a collection for
// entity, projected onto columns.
//
// The collection's Columns lists the requested columns that were found in the
// header, in the requested order, so a rule set can detect absent fields.
// Empty cells become records.Missing. Malformed lines are reported through
// onErr (when non-nil) and skipped.
func ReadCollection(
	ctx context.Context,
	src io.Reader,
	entity string,
	columns []string,
	opt Options,
	onErr func(line int, err error),
) (records.Collection, error) {
	out := records.Collection{Entity: entity}

	cr := csv.NewReader(src)
	cr.Comma = ','
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("read header: empty input")
		}
		if onErr != nil {
			onErr(1, fmt.Errorf("read header: %w", err))
		}
		return out, fmt.Errorf("read header: %w", err)
	}

	srcToIdx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		srcToIdx[CanonicalHeader(h, i == 0, opt.HeaderMap)] = i
	}

	colIx := make([]int, 0, len(columns))
	for _, target := range columns {
		if si, ok := srcToIdx[target]; ok {
			out.Columns = append(out.Columns, target)
			colIx = append(colIx, si)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return out, fmt.Errorf("csv read: %w", err)
			}
			if onErr != nil {
				onErr(pe.StartLine, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		line, _ := cr.FieldPos(0)

		row := records.NewRecord(line)
		for t, col := range out.Columns {
			si := colIx[t]
			if si >= len(rec) {
				row.Set(col, records.Missing())
				continue
			}
			v := rec[si]
			if !opt.KeepSpace {
				v = records.TrimCell(v)
			}
			row.Set(col, records.FromCell(v))
		}
		out.Records = append(out.Records, row)
	}
}

// ReadFile opens path and calls ReadCollection.
func ReadFile(
	ctx context.Context,
	path string,
	entity string,
	columns []string,
	opt Options,
	onErr func(line int, err error),
) (records.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return records.Collection{Entity: entity}, err
	}
	defer f.Close()

	c, err := ReadCollection(ctx, f, entity, columns, opt, onErr)
	if err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// CanonicalHeader trims h, strips a UTF-8 BOM from the first header, applies
// headerMap, and otherwise lowercases it with spaces turned into underscores.
func CanonicalHeader(h string, first bool, headerMap map[string]string) string {
	h = records.TrimCell(h)
	if first {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	if mapped, ok := headerMap[h]; ok {
		return mapped
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}
