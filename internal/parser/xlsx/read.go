// Package xlsx reads raw entity sheets from Excel workbooks into the same
// records.Collection shape the CSV reader produces.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	csvparser "smartsales/internal/parser/csv"
	"smartsales/internal/records"
)

// Options select the sheet and header mapping.
type Options struct {
	// Sheet names the worksheet to read. Empty means the first sheet.
	Sheet string

	HeaderMap map[string]string
}

// ReadFile opens an .xlsx workbook and reads one sheet.
func ReadFile(ctx context.Context, path, entity string, columns []string, opt Options) (records.Collection, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return records.Collection{Entity: entity}, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	return readWorkbook(ctx, f, entity, columns, opt)
}

// ReadCollection reads a workbook from r.
func ReadCollection(ctx context.Context, r io.Reader, entity string, columns []string, opt Options) (records.Collection, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return records.Collection{Entity: entity}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(ctx, f, entity, columns, opt)
}

func readWorkbook(ctx context.Context, f *excelize.File, entity string, columns []string, opt Options) (records.Collection, error) {
	out := records.Collection{Entity: entity}

	sheet := opt.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return out, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return out, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	hdrIdx := -1
	for i, row := range rows {
		if !blankRow(row) {
			hdrIdx = i
			break
		}
	}
	if hdrIdx < 0 {
		return out, fmt.Errorf("sheet %s: empty input", sheet)
	}

	srcToIdx := make(map[string]int, len(rows[hdrIdx]))
	for i, h := range rows[hdrIdx] {
		srcToIdx[csvparser.CanonicalHeader(h, i == 0, opt.HeaderMap)] = i
	}

	colIx := make([]int, 0, len(columns))
	for _, target := range columns {
		if si, ok := srcToIdx[target]; ok {
			out.Columns = append(out.Columns, target)
			colIx = append(colIx, si)
		}
	}

	for i := hdrIdx + 1; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		row := rows[i]
		if blankRow(row) {
			continue
		}
		rec := records.NewRecord(i + 1)
		for t, col := range out.Columns {
			si := colIx[t]
			if si >= len(row) {
				rec.Set(col, records.Missing())
				continue
			}
			rec.Set(col, records.FromCell(records.TrimCell(row[si])))
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
