package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"smartsales/internal/records"
)

// WriteCollection writes c as a headered CSV using c.Columns. Values use
// records.Value.Text, so missing cells are written empty.
func WriteCollection(w io.Writer, c records.Collection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(c.Columns); err != nil {
		return err
	}
	row := make([]string, len(c.Columns))
	for _, rec := range c.Records {
		for i, col := range c.Columns {
			row[i] = rec.Get(col).Text()
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write line %d: %w", rec.Line, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile replaces path with the CSV rendering of c. The file is written to
// a temporary sibling first and renamed, so readers never see a partial file.
func WriteFile(path string, c records.Collection) (retErr error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := WriteCollection(tmp, c); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PreparedName returns the prepared-file name for a raw file name, e.g.
// "customers_data.csv" -> "customers_prepared.csv".
func PreparedName(raw string) string {
	base := filepath.Base(raw)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	if len(stem) > len("_data") && stem[len(stem)-len("_data"):] == "_data" {
		stem = stem[:len(stem)-len("_data")]
	}
	return stem + "_prepared.csv"
}
