// Package sink writes pipeline results. File sinks write to a temporary
// file next to the destination and rename it into place, so a failed
// write never leaves partial output behind.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// Writer is implemented by every sink in this package.
type Writer interface {
	Write(ctx context.Context, t *table.Table) error
}

// For picks a file sink by extension: .csv, .tsv, .parquet or .avro.
func For(path string, header, overwrite bool) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSV{Path: path, IncludeHeader: header, Overwrite: overwrite}, nil
	case ".tsv":
		return CSV{Path: path, IncludeHeader: header, Overwrite: overwrite, Delimiter: '\t'}, nil
	case ".parquet":
		return Parquet{Path: path, Overwrite: overwrite}, nil
	case ".avro":
		return Avro{Path: path, Overwrite: overwrite}, nil
	default:
		return nil, etlerr.Configf("sink: unsupported output format %q", filepath.Ext(path))
	}
}

// CSV writes one line per row with columns in schema order. Nulls become
// empty fields and lists are comma-joined.
type CSV struct {
	Path          string
	IncludeHeader bool
	Overwrite     bool
	Delimiter     rune // defaults to ','
}

// Write implements the pipeline sink contract.
func (c CSV) Write(ctx context.Context, t *table.Table) error {
	return writeAtomic(c.Path, c.Overwrite, func(f *os.File) error {
		w := csv.NewWriter(f)
		if c.Delimiter != 0 {
			w.Comma = c.Delimiter
		}
		if c.IncludeHeader {
			if err := w.Write(t.Columns); err != nil {
				return err
			}
		}
		record := make([]string, len(t.Columns))
		for i, row := range t.Rows {
			if i%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for j := range t.Columns {
				record[j] = ""
				if j < len(row.Values) {
					record[j] = row.Values[j].Text()
				}
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

func (c CSV) String() string { return c.Path }

// Memory keeps the last written table. Useful for tests and for callers
// embedding pipelines.
type Memory struct {
	Table *table.Table
}

// Write stores a copy of t.
func (m *Memory) Write(_ context.Context, t *table.Table) error {
	m.Table = t.Clone()
	return nil
}

func (m *Memory) String() string { return "memory" }

// writeAtomic runs fill against a temp file in the destination directory
// and renames it over path once fill and close succeed.
func writeAtomic(path string, overwrite bool, fill func(f *os.File) error) error {
	if path == "" {
		return etlerr.Configf("sink: empty output path")
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("sink: %s: %w (overwrite disabled)", path, fs.ErrExist)
		}
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	tmp := f.Name()
	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sink: %s: %w", path, err)
	}

	if err := fill(f); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sink: %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}
