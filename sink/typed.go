package sink

import (
	"context"
	"encoding/json"
	"os"
	"regexp"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// Parquet writes every column as an optional UTF-8 string. Parquet groups
// order their fields by name, so columns come back sorted when read.
type Parquet struct {
	Path      string
	Overwrite bool
}

// Write implements the pipeline sink contract.
func (p Parquet) Write(ctx context.Context, t *table.Table) error {
	group := make(parquet.Group, len(t.Columns))
	for _, col := range t.Columns {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("feedflow", group)

	// leaf index of each table column within the schema
	leaf := make(map[string]int, len(t.Columns))
	for i, f := range schema.Fields() {
		leaf[f.Name()] = i
	}

	return writeAtomic(p.Path, p.Overwrite, func(f *os.File) error {
		w := parquet.NewWriter(f, schema)
		rows := make([]parquet.Row, 0, len(t.Rows))
		for _, row := range t.Rows {
			out := make(parquet.Row, len(t.Columns))
			for j, col := range t.Columns {
				idx := leaf[col]
				v := table.Null()
				if j < len(row.Values) {
					v = row.Values[j]
				}
				if v.IsNull() {
					out[idx] = parquet.NullValue().Level(0, 0, idx)
				} else {
					out[idx] = parquet.ByteArrayValue([]byte(v.Text())).Level(0, 1, idx)
				}
			}
			rows = append(rows, out)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.WriteRows(rows); err != nil {
			return err
		}
		return w.Close()
	})
}

func (p Parquet) String() string { return p.Path }

var avroName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Avro writes an object container file with one nullable string field per
// column, in schema order. Column names must be valid Avro names.
type Avro struct {
	Path      string
	Overwrite bool
}

// Write implements the pipeline sink contract.
func (a Avro) Write(ctx context.Context, t *table.Table) error {
	schema, err := avroSchema(t.Columns)
	if err != nil {
		return err
	}

	return writeAtomic(a.Path, a.Overwrite, func(f *os.File) error {
		w, err := goavro.NewOCFWriter(goavro.OCFConfig{
			W:               f,
			Schema:          schema,
			CompressionName: goavro.CompressionSnappyLabel,
		})
		if err != nil {
			return err
		}
		records := make([]map[string]any, 0, len(t.Rows))
		for _, row := range t.Rows {
			rec := make(map[string]any, len(t.Columns))
			for j, col := range t.Columns {
				if j >= len(row.Values) || row.Values[j].IsNull() {
					rec[col] = nil
					continue
				}
				rec[col] = goavro.Union("string", row.Values[j].Text())
			}
			records = append(records, rec)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return w.Append(records)
	})
}

func (a Avro) String() string { return a.Path }

func avroSchema(columns []string) (string, error) {
	type field struct {
		Name    string   `json:"name"`
		Type    []string `json:"type"`
		Default any      `json:"default"`
	}
	fields := make([]field, len(columns))
	for i, col := range columns {
		if !avroName.MatchString(col) {
			return "", etlerr.WithColumn(col, etlerr.Schemaf("avro: invalid field name %q", col))
		}
		fields[i] = field{Name: col, Type: []string{"null", "string"}}
	}
	b, err := json.Marshal(map[string]any{
		"type":   "record",
		"name":   "row",
		"fields": fields,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
