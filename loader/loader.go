// Package loader reads tables from files, XML documents and in-memory
// records. Every reader here can serve as a pipeline source.
package loader

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

type decoder func(f *os.File) (*table.Table, error)

var decoders = map[string]decoder{
	".csv":     func(f *os.File) (*table.Table, error) { return decodeCSV(f, ',') },
	".tsv":     func(f *os.File) (*table.Table, error) { return decodeCSV(f, '\t') },
	".json":    decodeJSON,
	".jsonl":   decodeJSONL,
	".ndjson":  decodeJSONL,
	".avro":    decodeAvro,
	".parquet": decodeParquet,
}

// Load reads a file and returns a Table. The format follows the extension.
func Load(filename string) (*table.Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	decode, ok := decoders[ext]
	if !ok {
		return nil, etlerr.Configf("unsupported file format %q (supported: .csv, .tsv, .json, .jsonl, .avro, .parquet)", ext)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	t, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}

// File is a source reading a whole file, typed by its extension.
type File struct {
	Path string
}

// Read loads the file.
func (f File) Read(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(f.Path)
}

func (f File) String() string { return f.Path }

// Records is a source over rows already in memory, such as existing
// records fetched elsewhere. The schema is the union of keys in first-seen
// order.
type Records []map[string]any

// Read builds the table.
func (r Records) Read(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return table.FromRecords(r), nil
}

func (r Records) String() string { return fmt.Sprintf("records(%d)", len(r)) }

// decodeCSV reads a header line and then rows. Short rows are padded with
// nulls, extra cells are ignored. Cells are taken verbatim so that a table
// written by sink.CSV reads back with the same string forms.
func decodeCSV(r io.Reader, delim rune) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	t := table.NewTable(columns)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		vals := make([]table.Value, len(columns))
		for i := range vals {
			vals[i] = table.Null()
			if i < len(record) {
				vals[i] = parseCell(record[i])
			}
		}
		t.AddRow(vals)
	}
}

// parseCell types a CSV cell only when the typed value renders back as the
// cell itself: "12" and "true" are typed, while "007", "1.50", "TRUE",
// "NULL" and "" stay strings.
func parseCell(s string) table.Value {
	switch s {
	case "true":
		return table.BoolVal(true)
	case "false":
		return table.BoolVal(false)
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(v, 10) == s {
		return table.IntVal(v)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(v, 0) && !math.IsNaN(v) &&
		strconv.FormatFloat(v, 'f', -1, 64) == s {
		return table.FloatVal(v)
	}
	return table.StrVal(s)
}

func decodeJSON(f *os.File) (*table.Table, error) {
	var records []map[string]any
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&records); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("invalid JSON at offset %d: %w", syntaxErr.Offset, err)
		}
		return nil, fmt.Errorf("%w (expected an array of objects)", err)
	}
	return fromJSONRecords(records), nil
}

func decodeJSONL(f *os.File) (*table.Table, error) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []map[string]any
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return fromJSONRecords(records), nil
}

// fromJSONRecords types decoded JSON values and lays out the schema the
// way table.FromRecords does.
func fromJSONRecords(records []map[string]any) *table.Table {
	typed := make([]map[string]any, len(records))
	for i, rec := range records {
		row := make(map[string]any, len(rec))
		for k, v := range rec {
			row[k] = jsonValue(v)
		}
		typed[i] = row
	}
	return table.FromRecords(typed)
}

func jsonValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case float64:
		if val == float64(int64(val)) {
			return table.IntVal(int64(val))
		}
		return table.FloatVal(val)
	case []any:
		items := make([]table.Value, len(val))
		for i, item := range val {
			items[i] = jsonValue(item)
		}
		return table.ListVal(items...)
	case map[string]any:
		// nested objects are kept as their JSON text
		b, _ := json.Marshal(val)
		return table.StrVal(string(b))
	default:
		return table.FromAny(val)
	}
}

func decodeAvro(f *os.File) (*table.Table, error) {
	ocf, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("not an Avro container file: %w", err)
	}

	var schema struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(ocf.Codec().Schema()), &schema); err != nil {
		return nil, fmt.Errorf("avro schema: %w", err)
	}
	columns := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		columns[i] = field.Name
	}

	t := table.NewTable(columns)
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("avro record %d: %w", t.Len()+1, err)
		}
		rec, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("avro record %d: unexpected type %T", t.Len()+1, datum)
		}
		vals := make([]table.Value, len(columns))
		for i, col := range columns {
			vals[i] = avroValue(rec[col])
		}
		t.AddRow(vals)
	}
	return t, ocf.Err()
}

func avroValue(v any) table.Value {
	switch val := v.(type) {
	case map[string]any:
		// unions decode as {"type": value}
		for _, inner := range val {
			return avroValue(inner)
		}
		return table.Null()
	default:
		return table.FromAny(val)
	}
}

func decodeParquet(f *os.File) (*table.Table, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("not a Parquet file: %w", err)
	}

	fields := pf.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
	}

	t := table.NewTable(columns)
	rows := parquet.NewReader(pf)
	defer rows.Close()
	for {
		rec := make(map[string]any, len(columns))
		if err := rows.Read(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return t, nil
			}
			return nil, fmt.Errorf("parquet row %d: %w", t.Len()+1, err)
		}
		vals := make([]table.Value, len(columns))
		for i, col := range columns {
			vals[i] = table.FromAny(rec[col])
		}
		t.AddRow(vals)
	}
}
